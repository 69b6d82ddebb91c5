package nodes

import (
	"context"
	"fmt"

	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/model"
	"github.com/c360studio/reportgen/tools"
	"github.com/c360studio/reportgen/workflow"
)

const researcherPrompt = `You research facts for an engineering observation report.
Search the internal knowledge base first, then the web when it has no answer.
Summarize findings with their sources. You cannot write report sections.`

// Researcher gathers facts with the research tool group only.
type Researcher struct {
	agent
	groups tools.GroupSet
}

// NewResearcher creates the researcher node.
func NewResearcher(client llm.Completer, groups tools.GroupSet, opts ...Option) *Researcher {
	return &Researcher{
		agent:  newAgent(workflow.NodeResearcher, string(model.CapabilityResearch), client, opts),
		groups: groups,
	}
}

// Name implements workflow.Node.
func (r *Researcher) Name() string { return r.name }

// Run performs one research turn.
func (r *Researcher) Run(ctx context.Context, state workflow.State, sink workflow.EventSink) (workflow.State, error) {
	system := researcherPrompt
	if state.Context != "" {
		system += "\n\nProject context:\n" + state.Context
	}

	defs := r.groups.Registry(GroupsFor(r.name)...).Definitions()
	reply, err := r.complete(ctx, state, conversation(system, state), defs, sink)
	if err != nil {
		return workflow.State{}, fmt.Errorf("research turn: %w", err)
	}
	return workflow.State{Messages: []workflow.Message{reply}}, nil
}
