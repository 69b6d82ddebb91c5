package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/model"
	"github.com/c360studio/reportgen/workflow"
)

const supervisorPrompt = `You coordinate a team that writes an engineering observation report.
Workers: "research" gathers facts from the knowledge base and the web; "write" drafts and saves report sections.
Choose the next step from the conversation so far. Answer "FINISH" once every planned section is written.
Reply with JSON only: {"next_step": "research" | "write" | "FINISH", "reasoning": "<one sentence>"}`

// Supervisor decides the next unit of work.
type Supervisor struct {
	agent
}

// NewSupervisor creates the supervisor node.
func NewSupervisor(client llm.Completer, opts ...Option) *Supervisor {
	return &Supervisor{agent: newAgent(workflow.NodeSupervisor, string(model.CapabilityPlanning), client, opts)}
}

// Name implements workflow.Node.
func (s *Supervisor) Name() string { return s.name }

type decision struct {
	NextStep  string `json:"next_step"`
	Reasoning string `json:"reasoning"`
}

// Run asks the planning model for a decision. The raw next_step is passed
// through unvalidated; the router rejects anything outside the vocabulary.
func (s *Supervisor) Run(ctx context.Context, state workflow.State, sink workflow.EventSink) (workflow.State, error) {
	system := supervisorPrompt
	if state.Context != "" {
		system += "\n\nProject context:\n" + state.Context
	}

	reply, err := s.complete(ctx, state, conversation(system, state), nil, workflow.Discard)
	if err != nil {
		return workflow.State{}, fmt.Errorf("supervisor decision: %w", err)
	}

	patch := workflow.State{ClearNextStep: true}

	var d decision
	if err := llm.UnmarshalLenient(reply.Content, &d); err != nil {
		s.logger.Warn("Supervisor reply is not a decision",
			"report_id", state.DraftReportID,
			"error", err)
		return patch, nil
	}

	patch.NextStep = workflow.RouteKey(strings.TrimSpace(d.NextStep))
	if d.Reasoning != "" {
		workflow.Emit(ctx, sink, workflow.Event{Kind: workflow.EventReasoning, Node: s.name, Text: d.Reasoning + "\n"})
	}
	return patch, nil
}
