// Package nodes implements the workflow graph nodes: the supervisor that
// routes, the researcher and writer agents, and the tool executor.
package nodes

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/workflow"
)

// Option configures a node.
type Option func(*agent)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *agent) {
		a.logger = logger
	}
}

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) Option {
	return func(a *agent) {
		a.timeout = d
	}
}

// WithContextDumper writes every model context to disk.
func WithContextDumper(d *ContextDumper) Option {
	return func(a *agent) {
		a.dumper = d
	}
}

// agent holds what the model-calling nodes share.
type agent struct {
	name       string
	capability string
	client     llm.Completer
	logger     *slog.Logger
	timeout    time.Duration
	dumper     *ContextDumper
}

func newAgent(name, capability string, client llm.Completer, opts []Option) agent {
	a := agent{name: name, capability: capability, client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// complete sends one model turn. The reply is named after the node so the
// router can send tool results back to it.
func (a *agent) complete(ctx context.Context, state workflow.State, messages []workflow.Message, defs []llm.ToolDefinition, sink workflow.EventSink) (workflow.Message, error) {
	if err := a.dumper.Dump(state.DraftReportID, a.name, "input", messages); err != nil {
		a.logger.Debug("Context dump failed", "node", a.name, "error", err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req := llm.Request{
		Capability: a.capability,
		Model:      state.Provider,
		Messages:   messages,
		Tools:      defs,
	}
	if len(defs) > 0 {
		req.ToolChoice = "auto"
	}

	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return workflow.Message{}, err
	}

	a.logger.Debug("Model turn",
		"node", a.name,
		"report_id", state.DraftReportID,
		"model", resp.Model,
		"tool_calls", len(resp.ToolCalls),
		"tokens", resp.Usage.TotalTokens)

	if resp.Content != "" {
		workflow.Emit(ctx, sink, workflow.Event{Kind: workflow.EventToken, Node: a.name, Text: resp.Content})
	}

	msg := resp.Message()
	llm.EnsureToolCallIDs(msg.ToolCalls)
	msg.Name = a.name
	return msg, nil
}

// conversation prefixes the run history with the system prompt.
func conversation(system string, state workflow.State) []workflow.Message {
	out := make([]workflow.Message, 0, len(state.Messages)+1)
	out = append(out, llm.SystemMessage(system))
	return append(out, state.Messages...)
}
