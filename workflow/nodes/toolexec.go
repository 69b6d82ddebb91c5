package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/reportgen/tools"
	"github.com/c360studio/reportgen/workflow"
)

// nodeGroups lists the tool groups each agent may call.
var nodeGroups = map[string][]tools.Group{
	workflow.NodeResearcher: {tools.GroupResearch},
	workflow.NodeWriter:     {tools.GroupReport, tools.GroupVision},
}

// GroupsFor returns the tool groups bound to node. Unnamed turns belong to
// the writer, matching the router.
func GroupsFor(node string) []tools.Group {
	if node == "" {
		node = workflow.NodeWriter
	}
	return nodeGroups[node]
}

// ToolExecutor runs the tool calls of the last assistant turn.
type ToolExecutor struct {
	groups   tools.GroupSet
	observer tools.CallObserver
	logger   *slog.Logger
}

// ToolExecutorOption configures a ToolExecutor.
type ToolExecutorOption func(*ToolExecutor)

// WithCallObserver records every tool call.
func WithCallObserver(o tools.CallObserver) ToolExecutorOption {
	return func(e *ToolExecutor) {
		e.observer = o
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ToolExecutorOption {
	return func(e *ToolExecutor) {
		e.logger = logger
	}
}

// NewToolExecutor creates the tools node over groups. Calls only reach the
// groups of the node that issued them.
func NewToolExecutor(groups tools.GroupSet, opts ...ToolExecutorOption) *ToolExecutor {
	e := &ToolExecutor{groups: groups, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements workflow.Node.
func (e *ToolExecutor) Name() string { return workflow.NodeTools }

// Run answers each pending call with exactly one result, in call order.
// A failing call never stops the ones after it.
func (e *ToolExecutor) Run(ctx context.Context, state workflow.State, sink workflow.EventSink) (workflow.State, error) {
	calls := state.PendingToolCalls()
	if len(calls) == 0 {
		return workflow.State{}, nil
	}
	last, _ := state.LastMessage()
	caller := last.Name
	if caller == "" {
		caller = workflow.NodeWriter
	}

	scope := tools.ScopeFromState(state)
	scopeErr := scope.Validate()
	if scopeErr != nil {
		e.logger.Warn("Tool calls without run scope",
			"report_id", state.DraftReportID,
			"calls", len(calls))
	}

	// built per invocation so runs never share tool instances
	reg := e.groups.Registry(GroupsFor(caller)...)
	ctx = tools.WithScope(ctx, scope)

	messages := make([]workflow.Message, 0, len(calls))
	for _, call := range calls {
		workflow.Emit(ctx, sink, workflow.Event{
			Kind:   workflow.EventToolStart,
			Tool:   call.Name,
			CallID: call.ID,
			Args:   call.Arguments,
		})

		var result workflow.ToolResult
		if scopeErr != nil {
			result = workflow.ToolResult{CallID: call.ID, Name: call.Name, Error: scopeErr.Error()}
		} else {
			result = e.execute(ctx, reg, caller, call)
		}

		workflow.Emit(ctx, sink, workflow.Event{
			Kind:   workflow.EventToolEnd,
			Tool:   call.Name,
			CallID: call.ID,
			Result: &result,
		})
		messages = append(messages, result.Message())
	}
	return workflow.State{Messages: messages}, nil
}

func (e *ToolExecutor) execute(ctx context.Context, reg *tools.Registry, caller string, call workflow.ToolCall) (result workflow.ToolResult) {
	result = workflow.ToolResult{CallID: call.ID, Name: call.Name}

	tool, ok := reg.Lookup(call.Name)
	if !ok {
		if _, exists := e.groups.Registry().Lookup(call.Name); exists {
			err := &workflow.ToolNotPermittedError{Name: call.Name, Node: caller}
			e.logger.Warn("Tool outside caller's groups", "tool", call.Name, "node", caller)
			result.Error = err.Error()
			return result
		}
		err := &workflow.ToolNotFoundError{Name: call.Name}
		e.logger.Warn("Unknown tool requested", "tool", call.Name)
		result.Error = err.Error()
		return result
	}
	if e.observer != nil {
		tool = tools.NewRecordingTool(tool, e.observer, e.logger)
	}

	defer func() {
		if r := recover(); r != nil {
			err := &workflow.ToolExecutionError{Name: call.Name, Err: fmt.Errorf("panic: %v", r)}
			e.logger.Error("Tool panicked", "tool", call.Name, "error", err)
			result.Content = ""
			result.Error = err.Error()
		}
	}()

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		err = &workflow.ToolExecutionError{Name: call.Name, Err: err}
		result.Error = err.Error()
		return result
	}

	content, err := serialize(out)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Content = content
	return result
}

func serialize(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize tool result: %w", err)
	}
	return string(data), nil
}
