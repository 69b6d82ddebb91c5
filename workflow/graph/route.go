package graph

import (
	"github.com/c360studio/reportgen/workflow"
)

// Route returns the node to run after from. A supervisor decision that is
// missing or outside the routing vocabulary yields FINISH and a
// RoutingError for the caller to log.
func Route(from string, state workflow.State) (string, *workflow.RoutingError) {
	switch from {
	case workflow.NodeSupervisor:
		return routeSupervisor(state.NextStep)
	case workflow.NodeWriter:
		if len(state.PendingToolCalls()) > 0 {
			return workflow.NodeTools, nil
		}
		// A plan given as plain content pauses before the writer's next turn.
		if state.ApprovalStatus == workflow.ApprovalPending {
			return workflow.NodeWriter, nil
		}
		return workflow.NodeSupervisor, nil
	case workflow.NodeResearcher:
		if len(state.PendingToolCalls()) > 0 {
			return workflow.NodeTools, nil
		}
		return workflow.NodeSupervisor, nil
	case workflow.NodeTools:
		return toolCaller(state), nil
	}
	return workflow.NodeFinish, nil
}

func routeSupervisor(next workflow.RouteKey) (string, *workflow.RoutingError) {
	key, err := workflow.ParseRoute(string(next))
	if err != nil {
		return workflow.NodeFinish, &workflow.RoutingError{Value: string(next), Err: err}
	}
	switch key {
	case workflow.RouteResearch:
		return workflow.NodeResearcher, nil
	case workflow.RouteWrite:
		return workflow.NodeWriter, nil
	default:
		return workflow.NodeFinish, nil
	}
}

// toolCaller returns the node whose assistant turn issued the most recent
// tool calls. Turns without a node name belong to the writer.
func toolCaller(state workflow.State) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		msg := state.Messages[i]
		if !msg.HasToolCalls() {
			continue
		}
		if msg.Name == workflow.NodeResearcher {
			return workflow.NodeResearcher
		}
		return workflow.NodeWriter
	}
	return workflow.NodeWriter
}
