package orchestrator

import (
	"github.com/maistro-platform/maistro/internal/conversation"
)

// RouteState is the router's closed state set. The node graph is fixed:
// the conversation node hands its newest message to the router, which
// either terminates the turn or dispatches exactly one update node.
type RouteState int

const (
	StateAwaitingDirective RouteState = iota
	StateDispatchProfile
	StateDispatchTodo
	StateDispatchInstructions
	StateDone
	StateFailed
)

func (s RouteState) String() string {
	switch s {
	case StateAwaitingDirective:
		return "awaiting_directive"
	case StateDispatchProfile:
		return "dispatch_profile"
	case StateDispatchTodo:
		return "dispatch_todo"
	case StateDispatchInstructions:
		return "dispatch_instructions"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Directive update_type values.
const (
	UpdateTypeUser         = "user"
	UpdateTypeTodo         = "todo"
	UpdateTypeInstructions = "instructions"
)

// Route holds a routing decision and the tool-call id that triggered it,
// so the dispatched node can answer the right directive.
type Route struct {
	State      RouteState
	ToolCallID string
}

// RouteMessage inspects the newest conversation message and selects the
// next node. No directive means the turn is done. An update_type outside
// the closed set fails the turn loudly: swallowing it would hide a broken
// upstream capability.
func RouteMessage(msg conversation.Message) (Route, error) {
	directive, ok := conversation.DirectiveFrom(msg)
	if !ok {
		return Route{State: StateDone}, nil
	}

	switch directive.UpdateType {
	case UpdateTypeUser:
		return Route{State: StateDispatchProfile, ToolCallID: directive.ToolCallID}, nil
	case UpdateTypeTodo:
		return Route{State: StateDispatchTodo, ToolCallID: directive.ToolCallID}, nil
	case UpdateTypeInstructions:
		return Route{State: StateDispatchInstructions, ToolCallID: directive.ToolCallID}, nil
	default:
		return Route{State: StateFailed, ToolCallID: directive.ToolCallID},
			&UnknownDirectiveError{Value: directive.UpdateType}
	}
}
