package acp

// StopReason is the agent's reason for ending a prompt turn.
type StopReason string

const (
	StopReasonEndTurn         StopReason = "end_turn"
	StopReasonCancelled       StopReason = "cancelled"
	StopReasonMaxTokens       StopReason = "max_tokens"
	StopReasonMaxTurnRequests StopReason = "max_turn_requests"
	StopReasonRefusal         StopReason = "refusal"
)

// Event is one streamed session update. The variant set is closed:
// ThoughtChunk, MessageChunk, ToolCallStart, ToolCallProgress and PlanUpdate.
type Event interface {
	isEvent()
}

// ThoughtChunk is a piece of the agent's reasoning text.
type ThoughtChunk struct {
	Text string
}

// MessageChunk is a piece of user-visible agent output.
type MessageChunk struct {
	Text string
}

// ToolCallStart announces a tool invocation.
type ToolCallStart struct {
	ID        string
	Title     string
	Kind      string
	Status    string
	Locations []string
}

// ToolCallProgress reports a status change of an earlier tool call.
type ToolCallProgress struct {
	ID        string
	Title     string
	Kind      string
	Status    string
	Locations []string
}

// PlanEntry is one step of the agent's plan.
type PlanEntry struct {
	Content  string
	Priority string
	Status   string
}

// PlanUpdate replaces the agent's current plan.
type PlanUpdate struct {
	Entries []PlanEntry
}

func (ThoughtChunk) isEvent()     {}
func (MessageChunk) isEvent()     {}
func (ToolCallStart) isEvent()    {}
func (ToolCallProgress) isEvent() {}
func (PlanUpdate) isEvent()       {}

// EventHandler receives the events of one session in emission order.
type EventHandler func(Event)
