package domain

import "context"

// Event names published on the event bus.
const (
	EventSystem        = "system"
	EventMessageRouted = "message.routed"
	EventTaskUpdate    = "task_update"
	EventResourceAlert = "resource_alert"
	EventAgentError    = "agent_error"
	EventHandoff       = "agent.handoff"
	EventMemoryPromote = "memory.consolidated"
)

// EventCallback receives a published message. A returned error is logged by
// the bus and does not stop later callbacks.
type EventCallback func(ctx context.Context, msg Message) error

// EventBus provides ordered publish/subscribe for messages.
type EventBus interface {
	// Publish invokes every subscriber of event in subscription order.
	Publish(ctx context.Context, event string, msg Message)
	// Subscribe registers a callback for event. Returns the subscription id.
	Subscribe(event string, cb EventCallback) uint64
	// Unsubscribe removes a subscription. Unknown ids are ignored.
	Unsubscribe(event string, id uint64)
}

// Delivery records how the router handled one message.
type Delivery struct {
	Message    Message  `json:"message"`
	Delivered  bool     `json:"delivered"`
	Recipients []string `json:"recipients,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// RouteCallback receives a message addressed to a registered route.
type RouteCallback func(ctx context.Context, msg Message) error
