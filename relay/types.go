package relay

import "errors"

var (
	ErrDuplicateSubscriber = errors.New("relay: subscriber already registered")
	ErrNilSubscriber       = errors.New("relay: subscriber is nil")
)

type ConfigFunc[T any] func(*T) *T

// State is the lifecycle state of a subscriber connection.
type State uint32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscriber is a live realtime connection that can receive one distributed
// event at a time. Send must not block; it reports whether the payload was
// queued for the peer.
type Subscriber interface {
	ID() string
	State() State
	Send(payload []byte) bool
}

// Outcome is the result of a single distribution attempt.
type Outcome uint8

const (
	// OutcomeUnknown means no distribution attempt completed.
	OutcomeUnknown Outcome = iota
	OutcomeDelivered
	OutcomeNoSubscribers
	OutcomeSkippedClosed
	OutcomeDroppedBufferFull
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeNoSubscribers:
		return "no_subscribers"
	case OutcomeSkippedClosed:
		return "skipped_closed"
	case OutcomeDroppedBufferFull:
		return "dropped_buffer_full"
	default:
		return "unknown"
	}
}

// Delivery reports which subscriber, if any, was picked for an event.
type Delivery struct {
	Outcome      Outcome `json:"outcome"`
	SubscriberID string  `json:"subscriberId,omitempty"`
}
