package merge

import "fmt"

// State is the driver's position in the partition/event lifecycle:
//
//	Idle -> PartitionOpen -> (EventOpen -> EventClosed)* -> PartitionClosed -> Idle
//
// A partition without events goes straight from PartitionOpen to
// PartitionClosed.
type State uint8

// Lifecycle states.
const (
	// Idle is between partitions, and before the first one.
	Idle State = iota
	// PartitionOpen: tables loaded and bound, no event in progress.
	PartitionOpen
	// EventOpen: an event is being assembled.
	EventOpen
	// EventClosed: the last event was handed to the sink.
	EventClosed
	PartitionClosed
)

// String returns the kebab-case state name used in errors.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PartitionOpen:
		return "partition-open"
	case EventOpen:
		return "event-open"
	case EventClosed:
		return "event-closed"
	case PartitionClosed:
		return "partition-closed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

var transitions = map[State][]State{
	Idle:            {PartitionOpen},
	PartitionOpen:   {EventOpen, PartitionClosed},
	EventOpen:       {EventClosed},
	EventClosed:     {EventOpen, PartitionClosed},
	PartitionClosed: {Idle},
}

// machine guards the lifecycle. The zero machine is Idle.
type machine struct {
	state State
}

// to moves to next, or returns ErrIllegalTransition and keeps the state.
func (m *machine) to(next State) error {
	for _, s := range transitions[m.state] {
		if s == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
}
