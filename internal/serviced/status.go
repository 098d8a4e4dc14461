// Package serviced implements the agent's ServiceHandler: the child
// process lifecycle, its status/config state machine, and the always-on
// broadcast responder that answers who_is queries.
package serviced

// StatusKind discriminates the states of Status. The zero value is
// NotStarted.
type StatusKind int

const (
	NotStarted StatusKind = iota
	Started
	ErrorStarting
	InTransmission
)

func (k StatusKind) String() string {
	switch k {
	case NotStarted:
		return "NotStarted"
	case Started:
		return "Started"
	case ErrorStarting:
		return "ErrorStarting"
	case InTransmission:
		return "InTransmission"
	default:
		return "Unknown"
	}
}

// Status is the tagged ServiceStatus value. Reason is only meaningful
// when Kind is ErrorStarting.
type Status struct {
	Kind   StatusKind
	Reason string
}

// Config is the ServiceConfig tuple: the monotonic service generation
// counter and the set of ports the running child has opened.
type Config struct {
	ServiceID uint64
	Ports     []uint16
}

// legalTransition reports whether the ServiceStatus state machine allows
// moving from 'from' to 'to'. It encodes exactly the six edges in
// the status transition graph; anything else is rejected by SetStatus.
func legalTransition(from, to StatusKind) bool {
	switch from {
	case NotStarted:
		return to == InTransmission || to == Started
	case InTransmission:
		return to == Started || to == ErrorStarting
	case Started:
		return to == NotStarted
	case ErrorStarting:
		return to == NotStarted
	default:
		return false
	}
}
