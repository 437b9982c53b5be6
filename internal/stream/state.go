package stream

// Status is where a channel's connection is in its lifecycle.
type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusOpen
	StatusReconnecting
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionState is the read-only projection of a channel's connection that
// consumers may observe. Attempt counts consecutive failed connects and
// resets to zero on a successful open.
type ConnectionState struct {
	Status  Status
	Attempt int
}
