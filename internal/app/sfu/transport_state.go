package sfu

// TransportState is the lifecycle of one transport:
// created -> connecting -> connected -> closed. Closed is reachable
// from every state and is terminal.
type TransportState int

const (
	TransportCreated TransportState = iota
	TransportConnecting
	TransportConnected
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportCreated:
		return "created"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

func (s TransportState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to TransportState) bool {
	if from == TransportClosed {
		return false
	}
	if to == TransportClosed {
		return true
	}
	return to == from+1
}

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool { return d == DirectionSend || d == DirectionRecv }
