package breaker

import "fmt"

// State is the breaker position. It serializes as CLOSED, OPEN or HALF_OPEN.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ParseState is the inverse of String.
func ParseState(s string) (State, error) {
	switch s {
	case "CLOSED":
		return StateClosed, nil
	case "OPEN":
		return StateOpen, nil
	case "HALF_OPEN":
		return StateHalfOpen, nil
	}
	return StateClosed, fmt.Errorf("unknown breaker state %q", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(data []byte) error {
	v, err := ParseState(string(data))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
