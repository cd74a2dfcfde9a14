package live

import "fmt"

// State is the session controller's lifecycle state.
type State int

const (
	Idle State = iota
	AcquiringDevice
	WarmingUp
	Live
	Stopping
)

var stateNames = map[State]string{
	Idle:            "idle",
	AcquiringDevice: "acquiring_device",
	WarmingUp:       "warming_up",
	Live:            "live",
	Stopping:        "stopping",
}

// String returns the wire name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("live: unknown state %q", text)
}
