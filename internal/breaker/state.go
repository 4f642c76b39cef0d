// Package breaker tracks a circuit breaker per external service. State lives
// in a StateStore so that every instance of the service sees the same circuit.
package breaker

import (
	"strconv"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
	// StateUnknown is reported when the state store cannot be read.
	StateUnknown State = "unknown"
)

// Settings are the thresholds a circuit is created with.
type Settings struct {
	FailureThreshold int           `json:"failureThreshold"`
	SuccessThreshold int           `json:"successThreshold"`
	OpenDuration     time.Duration `json:"openDuration"`
}

// DefaultSettings open after 5 consecutive failures, probe after 30s and
// close after 2 successful probes.
var DefaultSettings = Settings{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	OpenDuration:     30 * time.Second,
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultSettings.FailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = DefaultSettings.SuccessThreshold
	}
	if s.OpenDuration <= 0 {
		s.OpenDuration = DefaultSettings.OpenDuration
	}
	return s
}

// CircuitState is the persisted state of one service's circuit.
type CircuitState struct {
	ServiceID            string     `json:"serviceId"`
	State                State      `json:"state"`
	ConsecutiveFailures  int        `json:"consecutiveFailures"`
	ConsecutiveSuccesses int        `json:"consecutiveSuccesses"`
	LastFailure          *time.Time `json:"lastFailure,omitempty"`
	LastStateChange      time.Time  `json:"lastStateChange"`
	FailureThreshold     int        `json:"failureThreshold"`
	SuccessThreshold     int        `json:"successThreshold"`
	OpenDuration         Duration   `json:"openDurationMs"`
	// Version increases by one on every write and guards compare-and-swap.
	Version int64 `json:"version"`
}

func newCircuitState(serviceID string, s Settings, now time.Time) CircuitState {
	return CircuitState{
		ServiceID:        serviceID,
		State:            StateClosed,
		LastStateChange:  now,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
		OpenDuration:     Duration(s.OpenDuration),
	}
}

// transition moves the circuit to state to and zeroes both counters.
func (c *CircuitState) transition(to State, now time.Time) {
	c.State = to
	c.ConsecutiveFailures = 0
	c.ConsecutiveSuccesses = 0
	c.LastStateChange = now
}

func (c *CircuitState) openElapsed(now time.Time) bool {
	return now.Sub(c.LastStateChange) >= time.Duration(c.OpenDuration)
}

// Duration is a time.Duration that encodes to JSON as whole milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Duration(d).Milliseconds(), 10), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}
