package breaker

import (
	"context"

	"github.com/vendorportal/core/internal/metrics"
)

func stateValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// MetricsListener exports transitions to Prometheus.
func MetricsListener() Listener {
	return ListenerFunc(func(_ context.Context, from, to State, st CircuitState) {
		metrics.CircuitState.WithLabelValues(st.ServiceID).Set(stateValue(to))
		if from != "" {
			metrics.CircuitTransitionsTotal.WithLabelValues(st.ServiceID, string(from), string(to)).Inc()
		}
	})
}
