package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendorportal_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendorportal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendorportal_ratelimit_decisions_total",
			Help: "Rate limit decisions by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	RateLimitStoreErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vendorportal_ratelimit_store_errors_total",
			Help: "Rate limit checks that could not reach the counter store.",
		},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vendorportal_circuit_state",
			Help: "Current circuit state per service (0=closed, 1=half_open, 2=open).",
		},
		[]string{"service"},
	)

	CircuitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendorportal_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"service", "from", "to"},
	)

	CircuitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendorportal_circuit_rejected_total",
			Help: "Calls rejected because the circuit was open.",
		},
		[]string{"service"},
	)

	PricingEstimatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendorportal_pricing_estimates_total",
			Help: "Pricing calculations served, by kind.",
		},
		[]string{"kind"},
	)

	HealthStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vendorportal_health_status",
			Help: "Last aggregated health status (0=healthy, 1=degraded, 2=unhealthy).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitDecisions,
		RateLimitStoreErrors,
		CircuitState,
		CircuitTransitionsTotal,
		CircuitRejectedTotal,
		PricingEstimatesTotal,
		HealthStatus,
	)
}
