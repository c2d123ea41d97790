package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpointcast_upstream_calls_total",
			Help: "Total upstream API calls by provider",
		},
		[]string{"provider", "endpoint", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkpointcast_upstream_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpointcast_observations_ingested_total",
			Help: "Total rows successfully ingested by source",
		},
		[]string{"source"},
	)

	ForecastsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpointcast_forecasts_emitted_total",
			Help: "Total daily forecast rows written",
		},
	)

	NowcastsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpointcast_nowcasts_emitted_total",
			Help: "Total nowcast rows written, by fallback status",
		},
		[]string{"fallback"},
	)

	ProtocolRulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpointcast_protocol_rules_fired_total",
			Help: "Circuit-breaker rule activations by rule name",
		},
		[]string{"rule"},
	)

	CredentialRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpointcast_credential_rotations_total",
			Help: "OAuth credential rotations triggered by rate limiting or auth failure",
		},
	)

	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpointcast_training_runs_total",
			Help: "Model training runs by model and outcome",
		},
		[]string{"model", "status"},
	)
)
