package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForecastAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastbot_forecast_api_calls_total",
			Help: "Total Open-Meteo API calls",
		},
		[]string{"endpoint", "status"},
	)

	ForecastAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastbot_forecast_api_latency_seconds",
			Help:    "Open-Meteo API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ForecastSamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastbot_forecast_samples_rejected_total",
			Help: "Forecast samples discarded as implausible, by channel",
		},
		[]string{"channel"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastbot_deliveries_total",
			Help: "Pipeline runs by trigger, chart kind and outcome",
		},
		[]string{"trigger", "kind", "outcome"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastbot_stage_failures_total",
			Help: "Pipeline failures by the stage that failed",
		},
		[]string{"stage"},
	)

	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastbot_render_duration_seconds",
			Help:    "Time spent transforming and drawing a chart",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"kind"},
	)

	ChartBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecastbot_chart_bytes",
			Help:    "Size of encoded chart images",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
		},
	)

	LocationsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forecastbot_locations_registered",
			Help: "Number of identities with a stored location",
		},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastbot_commands_total",
			Help: "Chat commands handled by name and outcome",
		},
		[]string{"command", "outcome"},
	)
)
