package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ForecastRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_forecast_requests_total",
			Help: "Total forecast requests by outcome",
		},
		[]string{"status"},
	)

	ForecastLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecastd_forecast_latency_seconds",
			Help:    "End-to-end forecast latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_cache_lookups_total",
			Help: "Prediction cache lookups by result",
		},
		[]string{"result"},
	)

	PromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_promotions_total",
			Help: "Model promotion attempts by family and outcome",
		},
		[]string{"family", "outcome"},
	)

	PredictionsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_predictions_scored_total",
			Help: "Successful ensemble scorings by model run id",
		},
		[]string{"run_id"},
	)

	DriftScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forecastd_drift_score",
			Help: "Latest drift score per tracked feature",
		},
		[]string{"feature"},
	)

	RetrainTriggersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastd_retrain_triggers_total",
			Help: "Retrain trigger signals emitted by the drift monitor",
		},
	)
)
