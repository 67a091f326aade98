package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tradewind/tradewind/internal/domain"
)

// Registry holds all Prometheus metrics for the trading engine.
type Registry struct {
	// StepDuration times each cycle step per asset.
	StepDuration *prometheus.HistogramVec

	// Cycles counts completed cycles by asset and terminal status.
	Cycles *prometheus.CounterVec

	// StepRetries counts retry attempts by asset and step.
	StepRetries *prometheus.CounterVec

	// StepErrors counts exhausted steps by asset, step and error class.
	StepErrors *prometheus.CounterVec

	// AssetStaleness reports seconds since each asset's last ledger record.
	AssetStaleness *prometheus.GaugeVec

	// AssetHealthState encodes the staleness classification per asset
	// (0=fresh, 1=aging, 2=stale).
	AssetHealthState *prometheus.GaugeVec

	// NotificationsDropped counts messages lost to a full queue or a dead
	// webhook.
	NotificationsDropped prometheus.Counter

	// ActiveSchedulers tracks how many per-asset loops are running.
	ActiveSchedulers prometheus.Gauge
}

// NewRegistry creates and registers all engine metrics.
func NewRegistry() *Registry {
	r := &Registry{
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradewind_step_duration_seconds",
				Help:    "Duration of each cycle step in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"asset", "step"},
		),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradewind_cycles_total",
				Help: "Total completed trading cycles by terminal status",
			},
			[]string{"asset", "status"},
		),

		StepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradewind_step_retries_total",
				Help: "Total retry attempts by step",
			},
			[]string{"asset", "step"},
		),

		StepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradewind_step_errors_total",
				Help: "Total steps that exhausted their retries",
			},
			[]string{"asset", "step"},
		),

		AssetStaleness: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradewind_asset_staleness_seconds",
				Help: "Seconds since the asset's last ledger record",
			},
			[]string{"asset"},
		),

		AssetHealthState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradewind_asset_health_state",
				Help: "Staleness classification (0=fresh, 1=aging, 2=stale)",
			},
			[]string{"asset"},
		),

		NotificationsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradewind_notifications_dropped_total",
				Help: "Total notifications dropped without delivery",
			},
		),

		ActiveSchedulers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradewind_active_schedulers",
				Help: "Number of per-asset scheduler loops currently running",
			},
		),
	}

	prometheus.MustRegister(
		r.StepDuration,
		r.Cycles,
		r.StepRetries,
		r.StepErrors,
		r.AssetStaleness,
		r.AssetHealthState,
		r.NotificationsDropped,
		r.ActiveSchedulers,
	)

	log.Info().Msg("metrics registry initialized")
	return r
}

// StepTimer tracks one step's execution time.
type StepTimer struct {
	metrics *Registry
	asset   string
	step    string
	start   time.Time
}

// StartStep begins timing a cycle step.
func (r *Registry) StartStep(asset, step string) *StepTimer {
	return &StepTimer{metrics: r, asset: asset, step: step, start: time.Now()}
}

// Stop records the elapsed step duration.
func (t *StepTimer) Stop() {
	t.metrics.StepDuration.WithLabelValues(t.asset, t.step).Observe(time.Since(t.start).Seconds())
}

// RecordCycle records one completed cycle.
func (r *Registry) RecordCycle(asset string, status domain.ExecStatus) {
	r.Cycles.WithLabelValues(asset, string(status)).Inc()
}

// RecordRetry records one retry attempt of a step.
func (r *Registry) RecordRetry(asset, step string) {
	r.StepRetries.WithLabelValues(asset, step).Inc()
}

// RecordStepFailure records a step that gave up after exhausting retries.
func (r *Registry) RecordStepFailure(asset, step string) {
	r.StepErrors.WithLabelValues(asset, step).Inc()
}

// RecordHealth updates the staleness gauges for one asset.
func (r *Registry) RecordHealth(asset string, state domain.HealthState, sinceLastRecord time.Duration) {
	r.AssetStaleness.WithLabelValues(asset).Set(sinceLastRecord.Seconds())
	r.AssetHealthState.WithLabelValues(asset).Set(healthGaugeValue(state))
}

func healthGaugeValue(state domain.HealthState) float64 {
	switch state {
	case domain.HealthFresh:
		return 0
	case domain.HealthAging:
		return 1
	case domain.HealthStale:
		return 2
	default:
		return -1
	}
}

// Handler serves the Prometheus scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
