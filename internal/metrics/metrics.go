package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// Reconciler
	ItemsApplied        prometheus.Counter
	ItemsSkipped        prometheus.Counter
	OversellClamped     prometheus.Counter
	ReconcileLatencySec prometheus.Histogram
	AuditAppended       prometheus.Counter

	// Recovery
	ReplayApplied      prometheus.Counter
	ReplaySkipped      prometheus.Counter
	TTRSec             prometheus.Gauge
	AuditLag           prometheus.Gauge
	LastManifestAgeSec prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	itemsApplied := prometheus.NewCounter(prometheus.CounterOpts{Name: "stockd_items_applied_total"})
	itemsSkipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "stockd_items_skipped_total"})
	clamped := prometheus.NewCounter(prometheus.CounterOpts{Name: "stockd_oversell_clamped_total"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockd_reconcile_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	auditAppended := prometheus.NewCounter(prometheus.CounterOpts{Name: "stockd_audit_appended_total"})

	replayApplied := prometheus.NewCounter(prometheus.CounterOpts{Name: "stockd_replay_applied_total"})
	replaySkipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "stockd_replay_skipped_total"})
	ttr := prometheus.NewGauge(prometheus.GaugeOpts{Name: "stockd_recovery_ttr_seconds"})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "stockd_audit_lag"})
	lastAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "stockd_last_manifest_age_seconds"})

	r.MustRegister(itemsApplied, itemsSkipped, clamped, latency, auditAppended,
		replayApplied, replaySkipped, ttr, lag, lastAge)
	return &Registry{
		reg:                 r,
		ItemsApplied:        itemsApplied,
		ItemsSkipped:        itemsSkipped,
		OversellClamped:     clamped,
		ReconcileLatencySec: latency,
		AuditAppended:       auditAppended,
		ReplayApplied:       replayApplied,
		ReplaySkipped:       replaySkipped,
		TTRSec:              ttr,
		AuditLag:            lag,
		LastManifestAgeSec:  lastAge,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
