package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "outreach"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	sends        *prom.CounterVec
	retries      *prom.CounterVec
	sendDuration *prom.HistogramVec
	pending      *prom.GaugeVec
	detections   *prom.CounterVec
	folderErrors *prom.CounterVec
	runDuration  *prom.HistogramVec
	runOutcomes  *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		sends: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Send attempts per recipient by stage and final result",
		}, []string{"stage", "result"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "send_retries_total",
			Help:      "Transport retries after a transient failure",
		}, []string{"stage"}),
		sendDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of a single transport send",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		pending: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_recipients",
			Help:      "Recipients pending at the start of the last run",
		}, []string{"stage"}),
		detections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "New ledger events produced by mailbox scans",
		}, []string{"ledger", "detail"}),
		folderErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "folder_errors_total",
			Help:      "Mailbox folders skipped because of an error",
		}, []string{"folder"}),
		runDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a whole stage run",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"stage"}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Stage runs by outcome",
		}, []string{"stage", "outcome"}),
	}
	reg.MustRegister(pr.sends, pr.retries, pr.sendDuration, pr.pending,
		pr.detections, pr.folderErrors, pr.runDuration, pr.runOutcomes)
	return pr
}

func (p *PrometheusRecorder) IncSend(stage string, result ResultLabel) {
	p.sends.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRetry(stage string) {
	p.retries.WithLabelValues(stage).Inc()
}

func (p *PrometheusRecorder) ObserveSendDuration(stage string, d time.Duration) {
	p.sendDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetPending(stage string, n int) {
	p.pending.WithLabelValues(stage).Set(float64(n))
}

func (p *PrometheusRecorder) IncDetection(ledger, detail string) {
	p.detections.WithLabelValues(ledger, detail).Inc()
}

func (p *PrometheusRecorder) IncFolderError(folder string) {
	p.folderErrors.WithLabelValues(folder).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(stage string, d time.Duration) {
	p.runDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(stage, outcome string) {
	p.runOutcomes.WithLabelValues(stage, outcome).Inc()
}

// HTTPHandler returns an http.Handler that serves the metrics in reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
