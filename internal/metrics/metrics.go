// Package metrics Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"asxreport/pkg/model"
)

const namespace = "asxreport"

// Metrics 服务指标
type Metrics struct {
	registry *prometheus.Registry

	GateDecisions      *prometheus.CounterVec
	Runs               *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	ConversionAttempts *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	ActiveWorkers      prometheus.Gauge
}

// New 在独立的 registry 上注册指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Dispatch gate decisions by outcome",
		}, []string{"decision"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Executed report runs by final status and failed stage",
		}, []string{"status", "failed_stage"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90, 180},
		}, []string{"stage", "outcome"}),
		ConversionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_attempts_total",
			Help:      "PDF conversion attempts by engine and outcome",
		}, []string{"engine", "outcome"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently executing a report",
		}),
	}
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gate 记录去重决策
func (m *Metrics) Gate(decision string) {
	m.GateDecisions.WithLabelValues(decision).Inc()
}

// StageDone 实现 pipeline.Observer
func (m *Metrics) StageDone(stage model.Stage, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StageDuration.WithLabelValues(string(stage), outcome).Observe(d.Seconds())
}

// Run 记录一次执行结果
func (m *Metrics) Run(res *model.PipelineResult) {
	if res == nil {
		return
	}
	m.Runs.WithLabelValues(string(res.Status), string(res.FailedStage)).Inc()
	for _, a := range res.EngineAttempts {
		outcome := "ok"
		switch {
		case a.Absent:
			outcome = "absent"
		case a.TimedOut:
			outcome = "timeout"
		case a.Err != "":
			outcome = "error"
		}
		m.ConversionAttempts.WithLabelValues(a.Engine, outcome).Inc()
	}
}
