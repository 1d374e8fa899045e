package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"typeinject/inject"
	"typeinject/internal/logging"
)

// Metrics holds the collectors of one process. It implements inject.Observer.
type Metrics struct {
	reg *prometheus.Registry

	stages    *prometheus.CounterVec
	durations *prometheus.HistogramVec
	files     *prometheus.CounterVec
	functions prometheus.Counter
	written   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "typeinject_stage_total",
			Help: "Transformation stages attempted, by stage and result.",
		}, []string{"stage", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "typeinject_stage_duration_seconds",
			Help:    "Time spent per transformation stage.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"stage"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "typeinject_files_total",
			Help: "Files seen by the rewriter, by result (unchanged, rewritten, failed).",
		}, []string{"result"}),
		functions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typeinject_functions_rewritten_total",
			Help: "Function declarations that received an assertion block.",
		}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typeinject_files_written_total",
			Help: "Rewritten files acknowledged by a sink.",
		}),
	}
	m.reg.MustRegister(m.stages, m.durations, m.files, m.functions, m.written)
	return m
}

// ObserveStage counts one stage attempt. Rewrites report parsed and spliced;
// load-time transformations also report compiled and bound.
func (m *Metrics) ObserveStage(stage inject.State, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stages.WithLabelValues(stage.String(), result).Inc()
	m.durations.WithLabelValues(stage.String()).Observe(d.Seconds())
}

// ObserveFile records the outcome of one RewriteFile call.
func (m *Metrics) ObserveFile(res *inject.FileRewrite, err error) {
	switch {
	case err != nil:
		m.files.WithLabelValues("failed").Inc()
	case res.Changed():
		m.files.WithLabelValues("rewritten").Inc()
		m.functions.Add(float64(len(res.Functions)))
	default:
		m.files.WithLabelValues("unchanged").Inc()
	}
}

func (m *Metrics) ObserveWritten() { m.written.Inc() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Expose serves /metrics on port in the background. The returned shutdown
// func stops the listener.
func (m *Metrics) Expose(port int) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics: listen", "port", port, "err", err)
		}
	}()
	return srv.Shutdown
}

// WriteTextfile dumps the registry in the node_exporter textfile format, for
// one-shot runs that exit before a scrape.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
