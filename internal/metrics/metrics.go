// Package metrics exports gateway counters to Prometheus and serves them
// alongside a health endpoint. Everything here is observability only; nothing
// in the pipeline depends on it succeeding.
package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/nilmgw/internal/logging"
)

var (
	// ReadingsTotal counts every meter sample entering the pipeline.
	ReadingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilmgw_readings_total",
		Help: "Total number of meter readings processed",
	})

	// WindowsTotal counts emitted feature windows (inference invocations).
	WindowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilmgw_windows_total",
		Help: "Total number of feature windows run through the model",
	})

	// InferenceLatency tracks window-ready-to-emitted wall-clock time.
	InferenceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nilmgw_inference_latency_seconds",
		Help:    "End-to-end latency from window emission to published results",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})

	// PublishErrors counts failed emissions per channel.
	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nilmgw_publish_errors_total",
		Help: "Total number of failed publish attempts",
	}, []string{"channel"})

	// ApplianceState mirrors the latest decided state per appliance.
	ApplianceState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nilmgw_appliance_state",
		Help: "Latest decided appliance state (0=off, 1=on)",
	}, []string{"device"})

	// ApplianceConfidence mirrors the latest smoothed probability.
	ApplianceConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nilmgw_appliance_confidence",
		Help: "Latest smoothed on-probability per appliance",
	}, []string{"device"})
)

// Serve exposes /metrics and /healthz on addr in a background goroutine.
// Returns the server so callers can shut it down.
func Serve(addr string) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Warnf("metrics: server on %s: %v", addr, err)
		}
	}()
	return srv
}
