// Package pipeline drives the gateway loop: pull one reading, publish the
// raw timeseries, maybe emit a feature window, run inference, smooth,
// threshold, and hand the decisions to the publisher.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/crimson-sun/nilmgw/internal/decision"
	"github.com/crimson-sun/nilmgw/internal/feature"
	"github.com/crimson-sun/nilmgw/internal/logging"
	"github.com/crimson-sun/nilmgw/internal/metrics"
	"github.com/crimson-sun/nilmgw/internal/model"
	"github.com/crimson-sun/nilmgw/internal/nilm"
	"github.com/crimson-sun/nilmgw/internal/publisher"
	"github.com/crimson-sun/nilmgw/internal/source"
	"github.com/crimson-sun/nilmgw/internal/telemetry"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHostMetrics enables periodic host telemetry publishing. fn is invoked
// on the loop goroutine whenever interval has elapsed since the last probe.
func WithHostMetrics(fn func() map[string]any, interval time.Duration) Option {
	return func(p *Pipeline) {
		p.hostFn = fn
		p.hostInterval = interval
	}
}

// WithTelemetry records per-stage latencies to the given recorder.
func WithTelemetry(rec *telemetry.Recorder) Option {
	return func(p *Pipeline) { p.tele = rec }
}

// WithTrace appends per-reading debug rows to the CSV at path.
func WithTrace(path string) Option {
	return func(p *Pipeline) { p.tracePath = path }
}

// Pipeline owns the loop state. Exactly one inference is in flight at a time;
// the smoother's moving average is the only state that crosses readings.
type Pipeline struct {
	src      source.Source
	engine   *nilm.Engine
	windower *feature.Windower
	smoother *decision.Smoother
	pub      publisher.Publisher

	hostFn       func() map[string]any
	hostInterval time.Duration
	tele         *telemetry.Recorder
	tracePath    string

	tr   *trace
	taus []float64
	ids  []int
	onW  float64
}

// New assembles a Pipeline from its components.
func New(src source.Source, eng *nilm.Engine, win *feature.Windower, sm *decision.Smoother, pub publisher.Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:      src,
		engine:   eng,
		windower: win,
		smoother: sm,
		pub:      pub,
		taus:     eng.Thresholds(),
		ids:      eng.RuntimeIDs(),
		onW:      eng.OnWatts(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes the source until exhaustion or context cancellation. Results
// for a reading are fully emitted before the next reading is examined; a
// cancellation mid-window finishes that window first.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.pub.Startup(); err != nil {
		return fmt.Errorf("pipeline: startup: %w", err)
	}
	defer p.pub.Close()
	defer p.src.Close()

	if p.tracePath != "" {
		tr, err := newTrace(p.tracePath, p.ids)
		if err != nil {
			logging.L().Warnf("pipeline: debug trace disabled: %v", err)
		} else {
			p.tr = tr
			defer p.tr.Close()
		}
	}

	ch, err := p.src.Stream(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: stream: %w", err)
	}

	nextHost := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-ch:
			if !ok {
				return nil
			}
			p.tick(sample, &nextHost)
		}
	}
}

// tick processes exactly one reading.
func (p *Pipeline) tick(sample model.MeterSample, nextHost *time.Time) {
	metrics.ReadingsTotal.Inc()

	// Raw observability first: this data must survive even when inference is
	// skipped or fails downstream.
	truthStates := p.truthStates(sample)
	if err := p.pub.PublishTimeseries(sample.PowerW, sample.TruthPowerW, truthStates); err != nil {
		metrics.PublishErrors.WithLabelValues("timeseries").Inc()
		logging.L().Warnf("pipeline: timeseries publish: %v", err)
	}

	if p.hostFn != nil && !time.Now().Before(*nextHost) {
		if err := p.pub.PublishHostMetrics(p.hostFn()); err != nil {
			metrics.PublishErrors.WithLabelValues("host").Inc()
			logging.L().Warnf("pipeline: host metrics publish: %v", err)
		}
		*nextHost = time.Now().Add(p.hostInterval)
	}

	ingestStart := time.Now()
	win := p.windower.Ingest(sample.PowerW)
	p.tele.Log("ingest", ingestStart, "")
	if win == nil {
		p.tr.partial(sample.Timestamp, sample.PowerW)
		return
	}
	metrics.WindowsTotal.Inc()

	windowReady := time.Now()
	probs := p.engine.Infer(win)
	p.tele.Log("infer", windowReady, "batch=1")

	smoothed, states := p.smoother.Update(probs)

	publishStart := time.Now()
	for i, id := range p.ids {
		res := model.NewResult(id, states[i], smoothed[i])
		if err := p.pub.PublishResult(res); err != nil {
			metrics.PublishErrors.WithLabelValues("result").Inc()
			logging.L().Warnf("pipeline: result publish (device %d): %v", id, err)
		}
		dev := fmt.Sprint(id)
		metrics.ApplianceState.WithLabelValues(dev).Set(float64(states[i]))
		metrics.ApplianceConfidence.WithLabelValues(dev).Set(smoothed[i])
	}
	p.tele.Log("publish", publishStart, fmt.Sprintf("n=%d", len(states)))

	latency := time.Since(windowReady)
	metrics.InferenceLatency.Observe(latency.Seconds())
	if err := p.pub.PublishLatency(float64(latency.Microseconds()) / 1000.0); err != nil {
		metrics.PublishErrors.WithLabelValues("latency").Inc()
	}

	p.tr.row(sample.Timestamp, sample.PowerW, smoothed, p.taus, states, sample.TruthPowerW, p.onW)
}

// truthStates binarizes reference power against the engine's on-threshold.
// Recomputed from the raw values every reading, windowed or not.
func (p *Pipeline) truthStates(sample model.MeterSample) map[int]int {
	if len(sample.TruthPowerW) == 0 {
		return nil
	}
	out := make(map[int]int, len(sample.TruthPowerW))
	for id, w := range sample.TruthPowerW {
		if w >= p.onW {
			out[id] = 1
		} else {
			out[id] = 0
		}
	}
	return out
}
