// Package shelly polls a Shelly 3EM Gen1 energy meter over its HTTP status
// API and emits one aggregate-power sample per tick.
package shelly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/crimson-sun/nilmgw/internal/logging"
	"github.com/crimson-sun/nilmgw/internal/model"
	"github.com/crimson-sun/nilmgw/internal/source"
)

func init() {
	source.Register("shelly", func(cfg source.Config) (source.Source, error) {
		return New(cfg.ShellyHost, cfg.ShellyPort, cfg.SampleRateHz, cfg.ShellyTimeout), nil
	})
}

// Meter is a live meter source. Poll failures never terminate the stream: the
// failed tick emits a zero sample and the loop continues.
type Meter struct {
	statusURL    string
	sampleRateHz float64
	client       *http.Client

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Meter polling http://host[:port]/status.
func New(host string, port int, sampleRateHz, timeoutS float64) *Meter {
	base := "http://" + host
	if port != 0 && port != 80 {
		base = fmt.Sprintf("%s:%d", base, port)
	}
	return &Meter{
		statusURL:    base + "/status",
		sampleRateHz: sampleRateHz,
		client:       &http.Client{Timeout: time.Duration(timeoutS * float64(time.Second))},
		closed:       make(chan struct{}),
	}
}

// status is the slice of the Gen1 /status payload the gateway reads.
type status struct {
	EMeters []struct {
		Power float64 `json:"power"`
	} `json:"emeters"`
	TotalPower *float64 `json:"total_power"`
}

// Stream starts the polling loop. The channel closes on Close or context
// cancellation.
func (m *Meter) Stream(ctx context.Context) (<-chan model.MeterSample, error) {
	ch := make(chan model.MeterSample)
	go m.poll(ctx, ch)
	return ch, nil
}

func (m *Meter) poll(ctx context.Context, ch chan<- model.MeterSample) {
	defer close(ch)

	rate := m.sampleRateHz
	if rate <= 0 {
		rate = 1.0
	}
	interval := time.Duration(float64(time.Second) / rate)
	next := time.Now()

	for {
		sample := model.MeterSample{
			Timestamp: time.Now().UTC(),
			PowerW:    m.readPower(ctx),
		}
		select {
		case ch <- sample:
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		}

		// Drift-corrected pacing against the wall clock.
		next = next.Add(interval)
		wait := time.Until(next)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			}
		}
	}
}

// readPower fetches one /status payload. The aggregate is the sum of the
// per-phase emeter powers, with total_power as a fallback.
func (m *Meter) readPower(ctx context.Context) float64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statusURL, nil)
	if err != nil {
		logging.L().Warnf("shelly: build request: %v", err)
		return 0
	}
	resp, err := m.client.Do(req)
	if err != nil {
		logging.L().Warnf("shelly: poll %s: %v", m.statusURL, err)
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.L().Warnf("shelly: poll %s: HTTP %d", m.statusURL, resp.StatusCode)
		return 0
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.L().Warnf("shelly: read body: %v", err)
		return 0
	}

	var st status
	if err := json.Unmarshal(body, &st); err != nil {
		logging.L().Warnf("shelly: parse status: %v", err)
		return 0
	}

	var mains float64
	for _, em := range st.EMeters {
		mains += em.Power
	}
	if mains == 0 && st.TotalPower != nil {
		mains = *st.TotalPower
	}
	return mains
}

// Close stops the polling loop. Idempotent.
func (m *Meter) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
