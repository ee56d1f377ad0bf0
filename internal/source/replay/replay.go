// Package replay streams a recorded DEDDIAG measurement range out of
// Postgres at a configurable pace, including per-appliance submeter power as
// ground truth.
package replay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crimson-sun/nilmgw/internal/logging"
	"github.com/crimson-sun/nilmgw/internal/model"
	"github.com/crimson-sun/nilmgw/internal/source"
)

func init() {
	source.Register("deddiag", func(cfg source.Config) (source.Source, error) {
		return New(context.Background(), Config{
			DSN:          cfg.DSN,
			Schema:       cfg.Schema,
			MainsItemID:  cfg.MainsItemID,
			Start:        cfg.Start,
			End:          cfg.End,
			SampleRateHz: cfg.SampleRateHz,
			Speed:        cfg.ReplaySpeed,
			TruthIDs:     cfg.TruthIDs,
		})
	})
}

// Config selects the replay range and pacing.
type Config struct {
	DSN          string
	Schema       string
	MainsItemID  int
	Start        string
	End          string
	SampleRateHz float64
	Speed        float64 // playback speed multiplier, floored to 0.01
	TruthIDs     []int
}

// Meter replays mains readings joined with submetered appliance power.
type Meter struct {
	cfg  Config
	conn *pgx.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// New connects to Postgres and prepares the replay. The measurement query
// itself runs lazily on Stream.
func New(ctx context.Context, cfg Config) (*Meter, error) {
	if cfg.Speed < 0.01 {
		cfg.Speed = 0.01
	}
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("replay: connect: %w", err)
	}
	if cfg.Schema != "" {
		path := pgx.Identifier{cfg.Schema}.Sanitize()
		if _, err := conn.Exec(ctx, "SET search_path TO "+path+", public"); err != nil {
			conn.Close(ctx)
			return nil, fmt.Errorf("replay: set search_path: %w", err)
		}
	}
	return &Meter{cfg: cfg, closed: make(chan struct{}), conn: conn}, nil
}

// query builds the mains selection with one LEFT JOIN per truth appliance,
// all drawn from the dataset's get_measurements function and aligned on time.
func (m *Meter) query() (string, []any) {
	cols := []string{"m.time", "m.value AS mains"}
	joins := make([]string, 0, len(m.cfg.TruthIDs))
	args := []any{m.cfg.MainsItemID, m.cfg.Start, m.cfg.End}

	for _, id := range m.cfg.TruthIDs {
		alias := fmt.Sprintf("d%d", id)
		cols = append(cols, fmt.Sprintf("%s.value AS dev_%d", alias, id))
		joins = append(joins, fmt.Sprintf(
			"LEFT JOIN get_measurements($%d, $%d, $%d) %s USING (time)",
			len(args)+1, len(args)+2, len(args)+3, alias))
		args = append(args, id, m.cfg.Start, m.cfg.End)
	}

	sql := fmt.Sprintf(
		"SELECT %s FROM get_measurements($1, $2, $3) m %s ORDER BY m.time ASC",
		strings.Join(cols, ", "), strings.Join(joins, " "))
	return sql, args
}

// Stream runs the replay query and emits paced samples until the range is
// exhausted. Row decode failures degrade to zero-power samples.
func (m *Meter) Stream(ctx context.Context) (<-chan model.MeterSample, error) {
	sql, args := m.query()
	rows, err := m.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("replay: query: %w", err)
	}

	ch := make(chan model.MeterSample)
	go m.emit(ctx, rows, ch)
	return ch, nil
}

func (m *Meter) emit(ctx context.Context, rows pgx.Rows, ch chan<- model.MeterSample) {
	defer close(ch)
	defer rows.Close()

	rate := m.cfg.SampleRateHz
	if rate <= 0 {
		rate = 1.0
	}
	interval := time.Duration(float64(time.Second) / rate / m.cfg.Speed)
	next := time.Now()

	for rows.Next() {
		sample, ok := m.scan(rows)
		if ok {
			select {
			case ch <- sample:
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			}
		}

		next = next.Add(interval)
		if wait := time.Until(next); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			}
		}
	}
	if err := rows.Err(); err != nil {
		logging.L().Warnf("replay: row stream ended: %v", err)
	}
}

// scan decodes one row. NULL mains or appliance values become 0 W.
func (m *Meter) scan(rows pgx.Rows) (model.MeterSample, bool) {
	dest := make([]any, 2+len(m.cfg.TruthIDs))
	var ts time.Time
	var mains *float64
	dest[0] = &ts
	dest[1] = &mains
	devs := make([]*float64, len(m.cfg.TruthIDs))
	for i := range devs {
		dest[2+i] = &devs[i]
	}

	if err := rows.Scan(dest...); err != nil {
		logging.L().Warnf("replay: scan: %v", err)
		return model.MeterSample{}, false
	}

	sample := model.MeterSample{Timestamp: ts}
	if mains != nil {
		sample.PowerW = *mains
	}
	if len(m.cfg.TruthIDs) > 0 {
		sample.TruthPowerW = make(map[int]float64, len(m.cfg.TruthIDs))
		for i, id := range m.cfg.TruthIDs {
			if devs[i] != nil {
				sample.TruthPowerW[id] = *devs[i]
			} else {
				sample.TruthPowerW[id] = 0
			}
		}
	}
	return sample, true
}

// Close stops the stream and releases the connection. Idempotent.
func (m *Meter) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		if m.conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = m.conn.Close(ctx)
		}
	})
	return err
}
