package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/crimson-sun/nilmgw/internal/logging"
)

// trace appends one row per reading to a runtime CSV for offline evaluation:
// smoothed probability, threshold, decided state, and reference power/state
// per appliance. Readings that produced no window get a partial row.
type trace struct {
	f   *os.File
	w   *csv.Writer
	ids []int
}

func newTrace(path string, ids []int) (*trace, error) {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	t := &trace{f: f, w: csv.NewWriter(f), ids: ids}

	if os.IsNotExist(statErr) {
		hdr := []string{"ts", "mains_W"}
		for _, id := range ids {
			hdr = append(hdr,
				fmt.Sprintf("p_%d", id),
				fmt.Sprintf("tau_%d", id),
				fmt.Sprintf("state_%d", id),
				fmt.Sprintf("truthW_%d", id),
				fmt.Sprintf("truth_%d", id),
			)
		}
		if err := t.w.Write(hdr); err != nil {
			f.Close()
			return nil, fmt.Errorf("trace: %w", err)
		}
		t.w.Flush()
	}
	return t, nil
}

// partial records a reading that fired no window.
func (t *trace) partial(ts time.Time, mainsW float64) {
	if t == nil {
		return
	}
	t.write([]string{ts.Format(time.RFC3339), fmt.Sprintf("%.2f", mainsW)})
}

// row records a full inference result.
func (t *trace) row(ts time.Time, mainsW float64, smoothed, taus []float64, states []int, truthW map[int]float64, onW float64) {
	if t == nil {
		return
	}
	rec := []string{ts.Format(time.RFC3339), fmt.Sprintf("%.2f", mainsW)}
	for i, id := range t.ids {
		w := truthW[id]
		truthState := 0
		if w >= onW {
			truthState = 1
		}
		rec = append(rec,
			fmt.Sprintf("%.4f", smoothed[i]),
			fmt.Sprintf("%.3f", taus[i]),
			strconv.Itoa(states[i]),
			fmt.Sprintf("%.2f", w),
			strconv.Itoa(truthState),
		)
	}
	t.write(rec)
}

func (t *trace) write(rec []string) {
	if err := t.w.Write(rec); err != nil {
		logging.L().Debugf("trace: write: %v", err)
		return
	}
	t.w.Flush()
}

func (t *trace) Close() error {
	if t == nil {
		return nil
	}
	t.w.Flush()
	return t.f.Close()
}
