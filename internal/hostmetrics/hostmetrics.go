// Package hostmetrics samples the gateway host (CPU, memory, temperature,
// uptime) for the observability sink. Every probe is best-effort; a failed
// probe leaves its key out or reports "n/a".
package hostmetrics

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// Read collects one snapshot. Keys match the publisher's host topic names.
func Read() map[string]any {
	out := make(map[string]any, 5)

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		out["cpu_percent"] = round1(pct[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["mem_percent"] = round1(vm.UsedPercent)
		out["mem_used_mb"] = round1(float64(vm.Used) / (1024 * 1024))
	}
	if boot, err := host.BootTime(); err == nil {
		out["uptime_s"] = int64(time.Now().Unix()) - int64(boot)
	}

	if t, ok := readTemp(); ok {
		out["temp_c"] = round1(t)
	} else {
		out["temp_c"] = "n/a"
	}
	return out
}

// readTemp probes the usual CPU sensor keys, then the raw thermal zone.
func readTemp() (float64, bool) {
	if temps, err := sensors.SensorsTemperatures(); err == nil {
		for _, want := range []string{"cpu-thermal", "cpu_thermal", "coretemp"} {
			for _, t := range temps {
				if strings.Contains(t.SensorKey, want) && t.Temperature > 0 {
					return t.Temperature, true
				}
			}
		}
	}
	raw, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, false
	}
	return v / 1000.0, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
