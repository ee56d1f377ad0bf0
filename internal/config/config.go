// Package config reads gateway configuration from environment variables with
// documented defaults.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all gateway configuration.
type Config struct {
	MQTT    MQTTConfig
	Model   ModelConfig
	Stream  StreamConfig
	Runtime RuntimeConfig
	Log     LogConfig
}

// MQTTConfig holds broker connection and Home Assistant discovery settings.
type MQTTConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	BaseTopic   string
	HADiscovery bool
	HAPrefix    string
	Retain      bool
	QoS         int
}

// BrokerURL renders the paho broker address.
func (c MQTTConfig) BrokerURL() string {
	return "tcp://" + c.Host + ":" + strconv.Itoa(c.Port)
}

// ModelConfig holds artifact location and the runtime appliance ordering.
type ModelConfig struct {
	ArtifactDir string
	DeviceIDs   []int
	DeviceNames []string
}

// StreamConfig holds windowing and source settings.
type StreamConfig struct {
	Provider     string // "deddiag" or "shelly"
	Window       int
	Stride       int
	SampleRateHz float64

	ReplaySpeed   float64
	DeddiagSchema string
	MainsItemID   int
	DeddiagStart  string
	DeddiagEnd    string
	DBHost        string
	DBPort        int
	DBName        string
	DBUser        string
	DBPassword    string

	ShellyHost     string
	ShellyPort     int
	ShellyTimeoutS float64
}

// DSN renders the replay database connection string.
func (c StreamConfig) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" dbname=" + c.DBName +
		" user=" + c.DBUser +
		" password=" + c.DBPassword
}

// RuntimeConfig holds loop behavior knobs.
type RuntimeConfig struct {
	PublishHostMetrics  bool
	HostMetricsInterval int // seconds
	GroundTruthOnW      float64
	EMAAlpha            float64
	MetricsAddr         string // empty disables the Prometheus endpoint
	TracePath           string // empty disables the debug CSV
	TelemetryPath       string // empty disables stage telemetry
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
	Path  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		MQTT: MQTTConfig{
			Host:        getenv("MQTT_HOST", "localhost"),
			Port:        getenvInt("MQTT_PORT", 1883),
			Username:    os.Getenv("MQTT_USER"),
			Password:    os.Getenv("MQTT_PASS"),
			BaseTopic:   getenv("MQTT_BASE_TOPIC", "nilm"),
			HADiscovery: getenvBool("MQTT_HA_DISCOVERY", true),
			HAPrefix:    getenv("MQTT_HA_PREFIX", "homeassistant"),
			Retain:      getenvBool("MQTT_RETAIN", false),
			QoS:         getenvInt("MQTT_QOS", 0),
		},
		Model: ModelConfig{
			ArtifactDir: getenv("MODEL_ARTIFACT_DIR", "./artifacts/mgru/"),
			DeviceIDs:   getenvIntList("MODEL_DEVICE_IDS"),
			DeviceNames: getenvStrList("MODEL_DEVICE_NAMES"),
		},
		Stream: StreamConfig{
			Provider:       getenv("STREAM_SOURCE", "deddiag"),
			Window:         getenvInt("STREAM_WINDOW", 120),
			Stride:         getenvInt("STREAM_STRIDE", 5),
			SampleRateHz:   getenvFloat("STREAM_SAMPLE_RATE_HZ", 1.0),
			ReplaySpeed:    getenvFloat("STREAM_REPLAY_SPEED", 1.0),
			DeddiagSchema:  getenv("DEDDIAG_SCHEMA", "public"),
			MainsItemID:    getenvInt("DEDDIAG_MAINS_ITEM_ID", 59),
			DeddiagStart:   getenv("DEDDIAG_START", "2017-11-08T12:00:00"),
			DeddiagEnd:     getenv("DEDDIAG_END", "2017-11-23T12:00:00"),
			DBHost:         getenv("DEDDIAG_DB_HOST", "127.0.0.1"),
			DBPort:         getenvInt("DEDDIAG_DB_PORT", 5432),
			DBName:         getenv("DEDDIAG_DB_NAME", "postgres"),
			DBUser:         getenv("DEDDIAG_DB_USER", "postgres"),
			DBPassword:     getenv("DEDDIAG_DB_PASSWORD", "password"),
			ShellyHost:     getenv("SHELLY_HOST", "192.168.178.50"),
			ShellyPort:     getenvInt("SHELLY_PORT", 80),
			ShellyTimeoutS: getenvFloat("SHELLY_TIMEOUT_S", 3.0),
		},
		Runtime: RuntimeConfig{
			PublishHostMetrics:  getenvBool("PUBLISH_HOST_METRICS", true),
			HostMetricsInterval: getenvInt("HOST_METRICS_INTERVAL_S", 5),
			GroundTruthOnW:      getenvFloat("GROUNDTRUTH_ON_W", 15.0),
			EMAAlpha:            getenvFloat("EMA_ALPHA", 0.4),
			MetricsAddr:         getenv("METRICS_ADDR", ""),
			TracePath:           getenv("TRACE_PATH", "debug_runtime.csv"),
			TelemetryPath:       getenv("TELEMETRY_PATH", "telemetry.csv"),
		},
		Log: LogConfig{
			Level: getenv("LOG_LEVEL", "info"),
			Path:  getenv("LOG_PATH", ""),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// getenvIntList parses a CSV list like "1,2,3".
func getenvIntList(key string) []int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func getenvStrList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
