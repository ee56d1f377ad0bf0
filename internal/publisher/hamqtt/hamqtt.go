// Package hamqtt publishes gateway output over MQTT with Home Assistant
// discovery: retained discovery configs, an availability topic with a last
// will, and per-appliance state/confidence/truth topics.
package hamqtt

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/crimson-sun/nilmgw/internal/logging"
	"github.com/crimson-sun/nilmgw/internal/model"
)

const connectTimeout = 10 * time.Second

// Options configure the broker connection and discovery behavior.
type Options struct {
	BrokerURL string // e.g. tcp://localhost:1883
	Username  string
	Password  string

	BaseTopic   string
	HADiscovery bool
	HAPrefix    string
	Retain      bool
	QoS         byte

	DeviceIDs   []int
	DeviceNames []string

	PublishHostMetrics bool
	// ConfidenceSensor controls whether a per-appliance confidence sensor is
	// announced via discovery.
	ConfidenceSensor bool
	// ClearRetained wipes stale retained state topics during Startup.
	ClearRetained bool
}

type device struct {
	id   string
	name string
}

// Publisher implements publisher.Publisher over a paho MQTT client.
type Publisher struct {
	client mqtt.Client
	opts   Options

	devices           []device
	nodeID            string
	availabilityTopic string
	discovered        bool
}

// New connects to the broker and returns a ready Publisher. The connection
// carries a retained last-will marking the gateway offline.
func New(opts Options) (*Publisher, error) {
	p := build(opts)

	co := mqtt.NewClientOptions().AddBroker(opts.BrokerURL)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetWill(p.availabilityTopic, "offline", opts.QoS, true)
	co.SetAutoReconnect(true)

	p.client = mqtt.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("hamqtt: connect to %s timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("hamqtt: connect: %w", err)
	}
	return p, nil
}

// newWithClient wires a pre-built client; used by tests.
func newWithClient(client mqtt.Client, opts Options) *Publisher {
	p := build(opts)
	p.client = client
	return p
}

func build(opts Options) *Publisher {
	opts.BaseTopic = strings.Trim(opts.BaseTopic, "/")
	opts.HAPrefix = strings.Trim(opts.HAPrefix, "/")

	devices := make([]device, len(opts.DeviceIDs))
	for i, id := range opts.DeviceIDs {
		name := fmt.Sprintf("Device %d", id)
		if i < len(opts.DeviceNames) && opts.DeviceNames[i] != "" {
			name = opts.DeviceNames[i]
		}
		devices[i] = device{id: strconv.Itoa(id), name: name}
	}

	nodeID, err := os.Hostname()
	if err != nil || nodeID == "" {
		nodeID = "nilm-gw"
	}

	return &Publisher{
		opts:              opts,
		devices:           devices,
		nodeID:            nodeID,
		availabilityTopic: opts.BaseTopic + "/availability",
	}
}

func (p *Publisher) publish(topic, payload string, retain bool) {
	token := p.client.Publish(topic, p.opts.QoS, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		logging.L().Warnf("hamqtt: publish %s: %v", topic, err)
	}
}

// Startup marks the gateway online and announces every Home Assistant entity.
// Idempotent: repeated calls after the first are no-ops.
func (p *Publisher) Startup() error {
	if p.discovered {
		return nil
	}

	p.publish(p.availabilityTopic, "online", true)

	// Remove discovery configs left by earlier gateway versions.
	for _, d := range p.devices {
		p.discoveryDelete("binary_sensor", fmt.Sprintf("%s_nilm_%s", p.nodeID, d.id))
	}
	p.clearRetained()

	p.discoverSensor("nilm_mains_power_w", "Mains Power",
		p.opts.BaseTopic+"/mains/power_W", "W", "power", "mdi:flash")

	for _, d := range p.devices {
		p.discoverBinary("nilm_"+d.id+"_pred_state", d.name+" Predicted",
			fmt.Sprintf("%s/%s/state", p.opts.BaseTopic, d.id), "mdi:power-plug")
		p.discoverBinary("nilm_"+d.id+"_truth_state", d.name+" Truth",
			fmt.Sprintf("%s/%s/truth/state", p.opts.BaseTopic, d.id), "mdi:check-circle-outline")
		p.discoverSensor("nilm_"+d.id+"_truth_power_w", d.name+" Power (Truth)",
			fmt.Sprintf("%s/%s/truth/power_W", p.opts.BaseTopic, d.id), "W", "power", "mdi:flash")
		if p.opts.ConfidenceSensor {
			p.discoverSensor("nilm_"+d.id+"_pred_conf", d.name+" Confidence",
				fmt.Sprintf("%s/%s/confidence", p.opts.BaseTopic, d.id), "", "", "mdi:chart-bell-curve")
		}
	}

	host := p.opts.BaseTopic + "/host/"
	p.discoverSensor("host_cpu_percent", "CPU", host+"cpu_percent", "%", "", "mdi:cpu-64-bit")
	p.discoverSensor("host_mem_percent", "RAM", host+"mem_percent", "%", "", "mdi:memory")
	p.discoverSensor("host_mem_used_mb", "RAM Used", host+"mem_used_mb", "MB", "", "mdi:memory")
	p.discoverSensor("host_temp_c", "CPU Temp", host+"temp_c", "°C", "temperature", "mdi:thermometer")
	p.discoverSensor("host_uptime_s", "Uptime", host+"uptime_s", "s", "duration", "mdi:clock-outline")
	p.discoverSensor("host_latency_ms", "Latency", host+"latency_ms", "ms", "", "mdi:timer-outline")

	p.discovered = true
	return nil
}

// discoveryPayload is the shared shape of HA discovery configs.
type discoveryPayload struct {
	Name         string         `json:"name"`
	UniqueID     string         `json:"unique_id"`
	StateTopic   string         `json:"state_topic"`
	StateClass   string         `json:"state_class,omitempty"`
	PayloadOn    string         `json:"payload_on,omitempty"`
	PayloadOff   string         `json:"payload_off,omitempty"`
	Unit         string         `json:"unit_of_measurement,omitempty"`
	DeviceClass  string         `json:"device_class,omitempty"`
	Icon         string         `json:"icon,omitempty"`
	Availability []availability `json:"availability"`
	Device       deviceInfo     `json:"device"`
}

type availability struct {
	Topic        string `json:"topic"`
	PayloadAvail string `json:"payload_available"`
	PayloadGone  string `json:"payload_not_available"`
}

type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

func (p *Publisher) discoveryCommon(suffix, name, stateTopic, modelName string) discoveryPayload {
	return discoveryPayload{
		Name:       name,
		UniqueID:   p.nodeID + "_" + suffix,
		StateTopic: stateTopic,
		Availability: []availability{{
			Topic:        p.availabilityTopic,
			PayloadAvail: "online",
			PayloadGone:  "offline",
		}},
		Device: deviceInfo{
			Identifiers:  []string{p.nodeID},
			Name:         "NILM",
			Manufacturer: "nilmgw",
			Model:        modelName,
		},
	}
}

func (p *Publisher) discoverSensor(suffix, name, stateTopic, unit, deviceClass, icon string) {
	if !p.opts.HADiscovery {
		return
	}
	pl := p.discoveryCommon(suffix, name, stateTopic, "NILM Gateway")
	pl.StateClass = "measurement"
	pl.Unit = unit
	pl.DeviceClass = deviceClass
	pl.Icon = icon

	topic := fmt.Sprintf("%s/sensor/%s_%s/config", p.opts.HAPrefix, p.nodeID, suffix)
	p.publishJSON(topic, pl)
}

func (p *Publisher) discoverBinary(suffix, name, stateTopic, icon string) {
	if !p.opts.HADiscovery {
		return
	}
	pl := p.discoveryCommon(suffix, name, stateTopic, "M-GRU NILM")
	pl.PayloadOn = "ON"
	pl.PayloadOff = "OFF"
	pl.Icon = icon

	topic := fmt.Sprintf("%s/binary_sensor/%s_%s/config", p.opts.HAPrefix, p.nodeID, suffix)
	p.publishJSON(topic, pl)
}

func (p *Publisher) publishJSON(topic string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logging.L().Warnf("hamqtt: marshal discovery for %s: %v", topic, err)
		return
	}
	// Discovery configs must be retained.
	p.publish(topic, string(raw), true)
}

func (p *Publisher) discoveryDelete(component, uniqueID string) {
	if !p.opts.HADiscovery {
		return
	}
	p.publish(fmt.Sprintf("%s/%s/%s/config", p.opts.HAPrefix, component, uniqueID), "", true)
}

func (p *Publisher) clearRetained() {
	if !p.opts.ClearRetained {
		return
	}
	p.publish(p.opts.BaseTopic+"/mains/power_W", "", true)
	for _, d := range p.devices {
		base := p.opts.BaseTopic + "/" + d.id
		p.publish(base+"/state", "", true)
		p.publish(base+"/confidence", "", true)
		p.publish(base+"/truth/state", "", true)
		p.publish(base+"/truth/power_W", "", true)
	}
}

// PublishResult emits the decided state and its confidence.
func (p *Publisher) PublishResult(r model.Result) error {
	base := fmt.Sprintf("%s/%d", p.opts.BaseTopic, r.DeviceID)
	p.publish(base+"/state", onOff(r.State), p.opts.Retain)
	p.publish(base+"/confidence", strconv.FormatFloat(r.Confidence, 'f', -1, 64), p.opts.Retain)
	return nil
}

// PublishTimeseries emits the mains reading and any reference values.
func (p *Publisher) PublishTimeseries(mainsW float64, truthPowerW map[int]float64, truthState map[int]int) error {
	p.publish(p.opts.BaseTopic+"/mains/power_W", strconv.FormatFloat(mainsW, 'f', -1, 64), p.opts.Retain)
	for id, w := range truthPowerW {
		p.publish(fmt.Sprintf("%s/%d/truth/power_W", p.opts.BaseTopic, id),
			strconv.FormatFloat(w, 'f', -1, 64), p.opts.Retain)
	}
	for id, s := range truthState {
		p.publish(fmt.Sprintf("%s/%d/truth/state", p.opts.BaseTopic, id), onOff(s), p.opts.Retain)
	}
	return nil
}

// PublishHostMetrics emits the known host telemetry keys.
func (p *Publisher) PublishHostMetrics(m map[string]any) error {
	if !p.opts.PublishHostMetrics {
		return nil
	}
	for _, k := range []string{"cpu_percent", "mem_percent", "mem_used_mb", "temp_c", "uptime_s"} {
		if v, ok := m[k]; ok {
			p.publish(p.opts.BaseTopic+"/host/"+k, fmt.Sprint(v), p.opts.Retain)
		}
	}
	return nil
}

// PublishLatency emits the end-to-end window latency in milliseconds.
func (p *Publisher) PublishLatency(ms float64) error {
	if !p.opts.PublishHostMetrics {
		return nil
	}
	p.publish(p.opts.BaseTopic+"/host/latency_ms", fmt.Sprintf("%.3f", ms), p.opts.Retain)
	return nil
}

// Close marks the gateway offline and disconnects. Idempotent.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	p.publish(p.availabilityTopic, "offline", true)
	p.client.Disconnect(250)
	p.client = nil
	return nil
}

func onOff(state int) string {
	if state == 1 {
		return "ON"
	}
	return "OFF"
}
