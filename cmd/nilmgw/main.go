package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/nilmgw/internal/config"
	"github.com/crimson-sun/nilmgw/internal/decision"
	"github.com/crimson-sun/nilmgw/internal/feature"
	"github.com/crimson-sun/nilmgw/internal/hostmetrics"
	"github.com/crimson-sun/nilmgw/internal/logging"
	"github.com/crimson-sun/nilmgw/internal/metrics"
	"github.com/crimson-sun/nilmgw/internal/nilm"
	"github.com/crimson-sun/nilmgw/internal/pipeline"
	"github.com/crimson-sun/nilmgw/internal/publisher/hamqtt"
	"github.com/crimson-sun/nilmgw/internal/source"
	"github.com/crimson-sun/nilmgw/internal/telemetry"

	// Register meter source implementations.
	_ "github.com/crimson-sun/nilmgw/internal/source/replay"
	_ "github.com/crimson-sun/nilmgw/internal/source/shelly"
)

var artifactDir string

var rootCmd = &cobra.Command{
	Use:   "nilmgw",
	Short: "Streaming NILM gateway: aggregate power in, appliance states out",
	Long: `nilmgw classifies active household appliances from a single aggregate
power signal. It windows the incoming stream, runs a trained GRU model,
smooths the per-appliance probabilities and publishes the decisions over
MQTT with Home Assistant discovery.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&artifactDir, "artifacts", "",
		"path to the model artifact bundle (overrides MODEL_ARTIFACT_DIR)")
}

func run(ctx context.Context) error {
	cfg := config.Load()
	if artifactDir != "" {
		cfg.Model.ArtifactDir = artifactDir
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Path: cfg.Log.Path, MaxSizeMB: 50, MaxBackups: 3})
	defer logging.Sync()

	eng, err := nilm.NewEngine(cfg.Model.ArtifactDir, cfg.Model.DeviceIDs)
	if err != nil {
		return err
	}
	mean, std := eng.Normalizer()
	win := feature.New(cfg.Stream.Window, cfg.Stream.Stride, mean, std)
	sm := decision.NewSmoother(cfg.Runtime.EMAAlpha, eng.Thresholds())

	ctor, err := source.Get(cfg.Stream.Provider)
	if err != nil {
		return err
	}
	src, err := ctor(source.Config{
		SampleRateHz:  cfg.Stream.SampleRateHz,
		DSN:           cfg.Stream.DSN(),
		Schema:        cfg.Stream.DeddiagSchema,
		MainsItemID:   cfg.Stream.MainsItemID,
		Start:         cfg.Stream.DeddiagStart,
		End:           cfg.Stream.DeddiagEnd,
		ReplaySpeed:   cfg.Stream.ReplaySpeed,
		TruthIDs:      cfg.Model.DeviceIDs,
		ShellyHost:    cfg.Stream.ShellyHost,
		ShellyPort:    cfg.Stream.ShellyPort,
		ShellyTimeout: cfg.Stream.ShellyTimeoutS,
	})
	if err != nil {
		return err
	}
	logging.L().Infof("source: %s", cfg.Stream.Provider)

	pub, err := hamqtt.New(hamqtt.Options{
		BrokerURL:          cfg.MQTT.BrokerURL(),
		Username:           cfg.MQTT.Username,
		Password:           cfg.MQTT.Password,
		BaseTopic:          cfg.MQTT.BaseTopic,
		HADiscovery:        cfg.MQTT.HADiscovery,
		HAPrefix:           cfg.MQTT.HAPrefix,
		Retain:             cfg.MQTT.Retain,
		QoS:                byte(cfg.MQTT.QoS),
		DeviceIDs:          cfg.Model.DeviceIDs,
		DeviceNames:        cfg.Model.DeviceNames,
		PublishHostMetrics: cfg.Runtime.PublishHostMetrics,
		ConfidenceSensor:   true,
		ClearRetained:      true,
	})
	if err != nil {
		return err
	}

	opts := []pipeline.Option{}
	if cfg.Runtime.PublishHostMetrics {
		interval := time.Duration(cfg.Runtime.HostMetricsInterval) * time.Second
		if interval < time.Second {
			interval = time.Second
		}
		opts = append(opts, pipeline.WithHostMetrics(hostmetrics.Read, interval))
	}
	if cfg.Runtime.TracePath != "" {
		opts = append(opts, pipeline.WithTrace(cfg.Runtime.TracePath))
	}
	if cfg.Runtime.TelemetryPath != "" {
		rec, err := telemetry.NewRecorder(cfg.Runtime.TelemetryPath)
		if err != nil {
			logging.L().Warnf("stage telemetry disabled: %v", err)
		} else {
			defer rec.Close()
			opts = append(opts, pipeline.WithTelemetry(rec))
		}
	}
	if cfg.Runtime.MetricsAddr != "" {
		srv := metrics.Serve(cfg.Runtime.MetricsAddr)
		defer srv.Close()
	}

	p := pipeline.New(src, eng, win, sm, pub, opts...)
	err = p.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived %v, shutting down...\n", sig)
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.L().Errorf("nilmgw: %v", err)
		os.Exit(1)
	}
}
