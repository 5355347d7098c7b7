package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayusman/roadscan/internal/app"
	"github.com/ayusman/roadscan/internal/artifact"
	"github.com/ayusman/roadscan/internal/capture"
	"github.com/ayusman/roadscan/internal/config"
	"github.com/ayusman/roadscan/internal/detector"
	"github.com/ayusman/roadscan/internal/emitter"
	"github.com/ayusman/roadscan/internal/gps"
	"github.com/ayusman/roadscan/internal/server"
	"github.com/ayusman/roadscan/internal/store"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	mock := flag.Bool("mock", false, "Use synthetic camera, GPS and detector")
	duration := flag.Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	maxFrames := flag.Int("frames", 0, "Stop after this many frames (0 = unlimited)")
	export := flag.Bool("export", false, "Write a JSON report when the run ends")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("roadscan %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *mock {
		cfg = cfg.Synthetic()
	}
	if *duration > 0 {
		cfg.Pipeline.Duration = *duration
	}
	if *maxFrames > 0 {
		cfg.Pipeline.MaxFrames = *maxFrames
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	setupLogging(cfg.Log)

	if err := run(cfg, *export); err != nil {
		slog.Error("survey failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cfg config.Config, export bool) error {
	slog.Info("roadscan starting",
		"version", version,
		"camera", cfg.Camera.Source,
		"gps", cfg.GPS.Source,
		"detector", cfg.Detector.Backend)

	det, err := openDetector(cfg.Detector)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Storage.Database)
	if err != nil {
		det.Close()
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	components := app.Components{
		Source:   capture.NewFrameSource(newCamera(cfg.Camera), sourceConfig(cfg)),
		Tracker:  gps.NewTracker(newGPSDevice(cfg.GPS), trackerConfig(cfg)),
		Detector: det,
		Store:    st,
	}

	if cfg.Storage.SaveImages {
		w, err := artifact.NewWriter(cfg.Storage.ImageDir, cfg.Storage.SaveCrops)
		if err != nil {
			det.Close()
			return fmt.Errorf("failed to create image directory: %w", err)
		}
		components.Artifacts = w
	}

	var hub *server.Hub
	if cfg.Server.Enabled {
		hub = server.NewHub()
		components.Preview = artifact.NewPreview()
		components.Sinks = append(components.Sinks, hub)
	}

	if cfg.MQTT.Enabled {
		em := emitter.NewMQTTEmitter(cfg.MQTT)
		if err := em.Connect(); err != nil {
			// The uplink is optional; the survey runs without it.
			slog.Warn("mqtt disabled", "error", err)
		} else {
			defer em.Disconnect()
			components.Sinks = append(components.Sinks, em)
		}
	}

	orch, err := app.New(cfg.Pipeline, components)
	if err != nil {
		det.Close()
		return err
	}

	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Store:   st,
			Status:  orch,
			Hub:     hub,
			Preview: components.Preview,
		})
		go func() {
			slog.Info("http server listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(cfg.Server.Addr); err != nil {
				slog.Error("http server failed", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown", "error", err)
			}
		}()
	}

	if err := orch.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := orch.Run(ctx)
	stopErr := orch.Stop()

	if export {
		path, err := st.ExportReport(orch.SessionID(), cfg.Storage.ReportDir)
		if err != nil {
			slog.Error("report export failed", "error", err)
		} else {
			slog.Info("report exported", "path", path)
		}
	}

	if sess, err := st.Sessions().GetByID(orch.SessionID()); err == nil {
		slog.Info("survey complete",
			"session", sess.ID,
			"frames", sess.TotalFrames,
			"detections", sess.TotalDetections,
			"avg_fps", sess.AvgFPS,
			"duration", sess.Duration())
	}

	return errors.Join(runErr, stopErr)
}

func openDetector(cfg config.DetectorConfig) (*detector.Detector, error) {
	labels := detector.DamageClasses
	if cfg.LabelsPath != "" {
		l, err := detector.LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		labels = l
	}

	backend, err := detector.OpenBackend(cfg, len(labels))
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	det, err := detector.New(backend, detector.Config{
		Confidence:    cfg.Confidence,
		IoU:           cfg.IoU,
		LatencyWindow: cfg.LatencyWindow,
		Retries:       cfg.Retries,
		Labels:        labels,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return det, nil
}

func newCamera(cfg config.CameraConfig) capture.Camera {
	if cfg.Source == config.SourceSynthetic {
		return capture.NewSyntheticCamera(cfg.Width, cfg.Height, cfg.FPS, cfg.Seed)
	}
	return capture.NewCamera(cfg.Device, cfg.Width, cfg.Height, cfg.FPS)
}

func newGPSDevice(cfg config.GPSConfig) gps.Device {
	if cfg.Source == config.SourceSynthetic {
		return gps.SyntheticDevice{Rate: cfg.SyntheticRate}
	}
	return gps.SerialDevice{Port: cfg.Port, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout}
}

func sourceConfig(cfg config.Config) capture.SourceConfig {
	return capture.SourceConfig{
		QueueSize:   cfg.Camera.QueueSize,
		ReadBackoff: cfg.Camera.ReadBackoff,
		JoinTimeout: cfg.Pipeline.JoinTimeout,
	}
}

func trackerConfig(cfg config.Config) gps.Config {
	return gps.Config{
		HistorySize:     cfg.GPS.HistorySize,
		StalenessWindow: cfg.GPS.StalenessWindow,
		JoinTimeout:     cfg.Pipeline.JoinTimeout,
		ReadBackoff:     cfg.GPS.ReadBackoff,
	}
}
