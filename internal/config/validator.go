package config

import (
	"fmt"
	"time"
)

// Validate checks cfg and fills defaults for optional zero values.
func Validate(cfg *Config) error {
	switch cfg.Camera.Source {
	case SourceDevice, SourceSynthetic:
	default:
		return fmt.Errorf("camera.source must be %q or %q", SourceDevice, SourceSynthetic)
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if cfg.Camera.FPS <= 0 {
		return fmt.Errorf("camera.fps must be > 0")
	}
	if cfg.Camera.QueueSize <= 0 {
		cfg.Camera.QueueSize = 30
	}
	if cfg.Camera.ReadBackoff <= 0 {
		cfg.Camera.ReadBackoff = 100 * time.Millisecond
	}

	switch cfg.GPS.Source {
	case SourceSerial, SourceSynthetic:
	default:
		return fmt.Errorf("gps.source must be %q or %q", SourceSerial, SourceSynthetic)
	}
	if cfg.GPS.Source == SourceSerial {
		if cfg.GPS.Port == "" {
			return fmt.Errorf("gps.port is required")
		}
		if cfg.GPS.Baud <= 0 {
			return fmt.Errorf("gps.baud must be > 0")
		}
	}
	if cfg.GPS.StalenessWindow < 0 {
		return fmt.Errorf("gps.staleness_window must be >= 0")
	}
	if cfg.GPS.HistorySize <= 0 {
		cfg.GPS.HistorySize = 100
	}
	if cfg.GPS.ReadTimeout <= 0 {
		cfg.GPS.ReadTimeout = time.Second
	}
	if cfg.GPS.ReadBackoff <= 0 {
		cfg.GPS.ReadBackoff = 500 * time.Millisecond
	}
	if cfg.GPS.SyntheticRate <= 0 {
		cfg.GPS.SyntheticRate = time.Second
	}

	if err := validateDetector(&cfg.Detector); err != nil {
		return err
	}

	if cfg.Storage.Database == "" {
		return fmt.Errorf("storage.database is required")
	}
	if (cfg.Storage.SaveImages || cfg.Storage.SaveCrops) && cfg.Storage.ImageDir == "" {
		return fmt.Errorf("storage.image_dir is required when saving images")
	}
	if cfg.Storage.ReportDir == "" {
		cfg.Storage.ReportDir = "."
	}

	if cfg.Pipeline.FrameTimeout <= 0 {
		cfg.Pipeline.FrameTimeout = 2 * time.Second
	}
	if cfg.Pipeline.StatusEvery <= 0 {
		cfg.Pipeline.StatusEvery = 10
	}
	if cfg.Pipeline.JoinTimeout <= 0 {
		cfg.Pipeline.JoinTimeout = 2 * time.Second
	}
	if cfg.Pipeline.MaxFrames < 0 || cfg.Pipeline.Duration < 0 {
		return fmt.Errorf("pipeline.max_frames and pipeline.duration must be >= 0")
	}

	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "roadscan"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "roadscan"
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"detections": 1,
			"status":     0,
		}
	}

	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}

	return nil
}

func validateDetector(d *DetectorConfig) error {
	switch d.Backend {
	case BackendDNN, BackendCoral:
		if d.ModelPath == "" {
			return fmt.Errorf("detector.model_path is required for the %s backend", d.Backend)
		}
	case BackendSynthetic:
	default:
		return fmt.Errorf("unknown detector.backend %q", d.Backend)
	}
	if d.Backend == BackendCoral && d.HelperCommand == "" {
		return fmt.Errorf("detector.helper_command is required for the coral backend")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("detector.confidence must be within [0,1]")
	}
	if d.IoU <= 0 || d.IoU > 1 {
		return fmt.Errorf("detector.iou must be within (0,1]")
	}
	if d.InputWidth <= 0 || d.InputHeight <= 0 {
		return fmt.Errorf("detector input dimensions must be > 0")
	}
	switch d.InputType {
	case "float32", "uint8", "int8":
	case "":
		d.InputType = "float32"
	default:
		return fmt.Errorf("detector.input_type must be float32, uint8 or int8")
	}
	if d.LatencyWindow <= 0 {
		d.LatencyWindow = 100
	}
	if d.Retries < 0 {
		d.Retries = 0
	}
	if d.SyntheticRate < 0 || d.SyntheticRate > 1 {
		return fmt.Errorf("detector.synthetic_rate must be within [0,1]")
	}
	return nil
}
