// Package config loads the roadscan runtime configuration.
//
// A Config is built once at startup from defaults, an optional YAML file, an
// optional .env file and ROADSCAN_* environment variables, then handed to
// each component by value. Nothing mutates it after Load returns.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source names shared by the camera, GPS and detector sections.
const (
	SourceDevice    = "device"
	SourceSerial    = "serial"
	SourceSynthetic = "synthetic"

	BackendDNN       = "dnn"
	BackendCoral     = "coral"
	BackendSynthetic = "synthetic"
)

// Config is the complete roadscan configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	GPS      GPSConfig      `yaml:"gps"`
	Detector DetectorConfig `yaml:"detector"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
}

// CameraConfig describes the capture device and frame queue.
type CameraConfig struct {
	Source      string        `yaml:"source"` // device, synthetic
	Device      int           `yaml:"device"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	FPS         int           `yaml:"fps"`
	QueueSize   int           `yaml:"queue_size"`
	ReadBackoff time.Duration `yaml:"read_backoff"`
	Seed        int64         `yaml:"seed"`
}

// GPSConfig describes the NMEA serial receiver.
type GPSConfig struct {
	Source          string        `yaml:"source"` // serial, synthetic
	Port            string        `yaml:"port"`
	Baud            int           `yaml:"baud"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ReadBackoff     time.Duration `yaml:"read_backoff"`
	HistorySize     int           `yaml:"history_size"`
	StalenessWindow time.Duration `yaml:"staleness_window"` // 0 disables partial expiry
	SyntheticRate   time.Duration `yaml:"synthetic_rate"`
}

// DetectorConfig selects and tunes the inference backend.
type DetectorConfig struct {
	Backend       string   `yaml:"backend"` // dnn, coral, synthetic
	ModelPath     string   `yaml:"model_path"`
	ConfigPath    string   `yaml:"config_path"`
	LabelsPath    string   `yaml:"labels_path"`
	HelperCommand string   `yaml:"helper_command"`
	HelperArgs    []string `yaml:"helper_args"`
	Confidence    float64  `yaml:"confidence"`
	IoU           float64  `yaml:"iou"`
	InputWidth    int      `yaml:"input_width"`
	InputHeight   int      `yaml:"input_height"`
	InputType     string   `yaml:"input_type"` // float32, uint8, int8
	ZeroPoint     int      `yaml:"zero_point"`
	LatencyWindow int      `yaml:"latency_window"`
	Retries       int      `yaml:"retries"`
	Seed          int64    `yaml:"seed"`
	SyntheticRate float64  `yaml:"synthetic_rate"` // share of synthetic frames carrying damage
}

// StorageConfig controls the detection database and image artifacts.
type StorageConfig struct {
	Database   string `yaml:"database"`
	ImageDir   string `yaml:"image_dir"`
	SaveImages bool   `yaml:"save_images"`
	SaveCrops  bool   `yaml:"save_crops"`
	ReportDir  string `yaml:"report_dir"`
}

// PipelineConfig tunes the orchestrator loop.
type PipelineConfig struct {
	FrameTimeout time.Duration `yaml:"frame_timeout"`
	StatusEvery  int           `yaml:"status_every"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	MaxFrames    int           `yaml:"max_frames"`
	Duration     time.Duration `yaml:"duration"`
}

// ServerConfig controls the optional HTTP status surface.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig controls the optional detection uplink.
type MQTTConfig struct {
	Enabled     bool            `yaml:"enabled"`
	Broker      string          `yaml:"broker"`
	ClientID    string          `yaml:"client_id"`
	TopicPrefix string          `yaml:"topic_prefix"`
	QoS         map[string]byte `yaml:"qos"`
}

// LogConfig controls the slog handler built in main.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Camera: CameraConfig{
			Source:      SourceDevice,
			Device:      0,
			Width:       1280,
			Height:      720,
			FPS:         10,
			QueueSize:   30,
			ReadBackoff: 100 * time.Millisecond,
			Seed:        1,
		},
		GPS: GPSConfig{
			Source:          SourceSerial,
			Port:            "/dev/ttyAMA0",
			Baud:            9600,
			ReadTimeout:     time.Second,
			ReadBackoff:     500 * time.Millisecond,
			HistorySize:     100,
			StalenessWindow: 3 * time.Second,
			SyntheticRate:   time.Second,
		},
		Detector: DetectorConfig{
			Backend:       BackendDNN,
			ModelPath:     "models/road_damage.onnx",
			Confidence:    0.5,
			IoU:           0.45,
			InputWidth:    320,
			InputHeight:   320,
			InputType:     "float32",
			ZeroPoint:     128,
			LatencyWindow: 100,
			Retries:       1,
			Seed:          1,
			SyntheticRate: 0.3,
		},
		Storage: StorageConfig{
			Database:   "road_damage.db",
			ImageDir:   "detections",
			SaveImages: true,
			SaveCrops:  true,
			ReportDir:  ".",
		},
		Pipeline: PipelineConfig{
			FrameTimeout: 2 * time.Second,
			StatusEvery:  10,
			JoinTimeout:  2 * time.Second,
		},
		Server: ServerConfig{
			Enabled: false,
			Addr:    "0.0.0.0:8080",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "localhost:1883",
			ClientID:    "roadscan",
			TopicPrefix: "roadscan",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}
	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Synthetic returns a copy of c with every hardware source replaced by its
// synthetic counterpart.
func (c Config) Synthetic() Config {
	c.Camera.Source = SourceSynthetic
	c.GPS.Source = SourceSynthetic
	c.Detector.Backend = BackendSynthetic
	return c
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
