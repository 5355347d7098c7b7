package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

const envPrefix = "ROADSCAN_"

// applyEnv overlays ROADSCAN_* variables on cfg.
func applyEnv(cfg *Config) {
	cfg.Camera.Source = getEnv("CAMERA_SOURCE", cfg.Camera.Source)
	cfg.Camera.Device = getEnvAsInt("CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Camera.FPS = getEnvAsInt("CAMERA_FPS", cfg.Camera.FPS)

	cfg.GPS.Source = getEnv("GPS_SOURCE", cfg.GPS.Source)
	cfg.GPS.Port = getEnv("GPS_PORT", cfg.GPS.Port)
	cfg.GPS.Baud = getEnvAsInt("GPS_BAUD", cfg.GPS.Baud)
	cfg.GPS.ReadBackoff = getEnvAsDuration("GPS_READ_BACKOFF", cfg.GPS.ReadBackoff)
	cfg.GPS.StalenessWindow = getEnvAsDuration("GPS_STALENESS_WINDOW", cfg.GPS.StalenessWindow)

	cfg.Detector.Backend = getEnv("DETECTOR_BACKEND", cfg.Detector.Backend)
	cfg.Detector.ModelPath = getEnv("MODEL_PATH", cfg.Detector.ModelPath)
	cfg.Detector.LabelsPath = getEnv("LABELS_PATH", cfg.Detector.LabelsPath)
	cfg.Detector.HelperCommand = getEnv("HELPER_COMMAND", cfg.Detector.HelperCommand)
	cfg.Detector.Confidence = getEnvAsFloat("CONFIDENCE", cfg.Detector.Confidence)

	cfg.Storage.Database = getEnv("DATABASE", cfg.Storage.Database)
	cfg.Storage.ImageDir = getEnv("IMAGE_DIR", cfg.Storage.ImageDir)

	cfg.Server.Addr = getEnv("SERVER_ADDR", cfg.Server.Addr)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring invalid integer env value", "key", envPrefix+key, "value", value)
		return fallback
	}
	return n
}

func getEnvAsFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("ignoring invalid float env value", "key", envPrefix+key, "value", value)
		return fallback
	}
	return f
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("ignoring invalid duration env value", "key", envPrefix+key, "value", value)
		return fallback
	}
	return d
}
