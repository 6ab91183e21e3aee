package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds user-configurable engine settings, loaded from a JSON file
// and overridable by flags.
type Config struct {
	IntervalSec        float64 `json:"interval_sec"`
	SampleBuffer       int     `json:"sample_buffer"`
	AnomalyBuffer      int     `json:"anomaly_buffer"`
	EventQueue         int     `json:"event_queue"`
	SamplesLogPath     string  `json:"samples_log_path"`
	AnomaliesLogPath   string  `json:"anomalies_log_path"`
	PersistQueue       int     `json:"persist_queue"`
	PersistFailLimit   int     `json:"persist_failure_limit"`
	ShutdownTimeoutSec int     `json:"shutdown_timeout_seconds"`

	Detector DetectorConfig `json:"detector"`
	Listen   ListenConfig   `json:"listen"`
	NATS     NATSConfig     `json:"nats"`

	LogLevel string `json:"log_level"`
}

// DetectorConfig tunes the anomaly model.
type DetectorConfig struct {
	Contamination      float64 `json:"contamination"`
	MinTrainingSamples int     `json:"min_training_samples"`
	RetrainIntervalSec int     `json:"retrain_interval_sec"`
	RetrainMultiplier  int     `json:"retrain_multiplier"`
	Trees              int     `json:"trees"`
	Seed               int64   `json:"model_seed"`
}

// ListenConfig configures the HTTP transport. Empty Addr disables it.
type ListenConfig struct {
	Addr string `json:"addr"`
}

// NATSConfig configures the optional event republisher. Empty URL disables it.
type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// Default returns a config with sensible defaults.
func Default() Config {
	return Config{
		IntervalSec:        1,
		SampleBuffer:       1000,
		AnomalyBuffer:      100,
		EventQueue:         64,
		SamplesLogPath:     "logs/metrics_history.csv",
		AnomaliesLogPath:   "logs/anomalies.jsonl",
		PersistQueue:       256,
		PersistFailLimit:   10,
		ShutdownTimeoutSec: 5,
		Detector: DetectorConfig{
			Contamination:      0.05,
			MinTrainingSamples: 60,
			RetrainIntervalSec: 300,
			RetrainMultiplier:  4,
			Trees:              100,
			Seed:               42,
		},
		NATS:     NATSConfig{SubjectPrefix: "hostwatch"},
		LogLevel: "info",
	}
}

// Load reads the config file at path, applying its values over the
// defaults. A missing path means pure defaults; a malformed file is an
// error, not a silent fallback.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.IntervalSec <= 0 {
		return fmt.Errorf("interval_sec must be positive, got %v", c.IntervalSec)
	}
	if c.SampleBuffer <= 0 {
		return fmt.Errorf("sample_buffer must be positive, got %d", c.SampleBuffer)
	}
	if c.AnomalyBuffer <= 0 {
		return fmt.Errorf("anomaly_buffer must be positive, got %d", c.AnomalyBuffer)
	}
	d := c.Detector
	if d.Contamination <= 0 || d.Contamination > 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5], got %v", d.Contamination)
	}
	if d.MinTrainingSamples < 2 {
		return fmt.Errorf("min_training_samples must be at least 2, got %d", d.MinTrainingSamples)
	}
	if d.Trees <= 0 {
		return fmt.Errorf("trees must be positive, got %d", d.Trees)
	}
	if c.SamplesLogPath == "" || c.AnomaliesLogPath == "" {
		return fmt.Errorf("log paths must not be empty")
	}
	return nil
}

// Interval returns the sampling cadence as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec * float64(time.Second))
}

// RetrainInterval returns the minimum gap between refits.
func (c Config) RetrainInterval() time.Duration {
	return time.Duration(c.Detector.RetrainIntervalSec) * time.Second
}

// ShutdownTimeout returns the flush deadline for shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
