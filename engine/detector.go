package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/hostwatch/forest"
	"github.com/ftahirops/hostwatch/model"
)

// DetectorConfig tunes the online anomaly detector.
type DetectorConfig struct {
	Contamination      float64
	MinTrainingSamples int           // samples required before the first fit
	RetrainInterval    time.Duration // minimum gap between refits once ready
	RetrainMultiplier  int           // training window = MinTrainingSamples * this
	Trees              int
	Seed               int64
}

// DefaultDetectorConfig returns the tuning used when nothing overrides it.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Contamination:      0.05,
		MinTrainingSamples: 60,
		RetrainInterval:    5 * time.Minute,
		RetrainMultiplier:  4,
		Trees:              100,
		Seed:               42,
	}
}

// fitted pairs a trained model with its fit metadata, swapped in atomically.
type fitted struct {
	model       *forest.Forest
	trainedAt   time.Time
	sampleCount int
}

// Detector scores samples against the most recent model while refits happen
// off the hot path. Score is safe to call concurrently with Fit: the model
// pointer is swapped atomically and an in-flight refit never blocks a tick.
type Detector struct {
	cfg     DetectorConfig
	log     zerolog.Logger
	current atomic.Pointer[fitted]
	lastFit atomic.Int64 // unix nanos of the last completed fit
}

// NewDetector creates a detector in the cold state.
func NewDetector(cfg DetectorConfig, log zerolog.Logger) *Detector {
	if cfg.MinTrainingSamples <= 0 {
		cfg.MinTrainingSamples = 60
	}
	if cfg.RetrainMultiplier <= 0 {
		cfg.RetrainMultiplier = 4
	}
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = 5 * time.Minute
	}
	return &Detector{cfg: cfg, log: log}
}

// Ready reports whether a model is available for scoring.
func (d *Detector) Ready() bool { return d.current.Load() != nil }

// State derives the detector lifecycle state from the buffered sample count.
func (d *Detector) State(buffered int) model.State {
	if d.Ready() {
		return model.StateReady
	}
	if buffered > 0 {
		return model.StateTraining
	}
	return model.StateCold
}

// TrainedAt returns when the current model was fitted and how many samples
// it saw; zero values when no model exists yet.
func (d *Detector) TrainedAt() (time.Time, int) {
	f := d.current.Load()
	if f == nil {
		return time.Time{}, 0
	}
	return f.trainedAt, f.sampleCount
}

// NeedsFit reports whether a (re)fit should be scheduled: the first fit as
// soon as enough samples are buffered, then at most one per retrain interval.
func (d *Detector) NeedsFit(buffered int, now time.Time) bool {
	if buffered < d.cfg.MinTrainingSamples {
		return false
	}
	if !d.Ready() {
		return true
	}
	return now.Sub(time.Unix(0, d.lastFit.Load())) >= d.cfg.RetrainInterval
}

// TrainingWindow returns how many recent samples a fit should consume.
func (d *Detector) TrainingWindow() int {
	return d.cfg.MinTrainingSamples * d.cfg.RetrainMultiplier
}

// Fit trains a fresh model on the given window and swaps it in. On failure
// the previous model, if any, stays active.
func (d *Detector) Fit(samples []model.MetricSample, now time.Time) error {
	if len(samples) < d.cfg.MinTrainingSamples {
		return fmt.Errorf("detector: fit window has %d samples, need %d", len(samples), d.cfg.MinTrainingSamples)
	}
	rows := make([][]float64, len(samples))
	for i, s := range samples {
		feats := s.Features()
		rows[i] = feats[:]
	}

	started := time.Now()
	m, err := forest.Fit(rows, forest.Options{
		Trees:         d.cfg.Trees,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	})
	if err != nil {
		d.log.Warn().Err(err).Int("window", len(samples)).Msg("model fit failed, keeping previous model")
		return fmt.Errorf("detector: %w", err)
	}

	elapsed := time.Since(started)
	d.current.Store(&fitted{model: m, trainedAt: now, sampleCount: len(samples)})
	d.lastFit.Store(now.UnixNano())

	ev := d.log.Info()
	if elapsed > d.cfg.RetrainInterval/2 {
		ev = d.log.Warn()
	}
	ev.Int("window", len(samples)).Dur("elapsed", elapsed).Msg("model fitted")
	return nil
}

// Score evaluates one sample against the current model. ok is false while
// no model exists (cold or still training).
func (d *Detector) Score(s model.MetricSample) (isAnomaly bool, raw float64, ok bool) {
	f := d.current.Load()
	if f == nil {
		return false, 0, false
	}
	feats := s.Features()
	isAnomaly, raw = f.model.Score(feats[:])
	return isAnomaly, raw, true
}
