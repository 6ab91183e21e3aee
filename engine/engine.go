package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ftahirops/hostwatch/collector"
	"github.com/ftahirops/hostwatch/model"
)

// Config sizes the engine's buffers and queues and tunes the detector.
type Config struct {
	SampleBuffer        int
	AnomalyBuffer       int
	EventQueue          int
	PersistQueue        int
	PersistFailureLimit int
	ShutdownTimeout     time.Duration

	// SynchronousFit blocks the loop during training instead of fitting in
	// the background. Live sampling wants the hot path free; replay wants
	// every row after the training window scored.
	SynchronousFit bool

	Detector DetectorConfig
}

// DefaultConfig returns the sizing used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		SampleBuffer:        1000,
		AnomalyBuffer:       100,
		EventQueue:          64,
		PersistQueue:        256,
		PersistFailureLimit: 10,
		ShutdownTimeout:     5 * time.Second,
		Detector:            DefaultDetectorConfig(),
	}
}

// Engine drives the sample-score-report loop: it pulls samples from a
// source, keeps a rolling window, trains and applies the detector, persists
// every tick, and fans events out to subscribers. One engine per process.
type Engine struct {
	cfg  Config
	log  zerolog.Logger
	src  collector.Source
	clk  func() time.Time

	store     *Store
	detector  *Detector
	bus       *Bus
	persister *Persister
	metrics   *Metrics

	startedAt time.Time
	fitting   atomic.Bool
	fatal     atomic.Pointer[error]
	stopped   atomic.Bool

	mu        sync.Mutex
	lastState model.State
}

// New wires an engine. samplesW and anomaliesW receive the flat-file logs;
// in replay mode samplesW doubles as the scored analysis output.
func New(src collector.Source, cfg Config, samplesW, anomaliesW io.Writer, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		log:       log,
		src:       src,
		clk:       time.Now,
		store:     NewStore(cfg.SampleBuffer, cfg.AnomalyBuffer),
		detector:  NewDetector(cfg.Detector, log),
		bus:       NewBus(cfg.EventQueue, log),
		lastState: model.StateCold,
	}
	e.persister = NewPersister(samplesW, anomaliesW, cfg.PersistQueue, cfg.PersistFailureLimit, e.onPersistFatal, log)
	e.metrics = NewMetrics(e.bus, e.persister)
	return e
}

// Metrics exposes the Prometheus registry for the HTTP transport.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Subscribe registers an event-stream consumer.
func (e *Engine) Subscribe() *Subscription { return e.bus.Subscribe() }

// Unsubscribe removes an event-stream consumer.
func (e *Engine) Unsubscribe(id string) { e.bus.Unsubscribe(id) }

// Run processes samples until the context is cancelled, the source is
// exhausted (replay), or the source fails fatally. It always flushes the
// persister and closes subscriber channels before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startedAt = e.clk()
	e.mu.Unlock()
	e.publishState(e.State()) // announce the starting state unconditionally

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.samplingLoop(ctx) })
	err := g.Wait()

	e.stopped.Store(true)
	e.publishStateIfChanged(e.finalState())
	e.bus.CloseAll()
	if ferr := e.persister.Close(e.cfg.ShutdownTimeout); ferr != nil {
		e.log.Warn().Err(ferr).Msg("shutdown flush incomplete")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (e *Engine) samplingLoop(ctx context.Context) error {
	for {
		s, err := e.src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			e.log.Info().Uint64("samples", e.store.SampleCount()).Msg("source exhausted")
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		default:
			e.setFatal(err)
			e.log.Error().Err(err).Msg("sample source failed")
			return err
		}
		e.processSample(s)
		e.maybeScheduleFit()
		e.publishStateIfChanged(e.State())
	}
}

// processSample runs the fixed per-tick pipeline: buffer the sample, score
// it, persist the row, broadcast the update, then handle any reported
// anomaly the same way (persist before broadcast).
func (e *Engine) processSample(s model.MetricSample) {
	e.store.AppendSample(s)

	var rawScore *float64
	isAnomaly := false
	if flagged, raw, ok := e.detector.Score(s); ok {
		isAnomaly = flagged
		rawScore = &raw
	}

	e.persister.EnqueueSample(s, isAnomaly, rawScore)
	e.metrics.ObserveSample(s, rawScore)
	e.bus.Publish(model.NewSampleEvent(model.SampleUpdate{
		Sample:    s,
		IsAnomaly: isAnomaly,
		RawScore:  rawScore,
	}))

	if !isAnomaly || rawScore == nil {
		return
	}
	sev := Classify(*rawScore)
	if !sev.Reported() {
		return
	}
	rec := model.AnomalyRecord{
		Timestamp: s.Timestamp,
		RawScore:  *rawScore,
		Severity:  sev,
		Reasons:   Reasons(s),
		Sample:    s,
	}
	e.store.AppendAnomaly(rec)
	e.persister.EnqueueAnomaly(rec)
	e.metrics.ObserveAnomaly()
	e.bus.Publish(model.NewAnomalyEvent(rec))
	e.log.Warn().
		Float64("raw_score", rec.RawScore).
		Stringer("severity", rec.Severity).
		Strs("reasons", rec.Reasons).
		Msg("anomaly reported")
}

// maybeScheduleFit starts a refit when one is due, in the background unless
// SynchronousFit is set. At most one fit runs at a time.
func (e *Engine) maybeScheduleFit() {
	buffered := e.bufferedSamples()
	now := e.clk()
	if !e.detector.NeedsFit(buffered, now) {
		return
	}
	if !e.fitting.CompareAndSwap(false, true) {
		return
	}
	window := e.store.RecentSamples(e.detector.TrainingWindow())
	fit := func() {
		defer e.fitting.Store(false)
		if err := e.detector.Fit(window, now); err != nil {
			return
		}
		e.publishStateIfChanged(e.State())
	}
	if e.cfg.SynchronousFit {
		fit()
		return
	}
	go fit()
}

func (e *Engine) bufferedSamples() int {
	total := e.store.SampleCount()
	if ringCap := uint64(e.store.SampleCap()); total > ringCap {
		return int(ringCap)
	}
	return int(total)
}

func (e *Engine) onPersistFatal(err error) {
	e.setFatal(err)
	e.publishStateIfChanged(e.State())
}

func (e *Engine) setFatal(err error) {
	e.fatal.CompareAndSwap(nil, &err)
}

// State returns the current lifecycle state. A fatal persistence or source
// failure overrides the detector-derived state.
func (e *Engine) State() model.State {
	if e.stopped.Load() {
		return model.StateStopped
	}
	if e.fatal.Load() != nil {
		return model.StateError
	}
	return e.detector.State(e.bufferedSamples())
}

func (e *Engine) finalState() model.State {
	if e.fatal.Load() != nil {
		return model.StateError
	}
	return model.StateStopped
}

func (e *Engine) publishStateIfChanged(s model.State) {
	e.mu.Lock()
	changed := s != e.lastState
	e.mu.Unlock()
	if changed {
		e.publishState(s)
	}
}

func (e *Engine) publishState(s model.State) {
	e.mu.Lock()
	e.lastState = s
	e.mu.Unlock()
	e.metrics.ObserveState(s)
	e.log.Info().Stringer("state", s).Msg("state changed")
	e.bus.Publish(model.NewStateEvent(s))
}

// Stats returns the running statistics surface. Safe to call from any
// goroutine, including before Run has started.
func (e *Engine) Stats() model.Stats {
	st := model.Stats{
		SampleCount:  e.store.SampleCount(),
		AnomalyCount: e.store.AnomalyCount(),
		State:        e.State(),
	}
	e.mu.Lock()
	startedAt := e.startedAt
	e.mu.Unlock()
	if !startedAt.IsZero() {
		st.UptimeSeconds = e.clk().Sub(startedAt).Seconds()
	}
	if at, n := e.detector.TrainedAt(); !at.IsZero() {
		st.TrainedAt = at
		st.SampleCountAtFit = n
	}
	return st
}

// Snapshot returns up to k recent samples and l recent anomalies plus the
// current stats, as an independent copy.
func (e *Engine) Snapshot(k, l int) model.Snapshot {
	return model.Snapshot{
		Samples:   e.store.RecentSamples(k),
		Anomalies: e.store.RecentAnomalies(l),
		Stats:     e.Stats(),
	}
}
