package engine

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftahirops/hostwatch/model"
)

// chanSource feeds scripted samples to the engine under test control.
type chanSource struct{ ch chan model.MetricSample }

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan model.MetricSample, 16)}
}

func (s *chanSource) Next(ctx context.Context) (model.MetricSample, error) {
	select {
	case <-ctx.Done():
		return model.MetricSample{}, ctx.Err()
	case sample, ok := <-s.ch:
		if !ok {
			return model.MetricSample{}, io.EOF
		}
		return sample, nil
	}
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleBuffer = 500
	cfg.Detector.MinTrainingSamples = 60
	cfg.Detector.Trees = 50
	return cfg
}

func waitForState(t *testing.T, e *Engine, want model.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never reached state %s (currently %s)", want, e.State())
}

func feedQuiet(src *chanSource, n int, base time.Time) time.Time {
	ts := base
	for i := 0; i < n; i++ {
		ts = ts.Add(time.Second)
		src.ch <- model.MetricSample{
			Timestamp:       ts,
			CPUPercent:      10 + float64(i%7),
			CPUFrequencyMHz: 2400,
			MemoryPercent:   30 + float64(i%5),
			DiskReadMBs:     0.5,
			DiskWriteMBs:    0.2,
			NetworkSentMBs:  0.3,
			NetworkRecvMBs:  0.1,
		}
	}
	return ts
}

func TestEngineColdStartPersistsUnscored(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	e := New(src, testEngineConfig(), &samples, &anomalies, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	feedQuiet(src, 10, time.Now())
	close(src.ch)
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimSpace(samples.String()), "\n")
	require.Len(t, lines, 10)
	for _, line := range lines {
		assert.True(t, strings.HasSuffix(line, ",False,"), "cold rows carry no score: %s", line)
	}
	assert.Empty(t, strings.TrimSpace(anomalies.String()), "no anomalies before the first fit")
	assert.Equal(t, uint64(10), e.Stats().SampleCount)
	assert.Equal(t, model.StateStopped, e.Stats().State)
}

func TestEngineReportsObviousSpike(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	e := New(src, testEngineConfig(), &samples, &anomalies, zerolog.Nop())

	sub := e.Subscribe()
	go func() {
		for range sub.Events {
		}
	}()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	last := feedQuiet(src, 100, time.Now())
	waitForState(t, e, model.StateReady)

	src.ch <- model.MetricSample{
		Timestamp:       last.Add(time.Second),
		CPUPercent:      99,
		CPUFrequencyMHz: 2400,
		MemoryPercent:   95,
		DiskReadMBs:     300,
		DiskWriteMBs:    150,
		NetworkSentMBs:  400,
		NetworkRecvMBs:  80,
	}
	close(src.ch)
	require.NoError(t, <-done)

	snap := e.Snapshot(10, 10)
	require.Len(t, snap.Anomalies, 1, "the spike must be reported")
	rec := snap.Anomalies[0]
	assert.Less(t, rec.RawScore, -0.5)
	assert.True(t, rec.Severity.Reported())
	assert.Contains(t, rec.Reasons, "high CPU")
	assert.Contains(t, rec.Reasons, "high memory")
	assert.Contains(t, rec.Reasons, "disk burst")
	assert.Contains(t, rec.Reasons, "network burst")

	// Persisted on both logs before shutdown returned.
	assert.Contains(t, samples.String(), ",True,")
	assert.Contains(t, anomalies.String(), `"reasons":["high CPU","high memory","disk burst","network burst"]`)

	st := e.Stats()
	assert.Equal(t, uint64(101), st.SampleCount)
	assert.Equal(t, uint64(1), st.AnomalyCount)
	assert.False(t, st.TrainedAt.IsZero())
	assert.GreaterOrEqual(t, st.SampleCountAtFit, 60)
}

func TestEngineQuietBaselineStaysQuiet(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	e := New(src, testEngineConfig(), &samples, &anomalies, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	last := feedQuiet(src, 100, time.Now())
	waitForState(t, e, model.StateReady)
	feedQuiet(src, 50, last)
	close(src.ch)
	require.NoError(t, <-done)

	// An unchanged workload may brush the contamination quantile but must
	// not produce a stream of reported anomalies.
	assert.LessOrEqual(t, e.Stats().AnomalyCount, uint64(5))
}

func TestEngineLifecycleEvents(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	e := New(src, testEngineConfig(), &samples, &anomalies, zerolog.Nop())

	sub := e.Subscribe()
	var states []model.State
	var firstSeen model.EventType
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for ev := range sub.Events {
			if firstSeen == "" {
				firstSeen = ev.Type
			}
			if ev.Type == model.EventStateUpdate && ev.State != nil {
				states = append(states, *ev.State)
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	last := feedQuiet(src, 100, time.Now())
	waitForState(t, e, model.StateReady)
	feedQuiet(src, 1, last)
	close(src.ch)
	require.NoError(t, <-done)
	<-collected
	assert.Equal(t, model.EventStateUpdate, firstSeen, "stream opens with the current state")
	assert.Contains(t, states, model.StateTraining)
	assert.Contains(t, states, model.StateReady)
	assert.Equal(t, model.StateStopped, states[len(states)-1])
}

func TestEngineCancelFlushesLogs(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	e := New(src, testEngineConfig(), &samples, &anomalies, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	feedQuiet(src, 25, time.Now())
	// Give the loop a moment to consume the buffered channel.
	deadline := time.Now().Add(2 * time.Second)
	for e.Stats().SampleCount < 25 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done, "cancellation is a clean shutdown")

	lines := strings.Split(strings.TrimSpace(samples.String()), "\n")
	assert.Len(t, lines, 25, "every processed tick is flushed before Run returns")
	assert.Equal(t, model.StateStopped, e.State())
}

func TestEngineStatsConcurrentWithRun(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	e := New(src, testEngineConfig(), &samples, &anomalies, zerolog.Nop())

	// The HTTP transport starts alongside Run and polls stats immediately;
	// hammer the surface from another goroutine across the whole lifecycle
	// so the race detector sees the overlap with Run's startup.
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		for i := 0; i < 5000; i++ {
			st := e.Stats()
			if st.UptimeSeconds < 0 {
				t.Error("uptime went negative")
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	feedQuiet(src, 20, time.Now())
	close(src.ch)
	require.NoError(t, <-done)
	<-statsDone

	assert.Greater(t, e.Stats().UptimeSeconds, 0.0)
}

func TestEngineRetrainAdvancesTrainedAt(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	cfg := testEngineConfig()
	cfg.SynchronousFit = true
	cfg.Detector.RetrainInterval = 10 * time.Second
	e := New(src, cfg, &samples, &anomalies, zerolog.Nop())

	// Drive the engine's clock manually so the retrain interval elapses
	// without real waiting.
	var fakeNow time.Time
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	fakeNow = base
	e.clk = func() time.Time { return fakeNow }

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	last := feedQuiet(src, 60, base)
	waitForState(t, e, model.StateReady)
	firstFit, _ := e.detector.TrainedAt()

	fakeNow = base.Add(30 * time.Second)
	last = feedQuiet(src, 5, last)
	close(src.ch)
	require.NoError(t, <-done)

	secondFit, n := e.detector.TrainedAt()
	assert.True(t, secondFit.After(firstFit), "trained_at must advance after the retrain interval")
	assert.GreaterOrEqual(t, n, 60)
}

func TestEngineSnapshotCaps(t *testing.T) {
	src := newChanSource()
	var samples, anomalies syncBuffer
	e := New(src, testEngineConfig(), &samples, &anomalies, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	feedQuiet(src, 30, time.Now())
	close(src.ch)
	require.NoError(t, <-done)

	snap := e.Snapshot(10, 10)
	assert.Len(t, snap.Samples, 10)
	assert.Empty(t, snap.Anomalies)
	assert.Equal(t, uint64(30), snap.Stats.SampleCount)

	big := e.Snapshot(1000, 1000)
	assert.Len(t, big.Samples, 30)
}
