package engine

import (
	"sync"

	"github.com/ftahirops/hostwatch/model"
)

// Store holds the rolling in-memory window: a bounded ring of recent samples
// and a bounded ring of recent reported anomalies. It is the only shared
// mutable collection in the engine; one mutex covers both rings, held only
// for the duration of a push or a copy-out snapshot.
type Store struct {
	mu sync.Mutex

	samples []model.MetricSample
	sHead   int
	sLen    int

	anomalies []model.AnomalyRecord
	aHead     int
	aLen      int

	sampleTotal  uint64 // samples appended since start, monotonic
	anomalyTotal uint64 // reported anomalies appended since start, monotonic
}

// NewStore creates a store with the given ring capacities.
func NewStore(sampleCap, anomalyCap int) *Store {
	return &Store{
		samples:   make([]model.MetricSample, sampleCap),
		anomalies: make([]model.AnomalyRecord, anomalyCap),
	}
}

// AppendSample pushes a sample, evicting the oldest when full.
func (st *Store) AppendSample(s model.MetricSample) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.samples[st.sHead] = s
	st.sHead = (st.sHead + 1) % len(st.samples)
	if st.sLen < len(st.samples) {
		st.sLen++
	}
	st.sampleTotal++
}

// AppendAnomaly pushes a reported anomaly, evicting the oldest when full.
func (st *Store) AppendAnomaly(a model.AnomalyRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.anomalies[st.aHead] = a
	st.aHead = (st.aHead + 1) % len(st.anomalies)
	if st.aLen < len(st.anomalies) {
		st.aLen++
	}
	st.anomalyTotal++
}

// RecentSamples returns a copy of the last k samples in chronological
// order (all of them if fewer are buffered). The result never aliases the
// internal ring.
func (st *Store) RecentSamples(k int) []model.MetricSample {
	st.mu.Lock()
	defer st.mu.Unlock()
	if k > st.sLen {
		k = st.sLen
	}
	if k <= 0 {
		return nil
	}
	out := make([]model.MetricSample, k)
	start := st.sHead - k
	for i := 0; i < k; i++ {
		out[i] = st.samples[(start+i+len(st.samples))%len(st.samples)]
	}
	return out
}

// RecentAnomalies returns a copy of the last k reported anomalies in
// chronological order.
func (st *Store) RecentAnomalies(k int) []model.AnomalyRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	if k > st.aLen {
		k = st.aLen
	}
	if k <= 0 {
		return nil
	}
	out := make([]model.AnomalyRecord, k)
	start := st.aHead - k
	for i := 0; i < k; i++ {
		out[i] = st.anomalies[(start+i+len(st.anomalies))%len(st.anomalies)]
	}
	return out
}

// SampleCount returns the total samples appended since start, not the
// current ring occupancy.
func (st *Store) SampleCount() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sampleTotal
}

// AnomalyCount returns the total reported anomalies appended since start.
func (st *Store) AnomalyCount() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.anomalyTotal
}

// SampleCap returns the configured sample ring capacity.
func (st *Store) SampleCap() int { return len(st.samples) }

// AnomalyCap returns the configured anomaly ring capacity.
func (st *Store) AnomalyCap() int { return len(st.anomalies) }
