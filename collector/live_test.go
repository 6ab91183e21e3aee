package collector

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ftahirops/hostwatch/model"
)

func TestApplyRatesFirstTickFailureDoesNotSpike(t *testing.T) {
	s := &LiveSource{log: zerolog.Nop()}
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// Tick 1: the disk read fails. The machine has been up for a while, so
	// its cumulative counters are huge, but unseen this tick.
	sample := model.MetricSample{Timestamp: base}
	s.applyRates(&sample, base, false, true, 0, 0, 1<<30, 1<<30)
	assert.Zero(t, sample.DiskReadMBs, "failed family emits zero rates")
	assert.Zero(t, sample.DiskWriteMBs)

	// Tick 2: disk recovers with its since-boot cumulative value. Without a
	// primed baseline this must be a priming read, not a rate against zero.
	now := base.Add(time.Second)
	sample = model.MetricSample{Timestamp: now}
	s.applyRates(&sample, now, true, true, 40<<30, 20<<30, 1<<30+1<<20, 1<<30+1<<20)
	assert.Zero(t, sample.DiskReadMBs, "first good disk reading primes, not rates")
	assert.Zero(t, sample.DiskWriteMBs)
	assert.Equal(t, 1.0, sample.NetworkSentMBs, "healthy net family is unaffected")
	assert.Equal(t, 1.0, sample.NetworkRecvMBs)

	// Tick 3: disk rates flow from the recovered baseline.
	now = base.Add(2 * time.Second)
	sample = model.MetricSample{Timestamp: now}
	s.applyRates(&sample, now, true, true, 40<<30+2<<20, 20<<30+1<<20, 1<<30+2<<20, 1<<30+2<<20)
	assert.Equal(t, 2.0, sample.DiskReadMBs)
	assert.Equal(t, 1.0, sample.DiskWriteMBs)
}

func TestApplyRatesMidRunFailureSpansElapsed(t *testing.T) {
	s := &LiveSource{log: zerolog.Nop()}
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	// Prime both families, then run one steady 1 MB/s tick.
	sample := model.MetricSample{Timestamp: base}
	s.applyRates(&sample, base, true, true, 0, 0, 0, 0)

	now := base.Add(time.Second)
	sample = model.MetricSample{Timestamp: now}
	s.applyRates(&sample, now, true, true, 1<<20, 1<<20, 1<<20, 1<<20)
	assert.Equal(t, 1.0, sample.DiskReadMBs)

	// Tick 3: the net read fails; disk keeps flowing.
	now = base.Add(2 * time.Second)
	sample = model.MetricSample{Timestamp: now}
	s.applyRates(&sample, now, true, false, 2<<20, 2<<20, 0, 0)
	assert.Equal(t, 1.0, sample.DiskReadMBs, "disk unaffected by net failure")
	assert.Zero(t, sample.NetworkSentMBs)
	assert.Zero(t, sample.NetworkRecvMBs)

	// Tick 4: net recovers. The 2 MB accumulated since its last good
	// reading spans two seconds, so the rate is 1 MB/s, not 2.
	now = base.Add(3 * time.Second)
	sample = model.MetricSample{Timestamp: now}
	s.applyRates(&sample, now, true, true, 3<<20, 3<<20, 3<<20, 3<<20)
	assert.Equal(t, 1.0, sample.NetworkSentMBs, "recovered rate averages over the gap")
	assert.Equal(t, 1.0, sample.NetworkRecvMBs)
	assert.Equal(t, 1.0, sample.DiskReadMBs)
}
