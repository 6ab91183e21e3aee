package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/ftahirops/hostwatch/model"
	"github.com/ftahirops/hostwatch/util"
)

const gb = 1 << 30

// LiveSource samples OS counters at a fixed period. Cumulative disk and
// network byte counters are differenced against the previous reading to
// produce per-second MB rates; the first sample carries zero rates.
type LiveSource struct {
	period time.Duration
	ticker *time.Ticker
	log    zerolog.Logger

	freqMHz float64 // nominal CPU frequency, read once at startup

	// Previous cumulative readings for rate derivation, tracked per counter
	// family with its own timestamp: a failed read of one family must not
	// advance the other's baseline, and a recovering family differences
	// against its last good reading over the real elapsed time.
	haveDiskPrev bool
	diskPrevAt   time.Time
	prevDiskR    uint64
	prevDiskW    uint64

	haveNetPrev bool
	netPrevAt   time.Time
	prevNetS    uint64
	prevNetR    uint64

	prevRates [4]float64

	lastTS time.Time // enforces strictly increasing sample timestamps
}

// NewLiveSource creates a live counter source ticking at the given period.
func NewLiveSource(period time.Duration, log zerolog.Logger) *LiveSource {
	s := &LiveSource{
		period: period,
		ticker: time.NewTicker(period),
		log:    log.With().Str("component", "sampler").Logger(),
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		s.freqMHz = infos[0].Mhz
	} else if err != nil {
		s.log.Warn().Err(err).Msg("cpu frequency unavailable, reporting 0")
	}
	// Prime the utilization window so the first Percent call has a baseline.
	_, _ = cpu.Percent(0, false)
	return s
}

// Close releases the tick timer.
func (s *LiveSource) Close() { s.ticker.Stop() }

// Next blocks until the next tick boundary and returns one sample. A
// transient failure reading one counter family zeroes those fields and the
// sample is still emitted; the error return is reserved for a sampling
// subsystem that supplies no counters at all.
func (s *LiveSource) Next(ctx context.Context) (model.MetricSample, error) {
	select {
	case <-ctx.Done():
		return model.MetricSample{}, ctx.Err()
	case <-s.ticker.C:
	}

	now := time.Now()
	if !s.lastTS.IsZero() && !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now

	sample := model.MetricSample{
		Timestamp:       now,
		CPUFrequencyMHz: s.freqMHz,
	}
	failures := 0

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		sample.CPUPercent = pcts[0]
	} else {
		failures++
		s.log.Warn().Err(err).Msg("cpu counter read failed, zeroing field")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryPercent = vm.UsedPercent
		sample.MemoryAvailableGB = float64(vm.Available) / gb
	} else {
		failures++
		s.log.Warn().Err(err).Msg("memory counter read failed, zeroing fields")
	}

	var diskR, diskW, netS, netR uint64
	diskOK, netOK := false, false
	if counters, err := disk.IOCounters(); err == nil {
		for _, c := range counters {
			diskR += c.ReadBytes
			diskW += c.WriteBytes
		}
		diskOK = true
	} else {
		failures++
		s.log.Warn().Err(err).Msg("disk counter read failed, zeroing rates")
	}
	if counters, err := gnet.IOCounters(false); err == nil && len(counters) > 0 {
		netS = counters[0].BytesSent
		netR = counters[0].BytesRecv
		netOK = true
	} else {
		failures++
		s.log.Warn().Err(err).Msg("network counter read failed, zeroing rates")
	}

	if failures >= 4 {
		return model.MetricSample{}, fmt.Errorf("sampling subsystem failure: no counter family readable")
	}

	s.applyRates(&sample, now, diskOK, netOK, diskR, diskW, netS, netR)

	return sample, nil
}

// applyRates derives the per-second rate fields from the current cumulative
// readings and updates each family's baseline. A family whose read failed
// this tick keeps its old baseline untouched, so the next good reading is
// differenced over the full elapsed window instead of against zeros.
func (s *LiveSource) applyRates(sample *model.MetricSample, now time.Time, diskOK, netOK bool, diskR, diskW, netS, netR uint64) {
	if diskOK {
		if s.haveDiskPrev {
			elapsed := now.Sub(s.diskPrevAt)
			sample.DiskReadMBs = util.RateMBs(s.prevDiskR, diskR, elapsed, s.prevRates[0])
			sample.DiskWriteMBs = util.RateMBs(s.prevDiskW, diskW, elapsed, s.prevRates[1])
		}
		s.prevDiskR, s.prevDiskW = diskR, diskW
		s.diskPrevAt = now
		s.haveDiskPrev = true
	}
	if netOK {
		if s.haveNetPrev {
			elapsed := now.Sub(s.netPrevAt)
			sample.NetworkSentMBs = util.RateMBs(s.prevNetS, netS, elapsed, s.prevRates[2])
			sample.NetworkRecvMBs = util.RateMBs(s.prevNetR, netR, elapsed, s.prevRates[3])
		}
		s.prevNetS, s.prevNetR = netS, netR
		s.netPrevAt = now
		s.haveNetPrev = true
	}
	s.prevRates = [4]float64{sample.DiskReadMBs, sample.DiskWriteMBs, sample.NetworkSentMBs, sample.NetworkRecvMBs}
}
