package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftahirops/hostwatch/model"
)

// SamplesCSVHeader is the first line of the samples log. The schema is
// stable: replaying an engine's own samples log is always valid input.
const SamplesCSVHeader = "timestamp,cpu_percent,cpu_frequency_mhz,memory_percent,memory_available_gb,disk_read_mb_per_s,disk_write_mb_per_s,network_sent_mb_per_s,network_recv_mb_per_s,is_anomaly,raw_score"

// FormatSampleRow renders one samples-log line. rawScore is nil while the
// detector is cold; the column is left empty in that case.
func FormatSampleRow(s model.MetricSample, isAnomaly bool, rawScore *float64) string {
	flag := "False"
	if isAnomaly {
		flag = "True"
	}
	score := ""
	if rawScore != nil {
		score = strconv.FormatFloat(*rawScore, 'f', 6, 64)
	}
	return fmt.Sprintf("%s,%.4f,%.1f,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%s,%s",
		s.Timestamp.Format(time.RFC3339Nano),
		s.CPUPercent, s.CPUFrequencyMHz,
		s.MemoryPercent, s.MemoryAvailableGB,
		s.DiskReadMBs, s.DiskWriteMBs,
		s.NetworkSentMBs, s.NetworkRecvMBs,
		flag, score)
}

// persistItem is one queued write: exactly one of the two fields is set.
type persistItem struct {
	sample  *persistSample
	anomaly *model.AnomalyRecord
}

type persistSample struct {
	sample    model.MetricSample
	isAnomaly bool
	rawScore  *float64
}

// Persister serializes log writes on a dedicated goroutine behind a bounded
// queue, so slow disks delay writes rather than ticks. After failLimit
// consecutive write failures it gives up and invokes onFatal once.
type Persister struct {
	log       zerolog.Logger
	samples   io.Writer
	anomalies *json.Encoder

	queue     chan persistItem
	done      chan struct{}
	dropped   atomic.Uint64
	failures  atomic.Uint64
	failLimit int
	onFatal   func(error)
}

// NewPersister starts the writer goroutine. samplesW receives CSV lines,
// anomaliesW receives one JSON object per reported anomaly. onFatal fires
// at most once, from the writer goroutine.
func NewPersister(samplesW, anomaliesW io.Writer, queueCap, failLimit int, onFatal func(error), log zerolog.Logger) *Persister {
	if queueCap <= 0 {
		queueCap = 256
	}
	if failLimit <= 0 {
		failLimit = 10
	}
	if onFatal == nil {
		onFatal = func(error) {}
	}
	p := &Persister{
		log:       log,
		samples:   samplesW,
		anomalies: json.NewEncoder(anomaliesW),
		queue:     make(chan persistItem, queueCap),
		done:      make(chan struct{}),
		failLimit: failLimit,
		onFatal:   onFatal,
	}
	go p.run()
	return p
}

// OpenSamplesLog opens (or creates) an append-mode samples log, writing the
// CSV header when the file is empty. Parent directories are created.
func OpenSamplesLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open samples log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat samples log: %w", err)
	}
	if info.Size() == 0 {
		if _, err := fmt.Fprintln(f, SamplesCSVHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write samples header: %w", err)
		}
	}
	return f, nil
}

// OpenAnomaliesLog opens (or creates) an append-mode anomalies JSONL log.
func OpenAnomaliesLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open anomalies log: %w", err)
	}
	return f, nil
}

// EnqueueSample queues one samples-log row. When the queue is full the row
// is dropped and counted; ticks never block on disk.
func (p *Persister) EnqueueSample(s model.MetricSample, isAnomaly bool, rawScore *float64) {
	item := persistItem{sample: &persistSample{sample: s, isAnomaly: isAnomaly, rawScore: rawScore}}
	select {
	case p.queue <- item:
	default:
		p.dropped.Add(1)
	}
}

// EnqueueAnomaly queues one anomaly record for the JSONL log.
func (p *Persister) EnqueueAnomaly(rec model.AnomalyRecord) {
	select {
	case p.queue <- persistItem{anomaly: &rec}:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns rows discarded because the queue was full.
func (p *Persister) Dropped() uint64 { return p.dropped.Load() }

// Failures returns the total write failures since start.
func (p *Persister) Failures() uint64 { return p.failures.Load() }

// Close stops accepting writes and waits up to the deadline for the queue
// to drain.
func (p *Persister) Close(timeout time.Duration) error {
	close(p.queue)
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("persister: flush deadline exceeded after %s", timeout)
	}
}

func (p *Persister) run() {
	defer close(p.done)
	consecutive := 0
	dead := false
	for item := range p.queue {
		if dead {
			continue // drain without writing after giving up
		}
		var err error
		switch {
		case item.sample != nil:
			_, err = fmt.Fprintln(p.samples, FormatSampleRow(item.sample.sample, item.sample.isAnomaly, item.sample.rawScore))
		case item.anomaly != nil:
			err = p.anomalies.Encode(item.anomaly)
		}
		if err == nil {
			consecutive = 0
			continue
		}
		consecutive++
		p.failures.Add(1)
		p.log.Error().Err(err).Int("consecutive", consecutive).Msg("log write failed")
		if consecutive >= p.failLimit {
			dead = true
			p.log.Error().Int("failures", consecutive).Msg("persistence giving up")
			p.onFatal(fmt.Errorf("persister: %d consecutive write failures: %w", consecutive, err))
		}
	}
}
