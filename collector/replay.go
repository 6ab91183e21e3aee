package collector

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ftahirops/hostwatch/model"
)

// timestamp layouts accepted in replay inputs, tried in order.
var replayTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ReplaySource yields samples from a historical CSV table in row order.
// Rate columns are taken as already per-second values. Missing optional
// columns default to zero; missing timestamps are synthesized at the given
// period starting from the current instant.
type ReplaySource struct {
	rows []model.MetricSample
	idx  int
}

// column aliases: the replay input schema uses bare _mb names, the samples
// log written by this engine uses the explicit _mb_per_s names.
var replayColumns = map[string][]string{
	"cpu_percent":         {"cpu_percent"},
	"cpu_frequency_mhz":   {"cpu_frequency_mhz", "cpu_frequency"},
	"memory_percent":      {"memory_percent"},
	"memory_available_gb": {"memory_available_gb"},
	"disk_read":           {"disk_read_mb_per_s", "disk_read_mb"},
	"disk_write":          {"disk_write_mb_per_s", "disk_write_mb"},
	"network_sent":        {"network_sent_mb_per_s", "network_sent_mb"},
	"network_recv":        {"network_recv_mb_per_s", "network_recv_mb"},
}

// NewReplaySource parses a CSV table. The input must provide at least
// cpu_percent, memory_percent, a disk read column, and a network sent
// column; anything less is a configuration error.
func NewReplaySource(r io.Reader, period time.Duration) (*ReplaySource, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("replay input: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	find := func(key string) int {
		for _, alias := range replayColumns[key] {
			if i, ok := col[alias]; ok {
				return i
			}
		}
		return -1
	}
	idx := map[string]int{}
	for key := range replayColumns {
		idx[key] = find(key)
	}
	for _, required := range []string{"cpu_percent", "memory_percent", "disk_read", "network_sent"} {
		if idx[required] < 0 {
			return nil, fmt.Errorf("replay input: missing required column %s", required)
		}
	}
	tsCol := -1
	if i, ok := col["timestamp"]; ok {
		tsCol = i
	}

	floatAt := func(record []string, i int) float64 {
		if i < 0 || i >= len(record) {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return 0
		}
		return v
	}

	src := &ReplaySource{}
	synthBase := time.Now()
	var lastTS time.Time
	for row := 0; ; row++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay input: row %d: %w", row+1, err)
		}

		ts := time.Time{}
		if tsCol >= 0 && tsCol < len(record) {
			ts = parseReplayTime(record[tsCol])
		}
		if ts.IsZero() {
			ts = synthBase.Add(time.Duration(row) * period)
		}
		// Timestamps must be strictly increasing within a run.
		if !lastTS.IsZero() && !ts.After(lastTS) {
			ts = lastTS.Add(period)
		}
		lastTS = ts

		src.rows = append(src.rows, model.MetricSample{
			Timestamp:         ts,
			CPUPercent:        floatAt(record, idx["cpu_percent"]),
			CPUFrequencyMHz:   floatAt(record, idx["cpu_frequency_mhz"]),
			MemoryPercent:     floatAt(record, idx["memory_percent"]),
			MemoryAvailableGB: floatAt(record, idx["memory_available_gb"]),
			DiskReadMBs:       floatAt(record, idx["disk_read"]),
			DiskWriteMBs:      floatAt(record, idx["disk_write"]),
			NetworkSentMBs:    floatAt(record, idx["network_sent"]),
			NetworkRecvMBs:    floatAt(record, idx["network_recv"]),
		})
	}
	return src, nil
}

func parseReplayTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range replayTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Len returns the number of rows available.
func (s *ReplaySource) Len() int { return len(s.rows) }

// Next returns the next historical row, or io.EOF when exhausted.
func (s *ReplaySource) Next(ctx context.Context) (model.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return model.MetricSample{}, err
	}
	if s.idx >= len(s.rows) {
		return model.MetricSample{}, io.EOF
	}
	sample := s.rows[s.idx]
	s.idx++
	return sample, nil
}
