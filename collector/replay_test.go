package collector

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaySourceMinimalSchema(t *testing.T) {
	input := strings.Join([]string{
		"cpu_percent,memory_percent,disk_read_mb,network_sent_mb",
		"10.5,20.0,1.5,0.5",
		"11.0,21.0,2.0,0.6",
	}, "\n")

	src, err := NewReplaySource(strings.NewReader(input), time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, src.Len())

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.5, first.CPUPercent)
	assert.Equal(t, 20.0, first.MemoryPercent)
	assert.Equal(t, 1.5, first.DiskReadMBs)
	assert.Equal(t, 0.5, first.NetworkSentMBs)
	// Missing optional columns default to zero.
	assert.Zero(t, first.DiskWriteMBs)
	assert.Zero(t, first.NetworkRecvMBs)
	assert.Zero(t, first.CPUFrequencyMHz)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	// Synthesized timestamps advance by one period per row.
	assert.True(t, second.Timestamp.After(first.Timestamp))
	assert.Equal(t, time.Second, second.Timestamp.Sub(first.Timestamp))

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplaySourceRejectsMissingColumns(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"no_cpu", "memory_percent,disk_read_mb,network_sent_mb"},
		{"no_memory", "cpu_percent,disk_read_mb,network_sent_mb"},
		{"no_disk", "cpu_percent,memory_percent,network_sent_mb"},
		{"no_network", "cpu_percent,memory_percent,disk_read_mb"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewReplaySource(strings.NewReader(c.header+"\n1,2,3\n"), time.Second)
			assert.Error(t, err)
		})
	}
}

func TestReplaySourceParsesTimestamps(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,cpu_percent,memory_percent,disk_read_mb,network_sent_mb",
		"2026-08-24T10:00:00Z,10,20,1,1",
		"2026-08-24T10:00:01Z,11,21,1,1",
		"2026-08-24T10:00:01Z,12,22,1,1", // duplicate: must be bumped
	}, "\n")

	src, err := NewReplaySource(strings.NewReader(input), time.Second)
	require.NoError(t, err)

	ctx := context.Background()
	var prev time.Time
	for i := 0; i < 3; i++ {
		s, err := src.Next(ctx)
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, s.Timestamp.After(prev), "timestamps must be strictly increasing")
		}
		prev = s.Timestamp
	}
}

func TestReplaySourceAcceptsSamplesLogHeader(t *testing.T) {
	// The engine's own samples log must replay cleanly.
	input := strings.Join([]string{
		"timestamp,cpu_percent,cpu_frequency_mhz,memory_percent,memory_available_gb,disk_read_mb_per_s,disk_write_mb_per_s,network_sent_mb_per_s,network_recv_mb_per_s,is_anomaly,raw_score",
		"2026-08-24T10:00:00Z,10,2400,20,12.8,0.5,0.4,0.3,0.2,False,",
	}, "\n")

	src, err := NewReplaySource(strings.NewReader(input), time.Second)
	require.NoError(t, err)

	s, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2400.0, s.CPUFrequencyMHz)
	assert.Equal(t, 12.8, s.MemoryAvailableGB)
	assert.Equal(t, 0.4, s.DiskWriteMBs)
	assert.Equal(t, 0.2, s.NetworkRecvMBs)
}

func TestWriteSyntheticCSVRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSyntheticCSV(&buf, 200, 42))

	src, err := NewReplaySource(&buf, time.Second)
	require.NoError(t, err)
	require.Equal(t, 200, src.Len())

	ctx := context.Background()
	var prev time.Time
	spikes := 0
	for i := 0; i < 200; i++ {
		s, err := src.Next(ctx)
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, s.Timestamp.After(prev))
		}
		prev = s.Timestamp
		assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
		assert.LessOrEqual(t, s.CPUPercent, 100.0)
		if s.CPUPercent > 60 {
			spikes++
		}
	}
	assert.Greater(t, spikes, 0, "generator should plant anomalies")
	assert.Less(t, spikes, 60, "spikes should stay a small fraction")
}

func TestWriteSyntheticCSVDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, WriteSyntheticCSV(&a, 50, 7))
	require.NoError(t, WriteSyntheticCSV(&b, 50, 7))
	// Timestamps derive from time.Now, so compare everything after the
	// first comma of each line.
	la, lb := strings.Split(a.String(), "\n"), strings.Split(b.String(), "\n")
	require.Equal(t, len(la), len(lb))
	for i := range la {
		ca := la[i][strings.Index(la[i], ",")+1:]
		cb := lb[i][strings.Index(lb[i], ",")+1:]
		assert.Equal(t, ca, cb, "line %d", i)
	}
}
