package model

import (
	"fmt"
	"time"
)

// MetricSample is one snapshot of host counters at a single tick.
// Disk and network fields are per-second rates in MB (2^20 bytes),
// already derived from the cumulative OS counters.
type MetricSample struct {
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	CPUFrequencyMHz   float64   `json:"cpu_frequency_mhz"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	DiskReadMBs       float64   `json:"disk_read_mb_per_s"`
	DiskWriteMBs      float64   `json:"disk_write_mb_per_s"`
	NetworkSentMBs    float64   `json:"network_sent_mb_per_s"`
	NetworkRecvMBs    float64   `json:"network_recv_mb_per_s"`
}

// NumFeatures is the width of the detector feature vector.
const NumFeatures = 7

// Features returns the ordered vector consumed by the detector:
// (cpu, mem, disk read, disk write, net sent, net recv, cpu freq).
// Timestamp and available memory are not model inputs.
func (s MetricSample) Features() [NumFeatures]float64 {
	return [NumFeatures]float64{
		s.CPUPercent,
		s.MemoryPercent,
		s.DiskReadMBs,
		s.DiskWriteMBs,
		s.NetworkSentMBs,
		s.NetworkRecvMBs,
		s.CPUFrequencyMHz,
	}
}

// Severity classifies a raw anomaly score into a fixed band.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// Reported reports whether this severity is emitted externally.
// Medium and normal are counted but dropped.
func (s Severity) Reported() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// MarshalJSON encodes the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a severity from its string name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"normal"`:
		*s = SeverityNormal
	case `"medium"`:
		*s = SeverityMedium
	case `"high"`:
		*s = SeverityHigh
	case `"critical"`:
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %s", data)
	}
	return nil
}

// AnomalyRecord is a reported anomaly: the originating sample, the
// detector's raw score (lower is more anomalous), the severity band,
// and the rule-based indicators that fired.
type AnomalyRecord struct {
	Timestamp time.Time    `json:"timestamp"`
	RawScore  float64      `json:"raw_score"`
	Severity  Severity     `json:"severity"`
	Reasons   []string     `json:"reasons"`
	Sample    MetricSample `json:"sample"`
}

// State is the engine lifecycle state.
type State int

const (
	StateCold State = iota
	StateTraining
	StateReady
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateTraining:
		return "training"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// MarshalJSON encodes the state as its string name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a state from its string name.
func (s *State) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"cold"`:
		*s = StateCold
	case `"training"`:
		*s = StateTraining
	case `"ready"`:
		*s = StateReady
	case `"error"`:
		*s = StateError
	case `"stopped"`:
		*s = StateStopped
	default:
		return fmt.Errorf("unknown state %s", data)
	}
	return nil
}

// Stats is the running statistics surface exposed to transports.
type Stats struct {
	SampleCount      uint64    `json:"sample_count"`
	AnomalyCount     uint64    `json:"anomaly_count"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	State            State     `json:"state"`
	TrainedAt        time.Time `json:"trained_at,omitzero"`
	SampleCountAtFit int       `json:"sample_count_at_fit,omitempty"`
}

// Snapshot is the initial-state payload served to a new transport client.
type Snapshot struct {
	Samples   []MetricSample  `json:"samples"`
	Anomalies []AnomalyRecord `json:"anomalies"`
	Stats     Stats           `json:"stats"`
}
