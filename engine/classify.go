package engine

import "github.com/ftahirops/hostwatch/model"

// Severity band edges on the raw score. Lower is more anomalous.
const (
	criticalBelow = -0.7
	highBelow     = -0.5
	mediumBelow   = -0.3
)

// Rule thresholds for the human-readable reason strings.
const (
	cpuHighPct   = 80.0
	memHighPct   = 80.0
	diskBurstMBs = 50.0
	netBurstMBs  = 50.0
)

// Classify maps a raw anomaly score to its severity band.
func Classify(raw float64) model.Severity {
	switch {
	case raw < criticalBelow:
		return model.SeverityCritical
	case raw < highBelow:
		return model.SeverityHigh
	case raw < mediumBelow:
		return model.SeverityMedium
	}
	return model.SeverityNormal
}

// Reasons produces the rule-based indicators for an anomalous sample, in a
// fixed order. When no rule fires the anomaly is model-only: the forest saw
// an unusual combination no single threshold captures.
func Reasons(s model.MetricSample) []string {
	var out []string
	if s.CPUPercent > cpuHighPct {
		out = append(out, "high CPU")
	}
	if s.MemoryPercent > memHighPct {
		out = append(out, "high memory")
	}
	if s.DiskReadMBs+s.DiskWriteMBs > diskBurstMBs {
		out = append(out, "disk burst")
	}
	if s.NetworkSentMBs+s.NetworkRecvMBs > netBurstMBs {
		out = append(out, "network burst")
	}
	if len(out) == 0 {
		out = append(out, "model-only")
	}
	return out
}
