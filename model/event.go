package model

// EventType discriminates bus events.
type EventType string

const (
	EventSampleUpdate  EventType = "sample_update"
	EventAnomalyReport EventType = "anomaly_report"
	EventStateUpdate   EventType = "state_update"
)

// SampleUpdate is the per-tick event payload. RawScore is nil while the
// detector is cold.
type SampleUpdate struct {
	Sample    MetricSample `json:"sample"`
	IsAnomaly bool         `json:"is_anomaly"`
	RawScore  *float64     `json:"raw_score,omitempty"`
}

// Event is one bus event delivered to subscribers. Exactly one of the
// payload fields is set, matching Type.
type Event struct {
	Type    EventType      `json:"type"`
	Sample  *SampleUpdate  `json:"sample_update,omitempty"`
	Anomaly *AnomalyRecord `json:"anomaly,omitempty"`
	State   *State         `json:"state,omitempty"`
}

// NewSampleEvent wraps a scored sample as a bus event.
func NewSampleEvent(u SampleUpdate) Event {
	return Event{Type: EventSampleUpdate, Sample: &u}
}

// NewAnomalyEvent wraps a reported anomaly as a bus event.
func NewAnomalyEvent(rec AnomalyRecord) Event {
	return Event{Type: EventAnomalyReport, Anomaly: &rec}
}

// NewStateEvent wraps a lifecycle transition as a bus event.
func NewStateEvent(s State) Event {
	return Event{Type: EventStateUpdate, State: &s}
}
