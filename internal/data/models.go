// internal/data/models.go
package data

// RawEvent is an unvalidated alarm payload as submitted by a producer.
type RawEvent map[string]interface{}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// TimestampLayout is fixed-width so that lexicographic order of record keys
// matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Record is the canonical, enriched form of an alarm stored in history and
// pushed to subscribers.
type Record struct {
	Timestamp      string   `json:"timestamp"`
	ProcessedAt    string   `json:"processed_at"`
	DeviceID       string   `json:"device_id"`
	AlarmRule      string   `json:"alarm_rule"`
	AlarmGroup     string   `json:"alarm_group"`
	AlarmType      string   `json:"alarm_type"`
	ActivationTime *int64   `json:"activation_time"`
	Detections     int      `json:"detections"`
	AlarmValue     *float64 `json:"alarm_value"`
	Instance       string   `json:"instance"`
	Severity       int      `json:"severity"`
	Status         string   `json:"status"`
	Source         string   `json:"source"`

	// Only set when AlarmValue is non-nil.
	ThresholdExceeded   *bool    `json:"threshold_exceeded,omitempty"`
	ThresholdValue      *float64 `json:"threshold_value,omitempty"`
	ThresholdDifference *float64 `json:"threshold_difference,omitempty"`
}

func (r *Record) Active() bool {
	return r.Status == StatusActive
}
