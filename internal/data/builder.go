package data

import (
	"fmt"
	"time"

	"alarm-gateway/internal/anomaly"
)

const (
	valueKey        = "alarma.X"
	unknownDeviceID = "unknown"
)

// Builder turns raw events into canonical records. It keeps no mutable
// state, so one Builder is shared by the HTTP handlers and the broadcast loop.
type Builder struct {
	detector *anomaly.Detector
	now      func() time.Time
}

// NewBuilder returns a Builder. A nil clock means time.Now.
func NewBuilder(detector *anomaly.Detector, clock func() time.Time) *Builder {
	if clock == nil {
		clock = time.Now
	}
	return &Builder{detector: detector, now: clock}
}

func (b *Builder) Threshold() float64 {
	return b.detector.Threshold()
}

// Build normalizes raw. Missing or mistyped fields fall back to defaults;
// only a nil event is rejected.
func (b *Builder) Build(raw RawEvent) (*Record, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedInput)
	}

	activation := raw.getObject("activation")
	alarm := raw.getObject("alarm")
	origin := raw.getObject("origin")
	lastValues := raw.getObject("evaluation").getObject("last_values")

	now := b.now().UTC().Format(TimestampLayout)
	rec := &Record{
		Timestamp:   now,
		ProcessedAt: now,
		DeviceID:    origin.getString("id", unknownDeviceID),
		AlarmRule:   alarm.getString("rule", ""),
		AlarmGroup:  alarm.getString("group", ""),
		AlarmType:   alarm.getString("type", ""),
		Detections:  activation.getInt("detections", 0),
		Instance:    raw.getString("instance", ""),
		Severity:    raw.getInt("severity", 0),
		Status:      StatusInactive,
		Source:      origin.getString("source", ""),
	}

	if completed, ok := activation.getInt64("completed"); ok {
		rec.ActivationTime = &completed
	}

	// state 1.0 counts as active, "1" does not.
	if state, ok := raw.getFloat("state"); ok && state == 1 {
		rec.Status = StatusActive
	}

	if v, ok := lastValues.getFloat(valueKey); ok {
		rec.AlarmValue = &v
		if res := b.detector.Check(rec.AlarmValue); res != nil {
			rec.ThresholdExceeded = &res.Exceeded
			rec.ThresholdValue = &res.Threshold
			rec.ThresholdDifference = &res.Difference
		}
	}

	return rec, nil
}
