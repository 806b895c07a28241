// internal/anomaly/detector.go
package anomaly

const DefaultThreshold = 60.0

// Result describes how a measured value relates to the configured threshold.
type Result struct {
	Exceeded   bool
	Threshold  float64
	Difference float64
}

// Detector compares alarm values against a fixed threshold. It holds no
// mutable state and may be shared between goroutines.
type Detector struct {
	threshold float64
}

func NewDetector(threshold float64) *Detector {
	return &Detector{threshold: threshold}
}

func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Check evaluates value with a strict greater-than comparison.
// A nil value yields a nil Result.
func (d *Detector) Check(value *float64) *Result {
	if value == nil {
		return nil
	}
	return &Result{
		Exceeded:   *value > d.threshold,
		Threshold:  d.threshold,
		Difference: *value - d.threshold,
	}
}
