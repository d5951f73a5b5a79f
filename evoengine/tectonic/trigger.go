package tectonic

// DefaultTriggerThreshold is the fractional degradation of the primary
// metric that warrants an optimization attempt.
const DefaultTriggerThreshold = 0.10

// ShouldTrigger reports whether the live primary metric has degraded far
// enough below the recorded baseline to warrant a shift. Pure predicate, no
// side effects; meant to be polled by an external scheduler. A non-positive
// baseline never triggers, there is nothing sound to compare against. A
// non-positive threshold falls back to the default.
func ShouldTrigger(baselineMetric, currentMetric, threshold float64) bool {
	if baselineMetric <= 0 {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultTriggerThreshold
	}
	degradation := (baselineMetric - currentMetric) / baselineMetric
	return degradation >= threshold
}
