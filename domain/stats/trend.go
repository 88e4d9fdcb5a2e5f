package stats

import "math"

// TrendResult describes a consecutive-direction run at the end of a series.
type TrendResult struct {
	Direction        string // "increasing", "decreasing", "stable"
	ConsecutiveCount int
	PercentageChange *float64 // overall change, oldest to newest
}

// Consecutive trend direction labels. Distinct from the split-half labels:
// these describe strict entry-over-entry movement.
const (
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionStable     = "stable"
)

// ConsecutiveTrend counts the strict increase/decrease run ending at the
// most recent entry. Input is most-recent-first; a tie breaks the run.
func ConsecutiveTrend(values []float64, minPoints int) TrendResult {
	if len(values) < minPoints {
		return TrendResult{Direction: DirectionStable}
	}

	// Chronological order, oldest first
	chronological := make([]float64, len(values))
	for i, v := range values {
		chronological[len(values)-1-i] = v
	}

	// Walk backward from the newest entry; the run ends at the first
	// direction change or tie.
	increasing, decreasing := 0, 0
	for i := len(chronological) - 1; i > 0; i-- {
		if chronological[i] > chronological[i-1] {
			if decreasing > 0 {
				break
			}
			increasing++
		} else if chronological[i] < chronological[i-1] {
			if increasing > 0 {
				break
			}
			decreasing++
		} else {
			break
		}
	}

	var pctChange *float64
	if chronological[0] != 0 {
		pct := math.RoundToEven((chronological[len(chronological)-1]-chronological[0])/math.Abs(chronological[0])*100*100) / 100
		pctChange = &pct
	}

	switch {
	case increasing >= minPoints-1:
		return TrendResult{Direction: DirectionIncreasing, ConsecutiveCount: increasing + 1, PercentageChange: pctChange}
	case decreasing >= minPoints-1:
		return TrendResult{Direction: DirectionDecreasing, ConsecutiveCount: decreasing + 1, PercentageChange: pctChange}
	default:
		return TrendResult{Direction: DirectionStable, PercentageChange: pctChange}
	}
}

// AnomalyResult describes a std-dev threshold check of a single value.
type AnomalyResult struct {
	IsAnomaly       bool
	DeviationType   string // "high" or "low" when IsAnomaly
	StdDevsFromMean *float64
}

// DetectAnomaly flags a value more than thresholdStdDevs sample deviations
// from the mean. A nil or zero deviation means the series has no spread to
// judge against, so nothing is flagged.
func DetectAnomaly(value, mean float64, stdDev *float64, thresholdStdDevs float64) AnomalyResult {
	if stdDev == nil || *stdDev == 0 {
		return AnomalyResult{}
	}

	devs := math.RoundToEven((value-mean)/(*stdDev)*100) / 100
	result := AnomalyResult{StdDevsFromMean: &devs}

	if math.Abs(devs) > thresholdStdDevs {
		result.IsAnomaly = true
		if devs > 0 {
			result.DeviationType = "high"
		} else {
			result.DeviationType = "low"
		}
	}
	return result
}
