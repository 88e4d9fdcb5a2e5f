// Package stats computes descriptive statistics, trend classification, and
// anomaly detection over KPI value series. All series arrive most-recent-first,
// the order the entry queries return them in.
package stats

import (
	"math"
	"sort"

	mstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// Trend direction labels
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// TrendThresholdPct is the split-half percentage change beyond which a
// series classifies as up or down rather than stable. Business calibration,
// not derived; tune via config, not here.
const TrendThresholdPct = 5.0

// RoundPrecision is the decimal precision of every reported statistic.
const RoundPrecision = 4

// Summary is the ephemeral statistical profile of a KPI value series.
// All pointer fields are nil when the series is too short to support them.
type Summary struct {
	CurrentValue    *float64 `json:"current_value"`
	Mean            *float64 `json:"mean"`
	Median          *float64 `json:"median"`
	StdDev          *float64 `json:"std_dev"`
	MinValue        *float64 `json:"min_value"`
	MaxValue        *float64 `json:"max_value"`
	Percentile25    *float64 `json:"percentile_25"`
	Percentile75    *float64 `json:"percentile_75"`
	Percentile90    *float64 `json:"percentile_90"`
	Trend           *string  `json:"trend"`
	TrendPercentage *float64 `json:"trend_percentage"`
	Slope           *float64 `json:"slope"`
	AllTimeHigh     *float64 `json:"all_time_high,omitempty"`
	AllTimeLow      *float64 `json:"all_time_low,omitempty"`
	DataPoints      int      `json:"data_points"`
}

// Round truncates x to the reporting precision using round-half-to-even,
// matching the calculation engine's pinned rounding mode.
func Round(x float64) float64 {
	const scale = 1e4 // 10^RoundPrecision
	return math.RoundToEven(x*scale) / scale
}

func roundPtr(x float64) *float64 {
	r := Round(x)
	return &r
}

// Summarize computes the statistical summary of a most-recent-first value
// series. An empty series yields DataPoints == 0 with every field nil.
// Standard deviation is the sample deviation and needs at least 2 points.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{DataPoints: 0}
	}

	summary := Summary{DataPoints: len(values)}
	summary.CurrentValue = roundPtr(values[0])

	mean, _ := mstats.Mean(values)
	median, _ := mstats.Median(values)
	minValue, _ := mstats.Min(values)
	maxValue, _ := mstats.Max(values)
	summary.Mean = roundPtr(mean)
	summary.Median = roundPtr(median)
	summary.MinValue = roundPtr(minValue)
	summary.MaxValue = roundPtr(maxValue)

	if len(values) >= 2 {
		stdDev, _ := mstats.StandardDeviationSample(values)
		summary.StdDev = roundPtr(stdDev)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	summary.Percentile25 = percentile(sorted, 25)
	summary.Percentile75 = percentile(sorted, 75)
	summary.Percentile90 = percentile(sorted, 90)

	summary.Trend, summary.TrendPercentage = classifyTrend(values)
	summary.Slope = regressionSlope(values)

	return summary
}

// percentile interpolates linearly between order statistics at
// index = p/100 * (n-1). Neither stats library's quantile method matches
// this exactly, so it stays hand-computed against sorted input.
func percentile(sorted []float64, p float64) *float64 {
	if len(sorted) == 0 {
		return nil
	}
	index := p / 100 * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return roundPtr(sorted[len(sorted)-1])
	}
	weight := index - float64(lower)
	return roundPtr(sorted[lower]*(1-weight) + sorted[upper]*weight)
}

// classifyTrend splits the series at its midpoint and compares the recent
// half's average against the older half's. When the older average is zero
// the percentage change is undefined; the classification falls back to the
// sign of the recent average with a fixed ±100% figure.
func classifyTrend(values []float64) (*string, *float64) {
	if len(values) < 2 {
		return nil, nil
	}

	mid := len(values) / 2
	var recentAvg float64
	if mid > 0 {
		recentAvg, _ = mstats.Mean(values[:mid])
	} else {
		recentAvg = values[0]
	}
	olderAvg, _ := mstats.Mean(values[mid:])

	if olderAvg != 0 {
		pct := math.RoundToEven((recentAvg-olderAvg)/math.Abs(olderAvg)*100*100) / 100
		direction := TrendStable
		if pct > TrendThresholdPct {
			direction = TrendUp
		} else if pct < -TrendThresholdPct {
			direction = TrendDown
		}
		return &direction, &pct
	}

	switch {
	case recentAvg > 0:
		direction, pct := TrendUp, 100.0
		return &direction, &pct
	case recentAvg < 0:
		direction, pct := TrendDown, -100.0
		return &direction, &pct
	default:
		direction, pct := TrendStable, 0.0
		return &direction, &pct
	}
}

// regressionSlope fits a least-squares line through the chronological
// series (index as x) and reports its slope per entry. Supplemental trend
// detail only; the split-half classification above stays authoritative.
func regressionSlope(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}
	xs := make([]float64, len(values))
	ys := make([]float64, len(values))
	for i := range values {
		xs[i] = float64(i)
		ys[i] = values[len(values)-1-i] // oldest first
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return roundPtr(beta)
}
