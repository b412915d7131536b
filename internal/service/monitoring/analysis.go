package monitoring

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/mamadbah2/labpulse/internal/domain/models"
)

const (
	iqrFence     = 1.5
	sampleSigmas = 3.0
)

type yieldSpread struct {
	avg, std, min, max float64
}

func describe(values stats.Float64Data) yieldSpread {
	var out yieldSpread
	if len(values) == 0 {
		return out
	}
	out.avg, _ = stats.Mean(values)
	out.min, _ = stats.Min(values)
	out.max, _ = stats.Max(values)
	// A single reading has no spread.
	if len(values) > 1 {
		out.std, _ = stats.StandardDeviationSample(values)
	}
	return out
}

func measurements(records []models.LabRecord) (yields, samples stats.Float64Data, totalSamples int) {
	yields = make(stats.Float64Data, 0, len(records))
	samples = make(stats.Float64Data, 0, len(records))
	for _, r := range records {
		yields = append(yields, r.YieldPercent)
		samples = append(samples, float64(r.SamplesProcessed))
		totalSamples += r.SamplesProcessed
	}
	return yields, samples, totalSamples
}

func percentOf(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// breakdownByEquipment returns per-instrument statistics ranked by average
// yield, best first.
func breakdownByEquipment(records []models.LabRecord) []models.EquipmentStats {
	groups := make(map[models.Equipment][]models.LabRecord)
	for _, r := range records {
		groups[r.Equipment] = append(groups[r.Equipment], r)
	}

	out := make([]models.EquipmentStats, 0, len(groups))
	for equipment, group := range groups {
		yields, samples, total := measurements(group)
		spread := describe(yields)
		avgSamples, _ := stats.Mean(samples)
		out = append(out, models.EquipmentStats{
			Equipment:    equipment,
			Records:      len(group),
			UsagePercent: percentOf(len(group), len(records)),
			AvgYield:     spread.avg,
			YieldStdDev:  spread.std,
			MinYield:     spread.min,
			MaxYield:     spread.max,
			TotalSamples: total,
			AvgSamples:   avgSamples,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgYield != out[j].AvgYield {
			return out[i].AvgYield > out[j].AvgYield
		}
		return out[i].Equipment < out[j].Equipment
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// breakdownByShift returns statistics for every shift with readings, in
// chronological order, and the shift with the highest average yield. Ties
// go to the earlier shift.
func breakdownByShift(records []models.LabRecord) ([]models.ShiftStats, models.Shift) {
	groups := make(map[models.Shift][]models.LabRecord, len(models.AllShifts))
	for _, r := range records {
		groups[r.Shift] = append(groups[r.Shift], r)
	}

	var (
		out  []models.ShiftStats
		best models.Shift
		top  = math.Inf(-1)
	)
	for _, shift := range models.AllShifts {
		group := groups[shift]
		if len(group) == 0 {
			continue
		}
		yields, _, total := measurements(group)
		spread := describe(yields)
		out = append(out, models.ShiftStats{
			Shift:        shift,
			Records:      len(group),
			UsagePercent: percentOf(len(group), len(records)),
			AvgYield:     spread.avg,
			YieldStdDev:  spread.std,
			MinYield:     spread.min,
			MaxYield:     spread.max,
			TotalSamples: total,
		})
		if spread.avg > top {
			top = spread.avg
			best = shift
		}
	}
	return out, best
}

// detectOutliers flags yields outside the Tukey fences and sample counts more
// than three standard deviations from the window mean.
func detectOutliers(records []models.LabRecord) []models.Outlier {
	if len(records) < 2 {
		return nil
	}
	yields, samples, _ := measurements(records)

	var out []models.Outlier
	if q, err := stats.Quartile(yields); err == nil {
		iqr := q.Q3 - q.Q1
		lower, upper := q.Q1-iqrFence*iqr, q.Q3+iqrFence*iqr
		for _, r := range records {
			if dir, ok := outside(r.YieldPercent, lower, upper); ok {
				out = append(out, newOutlier(r, models.OutlierYield, r.YieldPercent, dir, lower, upper))
			}
		}
	}

	mean, _ := stats.Mean(samples)
	std, _ := stats.StandardDeviationSample(samples)
	lower, upper := math.Max(0, mean-sampleSigmas*std), mean+sampleSigmas*std
	for _, r := range records {
		value := float64(r.SamplesProcessed)
		if dir, ok := outside(value, lower, upper); ok {
			out = append(out, newOutlier(r, models.OutlierSamples, value, dir, lower, upper))
		}
	}
	return out
}

func outside(value, lower, upper float64) (string, bool) {
	switch {
	case value < lower:
		return "low", true
	case value > upper:
		return "high", true
	default:
		return "", false
	}
}

func newOutlier(r models.LabRecord, metric models.OutlierMetric, value float64, direction string, lower, upper float64) models.Outlier {
	return models.Outlier{
		NaturalKey: r.NaturalKey,
		Date:       r.Date,
		Equipment:  r.Equipment,
		Shift:      r.Shift,
		Metric:     metric,
		Value:      value,
		Direction:  direction,
		LowerBound: lower,
		UpperBound: upper,
	}
}
