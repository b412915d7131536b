package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mamadbah2/labpulse/internal/config"
	"github.com/mamadbah2/labpulse/internal/domain/models"
)

// Thresholds are the tier boundaries used to classify a window.
type Thresholds struct {
	CriticalYield           float64
	MediumYield             float64
	CriticalRepeatRate      float64
	MediumRepeatRate        float64
	MinSamples              int
	ShiftImbalanceThreshold float64
	ExpectedEquipment       []models.Equipment
}

// DefaultThresholds returns the lab's standard alerting limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalYield:           60,
		MediumYield:             75,
		CriticalRepeatRate:      0.30,
		MediumRepeatRate:        0.20,
		MinSamples:              50,
		ShiftImbalanceThreshold: 0.40,
		ExpectedEquipment:       append([]models.Equipment(nil), models.AllEquipment...),
	}
}

// ThresholdsFromConfig converts monitor settings into Thresholds.
func ThresholdsFromConfig(cfg config.MonitorConfig) Thresholds {
	t := Thresholds{
		CriticalYield:           cfg.CriticalYield,
		MediumYield:             cfg.MediumYield,
		CriticalRepeatRate:      cfg.CriticalRepeatRate,
		MediumRepeatRate:        cfg.MediumRepeatRate,
		MinSamples:              cfg.MinSamples,
		ShiftImbalanceThreshold: cfg.ShiftImbalanceThreshold,
	}
	for _, name := range cfg.ExpectedEquipment {
		if e, err := models.ParseEquipment(name); err == nil {
			t.ExpectedEquipment = append(t.ExpectedEquipment, e)
		}
	}
	if len(t.ExpectedEquipment) == 0 {
		t.ExpectedEquipment = append(t.ExpectedEquipment, models.AllEquipment...)
	}
	return t
}

// computeSnapshot aggregates the records of a window.
func computeSnapshot(records []models.LabRecord, windowStart time.Time, expected []models.Equipment) models.MetricSnapshot {
	snapshot := models.MetricSnapshot{
		WindowStart:  windowStart,
		TotalRecords: len(records),
		ShiftCounts:  make(map[models.Shift]int, len(models.AllShifts)),
	}
	for _, shift := range models.AllShifts {
		snapshot.ShiftCounts[shift] = 0
	}
	if len(records) == 0 {
		return snapshot
	}

	seen := make(map[models.Equipment]bool)
	var yieldSum float64
	repeats := 0
	for _, r := range records {
		yieldSum += r.YieldPercent
		if r.Status == models.StatusRepeat {
			repeats++
		}
		snapshot.TotalSamples += r.SamplesProcessed
		snapshot.ShiftCounts[r.Shift]++
		seen[r.Equipment] = true
	}

	snapshot.AvgYield = yieldSum / float64(len(records))
	snapshot.RepeatRate = float64(repeats) / float64(len(records))

	for e := range seen {
		snapshot.EquipmentSeen = append(snapshot.EquipmentSeen, e)
	}
	sort.Slice(snapshot.EquipmentSeen, func(i, j int) bool { return snapshot.EquipmentSeen[i] < snapshot.EquipmentSeen[j] })

	for _, e := range expected {
		if !seen[e] {
			snapshot.MissingEquipment = append(snapshot.MissingEquipment, e)
		}
	}

	minCount, maxCount := -1, 0
	for _, shift := range models.AllShifts {
		n := snapshot.ShiftCounts[shift]
		if minCount < 0 || n < minCount {
			minCount = n
		}
		if n > maxCount {
			maxCount = n
		}
	}
	snapshot.ShiftImbalance = float64(maxCount-minCount) / float64(len(records))

	snapshot.ByEquipment = breakdownByEquipment(records)
	snapshot.ByShift, snapshot.BestShift = breakdownByShift(records)
	snapshot.Outliers = detectOutliers(records)

	return snapshot
}

// classify applies the tiers most severe first. The first tier with any
// firing condition produces the alerts and lower tiers are not consulted.
func classify(s models.MetricSnapshot, t Thresholds, now time.Time) []models.Alert {
	if s.TotalRecords == 0 {
		return nil
	}

	newAlert := func(severity models.Severity, rule models.AlertRule, equipment models.Equipment, message string) models.Alert {
		return models.Alert{
			ID:        uuid.NewString(),
			Severity:  severity,
			Rule:      rule,
			Equipment: equipment,
			Message:   message,
			Snapshot:  s,
			RaisedAt:  now,
		}
	}

	var reasons []string
	if s.AvgYield < t.CriticalYield {
		reasons = append(reasons, fmt.Sprintf("average yield %.1f%% is below %.0f%%", s.AvgYield, t.CriticalYield))
	}
	if s.RepeatRate > t.CriticalRepeatRate {
		reasons = append(reasons, fmt.Sprintf("repeat rate %.1f%% exceeds %.0f%%", s.RepeatRate*100, t.CriticalRepeatRate*100))
	}
	if len(reasons) > 0 || len(s.MissingEquipment) > 0 {
		var alerts []models.Alert
		if len(reasons) > 0 {
			alerts = append(alerts, newAlert(models.SeverityCritical, models.RuleYieldQuality, "",
				"Critical lab quality: "+strings.Join(reasons, "; ")))
		}
		for _, e := range s.MissingEquipment {
			alerts = append(alerts, newAlert(models.SeverityCritical, models.RuleEquipmentOutOfService, e,
				fmt.Sprintf("Equipment out of service: no %s readings since %s", e.DisplayName(), s.WindowStart.Format(models.DateLayout))))
		}
		return alerts
	}

	rule := models.RuleYieldQuality
	if s.AvgYield < t.MediumYield {
		reasons = append(reasons, fmt.Sprintf("average yield %.1f%% is below %.0f%%", s.AvgYield, t.MediumYield))
	}
	if s.RepeatRate >= t.MediumRepeatRate {
		reasons = append(reasons, fmt.Sprintf("repeat rate %.1f%% is at or above %.0f%%", s.RepeatRate*100, t.MediumRepeatRate*100))
	}
	if s.TotalSamples < t.MinSamples {
		if len(reasons) == 0 {
			rule = models.RuleThroughput
		}
		reasons = append(reasons, fmt.Sprintf("only %d samples processed, expected at least %d", s.TotalSamples, t.MinSamples))
	}
	if len(reasons) > 0 {
		return []models.Alert{newAlert(models.SeverityMedium, rule, "", "Lab performance degraded: "+strings.Join(reasons, "; "))}
	}

	if s.ShiftImbalance > t.ShiftImbalanceThreshold {
		return []models.Alert{newAlert(models.SeverityWarning, models.RuleShiftImbalance, "",
			fmt.Sprintf("Shift workload imbalance %.0f%% exceeds %.0f%% (morning %d, afternoon %d, night %d)",
				s.ShiftImbalance*100, t.ShiftImbalanceThreshold*100,
				s.ShiftCounts[models.ShiftMorning], s.ShiftCounts[models.ShiftAfternoon], s.ShiftCounts[models.ShiftNight]))}
	}

	return nil
}
