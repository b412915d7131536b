package models

import "time"

// Severity is the tier of a monitor raised alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
)

// Rank orders severities from most (0) to least severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMedium:
		return 1
	case SeverityWarning:
		return 2
	default:
		return 3
	}
}

// AlertRule names the condition family that raised an alert.
type AlertRule string

const (
	RuleYieldQuality          AlertRule = "yield_quality"
	RuleEquipmentOutOfService AlertRule = "equipment_out_of_service"
	RuleThroughput            AlertRule = "throughput"
	RuleShiftImbalance        AlertRule = "shift_imbalance"
)

// MetricSnapshot captures the window metrics an alert was computed from.
type MetricSnapshot struct {
	WindowStart      time.Time     `json:"window_start" bson:"window_start"`
	TotalRecords     int           `json:"total_records" bson:"total_records"`
	AvgYield         float64       `json:"avg_yield" bson:"avg_yield"`
	RepeatRate       float64       `json:"repeat_rate" bson:"repeat_rate"`
	TotalSamples     int           `json:"total_samples" bson:"total_samples"`
	EquipmentSeen    []Equipment   `json:"equipment_seen" bson:"equipment_seen"`
	MissingEquipment []Equipment   `json:"missing_equipment,omitempty" bson:"missing_equipment,omitempty"`
	ShiftCounts      map[Shift]int `json:"shift_counts" bson:"shift_counts"`
	ShiftImbalance   float64       `json:"shift_imbalance" bson:"shift_imbalance"`

	ByEquipment []EquipmentStats `json:"by_equipment,omitempty" bson:"by_equipment,omitempty"`
	ByShift     []ShiftStats     `json:"by_shift,omitempty" bson:"by_shift,omitempty"`
	BestShift   Shift            `json:"best_shift,omitempty" bson:"best_shift,omitempty"`
	Outliers    []Outlier        `json:"outliers,omitempty" bson:"outliers,omitempty"`
}

// Alert is raised by the monitor and dispatched by the notifier.
type Alert struct {
	ID        string         `json:"id" bson:"_id"`
	Severity  Severity       `json:"severity" bson:"severity"`
	Rule      AlertRule      `json:"rule" bson:"rule"`
	Equipment Equipment      `json:"equipment,omitempty" bson:"equipment,omitempty"`
	Message   string         `json:"message" bson:"message"`
	Snapshot  MetricSnapshot `json:"snapshot" bson:"snapshot"`
	RaisedAt  time.Time      `json:"raised_at" bson:"raised_at"`
}

// Delivery is the outcome of sending one alert through one channel.
type Delivery struct {
	AlertID   string `json:"alert_id"`
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// CycleResult summarizes one monitor invocation.
type CycleResult struct {
	StartedAt  time.Time      `json:"started_at"`
	Snapshot   MetricSnapshot `json:"snapshot"`
	Alerts     []Alert        `json:"alerts"`
	Deliveries []Delivery     `json:"deliveries,omitempty"`
	Error      string         `json:"error,omitempty"`
}
