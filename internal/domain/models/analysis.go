package models

import "time"

// EquipmentStats summarizes the readings of one instrument in a window.
// Rank 1 is the instrument with the highest average yield.
type EquipmentStats struct {
	Equipment    Equipment `json:"equipment" bson:"equipment"`
	Rank         int       `json:"rank" bson:"rank"`
	Records      int       `json:"records" bson:"records"`
	UsagePercent float64   `json:"usage_percent" bson:"usage_percent"`
	AvgYield     float64   `json:"avg_yield" bson:"avg_yield"`
	YieldStdDev  float64   `json:"yield_std_dev" bson:"yield_std_dev"`
	MinYield     float64   `json:"min_yield" bson:"min_yield"`
	MaxYield     float64   `json:"max_yield" bson:"max_yield"`
	TotalSamples int       `json:"total_samples" bson:"total_samples"`
	AvgSamples   float64   `json:"avg_samples" bson:"avg_samples"`
}

// ShiftStats summarizes the readings of one shift in a window.
type ShiftStats struct {
	Shift        Shift   `json:"shift" bson:"shift"`
	Records      int     `json:"records" bson:"records"`
	UsagePercent float64 `json:"usage_percent" bson:"usage_percent"`
	AvgYield     float64 `json:"avg_yield" bson:"avg_yield"`
	YieldStdDev  float64 `json:"yield_std_dev" bson:"yield_std_dev"`
	MinYield     float64 `json:"min_yield" bson:"min_yield"`
	MaxYield     float64 `json:"max_yield" bson:"max_yield"`
	TotalSamples int     `json:"total_samples" bson:"total_samples"`
}

// OutlierMetric names the measurement an outlier was detected on.
type OutlierMetric string

const (
	OutlierYield   OutlierMetric = "yield_percent"
	OutlierSamples OutlierMetric = "samples_processed"
)

// Outlier is a reading outside the expected range of its window. Yields use
// the 1.5 IQR fences; sample counts use three standard deviations.
type Outlier struct {
	NaturalKey string        `json:"natural_key" bson:"natural_key"`
	Date       time.Time     `json:"date" bson:"date"`
	Equipment  Equipment     `json:"equipment" bson:"equipment"`
	Shift      Shift         `json:"shift" bson:"shift"`
	Metric     OutlierMetric `json:"metric" bson:"metric"`
	Value      float64       `json:"value" bson:"value"`
	Direction  string        `json:"direction" bson:"direction"`
	LowerBound float64       `json:"lower_bound" bson:"lower_bound"`
	UpperBound float64       `json:"upper_bound" bson:"upper_bound"`
}

// RecordFilter narrows a record query. Zero values leave a bound open.
type RecordFilter struct {
	From      time.Time
	To        time.Time
	Equipment Equipment
}

// DataSummary is the metric breakdown of the records matching a filter.
type DataSummary struct {
	StartDate   string         `json:"start_date,omitempty"`
	EndDate     string         `json:"end_date,omitempty"`
	Equipment   Equipment      `json:"equipment,omitempty"`
	FirstDate   string         `json:"first_date,omitempty"`
	LastDate    string         `json:"last_date,omitempty"`
	DaysCovered int            `json:"days_covered"`
	Metrics     MetricSnapshot `json:"metrics"`
}
