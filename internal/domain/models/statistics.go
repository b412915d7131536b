package models

import "time"

// DailyStatistics aggregates the readings of one calendar date.
type DailyStatistics struct {
	Date              time.Time `db:"date" json:"date"`
	TotalRecords      int       `db:"total_records" json:"total_records"`
	DistinctShifts    int       `db:"distinct_shifts" json:"distinct_shifts"`
	DistinctEquipment int       `db:"distinct_equipment" json:"distinct_equipment"`
	AvgYield          float64   `db:"avg_yield" json:"avg_yield"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
