package models

import (
	"fmt"
	"time"
)

// ApprovalThreshold is the minimum yield percentage for a reading to be approved.
const ApprovalThreshold = 70.0

// SampleTypeChemical is the only sample classification handled by the lab today.
const SampleTypeChemical = "Chemical"

// Equipment enumerates the instruments that report readings.
type Equipment string

const (
	EquipmentPHMeter            Equipment = "ph_meter"
	EquipmentSpectrophotometer  Equipment = "spectrophotometer"
	EquipmentCentrifuge         Equipment = "centrifuge"
	EquipmentHematologyAnalyzer Equipment = "hematology_analyzer"
)

// AllEquipment lists every known instrument in a stable order.
var AllEquipment = []Equipment{
	EquipmentPHMeter,
	EquipmentSpectrophotometer,
	EquipmentCentrifuge,
	EquipmentHematologyAnalyzer,
}

// Valid reports whether e is one of the known instruments.
func (e Equipment) Valid() bool {
	for _, known := range AllEquipment {
		if e == known {
			return true
		}
	}
	return false
}

// DisplayName returns a human friendly instrument name for alert messages.
func (e Equipment) DisplayName() string {
	switch e {
	case EquipmentPHMeter:
		return "pH meter"
	case EquipmentSpectrophotometer:
		return "spectrophotometer"
	case EquipmentCentrifuge:
		return "centrifuge"
	case EquipmentHematologyAnalyzer:
		return "hematology analyzer"
	default:
		return string(e)
	}
}

// Shift enumerates the lab work shifts.
type Shift string

const (
	ShiftMorning   Shift = "morning"
	ShiftAfternoon Shift = "afternoon"
	ShiftNight     Shift = "night"
)

// AllShifts lists the shifts in chronological order.
var AllShifts = []Shift{ShiftMorning, ShiftAfternoon, ShiftNight}

// Valid reports whether s is one of the known shifts.
func (s Shift) Valid() bool {
	return s == ShiftMorning || s == ShiftAfternoon || s == ShiftNight
}

// RecordStatus is the pass/repeat classification of a reading.
type RecordStatus string

const (
	StatusApproved RecordStatus = "Approved"
	StatusRepeat   RecordStatus = "Repeat"
)

// DeriveStatus classifies a yield percentage.
func DeriveStatus(yieldPercent float64) RecordStatus {
	if yieldPercent >= ApprovalThreshold {
		return StatusApproved
	}
	return StatusRepeat
}

// LabRecord is one equipment reading persisted by the processor.
type LabRecord struct {
	RecordID         string       `db:"record_id" json:"record_id"`
	NaturalKey       string       `db:"natural_key" json:"natural_key"`
	Date             time.Time    `db:"date" json:"date"`
	Equipment        Equipment    `db:"equipment" json:"equipment"`
	Shift            Shift        `db:"shift" json:"shift"`
	SamplesProcessed int          `db:"samples_processed" json:"samples_processed"`
	YieldPercent     float64      `db:"yield_percent" json:"yield_percent"`
	Comment          string       `db:"comment" json:"comment"`
	SampleType       string       `db:"sample_type" json:"sample_type"`
	Status           RecordStatus `db:"status" json:"status"`
	ProcessedAt      time.Time    `db:"processed_at" json:"processed_at"`
}

// BuildNaturalKey derives the stable identity used to make ingestion idempotent.
// rowIdentity is the explicit source id when present, otherwise the row position.
func BuildNaturalKey(date time.Time, equipment Equipment, shift Shift, rowIdentity string) string {
	return fmt.Sprintf("%s|%s|%s|%s", date.Format(DateLayout), equipment, shift, rowIdentity)
}

// DateLayout is the canonical calendar date format used across the pipeline.
const DateLayout = "2006-01-02"
