package processing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mamadbah2/labpulse/internal/domain/models"
	"github.com/mamadbah2/labpulse/internal/source"
)

const (
	fieldDate      = "date"
	fieldEquipment = "equipment"
	fieldShift     = "shift"
	fieldSamples   = "samples_processed"
	fieldYield     = "yield_percent"
	fieldComment   = "comment"
	fieldID        = "id"
)

var headerAliases = map[string]string{
	"date":                fieldDate,
	"fecha":               fieldDate,
	"equipment":           fieldEquipment,
	"equipo":              fieldEquipment,
	"shift":               fieldShift,
	"turno":               fieldShift,
	"samples_processed":   fieldSamples,
	"samples":             fieldSamples,
	"muestras_procesadas": fieldSamples,
	"yield_percent":       fieldYield,
	"yield":               fieldYield,
	"rendimiento":         fieldYield,
	"comment":             fieldComment,
	"comentario":          fieldComment,
	"id":                  fieldID,
	"record_id":           fieldID,
}

// Accepted source date layouts, tried in order. Day-first wins for ambiguous
// slash dates.
var dateLayouts = []string{
	"02/01/2006",
	models.DateLayout,
	"01-02-2006",
	"02-01-2006",
}

var shiftAliases = map[string]models.Shift{
	"morning":   models.ShiftMorning,
	"manana":    models.ShiftMorning,
	"afternoon": models.ShiftAfternoon,
	"tarde":     models.ShiftAfternoon,
	"night":     models.ShiftNight,
	"noche":     models.ShiftNight,
	"madrugada": models.ShiftNight,
}

var commentAliases = map[string]string{
	"ok":            "ok",
	"bien":          "ok",
	"normal":        "ok",
	"error":         "error",
	"fallo":         "error",
	"problema":      "error",
	"maintenance":   "maintenance",
	"mantenimiento": "maintenance",
	"calibration":   "calibration",
	"calibracion":   "calibration",
}

// canonicalFields renames header aliases to their canonical field names.
// Unknown columns are dropped.
func canonicalFields(raw map[string]string) map[string]string {
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		if canonical, ok := headerAliases[key]; ok {
			if _, taken := fields[canonical]; taken && key != canonical {
				continue
			}
			fields[canonical] = strings.TrimSpace(value)
		}
	}
	return fields
}

func parseDate(value string) (time.Time, error) {
	value = strings.ReplaceAll(value, " ", "")
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

func parseShift(value string) (models.Shift, error) {
	if s, ok := shiftAliases[models.FoldName(value)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown shift %q", value)
}

func normalizeComment(value string) string {
	cleaned := models.CleanText(value)
	if mapped, ok := commentAliases[cleaned]; ok {
		return mapped
	}
	return cleaned
}

func parseNumber(value string) (float64, error) {
	value = strings.TrimSuffix(strings.TrimSpace(value), "%")
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", ".")
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", value)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number: %q", value)
	}
	return n, nil
}

func parseSamples(value string) (int, error) {
	n, err := parseNumber(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative, got %v", n)
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("must be a whole number, got %v", n)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("out of range: %v", n)
	}
	return int(n), nil
}

func parseYield(value string) (float64, error) {
	n, err := parseNumber(value)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("must be between 0 and 100, got %v", n)
	}
	return n, nil
}

// toRecord validates one raw row and builds the record to persist.
func toRecord(row source.Row) (*models.LabRecord, *models.MalformedRecordError) {
	fields := canonicalFields(row.Fields)
	reject := func(field string, err error) *models.MalformedRecordError {
		return &models.MalformedRecordError{Row: row.Index, Field: field, Reason: err.Error()}
	}

	for _, required := range []string{fieldDate, fieldEquipment, fieldShift, fieldSamples, fieldYield} {
		if fields[required] == "" {
			return nil, &models.MalformedRecordError{Row: row.Index, Field: required, Reason: "missing value"}
		}
	}

	date, err := parseDate(fields[fieldDate])
	if err != nil {
		return nil, reject(fieldDate, err)
	}
	equipment, err := models.ParseEquipment(fields[fieldEquipment])
	if err != nil {
		return nil, reject(fieldEquipment, err)
	}
	shift, err := parseShift(fields[fieldShift])
	if err != nil {
		return nil, reject(fieldShift, err)
	}
	samples, err := parseSamples(fields[fieldSamples])
	if err != nil {
		return nil, reject(fieldSamples, err)
	}
	yield, err := parseYield(fields[fieldYield])
	if err != nil {
		return nil, reject(fieldYield, err)
	}

	identity := fields[fieldID]
	if identity == "" {
		identity = strconv.Itoa(row.Index)
	}

	return &models.LabRecord{
		NaturalKey:       models.BuildNaturalKey(date, equipment, shift, identity),
		Date:             date,
		Equipment:        equipment,
		Shift:            shift,
		SamplesProcessed: samples,
		YieldPercent:     yield,
		Comment:          normalizeComment(fields[fieldComment]),
		SampleType:       models.SampleTypeChemical,
		Status:           models.DeriveStatus(yield),
	}, nil
}
