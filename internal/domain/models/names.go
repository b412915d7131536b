package models

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var equipmentAliases = map[string]Equipment{
	"ph meter":                  EquipmentPHMeter,
	"phmeter":                   EquipmentPHMeter,
	"phmetro":                   EquipmentPHMeter,
	"ph metro":                  EquipmentPHMeter,
	"spectrophotometer":         EquipmentSpectrophotometer,
	"espectrofotometro":         EquipmentSpectrophotometer,
	"centrifuge":                EquipmentCentrifuge,
	"centrifuga":                EquipmentCentrifuge,
	"hematology analyzer":       EquipmentHematologyAnalyzer,
	"hematology analyser":       EquipmentHematologyAnalyzer,
	"analizador hematologico":   EquipmentHematologyAnalyzer,
	"analizador de hematologia": EquipmentHematologyAnalyzer,
}

// CleanText lowercases, trims and strips diacritics.
func CleanText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// FoldName cleans s and folds separators so "pH-Meter", "ph_meter" and
// "PH Meter" compare equal.
func FoldName(s string) string {
	s = CleanText(s)
	s = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ParseEquipment maps a free-form instrument name, in English or Spanish, to
// its canonical Equipment.
func ParseEquipment(value string) (Equipment, error) {
	key := FoldName(value)
	if e, ok := equipmentAliases[key]; ok {
		return e, nil
	}
	if e := Equipment(strings.ReplaceAll(key, " ", "_")); e.Valid() {
		return e, nil
	}
	return "", fmt.Errorf("unknown equipment %q", value)
}
