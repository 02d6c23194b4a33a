package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/carbonstep/carbonstep-server/internal/domain"
)

// Logical field names resolved through the alias table. Every component goes
// through these resolvers instead of reading RawRecord keys directly, so
// alias handling stays in one place.
const (
	FieldType     = "type"
	FieldDistance = "distance"
	FieldCO2      = "co2"
	FieldDate     = "date"
	FieldTime     = "time"
	FieldDuration = "duration"
	FieldID       = "id"
	FieldNotes    = "notes"
)

// fieldAliases maps each logical field to its accepted source key variants,
// in priority order. The first present, non-empty variant wins.
//
//nolint:gochecknoglobals // Static lookup table
var fieldAliases = map[string][]string{
	FieldType:     {"type", "activity_type", "transport_type", "category", "mode"},
	FieldDistance: {"distance", "distance_km", "distancekm", "distance (km)", "km"},
	FieldCO2:      {"co2", "co2_emission_kg", "co2_emission", "co2emission", "co2_kg", "emission"},
	FieldDate:     {"date", "timestamp", "datetime", "created_at"},
	FieldTime:     {"time", "time_of_day"},
	FieldDuration: {"duration", "duration_minutes", "durationminutes", "minutes"},
	FieldID:       {"id", "activity_id"},
	FieldNotes:    {"notes", "note", "description", "comment"},
}

// datePatterns are tried in order after ISO-8601 parsing fails.
// First successful parse wins.
//
//nolint:gochecknoglobals // Static lookup table
var datePatterns = []string{
	"2006-01-02", // yyyy-MM-dd
	"01/02/2006", // MM/dd/yyyy
	"02/01/2006", // dd/MM/yyyy
	"2006/01/02", // yyyy/MM/dd
	"02-01-2006", // dd-MM-yyyy
	"01-02-2006", // MM-dd-yyyy
}

// resolveRaw returns the first present, non-null variant of a logical field.
// Empty or whitespace-only strings count as null (CSV cells are never absent,
// only empty).
func resolveRaw(rec RawRecord, field string) (any, bool) {
	variants, ok := fieldAliases[field]
	if !ok {
		variants = []string{field}
	}
	for _, key := range variants {
		v, present := rec[key]
		if !present || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// ResolveString resolves a logical field to a trimmed string.
func ResolveString(rec RawRecord, field string) (string, bool) {
	v, ok := resolveRaw(rec, field)
	if !ok {
		return "", false
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// ResolveFloat resolves a logical field to a float64. Numeric values pass
// through; strings get a locale-agnostic parse. False on failure.
func ResolveFloat(rec RawRecord, field string) (float64, bool) {
	v, ok := resolveRaw(rec, field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ResolveInt resolves a logical field to an int. Doubles are rounded to the
// nearest integer; strings are parsed as int first, then as a double.
func ResolveInt(rec RawRecord, field string) (int, bool) {
	v, ok := resolveRaw(rec, field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(math.Round(n)), true
	case float32:
		return int(math.Round(float64(n))), true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(math.Round(f)), true
		}
		return 0, false
	}
	return 0, false
}

// ResolveTime resolves the date field to a timestamp. Parse order:
// ISO-8601 first, then a combined "<date> <time>" parse when a separate
// time field exists, then the fixed date pattern list.
func ResolveTime(rec RawRecord) (time.Time, bool) {
	v, ok := resolveRaw(rec, FieldDate)
	if !ok {
		return time.Time{}, false
	}
	s, isStr := v.(string)
	if !isStr {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}

	if timeStr, hasTime := ResolveString(rec, FieldTime); hasTime {
		combined := s + " " + timeStr
		for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
			if t, err := time.Parse(layout, combined); err == nil {
				return t, true
			}
		}
	}

	for _, layout := range datePatterns {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ResolveType resolves the transport category. raw is the trimmed source
// value ("" only when the field is absent — a present non-string value is
// stringified so it reads as an unknown type, not a missing field); ok is
// false when raw maps to no known category.
func ResolveType(rec RawRecord) (t domain.ActivityType, raw string, ok bool) {
	v, present := resolveRaw(rec, FieldType)
	if !present {
		return "", "", false
	}
	if s, isStr := v.(string); isStr {
		raw = strings.TrimSpace(s)
	} else {
		raw = fmt.Sprint(v)
	}

	t, ok = domain.ParseActivityType(raw)
	return t, raw, ok
}
