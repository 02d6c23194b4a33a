package domain

import (
	"strings"
	"time"
)

// ActivityType represents the transport category of a logged activity.
type ActivityType string

// Known transport categories.
const (
	ActivityCar     ActivityType = "car"
	ActivityBus     ActivityType = "bus"
	ActivityTrain   ActivityType = "train"
	ActivityMetro   ActivityType = "metro"
	ActivityBicycle ActivityType = "bicycle"
	ActivityWalk    ActivityType = "walk"
	ActivityPlane   ActivityType = "plane"
	ActivityFerry   ActivityType = "ferry"
	ActivityScooter ActivityType = "scooter"
)

// ActivityTypes lists all known categories in a stable order.
//
//nolint:gochecknoglobals // Static enum listing
var ActivityTypes = []ActivityType{
	ActivityCar,
	ActivityBus,
	ActivityTrain,
	ActivityMetro,
	ActivityBicycle,
	ActivityWalk,
	ActivityPlane,
	ActivityFerry,
	ActivityScooter,
}

// typeAliases maps common source spellings to canonical categories.
// Checked after exact and substring matching in ParseActivityType.
//
//nolint:gochecknoglobals // Static lookup table
var typeAliases = map[string]ActivityType{
	"bike":       ActivityBicycle,
	"cycling":    ActivityBicycle,
	"subway":     ActivityMetro,
	"underground": ActivityMetro,
	"rail":       ActivityTrain,
	"railway":    ActivityTrain,
	"automobile": ActivityCar,
	"vehicle":    ActivityCar,
	"auto":       ActivityCar,
	"flight":     ActivityPlane,
	"airplane":   ActivityPlane,
	"walking":    ActivityWalk,
	"foot":       ActivityWalk,
	"boat":       ActivityFerry,
}

// ParseActivityType resolves a raw source string to a known category.
// Matching is a three-stage heuristic, in order:
//  1. exact case-insensitive match against category names,
//  2. substring containment ("minibus" matches bus),
//  3. the fixed alias table.
//
// Returns ("", false) if nothing matches. Unknown types are tolerated by
// the import validator as warnings, not errors.
func ParseActivityType(raw string) (ActivityType, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}

	for _, t := range ActivityTypes {
		if s == string(t) {
			return t, true
		}
	}

	for _, t := range ActivityTypes {
		if strings.Contains(s, string(t)) {
			return t, true
		}
	}

	if t, ok := typeAliases[s]; ok {
		return t, true
	}

	return "", false
}

// Activity is a single logged transport event, the canonical entity owned
// by the store. Distances, durations, and emissions are always non-negative.
type Activity struct {
	ID              string       `json:"id"`
	Type            ActivityType `json:"type"`
	DistanceKm      float64      `json:"distance_km"`
	DurationMinutes int          `json:"duration_minutes"`
	CO2EmissionKg   float64      `json:"co2_emission_kg"`
	Timestamp       time.Time    `json:"timestamp"`
	Notes           string       `json:"notes,omitempty"`
}
