package importer

import (
	"math"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/errors"
)

// minutesPerKm estimates duration when the source omits it.
const minutesPerKm = 3

// convert maps one validated record into a canonical activity. Fields are
// re-resolved defensively; optional fields fall back to soft defaults:
//
//   - type:      unknown or absent -> car
//   - duration:  absent -> distance * 3 minutes, rounded
//   - co2:       absent -> 0
//   - timestamp: absent -> current time
//   - id:        absent -> freshly generated
func (e *Engine) convert(rec RawRecord) (*domain.Activity, error) {
	distance, _ := ResolveFloat(rec, FieldDistance)

	duration, ok := ResolveInt(rec, FieldDuration)
	if !ok {
		duration = int(math.Round(distance * minutesPerKm))
	}

	co2, ok := ResolveFloat(rec, FieldCO2)
	if !ok {
		co2 = 0
	}

	timestamp, ok := ResolveTime(rec)
	if !ok {
		timestamp = e.now()
	}

	activityType, _, ok := ResolveType(rec)
	if !ok {
		activityType = domain.ActivityCar
	}

	activityID, ok := ResolveString(rec, FieldID)
	if !ok {
		generated, err := e.newID()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "generating activity ID")
		}
		activityID = generated
	}

	notes, _ := ResolveString(rec, FieldNotes)

	return &domain.Activity{
		ID:              activityID,
		Type:            activityType,
		DistanceKm:      distance,
		DurationMinutes: duration,
		CO2EmissionKg:   co2,
		Timestamp:       timestamp,
		Notes:           notes,
	}, nil
}
