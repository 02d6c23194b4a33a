package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/carbonstep/carbonstep-server/internal/domain"
	"github.com/carbonstep/carbonstep-server/internal/errors"
)

// nearMatchWindow is how far apart two timestamps may be for two activities
// of the same type to count as the same trip logged twice.
const nearMatchWindow = time.Minute

// DetectConflict scans the known activities for a likely duplicate of the
// incoming one. Two passes, evaluated in order, first hit wins:
//
//  1. exact match: identical timestamp and identical type
//  2. near match: timestamps within one minute and identical type
//
// Distance and CO2 are deliberately not part of the match key: re-imports may
// carry recomputed values for the same trip. Returns nil when nothing matches.
func DetectConflict(incoming *domain.Activity, known []*domain.Activity) *domain.Conflict {
	for _, existing := range known {
		if existing.Type == incoming.Type && existing.Timestamp.Equal(incoming.Timestamp) {
			return &domain.Conflict{
				ExistingID: existing.ID,
				Existing:   existing,
				Incoming:   incoming,
				Reason:     "exact duplicate: same timestamp and activity type",
			}
		}
	}

	for _, existing := range known {
		diff := existing.Timestamp.Sub(incoming.Timestamp)
		if diff < 0 {
			diff = -diff
		}
		if existing.Type == incoming.Type && diff <= nearMatchWindow {
			return &domain.Conflict{
				ExistingID: existing.ID,
				Existing:   existing,
				Incoming:   incoming,
				Reason:     fmt.Sprintf("near duplicate: %s activity within one minute", incoming.Type),
			}
		}
	}

	return nil
}

// mergeActivities combines an existing and incoming activity into one,
// keeping the existing ID and timestamp, averaging distance and CO2, and
// summing duration. Notes are joined with a merge marker.
func mergeActivities(existing, incoming *domain.Activity) *domain.Activity {
	return &domain.Activity{
		ID:              existing.ID,
		Type:            existing.Type,
		DistanceKm:      (existing.DistanceKm + incoming.DistanceKm) / 2,
		DurationMinutes: existing.DurationMinutes + incoming.DurationMinutes,
		CO2EmissionKg:   (existing.CO2EmissionKg + incoming.CO2EmissionKg) / 2,
		Timestamp:       existing.Timestamp,
		Notes:           existing.Notes + " | Merged with: " + incoming.Notes,
	}
}

// resolveConflict applies the run's resolution strategy to one detected
// conflict, persisting as needed and keeping the in-run known list current so
// later records in the same run see the cumulative store state.
func (e *Engine) resolveConflict(ctx context.Context, conflict *domain.Conflict, incoming *domain.Activity, resolution domain.ConflictResolution, known *[]*domain.Activity) (recordOutcome, error) {
	switch resolution {
	case domain.ResolutionSkip:
		return outcomeSkipped, nil

	case domain.ResolutionOverwrite:
		if err := e.store.DeleteActivity(ctx, conflict.ExistingID); err != nil {
			return 0, err
		}
		if err := e.store.CreateActivity(ctx, incoming); err != nil {
			return 0, err
		}
		*known = replaceActivity(*known, conflict.ExistingID, incoming)
		return outcomeImported, nil

	case domain.ResolutionKeepBoth:
		freshID, err := e.newID()
		if err != nil {
			return 0, errors.Wrap(err, errors.CodeInternal, "generating activity ID")
		}
		kept := *incoming
		kept.ID = freshID
		kept.Notes = incoming.Notes + " (Imported)"
		if err := e.store.CreateActivity(ctx, &kept); err != nil {
			return 0, err
		}
		*known = append(*known, &kept)
		return outcomeImported, nil

	case domain.ResolutionMerge:
		merged := mergeActivities(conflict.Existing, incoming)
		if err := e.store.DeleteActivity(ctx, conflict.ExistingID); err != nil {
			return 0, err
		}
		if err := e.store.CreateActivity(ctx, merged); err != nil {
			return 0, err
		}
		*known = replaceActivity(*known, conflict.ExistingID, merged)
		return outcomeImported, nil

	default:
		return 0, errors.Validationf("unknown conflict resolution: %s", resolution)
	}
}

// replaceActivity swaps the activity with the given ID for its replacement.
func replaceActivity(known []*domain.Activity, id string, replacement *domain.Activity) []*domain.Activity {
	for i, a := range known {
		if a.ID == id {
			known[i] = replacement
			return known
		}
	}
	return append(known, replacement)
}
