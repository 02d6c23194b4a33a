package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/carbonstep/carbonstep-server/internal/domain"
)

// Activity storage key prefixes.
// The time index uses inverted timestamps so forward iteration yields
// newest-first ordering without reverse iteration.
const (
	activityPrefix        = "activity:"
	activityIdxTimePrefix = "activity:idx:time:"
)

// CreateActivity stores a new activity with its time index in one transaction.
// Returns ErrAlreadyExists if an activity with the same ID is present.
func (s *Store) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if activity.ID == "" {
		return ErrInvalidInput.WithMessage("activity ID is required")
	}

	data, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshaling activity: %w", err)
	}

	primaryKey := []byte(activityPrefix + activity.ID)
	timeKey := []byte(activityIdxTimePrefix + invertedTimestamp(activity.Timestamp) + ":" + activity.ID)

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(primaryKey); err == nil {
			return ErrAlreadyExists.WithMessage(fmt.Sprintf("activity %s already exists", activity.ID))
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checking activity key: %w", err)
		}

		if err := txn.Set(primaryKey, data); err != nil {
			return fmt.Errorf("setting primary key: %w", err)
		}
		if err := txn.Set(timeKey, []byte{}); err != nil {
			return fmt.Errorf("setting time index: %w", err)
		}
		return nil
	})
}

// GetActivity retrieves a single activity by ID.
func (s *Store) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var activity domain.Activity
	err := s.get([]byte(activityPrefix+id), &activity)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound.WithMessage(fmt.Sprintf("activity %s not found", id))
		}
		return nil, fmt.Errorf("getting activity %s: %w", id, err)
	}

	return &activity, nil
}

// DeleteActivity removes an activity and its time index.
// Returns ErrNotFound if the activity does not exist.
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		primaryKey := []byte(activityPrefix + id)

		item, err := txn.Get(primaryKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound.WithMessage(fmt.Sprintf("activity %s not found", id))
			}
			return fmt.Errorf("getting activity %s: %w", id, err)
		}

		var activity domain.Activity
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &activity)
		}); err != nil {
			return fmt.Errorf("unmarshaling activity %s: %w", id, err)
		}

		if err := txn.Delete(primaryKey); err != nil {
			return fmt.Errorf("deleting primary key: %w", err)
		}

		timeKey := []byte(activityIdxTimePrefix + invertedTimestamp(activity.Timestamp) + ":" + id)
		if err := txn.Delete(timeKey); err != nil {
			return fmt.Errorf("deleting time index: %w", err)
		}
		return nil
	})
}

// ListActivities retrieves all stored activities. The import engine uses this
// as the bulk fetch for conflict scanning; ordering is by primary key.
func (s *Store) ListActivities(ctx context.Context) ([]*domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var activities []*domain.Activity

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(activityPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(activityPrefix)); it.ValidForPrefix([]byte(activityPrefix)); it.Next() {
			key := string(it.Item().Key())
			// Skip index keys under the same prefix.
			if strings.HasPrefix(key, activityIdxTimePrefix) {
				continue
			}

			var activity domain.Activity
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &activity)
			}); err != nil {
				return fmt.Errorf("unmarshaling activity %s: %w", key, err)
			}
			activities = append(activities, &activity)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}

	return activities, nil
}

// ListActivitiesPage retrieves activities sorted by Timestamp descending.
// Use 'before' for cursor-based pagination (pass the Timestamp of the last
// item from the previous page). Returns up to 'limit' activities.
func (s *Store) ListActivitiesPage(ctx context.Context, limit int, before *time.Time) ([]*domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var activities []*domain.Activity

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // Key-only index, no values to fetch
		opts.Prefix = []byte(activityIdxTimePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := []byte(activityIdxTimePrefix)
		if before != nil {
			seekKey = []byte(activityIdxTimePrefix + invertedTimestamp(*before))
		}

		for it.Seek(seekKey); it.ValidForPrefix([]byte(activityIdxTimePrefix)); it.Next() {
			if len(activities) >= limit {
				break
			}

			activityID := extractIDFromTimeKey(string(it.Item().Key()), activityIdxTimePrefix)
			if activityID == "" {
				continue
			}

			item, err := txn.Get([]byte(activityPrefix + activityID))
			if err != nil {
				continue
			}

			var activity domain.Activity
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &activity)
			}); err != nil {
				continue
			}

			// Seek may land on the cursor item itself; page is strictly before.
			if before != nil && !activity.Timestamp.Before(*before) {
				continue
			}
			activities = append(activities, &activity)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing activity page: %w", err)
	}

	return activities, nil
}

// CountActivities returns the number of stored activities.
func (s *Store) CountActivities(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(activityIdxTimePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(activityIdxTimePrefix)); it.ValidForPrefix([]byte(activityIdxTimePrefix)); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}

	return count, nil
}

// extractIDFromTimeKey extracts the entity ID from a time index key.
// Key format: {prefix}{inverted_ts}:{id} with a 19-digit timestamp.
func extractIDFromTimeKey(key, prefix string) string {
	if len(key) <= len(prefix)+20 { // 19 digits + colon
		return ""
	}
	return key[len(prefix)+20:]
}
