package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/carbonstep/carbonstep-server/internal/domain"
)

// Import run storage key prefixes.
const (
	importRunPrefix        = "import:"
	importRunIdxTimePrefix = "import:idx:time:"
)

// CreateImportRun stores an import history record with its time index.
func (s *Store) CreateImportRun(ctx context.Context, run *domain.ImportRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		return ErrInvalidInput.WithMessage("import run ID is required")
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling import run: %w", err)
	}

	primaryKey := []byte(importRunPrefix + run.ID)
	timeKey := []byte(importRunIdxTimePrefix + invertedTimestamp(run.CreatedAt) + ":" + run.ID)

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(primaryKey); err == nil {
			return ErrAlreadyExists.WithMessage(fmt.Sprintf("import run %s already exists", run.ID))
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("checking import run key: %w", err)
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

// GetImportRun retrieves one import history record by ID.
func (s *Store) GetImportRun(ctx context.Context, id string) (*domain.ImportRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var run domain.ImportRun
	err := s.get([]byte(importRunPrefix+id), &run)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound.WithMessage(fmt.Sprintf("import run %s not found", id))
		}
		return nil, fmt.Errorf("getting import run %s: %w", id, err)
	}

	return &run, nil
}

// ListImportRuns retrieves import history sorted by CreatedAt descending,
// up to 'limit' records.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]*domain.ImportRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var runs []*domain.ImportRun

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(importRunIdxTimePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(importRunIdxTimePrefix)); it.ValidForPrefix([]byte(importRunIdxTimePrefix)); it.Next() {
			if len(runs) >= limit {
				break
			}

			runID := extractIDFromTimeKey(string(it.Item().Key()), importRunIdxTimePrefix)
			if runID == "" {
				continue
			}

			item, err := txn.Get([]byte(importRunPrefix + runID))
			if err != nil {
				continue
			}

			var run domain.ImportRun
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				continue
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing import runs: %w", err)
	}

	return runs, nil
}
