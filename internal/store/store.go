package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"plangov/internal/plan"
	"plangov/pkg/logging"
)

// ErrNotFound reports that no governance record exists for the requested
// key. It is terminal for that lookup but not necessarily fatal for an
// evaluation; callers must not treat it as a transient store failure.
var ErrNotFound = errors.New("governance record not found")

// UnavailableError wraps an infrastructure-level store failure. These are
// transient from the caller's point of view and safe to retry.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RecordPatch is a partial update of a governance record. Nil fields are
// left unchanged. Updates are always conditioned on the record's prior
// existence so a patch can never resurrect a record that was purged.
type RecordPatch struct {
	Name           *string
	Tier           *plan.Tier
	Description    *string
	RateLimit      *int
	BurstLimit     *int
	QuotaLimit     *int
	QuotaPeriod    *plan.QuotaPeriod
	LifecycleState *plan.LifecycleState
	Stages         *[]string
	Deleted        *bool
	RecreatedAs    *string
	DeprecatedAt   *time.Time
	DeletedAt      *time.Time
}

// Store is the desired-state store for usage plan governance records, plus
// the append-only version log fed by every mutation.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite-backed store at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	// sqlite serves one writer at a time; a single pooled connection also
	// keeps ":memory:" databases from fragmenting per connection.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&usagePlanRow{}, &versionLogRow{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get retrieves one governance record by plan identity.
func (s *Store) Get(ctx context.Context, planID string) (*plan.GovernanceRecord, error) {
	var row usagePlanRow
	err := s.db.WithContext(ctx).Where("plan_id = ?", planID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, &UnavailableError{Op: "get", Err: err}
	}
	rec, err := recordFromRow(&row)
	if err != nil {
		return nil, &UnavailableError{Op: "get", Err: err}
	}
	return rec, nil
}

// GetByName retrieves one non-deleted governance record by plan name.
func (s *Store) GetByName(ctx context.Context, name string) (*plan.GovernanceRecord, error) {
	var row usagePlanRow
	err := s.db.WithContext(ctx).Where("name = ? AND deleted = ?", name, false).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, &UnavailableError{Op: "get_by_name", Err: err}
	}
	rec, err := recordFromRow(&row)
	if err != nil {
		return nil, &UnavailableError{Op: "get_by_name", Err: err}
	}
	return rec, nil
}

// Put writes a full governance record, creating it if absent. Every write
// appends a version log entry (INSERT for new keys, MODIFY otherwise).
func (s *Store) Put(ctx context.Context, rec *plan.GovernanceRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid governance record: %w", err)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	row, err := rowFromRecord(rec)
	if err != nil {
		return &UnavailableError{Op: "put", Err: err}
	}

	return s.transact(ctx, "put", func(tx *gorm.DB) error {
		var existing usagePlanRow
		lookupErr := tx.Where("plan_id = ?", rec.PlanID).First(&existing).Error

		switch {
		case lookupErr == nil:
			if err := tx.Save(row).Error; err != nil {
				return err
			}
			old, convErr := recordFromRow(&existing)
			if convErr != nil {
				old = nil
			}
			eventType := EventModify
			if old != nil && !old.Deleted && rec.Deleted {
				eventType = EventRemove
			}
			s.appendVersion(tx, rec.PlanID, eventType, old, rec)
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			s.appendVersion(tx, rec.PlanID, EventInsert, nil, rec)
		default:
			return lookupErr
		}
		return nil
	})
}

// ConditionalUpdate applies a partial update to an existing record. It
// fails with ErrNotFound when the record does not exist; it never creates.
func (s *Store) ConditionalUpdate(ctx context.Context, planID string, patch RecordPatch) (*plan.GovernanceRecord, error) {
	var updated *plan.GovernanceRecord

	err := s.transact(ctx, "conditional_update", func(tx *gorm.DB) error {
		var row usagePlanRow
		if err := tx.Where("plan_id = ?", planID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		before, err := recordFromRow(&row)
		if err != nil {
			return err
		}

		after := before.Clone()
		applyPatch(after, patch)
		after.UpdatedAt = time.Now().UTC()

		newRow, err := rowFromRecord(after)
		if err != nil {
			return err
		}
		if err := tx.Save(newRow).Error; err != nil {
			return err
		}

		// Tombstoning is the record's removal event; every other patch is
		// a modification.
		eventType := EventModify
		if !before.Deleted && after.Deleted {
			eventType = EventRemove
		}
		s.appendVersion(tx, planID, eventType, before, after)
		updated = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ScanAll returns every governance record, deleted tombstones included,
// ordered by plan identity for deterministic iteration.
func (s *Store) ScanAll(ctx context.Context) ([]plan.GovernanceRecord, error) {
	var rows []usagePlanRow
	if err := s.db.WithContext(ctx).Order("plan_id ASC").Find(&rows).Error; err != nil {
		return nil, &UnavailableError{Op: "scan", Err: err}
	}

	out := make([]plan.GovernanceRecord, 0, len(rows))
	for i := range rows {
		rec, err := recordFromRow(&rows[i])
		if err != nil {
			return nil, &UnavailableError{Op: "scan", Err: err}
		}
		out = append(out, *rec)
	}
	return out, nil
}

// transact wraps fn in a transaction and maps infrastructure failures to
// UnavailableError, while letting ErrNotFound through untouched.
func (s *Store) transact(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

func applyPatch(rec *plan.GovernanceRecord, patch RecordPatch) {
	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.Tier != nil {
		rec.Tier = *patch.Tier
	}
	if patch.Description != nil {
		rec.Description = *patch.Description
	}
	if patch.RateLimit != nil {
		rec.RateLimit = *patch.RateLimit
	}
	if patch.BurstLimit != nil {
		rec.BurstLimit = *patch.BurstLimit
	}
	if patch.QuotaLimit != nil {
		rec.QuotaLimit = *patch.QuotaLimit
	}
	if patch.QuotaPeriod != nil {
		rec.QuotaPeriod = *patch.QuotaPeriod
	}
	if patch.LifecycleState != nil {
		rec.LifecycleState = *patch.LifecycleState
	}
	if patch.Stages != nil {
		rec.Stages = append([]string(nil), (*patch.Stages)...)
	}
	if patch.Deleted != nil {
		rec.Deleted = *patch.Deleted
	}
	if patch.RecreatedAs != nil {
		rec.RecreatedAs = *patch.RecreatedAs
	}
	if patch.DeprecatedAt != nil {
		t := *patch.DeprecatedAt
		rec.DeprecatedAt = &t
	}
	if patch.DeletedAt != nil {
		t := *patch.DeletedAt
		rec.DeletedAt = &t
	}
}

// appendVersion writes a version log entry inside the mutation's
// transaction. A logging failure never fails the primary mutation.
func (s *Store) appendVersion(tx *gorm.DB, planID string, eventType EventType, before, after *plan.GovernanceRecord) {
	entry, err := newVersionRow(planID, eventType, before, after)
	if err != nil {
		logging.Error("Store", err, "Failed to build version log entry for plan %s", planID)
		return
	}
	if err := tx.Create(entry).Error; err != nil {
		logging.Error("Store", err, "Failed to write version log entry for plan %s", planID)
	}
}
