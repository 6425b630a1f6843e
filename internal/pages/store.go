package pages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrVersionMismatch indicates a save raced with another writer; the stored
	// version was not the one the save was based on.
	ErrVersionMismatch = errors.New("pages: stored version mismatch")
	noOpLogger         = zap.NewNop()
)

// StoreError carries a dotted operation/reason code for store failures.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation/reason code.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew     = "pages.store.new"
	opLoadSnapshot = "pages.load_snapshot"
	opSaveSnapshot = "pages.save_snapshot"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// StoreConfig describes the dependencies of the snapshot store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists the last-accepted snapshot per page. It is the durable side of
// the optimistic-concurrency protocol: Save enforces that the new version is
// exactly one ahead of the stored one.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a snapshot store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load returns the persisted snapshot for the page, or the zero baseline
// (version 0, empty content) when none has been saved yet.
func (s *Store) Load(ctx context.Context, projectID ProjectID, pageID PageID) (PageSnapshot, error) {
	var snapshot PageSnapshot
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID.String()).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PageSnapshot{
			PageID:    pageID.String(),
			ProjectID: projectID.String(),
			Version:   0,
			HTML:      "",
			CSS:       "",
		}, nil
	}
	if err != nil {
		s.logger.Error("snapshot load failed",
			zap.String("operation", opLoadSnapshot),
			zap.String("page_id", pageID.String()),
			zap.Error(err))
		return PageSnapshot{}, newStoreError(opLoadSnapshot, "query_failed", err)
	}
	return snapshot, nil
}

// Save persists an accepted snapshot. The snapshot's Version must be exactly one
// ahead of the stored version (or 1 when no row exists). A mismatch returns
// ErrVersionMismatch without modifying the stored row.
func (s *Store) Save(ctx context.Context, snapshot PageSnapshot) error {
	if snapshot.Version < 1 {
		return newStoreError(opSaveSnapshot, "invalid_version", fmt.Errorf("version %d", snapshot.Version))
	}
	snapshot.UpdatedAtSeconds = s.clock().UTC().Unix()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PageSnapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("page_id = ?", snapshot.PageID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if snapshot.Version != 1 {
				return newStoreError(opSaveSnapshot, "version_mismatch", ErrVersionMismatch)
			}
			return tx.Create(&snapshot).Error
		}
		if err != nil {
			return newStoreError(opSaveSnapshot, "select_failed", err)
		}
		if snapshot.Version != existing.Version+1 {
			return newStoreError(opSaveSnapshot, "version_mismatch", ErrVersionMismatch)
		}
		return tx.Save(&snapshot).Error
	})
	if txErr != nil {
		s.logger.Error("snapshot save failed",
			zap.String("operation", opSaveSnapshot),
			zap.String("page_id", snapshot.PageID),
			zap.Int64("version", snapshot.Version),
			zap.Error(txErr))
		return txErr
	}
	return nil
}
