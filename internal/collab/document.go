package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atelierhq/atelier/backend/internal/pages"
	"go.uber.org/zap"
)

var errMissingSnapshotStore = errors.New("snapshot store is required")

// SnapshotStore is the durable side of the synchronizer: the last-accepted
// snapshot plus its version number, per page.
type SnapshotStore interface {
	Load(ctx context.Context, projectID pages.ProjectID, pageID pages.PageID) (pages.PageSnapshot, error)
	Save(ctx context.Context, snapshot pages.PageSnapshot) error
}

// PageState is the authoritative in-memory (version, content) pair for one page.
type PageState struct {
	Version int64
	HTML    string
	CSS     string
}

// SubmitOutcome is the synchronizer's decision on one submitted edit. On
// acceptance State holds the newly committed version; on conflict it holds the
// authoritative state the submitter must resolve against.
type SubmitOutcome struct {
	Accepted bool
	State    PageState
}

// SynchronizerConfig describes the dependencies of the document synchronizer.
type SynchronizerConfig struct {
	Store  SnapshotStore
	Logger *zap.Logger
}

// Synchronizer owns the authoritative (version, content) pair per page and
// arbitrates optimistic-concurrency submissions. Submissions for the same page
// are serialized under a per-page mutex; pages are fully independent.
type Synchronizer struct {
	store  SnapshotStore
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*pageEntry
}

type pageEntry struct {
	mu        sync.Mutex
	loaded    bool
	projectID string
	state     PageState
}

// NewSynchronizer constructs a synchronizer backed by the given store.
func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Store == nil {
		return nil, errMissingSnapshotStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		store:  cfg.Store,
		logger: logger,
		states: make(map[string]*pageEntry),
	}, nil
}

func (s *Synchronizer) entryFor(pageID string) *pageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[pageID]
	if !ok {
		entry = &pageEntry{}
		s.states[pageID] = entry
	}
	return entry
}

// ensureLoaded must be called with the entry mutex held.
func (s *Synchronizer) ensureLoaded(ctx context.Context, entry *pageEntry, projectID, pageID string) error {
	if entry.loaded {
		return nil
	}
	validPage, err := pages.NewPageID(pageID)
	if err != nil {
		return err
	}
	validProject, err := pages.NewProjectID(projectID)
	if err != nil {
		return err
	}
	snapshot, err := s.store.Load(ctx, validProject, validPage)
	if err != nil {
		return err
	}
	entry.projectID = projectID
	entry.state = PageState{
		Version: snapshot.Version,
		HTML:    snapshot.HTML,
		CSS:     snapshot.CSS,
	}
	entry.loaded = true
	return nil
}

// Snapshot returns the authoritative state for a page, loading it from durable
// storage on first access.
func (s *Synchronizer) Snapshot(ctx context.Context, projectID, pageID string) (PageState, error) {
	entry := s.entryFor(pageID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := s.ensureLoaded(ctx, entry, projectID, pageID); err != nil {
		return PageState{}, err
	}
	return entry.state, nil
}

// Submit evaluates one edit against the current authoritative version. Equal
// base version: the edit is committed (persisted, version incremented by
// exactly 1) and the outcome is accepted. Unequal: the outcome is a conflict
// carrying the authoritative state; nothing changes server-side.
func (s *Synchronizer) Submit(ctx context.Context, projectID, pageID string, baseVersion int64, html, css string) (SubmitOutcome, error) {
	entry := s.entryFor(pageID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := s.ensureLoaded(ctx, entry, projectID, pageID); err != nil {
		return SubmitOutcome{}, err
	}

	if baseVersion != entry.state.Version {
		return SubmitOutcome{Accepted: false, State: entry.state}, nil
	}

	next := pages.PageSnapshot{
		PageID:    pageID,
		ProjectID: entry.projectID,
		Version:   entry.state.Version + 1,
		HTML:      html,
		CSS:       css,
	}
	if err := s.store.Save(ctx, next); err != nil {
		s.logger.Error("snapshot persist failed",
			zap.String("page_id", pageID),
			zap.Int64("version", next.Version),
			zap.Error(err))
		return SubmitOutcome{}, fmt.Errorf("collab: persist version %d for page %s: %w", next.Version, pageID, err)
	}

	entry.state = PageState{Version: next.Version, HTML: html, CSS: css}
	return SubmitOutcome{Accepted: true, State: entry.state}, nil
}
