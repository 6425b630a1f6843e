package collab

import (
	"sort"
	"sync"
	"time"
)

const defaultLockTTL = 5 * time.Minute

// LockEntry records one held advisory lock on a page component.
type LockEntry struct {
	PageID          string
	ComponentID     string
	HolderSessionID string
	HolderUserID    string
	HolderName      string
	AcquiredAt      time.Time
}

type lockKey struct {
	pageID      string
	componentID string
}

// LockTableConfig configures the advisory lock table.
type LockTableConfig struct {
	// TTL is the staleness threshold; a lock held longer than this is
	// force-released so a crashed client cannot pin a component forever.
	TTL   time.Duration
	Clock func() time.Time
}

// LockTable tracks exclusive advisory locks on (page, component) pairs.
// Exclusivity is cooperative: the table arbitrates and broadcasts holders but
// does not forcibly stop a misbehaving client from editing.
type LockTable struct {
	mu      sync.Mutex
	entries map[lockKey]LockEntry
	ttl     time.Duration
	clock   func() time.Time
}

// NewLockTable constructs a lock table with sane defaults.
func NewLockTable(cfg LockTableConfig) *LockTable {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LockTable{
		entries: make(map[lockKey]LockEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Acquire grants the lock if unheld (or stale, or already held by the same
// session). On denial it returns the current holder.
func (t *LockTable) Acquire(pageID, componentID, sessionID, userID, displayName string) (bool, LockEntry) {
	if pageID == "" || componentID == "" || sessionID == "" {
		return false, LockEntry{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	key := lockKey{pageID: pageID, componentID: componentID}
	if existing, held := t.entries[key]; held {
		if existing.HolderSessionID == sessionID {
			return true, existing
		}
		if now.Sub(existing.AcquiredAt) < t.ttl {
			return false, existing
		}
		// Stale holder; fall through and take over.
	}

	entry := LockEntry{
		PageID:          pageID,
		ComponentID:     componentID,
		HolderSessionID: sessionID,
		HolderUserID:    userID,
		HolderName:      displayName,
		AcquiredAt:      now,
	}
	t.entries[key] = entry
	return true, entry
}

// Release drops the lock if the session holds it. A release by a non-holder is
// a no-op; the return value reports whether the lock set changed.
func (t *LockTable) Release(pageID, componentID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := lockKey{pageID: pageID, componentID: componentID}
	entry, held := t.entries[key]
	if !held || entry.HolderSessionID != sessionID {
		return false
	}
	delete(t.entries, key)
	return true
}

// ReleaseSession drops every lock the session holds, across all pages, and
// returns the pages whose lock set changed.
func (t *LockTable) ReleaseSession(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	affected := make(map[string]struct{})
	for key, entry := range t.entries {
		if entry.HolderSessionID == sessionID {
			delete(t.entries, key)
			affected[key.pageID] = struct{}{}
		}
	}
	return sortedKeys(affected)
}

// SweepStale force-releases every lock past the staleness threshold and
// returns the pages whose lock set changed. The original holder learns of the
// loss only from the next lock broadcast.
func (t *LockTable) SweepStale() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	affected := make(map[string]struct{})
	for key, entry := range t.entries {
		if now.Sub(entry.AcquiredAt) >= t.ttl {
			delete(t.entries, key)
			affected[key.pageID] = struct{}{}
		}
	}
	return sortedKeys(affected)
}

// Snapshot returns the full current lock set for a page, in stable component
// order. Broadcasts always carry the whole set, never a delta.
func (t *LockTable) Snapshot(pageID string) []LockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := make([]LockEntry, 0)
	for key, entry := range t.entries {
		if key.pageID == pageID {
			list = append(list, entry)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ComponentID < list[j].ComponentID })
	return list
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
