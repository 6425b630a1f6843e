package collab

import (
	"sort"
	"sync"
)

// PresenceEntry is the derived, ephemeral record of one live session: who it
// is, what page it is viewing, and its last-known pointer position.
type PresenceEntry struct {
	SessionID   string
	UserID      string
	DisplayName string
	PageID      string
	X           float64
	Y           float64
}

// PresenceRegistry tracks which sessions are viewing which page. It is
// recomputed state only; nothing here is persisted, and a missed cursor update
// is simply superseded by the next one.
type PresenceRegistry struct {
	mu      sync.RWMutex
	entries map[string]PresenceEntry
}

// NewPresenceRegistry constructs an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{entries: make(map[string]PresenceEntry)}
}

// Join registers a connected session with no page subscription yet.
func (r *PresenceRegistry) Join(sessionID, userID, displayName string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = PresenceEntry{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
	}
}

// SetPage moves a session onto a page, resetting its cursor.
func (r *PresenceRegistry) SetPage(sessionID, pageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok {
		return
	}
	entry.PageID = pageID
	entry.X = 0
	entry.Y = 0
	r.entries[sessionID] = entry
}

// SetCursor records the session's last-known pointer position on its current page.
func (r *PresenceRegistry) SetCursor(sessionID string, x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok {
		return
	}
	entry.X = x
	entry.Y = y
	r.entries[sessionID] = entry
}

// Remove forgets a session entirely. Called on disconnect.
func (r *PresenceRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// Snapshot derives the presence list for one page, in stable session order.
func (r *PresenceRegistry) Snapshot(pageID string) []PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]PresenceEntry, 0)
	for _, entry := range r.entries {
		if entry.PageID == pageID && pageID != "" {
			list = append(list, entry)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SessionID < list[j].SessionID })
	return list
}

// SessionsOn returns the identifiers of every session subscribed to a page.
// The broadcast router uses this as the subscriber set.
func (r *PresenceRegistry) SessionsOn(pageID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0)
	for id, entry := range r.entries {
		if entry.PageID == pageID && pageID != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
