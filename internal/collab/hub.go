package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/atelierhq/atelier/backend/internal/comments"
	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Second

var (
	errMissingSynchronizer = errors.New("synchronizer is required")
	errMissingCommentStore = errors.New("comment store is required")
)

// CommentStore is the persistence boundary for comment threads.
type CommentStore interface {
	Add(ctx context.Context, request comments.AddRequest) (comments.Comment, error)
	SetResolved(ctx context.Context, commentID string, resolved bool) (comments.Comment, error)
	ListByPage(ctx context.Context, pageID string) ([]comments.Comment, error)
}

// HubConfig describes the dependencies of the hub.
type HubConfig struct {
	Synchronizer  *Synchronizer
	Comments      CommentStore
	Locks         *LockTable
	Presence      *PresenceRegistry
	Logger        *zap.Logger
	SendBuffer    int
	SweepInterval time.Duration
}

// Hub owns the live session set and routes every page-scoped event to its
// subscribers. It reads the subscriber set from the presence registry and
// never mutates page content itself; the synchronizer alone commits versions.
type Hub struct {
	documents *Synchronizer
	comments  CommentStore
	locks     *LockTable
	presence  *PresenceRegistry
	logger    *zap.Logger

	sendBuffer    int
	sweepInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub constructs a hub. Locks and presence default to fresh instances when
// not supplied so the hub is directly constructible in tests.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Synchronizer == nil {
		return nil, errMissingSynchronizer
	}
	if cfg.Comments == nil {
		return nil, errMissingCommentStore
	}
	locks := cfg.Locks
	if locks == nil {
		locks = NewLockTable(LockTableConfig{})
	}
	presence := cfg.Presence
	if presence == nil {
		presence = NewPresenceRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &Hub{
		documents:     cfg.Synchronizer,
		comments:      cfg.Comments,
		locks:         locks,
		presence:      presence,
		logger:        logger,
		sendBuffer:    sendBuffer,
		sweepInterval: sweepInterval,
		sessions:      make(map[string]*Session),
	}, nil
}

// Connect registers a new session for a resolved identity.
func (h *Hub) Connect(userID, displayName, projectID string) *Session {
	session := NewSession(userID, displayName, projectID, h.sendBuffer)
	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()
	h.presence.Join(session.ID, userID, displayName)
	h.logger.Info("session connected",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
		zap.String("project_id", projectID))
	return session
}

// Disconnect tears a session down: its locks are released, its presence entry
// removed, and the affected pages are re-broadcast so other sessions observe
// the departure promptly.
func (h *Hub) Disconnect(session *Session) {
	if session == nil {
		return
	}
	h.mu.Lock()
	_, known := h.sessions[session.ID]
	delete(h.sessions, session.ID)
	h.mu.Unlock()
	if !known {
		return
	}

	pageID := session.PageID()
	for _, lockedPage := range h.locks.ReleaseSession(session.ID) {
		h.broadcastLocks(lockedPage)
	}
	h.presence.Remove(session.ID)
	if pageID != "" {
		h.broadcastPresence(pageID)
	}
	session.close()
	h.logger.Info("session disconnected",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID))
}

// Run sweeps stale locks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pageID := range h.locks.SweepStale() {
				h.broadcastLocks(pageID)
			}
		}
	}
}

// Handle dispatches one inbound message. Malformed or unrecognized messages
// are dropped; they are never fatal to the connection.
func (h *Hub) Handle(ctx context.Context, session *Session, raw []byte) {
	var envelope ClientEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.logger.Debug("dropping malformed message",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}

	switch envelope.Type {
	case MessageSubscribe:
		h.handleSubscribe(ctx, session, envelope)
	case MessagePageRequest:
		h.handlePageRequest(ctx, session, envelope)
	case MessagePageUpdate:
		h.handlePageUpdate(ctx, session, envelope)
	case MessageCursor:
		h.handleCursor(session, envelope)
	case MessageLockRequest:
		h.handleLockRequest(session, envelope)
	case MessageLockRelease:
		h.handleLockRelease(session, envelope)
	case MessageCommentList:
		h.handleCommentList(ctx, session, envelope)
	case MessageCommentAdd:
		h.handleCommentAdd(ctx, session, envelope)
	case MessageCommentResolve:
		h.handleCommentResolve(ctx, session, envelope)
	default:
		h.logger.Debug("dropping unrecognized message",
			zap.String("session_id", session.ID),
			zap.String("type", string(envelope.Type)))
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, session *Session, envelope ClientEnvelope) {
	if envelope.DocumentID == "" {
		return
	}

	state, err := h.documents.Snapshot(ctx, session.ProjectID, envelope.DocumentID)
	if err != nil {
		h.logger.Error("subscribe snapshot failed",
			zap.String("session_id", session.ID),
			zap.String("page_id", envelope.DocumentID),
			zap.Error(err))
		return
	}

	// Subscribing implicitly unsubscribes from the previous page. Locks are
	// deliberately left alone; only disconnect releases them.
	previous := session.setPage(envelope.DocumentID)
	h.presence.SetPage(session.ID, envelope.DocumentID)
	if previous != "" && previous != envelope.DocumentID {
		h.broadcastPresence(previous)
	}

	h.sendTo(session, PageStateMessage{
		Type:       MessagePageState,
		DocumentID: envelope.DocumentID,
		Version:    state.Version,
		HTML:       state.HTML,
		CSS:        state.CSS,
	})
	h.sendCommentList(ctx, session, envelope.DocumentID)
	h.sendTo(session, h.lockUpdateMessage(envelope.DocumentID))
	h.broadcastPresence(envelope.DocumentID)
}

func (h *Hub) handlePageRequest(ctx context.Context, session *Session, envelope ClientEnvelope) {
	if envelope.DocumentID == "" {
		return
	}
	state, err := h.documents.Snapshot(ctx, session.ProjectID, envelope.DocumentID)
	if err != nil {
		h.logger.Error("page request snapshot failed",
			zap.String("session_id", session.ID),
			zap.String("page_id", envelope.DocumentID),
			zap.Error(err))
		return
	}
	h.sendTo(session, PageStateMessage{
		Type:       MessagePageState,
		DocumentID: envelope.DocumentID,
		Version:    state.Version,
		HTML:       state.HTML,
		CSS:        state.CSS,
	})
}

func (h *Hub) handlePageUpdate(ctx context.Context, session *Session, envelope ClientEnvelope) {
	if envelope.DocumentID == "" {
		return
	}
	outcome, err := h.documents.Submit(ctx, session.ProjectID, envelope.DocumentID, envelope.Version, envelope.HTML, envelope.CSS)
	if err != nil {
		h.logger.Error("submit failed",
			zap.String("session_id", session.ID),
			zap.String("page_id", envelope.DocumentID),
			zap.Int64("base_version", envelope.Version),
			zap.Error(err))
		return
	}

	if !outcome.Accepted {
		// Conflict goes to the submitter only; no broadcast.
		h.sendTo(session, ConflictMessage{
			Type:          MessageConflict,
			DocumentID:    envelope.DocumentID,
			ServerVersion: outcome.State.Version,
			HTML:          outcome.State.HTML,
			CSS:           outcome.State.CSS,
		})
		return
	}

	h.sendTo(session, PageAckMessage{
		Type:       MessagePageAck,
		DocumentID: envelope.DocumentID,
		Version:    outcome.State.Version,
	})
	h.broadcastExcept(envelope.DocumentID, session.ID, PageUpdateMessage{
		Type:       MessagePageUpdate,
		DocumentID: envelope.DocumentID,
		Version:    outcome.State.Version,
		HTML:       outcome.State.HTML,
		CSS:        outcome.State.CSS,
		UserID:     session.UserID,
	})
}

func (h *Hub) handleCursor(session *Session, envelope ClientEnvelope) {
	pageID := session.PageID()
	if pageID == "" {
		return
	}
	h.presence.SetCursor(session.ID, envelope.X, envelope.Y)
	h.broadcastPresence(pageID)
}

func (h *Hub) handleLockRequest(session *Session, envelope ClientEnvelope) {
	pageID := session.PageID()
	if pageID == "" || envelope.ComponentID == "" {
		return
	}
	granted, holder := h.locks.Acquire(pageID, envelope.ComponentID, session.ID, session.UserID, session.DisplayName)
	if !granted {
		h.sendTo(session, LockDeniedMessage{
			Type:        MessageLockDenied,
			DocumentID:  pageID,
			ComponentID: envelope.ComponentID,
			UserID:      holder.HolderUserID,
			Username:    holder.HolderName,
		})
		return
	}
	h.broadcastLocks(pageID)
}

func (h *Hub) handleLockRelease(session *Session, envelope ClientEnvelope) {
	pageID := session.PageID()
	if pageID == "" || envelope.ComponentID == "" {
		return
	}
	if h.locks.Release(pageID, envelope.ComponentID, session.ID) {
		h.broadcastLocks(pageID)
	}
}

func (h *Hub) handleCommentList(ctx context.Context, session *Session, envelope ClientEnvelope) {
	if envelope.DocumentID == "" {
		return
	}
	h.sendCommentList(ctx, session, envelope.DocumentID)
}

func (h *Hub) handleCommentAdd(ctx context.Context, session *Session, envelope ClientEnvelope) {
	if envelope.DocumentID == "" || envelope.Message == "" {
		return
	}
	comment, err := h.comments.Add(ctx, comments.AddRequest{
		PageID:       envelope.DocumentID,
		ComponentID:  envelope.ComponentID,
		AuthorUserID: session.UserID,
		AuthorName:   session.DisplayName,
		Message:      envelope.Message,
	})
	if err != nil {
		h.logger.Error("comment add failed",
			zap.String("session_id", session.ID),
			zap.String("page_id", envelope.DocumentID),
			zap.Error(err))
		return
	}
	h.broadcast(envelope.DocumentID, CommentAddedMessage{
		Type:    MessageCommentAdded,
		Comment: commentPayload(comment),
	})
}

func (h *Hub) handleCommentResolve(ctx context.Context, session *Session, envelope ClientEnvelope) {
	if envelope.CommentID == "" {
		return
	}
	comment, err := h.comments.SetResolved(ctx, envelope.CommentID, envelope.Resolved)
	if err != nil {
		h.logger.Warn("comment resolve failed",
			zap.String("session_id", session.ID),
			zap.String("comment_id", envelope.CommentID),
			zap.Error(err))
		return
	}
	h.broadcast(comment.PageID, CommentUpdatedMessage{
		Type:    MessageCommentUpdated,
		Comment: commentPayload(comment),
	})
}

func (h *Hub) sendCommentList(ctx context.Context, session *Session, pageID string) {
	list, err := h.comments.ListByPage(ctx, pageID)
	if err != nil {
		h.logger.Error("comment list failed",
			zap.String("session_id", session.ID),
			zap.String("page_id", pageID),
			zap.Error(err))
		return
	}
	payloads := make([]CommentPayload, 0, len(list))
	for _, comment := range list {
		payloads = append(payloads, commentPayload(comment))
	}
	h.sendTo(session, CommentListMessage{
		Type:       MessageCommentList,
		DocumentID: pageID,
		Comments:   payloads,
	})
}

func (h *Hub) lockUpdateMessage(pageID string) LockUpdateMessage {
	entries := h.locks.Snapshot(pageID)
	locks := make([]LockInfo, 0, len(entries))
	for _, entry := range entries {
		locks = append(locks, LockInfo{
			ComponentID: entry.ComponentID,
			UserID:      entry.HolderUserID,
			Username:    entry.HolderName,
			UpdatedAt:   entry.AcquiredAt.Unix(),
		})
	}
	return LockUpdateMessage{Type: MessageLockUpdate, DocumentID: pageID, Locks: locks}
}

func (h *Hub) broadcastLocks(pageID string) {
	h.broadcast(pageID, h.lockUpdateMessage(pageID))
}

func (h *Hub) broadcastPresence(pageID string) {
	entries := h.presence.Snapshot(pageID)
	users := make([]PresenceUser, 0, len(entries))
	for _, entry := range entries {
		users = append(users, PresenceUser{
			UserID:     entry.UserID,
			Username:   entry.DisplayName,
			DocumentID: entry.PageID,
			X:          entry.X,
			Y:          entry.Y,
		})
	}
	h.broadcast(pageID, PresenceMessage{Type: MessagePresence, Users: users})
}

// broadcast fans a message out to every subscriber of a page. Delivery is
// best-effort per connection; a slow subscriber loses the message rather than
// blocking the broadcaster, and committed versions are never rolled back on
// delivery failure.
func (h *Hub) broadcast(pageID string, message any) {
	h.broadcastExcept(pageID, "", message)
}

func (h *Hub) broadcastExcept(pageID, exceptSessionID string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("broadcast marshal failed", zap.Error(err))
		return
	}
	for _, sessionID := range h.presence.SessionsOn(pageID) {
		if sessionID == exceptSessionID {
			continue
		}
		h.mu.RLock()
		session := h.sessions[sessionID]
		h.mu.RUnlock()
		if session == nil {
			continue
		}
		if !session.send(payload) {
			h.logger.Debug("dropped broadcast for slow session",
				zap.String("session_id", sessionID),
				zap.String("page_id", pageID))
		}
	}
}

func (h *Hub) sendTo(session *Session, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("reply marshal failed",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	session.send(payload)
}

func commentPayload(comment comments.Comment) CommentPayload {
	return CommentPayload{
		ID:          comment.CommentID,
		DocumentID:  comment.PageID,
		ComponentID: comment.ComponentID,
		UserID:      comment.AuthorUserID,
		Username:    comment.AuthorName,
		Message:     comment.Message,
		Resolved:    comment.Resolved,
		CreatedAt:   comment.CreatedAtSeconds,
		UpdatedAt:   comment.UpdatedAtSeconds,
	}
}
