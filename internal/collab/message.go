package collab

// MessageType discriminates the structured messages exchanged over a
// collaboration connection.
type MessageType string

const (
	// Client to server.
	MessageSubscribe      MessageType = "subscribe"
	MessagePageRequest    MessageType = "page_request"
	MessagePageUpdate     MessageType = "page_update"
	MessageCursor         MessageType = "cursor"
	MessageLockRequest    MessageType = "lock_request"
	MessageLockRelease    MessageType = "lock_release"
	MessageCommentList    MessageType = "comment_list"
	MessageCommentAdd     MessageType = "comment_add"
	MessageCommentResolve MessageType = "comment_resolve"

	// Server to client.
	MessagePageState      MessageType = "page_state"
	MessagePageAck        MessageType = "page_ack"
	MessageConflict       MessageType = "conflict"
	MessagePresence       MessageType = "presence"
	MessageLockUpdate     MessageType = "lock_update"
	MessageLockDenied     MessageType = "lock_denied"
	MessageCommentAdded   MessageType = "comment_added"
	MessageCommentUpdated MessageType = "comment_updated"
)

// ClientEnvelope is the superset of fields a client may send. Unknown types and
// missing required fields are dropped without tearing down the connection.
type ClientEnvelope struct {
	Type        MessageType `json:"type"`
	DocumentID  string      `json:"documentId"`
	Version     int64       `json:"version"`
	HTML        string      `json:"html"`
	CSS         string      `json:"css"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	ComponentID string      `json:"componentId"`
	CommentID   string      `json:"commentId"`
	Resolved    bool        `json:"resolved"`
	Message     string      `json:"message"`
}

// PageStateMessage is the full authoritative snapshot sent on subscribe or
// explicit re-fetch.
type PageStateMessage struct {
	Type       MessageType `json:"type"`
	DocumentID string      `json:"documentId"`
	Version    int64       `json:"version"`
	HTML       string      `json:"html"`
	CSS        string      `json:"css"`
}

// PageUpdateMessage carries an accepted update to every other subscriber.
type PageUpdateMessage struct {
	Type       MessageType `json:"type"`
	DocumentID string      `json:"documentId"`
	Version    int64       `json:"version"`
	HTML       string      `json:"html"`
	CSS        string      `json:"css"`
	UserID     string      `json:"userId"`
}

// PageAckMessage tells the submitter its update was accepted.
type PageAckMessage struct {
	Type       MessageType `json:"type"`
	DocumentID string      `json:"documentId"`
	Version    int64       `json:"version"`
}

// ConflictMessage tells the submitter its base version lost the race, carrying
// the authoritative state it must resolve against.
type ConflictMessage struct {
	Type          MessageType `json:"type"`
	DocumentID    string      `json:"documentId"`
	ServerVersion int64       `json:"serverVersion"`
	HTML          string      `json:"html"`
	CSS           string      `json:"css"`
}

// PresenceUser is one live viewer in a presence broadcast.
type PresenceUser struct {
	UserID     string  `json:"userId"`
	Username   string  `json:"username"`
	DocumentID string  `json:"documentId,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// PresenceMessage is the full presence list for a page, sent to every
// subscriber including the sender of the triggering cursor move.
type PresenceMessage struct {
	Type  MessageType    `json:"type"`
	Users []PresenceUser `json:"users"`
}

// LockInfo is one held advisory lock in a lock broadcast.
type LockInfo struct {
	ComponentID string `json:"componentId"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// LockUpdateMessage is the entire current lock set for a page, not a delta.
type LockUpdateMessage struct {
	Type       MessageType `json:"type"`
	DocumentID string      `json:"documentId"`
	Locks      []LockInfo  `json:"locks"`
}

// LockDeniedMessage tells a losing requester who holds the component.
type LockDeniedMessage struct {
	Type        MessageType `json:"type"`
	DocumentID  string      `json:"documentId"`
	ComponentID string      `json:"componentId"`
	UserID      string      `json:"userId"`
	Username    string      `json:"username"`
}

// CommentPayload is the wire form of a stored comment.
type CommentPayload struct {
	ID          string `json:"id"`
	DocumentID  string `json:"documentId"`
	ComponentID string `json:"componentId,omitempty"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
	Resolved    bool   `json:"resolved"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// CommentListMessage hydrates a session with every comment on a page.
type CommentListMessage struct {
	Type       MessageType      `json:"type"`
	DocumentID string           `json:"documentId"`
	Comments   []CommentPayload `json:"comments"`
}

// CommentAddedMessage announces a newly created comment.
type CommentAddedMessage struct {
	Type    MessageType    `json:"type"`
	Comment CommentPayload `json:"comment"`
}

// CommentUpdatedMessage announces a resolve/unresolve on an existing comment.
type CommentUpdatedMessage struct {
	Type    MessageType    `json:"type"`
	Comment CommentPayload `json:"comment"`
}
