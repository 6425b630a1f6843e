package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrCommentNotFound indicates a resolve targeted an unknown comment id.
	ErrCommentNotFound = errors.New("comments: comment not found")
	// ErrInvalidComment indicates required comment fields were missing.
	ErrInvalidComment = errors.New("comments: invalid comment")
	noOpLogger        = zap.NewNop()
)

const (
	opStoreNew   = "comments.store.new"
	opAdd        = "comments.add"
	opResolve    = "comments.resolve"
	opListByPage = "comments.list_by_page"
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

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// IDProvider issues identifiers for new comments.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the comment store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists comment threads per page. Comments do not participate in the
// page's version counter.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs a comment store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Add creates a new unresolved comment and returns the stored row.
func (s *Store) Add(ctx context.Context, request AddRequest) (Comment, error) {
	if strings.TrimSpace(request.PageID) == "" || strings.TrimSpace(request.AuthorUserID) == "" {
		return Comment{}, newStoreError(opAdd, "missing_fields", ErrInvalidComment)
	}
	if strings.TrimSpace(request.Message) == "" {
		return Comment{}, newStoreError(opAdd, "empty_message", ErrInvalidComment)
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Error("comment id generation failed",
			zap.String("operation", opAdd), zap.Error(err))
		return Comment{}, newStoreError(opAdd, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	comment := Comment{
		CommentID:        commentID,
		PageID:           strings.TrimSpace(request.PageID),
		ComponentID:      strings.TrimSpace(request.ComponentID),
		AuthorUserID:     request.AuthorUserID,
		AuthorName:       request.AuthorName,
		Message:          request.Message,
		Resolved:         false,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logger.Error("comment insert failed",
			zap.String("operation", opAdd),
			zap.String("page_id", comment.PageID),
			zap.Error(err))
		return Comment{}, newStoreError(opAdd, "insert_failed", err)
	}
	return comment, nil
}

// SetResolved flips the resolved flag on an existing comment and returns the
// updated row.
func (s *Store) SetResolved(ctx context.Context, commentID string, resolved bool) (Comment, error) {
	var comment Comment
	err := s.db.WithContext(ctx).
		Where("comment_id = ?", commentID).
		Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Comment{}, newStoreError(opResolve, "not_found", ErrCommentNotFound)
	}
	if err != nil {
		s.logger.Error("comment select failed",
			zap.String("operation", opResolve),
			zap.String("comment_id", commentID),
			zap.Error(err))
		return Comment{}, newStoreError(opResolve, "select_failed", err)
	}

	comment.Resolved = resolved
	comment.UpdatedAtSeconds = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(&comment).Error; err != nil {
		s.logger.Error("comment update failed",
			zap.String("operation", opResolve),
			zap.String("comment_id", commentID),
			zap.Error(err))
		return Comment{}, newStoreError(opResolve, "update_failed", err)
	}
	return comment, nil
}

// ListByPage returns all comments for a page in stable creation order.
func (s *Store) ListByPage(ctx context.Context, pageID string) ([]Comment, error) {
	var list []Comment
	if err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("created_at_s ASC, comment_id ASC").
		Find(&list).Error; err != nil {
		s.logger.Error("comment list failed",
			zap.String("operation", opListByPage),
			zap.String("page_id", pageID),
			zap.Error(err))
		return nil, newStoreError(opListByPage, "query_failed", err)
	}
	return list, nil
}
