package comments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestStore(t *testing.T, ids []string) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:comments_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clockSeconds := int64(1700000000)
	store, err := NewStore(StoreConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
		Clock: func() time.Time {
			clockSeconds++
			return time.Unix(clockSeconds, 0).UTC()
		},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func TestAddCreatesUnresolvedComment(t *testing.T) {
	store := newTestStore(t, []string{"c-1"})

	comment, err := store.Add(context.Background(), AddRequest{
		PageID:       "page-1",
		ComponentID:  "btn1",
		AuthorUserID: "user-1",
		AuthorName:   "Ada",
		Message:      "make this blue",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comment.CommentID != "c-1" {
		t.Fatalf("expected generated id c-1, got %s", comment.CommentID)
	}
	if comment.Resolved {
		t.Fatalf("new comment must start unresolved")
	}
	if comment.CreatedAtSeconds == 0 || comment.CreatedAtSeconds != comment.UpdatedAtSeconds {
		t.Fatalf("expected matching creation timestamps, got %d/%d", comment.CreatedAtSeconds, comment.UpdatedAtSeconds)
	}
}

func TestAddRejectsEmptyMessage(t *testing.T) {
	store := newTestStore(t, []string{"c-1"})

	_, err := store.Add(context.Background(), AddRequest{
		PageID:       "page-1",
		AuthorUserID: "user-1",
		Message:      "   ",
	})
	if !errors.Is(err, ErrInvalidComment) {
		t.Fatalf("expected ErrInvalidComment, got %v", err)
	}
}

func TestSetResolvedTogglesAndBumpsUpdatedAt(t *testing.T) {
	store := newTestStore(t, []string{"c-1"})
	ctx := context.Background()

	created, err := store.Add(ctx, AddRequest{
		PageID:       "page-1",
		AuthorUserID: "user-1",
		AuthorName:   "Ada",
		Message:      "first",
	})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	resolved, err := store.SetResolved(ctx, created.CommentID, true)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if !resolved.Resolved {
		t.Fatalf("expected resolved flag set")
	}
	if resolved.UpdatedAtSeconds <= created.UpdatedAtSeconds {
		t.Fatalf("expected updated_at to advance, got %d -> %d", created.UpdatedAtSeconds, resolved.UpdatedAtSeconds)
	}

	reopened, err := store.SetResolved(ctx, created.CommentID, false)
	if err != nil {
		t.Fatalf("unexpected unresolve error: %v", err)
	}
	if reopened.Resolved {
		t.Fatalf("expected resolved flag cleared")
	}
}

func TestSetResolvedUnknownComment(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.SetResolved(context.Background(), "missing", true)
	if !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

func TestListByPageReturnsStableOrder(t *testing.T) {
	store := newTestStore(t, []string{"c-1", "c-2", "c-3"})
	ctx := context.Background()

	for _, message := range []string{"first", "second", "third"} {
		if _, err := store.Add(ctx, AddRequest{
			PageID:       "page-1",
			AuthorUserID: "user-1",
			AuthorName:   "Ada",
			Message:      message,
		}); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}

	list, err := store.ListByPage(ctx, "page-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(list))
	}
	for i, expected := range []string{"first", "second", "third"} {
		if list[i].Message != expected {
			t.Fatalf("expected %q at index %d, got %q", expected, i, list[i].Message)
		}
	}

	other, err := store.ListByPage(ctx, "page-2")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no comments for other page, got %d", len(other))
	}
}
