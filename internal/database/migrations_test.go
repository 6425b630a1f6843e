package database

import (
	"path/filepath"
	"testing"

	"github.com/atelierhq/atelier/backend/internal/comments"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsCommentUpdatedAt(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&comments.Comment{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := comments.Comment{
		CommentID:        "c-legacy",
		PageID:           "p1",
		AuthorUserID:     "user-1",
		AuthorName:       "Ada",
		Message:          "old comment",
		CreatedAtSeconds: 1690000000,
		UpdatedAtSeconds: 0,
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert comment: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored comments.Comment
	if err := database.Where("comment_id = ?", "c-legacy").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to load comment: %v", err)
	}
	if stored.UpdatedAtSeconds != stored.CreatedAtSeconds {
		testContext.Fatalf("expected backfilled updated_at, got %d", stored.UpdatedAtSeconds)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillCommentUpdatedAt).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration ledger entry: %v", err)
	}

	// Re-running must be a no-op.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
}
