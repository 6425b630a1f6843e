package comments

// Comment models a persisted comment thread entry anchored to a page and,
// optionally, to a single component on it. Comments are never hard-deleted;
// resolution toggles the resolved flag only.
type Comment struct {
	CommentID        string `gorm:"column:comment_id;primaryKey;size:190;not null"`
	PageID           string `gorm:"column:page_id;size:190;not null;index:idx_comments_page_created,priority:1"`
	ComponentID      string `gorm:"column:component_id;size:190;not null;default:''"`
	AuthorUserID     string `gorm:"column:author_user_id;size:190;not null"`
	AuthorName       string `gorm:"column:author_name;size:320;not null"`
	Message          string `gorm:"column:message;type:text;not null"`
	Resolved         bool   `gorm:"column:resolved;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_comments_page_created,priority:2"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "page_comments"
}

// AddRequest describes the input for creating a comment.
type AddRequest struct {
	PageID       string
	ComponentID  string
	AuthorUserID string
	AuthorName   string
	Message      string
}
