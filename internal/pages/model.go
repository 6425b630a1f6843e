package pages

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPageID indicates that a page identifier is empty or exceeds storage bounds.
	ErrInvalidPageID = errors.New("pages: invalid page id")
	// ErrInvalidProjectID indicates that a project identifier is empty or exceeds storage bounds.
	ErrInvalidProjectID = errors.New("pages: invalid project id")
	// ErrInvalidComponentID indicates that a component identifier is empty or exceeds storage bounds.
	ErrInvalidComponentID = errors.New("pages: invalid component id")
)

// PageID represents a validated page identifier. A page is the unit of
// collaborative editing: one markup+stylesheet pair under a single version counter.
type PageID string

// NewPageID validates raw input and returns a PageID.
func NewPageID(rawInput string) (PageID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPageID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPageID, maxIdentifierLength)
	}
	return PageID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PageID) String() string {
	return string(id)
}

// ProjectID represents a validated project identifier.
type ProjectID string

// NewProjectID validates raw input and returns a ProjectID.
func NewProjectID(rawInput string) (ProjectID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidProjectID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidProjectID, maxIdentifierLength)
	}
	return ProjectID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ProjectID) String() string {
	return string(id)
}

// ComponentID represents a validated identifier for an addressable sub-unit of a page,
// used as the granularity of advisory locks and comment anchors.
type ComponentID string

// NewComponentID validates raw input and returns a ComponentID.
func NewComponentID(rawInput string) (ComponentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidComponentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidComponentID, maxIdentifierLength)
	}
	return ComponentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ComponentID) String() string {
	return string(id)
}

// PageSnapshot is the persisted last-accepted content of a page. The synchronizer
// is the only writer; version increases by exactly 1 per accepted update.
type PageSnapshot struct {
	PageID           string `gorm:"column:page_id;primaryKey;size:190;not null"`
	ProjectID        string `gorm:"column:project_id;size:190;not null;index"`
	Version          int64  `gorm:"column:version;not null;default:0"`
	HTML             string `gorm:"column:html;type:text;not null"`
	CSS              string `gorm:"column:css;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (PageSnapshot) TableName() string {
	return "page_snapshots"
}
