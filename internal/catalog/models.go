package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vidprofile/vidprofile/internal/ledger"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

type RecordStatus string

const (
	StatusDraft      RecordStatus = "draft"
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusFailed     RecordStatus = "failed"
)

var RecordStatuses = []RecordStatus{StatusDraft, StatusProcessing, StatusCompleted, StatusFailed}

func (s RecordStatus) Valid() bool {
	for _, v := range RecordStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type Category string

const (
	CategoryReview        Category = "review"
	CategoryShorts        Category = "shorts"
	CategoryEducation     Category = "education"
	CategoryEntertainment Category = "entertainment"
	CategoryTutorial      Category = "tutorial"
	CategoryInterview     Category = "interview"
	CategoryVlog          Category = "vlog"
	CategoryOther         Category = "other"
)

var Categories = []Category{
	CategoryReview, CategoryShorts, CategoryEducation, CategoryEntertainment,
	CategoryTutorial, CategoryInterview, CategoryVlog, CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelSuccess:
		return true
	}
	return false
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type PromptTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Body        string    `json:"body"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VideoRecord is one source video and the ledger of cuts made from it.
// Empty OwnerID, TemplateID and source fields are stored as NULL.
type VideoRecord struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	SourceURL    string         `json:"source_url,omitempty"`
	SourceBucket string         `json:"source_bucket,omitempty"`
	SourceKey    string         `json:"source_key,omitempty"`
	OwnerID      string         `json:"owner_id,omitempty"`
	TemplateID   string         `json:"template_id,omitempty"`
	Status       RecordStatus   `json:"status"`
	Notes        string         `json:"notes"`
	Tags         []string       `json:"tags"`
	Segments     *ledger.Ledger `json:"segments"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasSource reports whether the record points at a source blob.
func (r *VideoRecord) HasSource() bool {
	return r.SourceKey != ""
}

// Ledger returns the record's segment ledger, creating an empty one if needed.
func (r *VideoRecord) Ledger() *ledger.Ledger {
	if r.Segments == nil {
		r.Segments = &ledger.Ledger{}
	}
	return r.Segments
}

// DeriveStatus recomputes the status of a record that has been processed
// from its ledger: completed when every entry has output, otherwise
// processing. Draft and failed records are left alone.
func (r *VideoRecord) DeriveStatus() {
	if r.Status != StatusProcessing && r.Status != StatusCompleted {
		return
	}
	if r.Ledger().AllCompleted() {
		r.Status = StatusCompleted
	} else {
		r.Status = StatusProcessing
	}
}

// Touch advances UpdatedAt to now, never moving it backwards.
func (r *VideoRecord) Touch(now time.Time) {
	now = now.UTC().Truncate(time.Microsecond)
	if now.Before(r.UpdatedAt) {
		return
	}
	r.UpdatedAt = now
}

type ProcessingLogEntry struct {
	ID        string         `json:"id"`
	RecordID  string         `json:"record_id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

type RecordFilter struct {
	Status  RecordStatus
	OwnerID string
	Limit   int
	Offset  int
}

type TemplateFilter struct {
	Category Category
	Active   *bool
}

func NewID() string {
	return uuid.NewString()
}
