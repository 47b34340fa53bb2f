package api

import (
	"time"

	"github.com/vidprofile/vidprofile/internal/catalog"
	"github.com/vidprofile/vidprofile/internal/clip"
	"github.com/vidprofile/vidprofile/internal/ledger"
	"github.com/vidprofile/vidprofile/internal/processing"
	"github.com/vidprofile/vidprofile/internal/prompt"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	Records      map[catalog.RecordStatus]int `json:"records"`
	TotalRecords int                          `json:"total_records"`
	BlobBackend  string                       `json:"blob_backend"`
	Tools        *clip.Capabilities           `json:"tools,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

type UsersResponse struct {
	Users []UserResponse `json:"users"`
}

type TemplateResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Category     string   `json:"category"`
	Body         string   `json:"body"`
	Description  string   `json:"description"`
	Active       bool     `json:"active"`
	Placeholders []string `json:"placeholders"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

type TemplatesResponse struct {
	Templates []TemplateResponse `json:"templates"`
}

type GeneratePromptRequest struct {
	TemplateID string `json:"template_id"`
	SourceURL  string `json:"source_url"`
}

// SegmentResponse is one ledger entry with its current index.
type SegmentResponse struct {
	Index int `json:"index"`
	ledger.Entry
	DownloadURL string `json:"download_url,omitempty"`
}

type RecordResponse struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	SourceURL         string            `json:"source_url,omitempty"`
	SourceBucket      string            `json:"source_bucket,omitempty"`
	SourceKey         string            `json:"source_key,omitempty"`
	SourceDownloadURL string            `json:"source_download_url,omitempty"`
	OwnerID           string            `json:"owner_id,omitempty"`
	TemplateID        string            `json:"template_id,omitempty"`
	Status            string            `json:"status"`
	Notes             string            `json:"notes"`
	Tags              []string          `json:"tags"`
	Segments          []SegmentResponse `json:"segments"`
	CompletedCount    int               `json:"completed_count"`
	TotalCount        int               `json:"total_count"`
	Progress          int               `json:"progress"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
}

type RecordsResponse struct {
	Records []RecordResponse `json:"records"`
}

type SegmentAddedResponse struct {
	Index  int            `json:"index"`
	Record RecordResponse `json:"record"`
}

type SegmentDeletedResponse struct {
	Removed SegmentResponse `json:"removed"`
	Record  RecordResponse  `json:"record"`
}

type ProcessResponse struct {
	Update *processing.LedgerUpdate `json:"update"`
	Record RecordResponse           `json:"record"`
}

type ProcessPendingResponse struct {
	Outcomes []processing.Outcome `json:"outcomes"`
	Record   RecordResponse       `json:"record"`
}

type LogsResponse struct {
	Logs []*catalog.ProcessingLogEntry `json:"logs"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func UserToResponse(u *catalog.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, CreatedAt: formatTime(u.CreatedAt)}
}

func TemplateToResponse(t *catalog.PromptTemplate) TemplateResponse {
	placeholders := prompt.Placeholders(t.Body)
	return TemplateResponse{
		ID:           t.ID,
		Name:         t.Name,
		Category:     string(t.Category),
		Body:         t.Body,
		Description:  t.Description,
		Active:       t.Active,
		Placeholders: placeholders,
		CreatedAt:    formatTime(t.CreatedAt),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
}

// RecordToResponse renders a record without download links.
func RecordToResponse(rec *catalog.VideoRecord) RecordResponse {
	l := rec.Ledger()
	entries := l.Entries()
	segments := make([]SegmentResponse, len(entries))
	for i, e := range entries {
		segments[i] = SegmentResponse{Index: i, Entry: e}
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return RecordResponse{
		ID:             rec.ID,
		Title:          rec.Title,
		SourceURL:      rec.SourceURL,
		SourceBucket:   rec.SourceBucket,
		SourceKey:      rec.SourceKey,
		OwnerID:        rec.OwnerID,
		TemplateID:     rec.TemplateID,
		Status:         string(rec.Status),
		Notes:          rec.Notes,
		Tags:           tags,
		Segments:       segments,
		CompletedCount: l.CompletedCount(),
		TotalCount:     l.TotalCount(),
		Progress:       l.ProgressPercentage(),
		CreatedAt:      formatTime(rec.CreatedAt),
		UpdatedAt:      formatTime(rec.UpdatedAt),
	}
}
