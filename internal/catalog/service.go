package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vidprofile/vidprofile/internal/blobstore"
	"github.com/vidprofile/vidprofile/internal/ledger"
	"github.com/vidprofile/vidprofile/internal/logging"
	"github.com/vidprofile/vidprofile/internal/metadata"
	"github.com/vidprofile/vidprofile/internal/prompt"
)

type UserInput struct {
	Username string `json:"username"`
}

type TemplateInput struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Body        string   `json:"body"`
	Description string   `json:"description"`
	Active      *bool    `json:"active,omitempty"`
}

type TemplateUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Body        *string   `json:"body,omitempty"`
	Description *string   `json:"description,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

type RecordInput struct {
	Title        string   `json:"title"`
	SourceURL    string   `json:"source_url"`
	SourceBucket string   `json:"source_bucket"`
	SourceKey    string   `json:"source_key"`
	OwnerID      string   `json:"owner_id"`
	TemplateID   string   `json:"template_id"`
	Notes        string   `json:"notes"`
	Tags         []string `json:"tags"`
}

// RecordUpdate lists the fields a caller may change. Nil fields are kept;
// an empty string clears an optional reference. Status and segments are not
// settable here.
type RecordUpdate struct {
	Title        *string   `json:"title,omitempty"`
	SourceURL    *string   `json:"source_url,omitempty"`
	SourceBucket *string   `json:"source_bucket,omitempty"`
	SourceKey    *string   `json:"source_key,omitempty"`
	OwnerID      *string   `json:"owner_id,omitempty"`
	TemplateID   *string   `json:"template_id,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	Tags         *[]string `json:"tags,omitempty"`
}

type SegmentInput struct {
	Prompt     string   `json:"prompt"`
	TemplateID string   `json:"template_id"`
	Result     string   `json:"result"`
	StartTime  *float64 `json:"start_time"`
	EndTime    *float64 `json:"end_time"`
}

// PromptResult is the outcome of expanding a template for a source link.
type PromptResult struct {
	Prompt        string         `json:"prompt"`
	TemplateID    string         `json:"template_id"`
	Placeholders  []string       `json:"placeholders"`
	Metadata      *metadata.Info `json:"metadata,omitempty"`
	MetadataError string         `json:"metadata_error,omitempty"`
}

type Option func(*Service)

// WithMetadataLookup enables source metadata lookups for prompt expansion.
func WithMetadataLookup(l metadata.Lookup) Option {
	return func(s *Service) { s.lookup = l }
}

// WithDefaultBucket sets the bucket recorded for sources given without one.
func WithDefaultBucket(bucket string) Option {
	return func(s *Service) { s.defaultBucket = bucket }
}

type Service struct {
	repo          Repository
	locks         *RecordLocks
	lookup        metadata.Lookup
	defaultBucket string
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		locks:  NewRecordLocks(),
		logger: logging.OrDiscard(logger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock serializes work on one record. Every ledger mutation, here and in the
// processor, happens while holding it.
func (s *Service) Lock(ctx context.Context, recordID string) (func(), error) {
	return s.locks.Lock(ctx, recordID)
}

// Users

func (s *Service) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}
	existing, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: username %q is taken", ErrConflict, username)
	}

	u := &User{ID: NewID(), Username: username, CreatedAt: s.timestamp()}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID)
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.repo.ListUsers(ctx)
}

// DeleteUser removes a user. Records they owned keep existing with no owner.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteUser(ctx, id)
}

// Templates

func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (*PromptTemplate, error) {
	now := s.timestamp()
	t := &PromptTemplate{
		ID:          NewID(),
		Name:        strings.TrimSpace(in.Name),
		Category:    in.Category,
		Body:        in.Body,
		Description: in.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Category == "" {
		t.Category = CategoryOther
	}
	if in.Active != nil {
		t.Active = *in.Active
	}
	if err := validateTemplate(t); err != nil {
		return nil, err
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("template created", "template_id", t.ID, "category", t.Category)
	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, id string) (*PromptTemplate, error) {
	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *Service) ListTemplates(ctx context.Context, f TemplateFilter) ([]*PromptTemplate, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, f.Category)
	}
	return s.repo.ListTemplates(ctx, f)
}

func (s *Service) UpdateTemplate(ctx context.Context, id string, up TemplateUpdate) (*PromptTemplate, error) {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if up.Name != nil {
		t.Name = strings.TrimSpace(*up.Name)
	}
	if up.Category != nil {
		t.Category = *up.Category
	}
	if up.Body != nil {
		t.Body = *up.Body
	}
	if up.Description != nil {
		t.Description = *up.Description
	}
	if up.Active != nil {
		t.Active = *up.Active
	}
	if err := validateTemplate(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = laterOf(s.timestamp(), t.UpdatedAt)
	if err := s.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTemplate hard-deletes a template. Records that referenced it keep
// existing with no template.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := s.GetTemplate(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteTemplate(ctx, id)
}

func validateTemplate(t *PromptTemplate) error {
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, t.Category)
	}
	if !prompt.ValidBody(t.Body) {
		return fmt.Errorf("%w: template body needs at least %d non-blank characters", ErrValidation, prompt.MinBodyLength)
	}
	return nil
}

// Records

func (s *Service) CreateRecord(ctx context.Context, in RecordInput) (*VideoRecord, error) {
	now := s.timestamp()
	rec := &VideoRecord{
		ID:           NewID(),
		Title:        strings.TrimSpace(in.Title),
		SourceURL:    strings.TrimSpace(in.SourceURL),
		SourceBucket: strings.TrimSpace(in.SourceBucket),
		SourceKey:    strings.TrimSpace(in.SourceKey),
		OwnerID:      in.OwnerID,
		TemplateID:   in.TemplateID,
		Status:       StatusDraft,
		Notes:        in.Notes,
		Tags:         normalizeTags(in.Tags),
		Segments:     &ledger.Ledger{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.validateRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("record created", "record_id", rec.ID)
	return rec, nil
}

func (s *Service) GetRecord(ctx context.Context, id string) (*VideoRecord, error) {
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (s *Service) ListRecords(ctx context.Context, f RecordFilter) ([]*VideoRecord, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return s.repo.ListRecords(ctx, f)
}

func (s *Service) UpdateRecord(ctx context.Context, id string, up RecordUpdate) (*VideoRecord, error) {
	unlock, err := s.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if up.Title != nil {
		rec.Title = strings.TrimSpace(*up.Title)
	}
	if up.SourceURL != nil {
		rec.SourceURL = strings.TrimSpace(*up.SourceURL)
	}
	if up.SourceBucket != nil {
		rec.SourceBucket = strings.TrimSpace(*up.SourceBucket)
	}
	if up.SourceKey != nil {
		rec.SourceKey = strings.TrimSpace(*up.SourceKey)
	}
	if up.OwnerID != nil {
		rec.OwnerID = *up.OwnerID
	}
	if up.TemplateID != nil {
		rec.TemplateID = *up.TemplateID
	}
	if up.Notes != nil {
		rec.Notes = *up.Notes
	}
	if up.Tags != nil {
		rec.Tags = normalizeTags(*up.Tags)
	}
	if err := s.validateRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	unlock, err := s.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.GetRecord(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteRecord(ctx, id); err != nil {
		return err
	}
	s.logger.Info("record deleted", "record_id", id)
	return nil
}

// StatusCounts returns the number of records in each status.
func (s *Service) StatusCounts(ctx context.Context) (map[RecordStatus]int, error) {
	return s.repo.CountRecordsByStatus(ctx)
}

func (s *Service) validateRecord(ctx context.Context, rec *VideoRecord) error {
	if rec.SourceURL != "" {
		if _, err := metadata.ParseVideoID(rec.SourceURL); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if rec.SourceKey != "" {
		key, err := blobstore.CleanKey(rec.SourceKey)
		if err != nil {
			return fmt.Errorf("%w: source key: %v", ErrValidation, err)
		}
		rec.SourceKey = key
		if rec.SourceBucket == "" {
			rec.SourceBucket = s.defaultBucket
		}
	} else {
		rec.SourceBucket = ""
	}
	if rec.OwnerID != "" {
		u, err := s.repo.GetUser(ctx, rec.OwnerID)
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("%w: owner %s does not exist", ErrValidation, rec.OwnerID)
		}
	}
	if rec.TemplateID != "" {
		t, err := s.repo.GetTemplate(ctx, rec.TemplateID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("%w: template %s does not exist", ErrValidation, rec.TemplateID)
		}
	}
	return nil
}

// SaveRecord persists every field of rec, ledger included, and advances its
// updated_at. The caller must hold the record lock.
func (s *Service) SaveRecord(ctx context.Context, rec *VideoRecord) error {
	rec.Touch(s.now())
	return s.repo.UpdateRecord(ctx, rec)
}

// SetStatus persists a status change without touching the ledger. The
// caller must hold the record lock.
func (s *Service) SetStatus(ctx context.Context, rec *VideoRecord, status RecordStatus) error {
	rec.Status = status
	rec.Touch(s.now())
	return s.repo.UpdateRecordStatus(ctx, rec.ID, status, rec.UpdatedAt)
}

// BeginProcessing marks a record as having a segment job in flight. The
// marker is cleared by the next SaveRecord or SetStatus.
func (s *Service) BeginProcessing(ctx context.Context, rec *VideoRecord) error {
	rec.Status = StatusProcessing
	rec.Touch(s.now())
	return s.repo.MarkProcessing(ctx, rec.ID, rec.UpdatedAt)
}

// Segments

// AddSegment appends a pending ledger entry. Without explicit prompt text
// the template (the input's, else the record's) is expanded.
func (s *Service) AddSegment(ctx context.Context, recordID string, in SegmentInput) (*VideoRecord, int, error) {
	entry := ledger.Entry{
		Prompt:    strings.TrimSpace(in.Prompt),
		Result:    in.Result,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Status:    ledger.StatusPending,
	}
	if err := entry.Validate(); err != nil {
		return nil, -1, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unlock, err := s.Lock(ctx, recordID)
	if err != nil {
		return nil, -1, err
	}
	defer unlock()

	rec, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, -1, err
	}

	entry.Prompt, err = s.ResolvePrompt(ctx, rec, entry.Prompt, in.TemplateID)
	if err != nil {
		return nil, -1, err
	}

	index, err := rec.Ledger().Append(entry)
	if err != nil {
		return nil, -1, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	rec.DeriveStatus()
	if err := s.SaveRecord(ctx, rec); err != nil {
		return nil, -1, err
	}

	added, _ := rec.Ledger().At(index)
	s.Log(ctx, rec.ID, LevelInfo, "segment added", map[string]any{
		"index":      index,
		"entry_id":   added.ID,
		"start_time": in.StartTime,
		"end_time":   in.EndTime,
	})
	return rec, index, nil
}

// DeleteSegment permanently removes the entry at index. Later entries move
// down one position. Published clips are left in the blob store.
func (s *Service) DeleteSegment(ctx context.Context, recordID string, index int) (*VideoRecord, ledger.Entry, error) {
	unlock, err := s.Lock(ctx, recordID)
	if err != nil {
		return nil, ledger.Entry{}, err
	}
	defer unlock()

	rec, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, ledger.Entry{}, err
	}
	removed, err := rec.Ledger().RemoveAt(index)
	if err != nil {
		return nil, ledger.Entry{}, err
	}
	rec.DeriveStatus()
	if err := s.SaveRecord(ctx, rec); err != nil {
		return nil, ledger.Entry{}, err
	}

	s.Log(ctx, rec.ID, LevelInfo, "segment deleted", map[string]any{
		"index":    index,
		"entry_id": removed.ID,
	})
	return rec, removed, nil
}

// Prompts

// ResolvePrompt returns explicit when it is non-blank. Otherwise it expands
// the template templateID, or the record's template, with the source's
// metadata. A failed metadata lookup falls back to the record's own fields
// and is written to the record's processing log.
func (s *Service) ResolvePrompt(ctx context.Context, rec *VideoRecord, explicit, templateID string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	if templateID == "" {
		templateID = rec.TemplateID
	}
	if templateID == "" {
		return "", fmt.Errorf("%w: a prompt or a template is required", ErrValidation)
	}
	t, err := s.activeTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}

	md := recordMetadata(rec)
	if s.lookup != nil && rec.SourceURL != "" {
		info, err := s.lookup.Lookup(ctx, rec.SourceURL)
		if err != nil {
			s.Log(ctx, rec.ID, LevelWarning, "metadata lookup failed, using record fields", map[string]any{
				"source_url": rec.SourceURL,
				"error":      err.Error(),
			})
		} else {
			md = mergeMetadata(info.Prompt(), md)
		}
	}
	return prompt.Expand(t.Body, md), nil
}

// GeneratePrompt expands a template for a source link without touching any
// record.
func (s *Service) GeneratePrompt(ctx context.Context, templateID, sourceURL string) (*PromptResult, error) {
	if _, err := metadata.ParseVideoID(sourceURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	t, err := s.activeTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	res := &PromptResult{TemplateID: t.ID, Placeholders: prompt.Placeholders(t.Body)}
	md := prompt.Metadata{Link: sourceURL}
	if s.lookup == nil {
		res.MetadataError = metadata.ErrMetadataUnavailable.Error()
	} else if info, err := s.lookup.Lookup(ctx, sourceURL); err != nil {
		res.MetadataError = err.Error()
	} else {
		res.Metadata = info
		md = info.Prompt()
		md.Link = sourceURL
	}
	res.Prompt = prompt.Expand(t.Body, md)
	return res, nil
}

// PreviewSource looks up a source link's metadata.
func (s *Service) PreviewSource(ctx context.Context, sourceURL string) (*metadata.Info, error) {
	if _, err := metadata.ParseVideoID(sourceURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if s.lookup == nil {
		return nil, fmt.Errorf("%w: lookup is not configured", metadata.ErrMetadataUnavailable)
	}
	return s.lookup.Lookup(ctx, sourceURL)
}

func (s *Service) activeTemplate(ctx context.Context, id string) (*PromptTemplate, error) {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, fmt.Errorf("%w: template %s is inactive", ErrValidation, id)
	}
	return t, nil
}

func recordMetadata(rec *VideoRecord) prompt.Metadata {
	return prompt.Metadata{
		Link:        rec.SourceURL,
		Title:       rec.Title,
		Description: rec.Notes,
		Tags:        rec.Tags,
	}
}

// mergeMetadata fills blank looked-up fields from the record.
func mergeMetadata(looked, rec prompt.Metadata) prompt.Metadata {
	if looked.Link == "" {
		looked.Link = rec.Link
	}
	if looked.Title == "" {
		looked.Title = rec.Title
	}
	if looked.Description == "" {
		looked.Description = rec.Description
	}
	if len(looked.Tags) == 0 {
		looked.Tags = rec.Tags
	}
	return looked
}

// Processing logs

// Log appends to a record's processing log. A failed write is reported
// through the service logger only; the log is diagnostic.
func (s *Service) Log(ctx context.Context, recordID string, level LogLevel, message string, details map[string]any) {
	e := &ProcessingLogEntry{
		ID:        NewID(),
		RecordID:  recordID,
		Level:     level,
		Message:   message,
		Details:   details,
		CreatedAt: s.timestamp(),
	}
	if err := s.repo.AppendLog(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to write processing log", "record_id", recordID, "message", message, "error", err)
	}
}

func (s *Service) ListLogs(ctx context.Context, recordID string, limit int) ([]*ProcessingLogEntry, error) {
	if _, err := s.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.repo.ListLogs(ctx, recordID, limit)
}

// UpgradeLedgers rewrites stored ledgers into the current shape.
func (s *Service) UpgradeLedgers(ctx context.Context) (int, error) {
	n, err := s.repo.UpgradeLedgers(ctx)
	if n > 0 {
		s.logger.Info("upgraded stored ledgers", "count", n, "version", ledger.CurrentVersion)
	}
	return n, err
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func laterOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
