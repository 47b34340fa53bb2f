package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vidprofile/vidprofile/internal/db"
	"github.com/vidprofile/vidprofile/internal/ledger"
	"github.com/vidprofile/vidprofile/internal/metadata"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

type fakeLookup struct {
	info  *metadata.Info
	err   error
	calls int
}

func (f *fakeLookup) Lookup(ctx context.Context, url string) (*metadata.Info, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	info.URL = url
	return &info, nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, Repository) {
	t.Helper()
	database, repo := setupTestDB(t)
	t.Cleanup(func() { database.Close() })
	return NewService(repo, nil, opts...), repo
}

func mustTemplate(t *testing.T, svc *Service, body string) *PromptTemplate {
	t.Helper()
	tmpl, err := svc.CreateTemplate(context.Background(), TemplateInput{
		Name:     "review",
		Category: CategoryReview,
		Body:     body,
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	return tmpl
}

func mustRecord(t *testing.T, svc *Service, in RecordInput) *VideoRecord {
	t.Helper()
	rec, err := svc.CreateRecord(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	return rec
}

func TestService_CreateUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, UserInput{Username: " alice "})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Username = %q, want alice", u.Username)
	}

	if _, err := svc.CreateUser(ctx, UserInput{Username: "alice"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate CreateUser() error = %v, want ErrConflict", err)
	}
	if _, err := svc.CreateUser(ctx, UserInput{Username: "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("blank CreateUser() error = %v, want ErrValidation", err)
	}
}

func TestService_DeleteUser_OrphansRecords(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, UserInput{Username: "bob"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	rec := mustRecord(t, svc, RecordInput{Title: "clip", OwnerID: u.ID})

	if err := svc.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}

	got, err := svc.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.OwnerID != "" {
		t.Errorf("OwnerID = %q, want empty", got.OwnerID)
	}

	if err := svc.DeleteUser(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteUser() error = %v, want ErrNotFound", err)
	}
}

func TestService_CreateTemplate_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   TemplateInput
	}{
		{"missing name", TemplateInput{Category: CategoryVlog, Body: "long enough body"}},
		{"short body", TemplateInput{Name: "x", Category: CategoryVlog, Body: "  short  "}},
		{"bad category", TemplateInput{Name: "x", Category: "poetry", Body: "long enough body"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateTemplate(ctx, tt.in); !errors.Is(err, ErrValidation) {
				t.Errorf("CreateTemplate() error = %v, want ErrValidation", err)
			}
		})
	}

	tmpl, err := svc.CreateTemplate(ctx, TemplateInput{Name: "plain", Body: "describe {youtube_title}"})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if tmpl.Category != CategoryOther {
		t.Errorf("Category = %q, want other", tmpl.Category)
	}
	if !tmpl.Active {
		t.Error("new template should be active")
	}
}

func TestService_ListTemplates_Filter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustTemplate(t, svc, "review body {youtube_title}")
	inactive := false
	if _, err := svc.CreateTemplate(ctx, TemplateInput{
		Name: "old", Category: CategoryShorts, Body: "an old shorts template", Active: &inactive,
	}); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	active := true
	got, err := svc.ListTemplates(ctx, TemplateFilter{Active: &active})
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(got) != 1 || got[0].Category != CategoryReview {
		t.Errorf("active templates = %+v, want the review template only", got)
	}

	got, err = svc.ListTemplates(ctx, TemplateFilter{Category: CategoryShorts})
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "old" {
		t.Errorf("shorts templates = %+v, want one", got)
	}

	if _, err := svc.ListTemplates(ctx, TemplateFilter{Category: "nope"}); !errors.Is(err, ErrValidation) {
		t.Errorf("ListTemplates() error = %v, want ErrValidation", err)
	}
}

func TestService_CreateRecord(t *testing.T) {
	svc, _ := newTestService(t, WithDefaultBucket("videos"))
	ctx := context.Background()

	rec := mustRecord(t, svc, RecordInput{
		Title:     "talk",
		SourceURL: testURL,
		SourceKey: "/raw//talk.mp4",
		Tags:      []string{"go", " go ", "", "talks"},
	})

	if rec.Status != StatusDraft {
		t.Errorf("Status = %s, want draft", rec.Status)
	}
	if rec.SourceKey != "raw/talk.mp4" {
		t.Errorf("SourceKey = %q, want raw/talk.mp4", rec.SourceKey)
	}
	if rec.SourceBucket != "videos" {
		t.Errorf("SourceBucket = %q, want videos", rec.SourceBucket)
	}
	if len(rec.Tags) != 2 {
		t.Errorf("Tags = %v, want [go talks]", rec.Tags)
	}

	got, err := svc.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Ledger().TotalCount() != 0 {
		t.Errorf("TotalCount = %d, want 0", got.Ledger().TotalCount())
	}
}

func TestService_CreateRecord_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RecordInput
	}{
		{"bad url", RecordInput{SourceURL: "https://example.com/video"}},
		{"unknown owner", RecordInput{OwnerID: "ghost"}},
		{"unknown template", RecordInput{TemplateID: "ghost"}},
		{"escaping key", RecordInput{SourceKey: "../secret.mp4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateRecord(ctx, tt.in); !errors.Is(err, ErrValidation) {
				t.Errorf("CreateRecord() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestService_UpdateRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tmpl := mustTemplate(t, svc, "review {youtube_title}")
	rec := mustRecord(t, svc, RecordInput{Title: "before", TemplateID: tmpl.ID})

	title, none := "after", ""
	got, err := svc.UpdateRecord(ctx, rec.ID, RecordUpdate{Title: &title, TemplateID: &none})
	if err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}
	if got.Title != "after" || got.TemplateID != "" {
		t.Errorf("record = %+v, want title after and no template", got)
	}
	if got.UpdatedAt.Before(rec.UpdatedAt) {
		t.Error("UpdatedAt moved backwards")
	}

	if _, err := svc.UpdateRecord(ctx, "missing", RecordUpdate{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRecord() error = %v, want ErrNotFound", err)
	}
}

func TestService_AddSegment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := mustRecord(t, svc, RecordInput{Title: "talk"})

	got, index, err := svc.AddSegment(ctx, rec.ID, SegmentInput{
		Prompt:    "the intro",
		StartTime: ledger.Float(10),
		EndTime:   ledger.Float(40),
	})
	if err != nil {
		t.Fatalf("AddSegment() error = %v", err)
	}
	if index != 0 {
		t.Errorf("index = %d, want 0", index)
	}
	e, _ := got.Ledger().At(0)
	if e.Status != ledger.StatusPending || e.HasOutput() {
		t.Errorf("entry = %+v, want pending with no output", e)
	}
	if got.Status != StatusDraft {
		t.Errorf("Status = %s, want draft", got.Status)
	}

	stored, err := svc.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if stored.Ledger().TotalCount() != 1 {
		t.Errorf("stored TotalCount = %d, want 1", stored.Ledger().TotalCount())
	}

	logs, err := svc.ListLogs(ctx, rec.ID, 0)
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Level != LevelInfo {
		t.Errorf("logs = %+v, want one info entry", logs)
	}
}

func TestService_AddSegment_InvalidRange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := mustRecord(t, svc, RecordInput{Title: "talk"})

	_, _, err := svc.AddSegment(ctx, rec.ID, SegmentInput{
		Prompt:    "backwards",
		StartTime: ledger.Float(30),
		EndTime:   ledger.Float(10),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("AddSegment() error = %v, want ErrValidation", err)
	}

	stored, _ := svc.GetRecord(ctx, rec.ID)
	if stored.Ledger().TotalCount() != 0 {
		t.Errorf("TotalCount = %d, want 0", stored.Ledger().TotalCount())
	}
}

func TestService_AddSegment_ReopensCompletedRecord(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	rec := mustRecord(t, svc, RecordInput{Title: "talk"})

	if err := repo.UpdateRecordStatus(ctx, rec.ID, StatusCompleted, rec.UpdatedAt); err != nil {
		t.Fatalf("UpdateRecordStatus() error = %v", err)
	}

	got, _, err := svc.AddSegment(ctx, rec.ID, SegmentInput{Prompt: "more"})
	if err != nil {
		t.Fatalf("AddSegment() error = %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("Status = %s, want processing", got.Status)
	}
}

func TestService_AddSegment_ExpandsTemplate(t *testing.T) {
	lookup := &fakeLookup{info: &metadata.Info{Title: "Never Gonna", Uploader: "Rick"}}
	svc, _ := newTestService(t, WithMetadataLookup(lookup))
	ctx := context.Background()

	tmpl := mustTemplate(t, svc, "Cut {youtube_title} by {youtube_uploader} from {youtube_link}")
	rec := mustRecord(t, svc, RecordInput{Title: "local title", SourceURL: testURL, TemplateID: tmpl.ID})

	got, index, err := svc.AddSegment(ctx, rec.ID, SegmentInput{})
	if err != nil {
		t.Fatalf("AddSegment() error = %v", err)
	}
	e, _ := got.Ledger().At(index)
	want := "Cut Never Gonna by Rick from " + testURL
	if e.Prompt != want {
		t.Errorf("Prompt = %q, want %q", e.Prompt, want)
	}
	if lookup.calls != 1 {
		t.Errorf("lookup calls = %d, want 1", lookup.calls)
	}
}

func TestService_AddSegment_LookupFailureFallsBack(t *testing.T) {
	lookup := &fakeLookup{err: metadata.ErrMetadataUnavailable}
	svc, _ := newTestService(t, WithMetadataLookup(lookup))
	ctx := context.Background()

	tmpl := mustTemplate(t, svc, "Cut {youtube_title}{youtube_uploader}")
	rec := mustRecord(t, svc, RecordInput{Title: "local title", SourceURL: testURL, TemplateID: tmpl.ID})

	got, index, err := svc.AddSegment(ctx, rec.ID, SegmentInput{})
	if err != nil {
		t.Fatalf("AddSegment() error = %v", err)
	}
	e, _ := got.Ledger().At(index)
	if e.Prompt != "Cut local title" {
		t.Errorf("Prompt = %q, want %q", e.Prompt, "Cut local title")
	}

	logs, _ := svc.ListLogs(ctx, rec.ID, 0)
	var warned bool
	for _, l := range logs {
		if l.Level == LevelWarning {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a warning log entry for the failed lookup")
	}
}

func TestService_AddSegment_NeedsPromptOrTemplate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := mustRecord(t, svc, RecordInput{Title: "talk"})

	if _, _, err := svc.AddSegment(ctx, rec.ID, SegmentInput{Prompt: "   "}); !errors.Is(err, ErrValidation) {
		t.Errorf("AddSegment() error = %v, want ErrValidation", err)
	}
}

func TestService_AddSegment_InactiveTemplate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tmpl := mustTemplate(t, svc, "some template body")
	off := false
	if _, err := svc.UpdateTemplate(ctx, tmpl.ID, TemplateUpdate{Active: &off}); err != nil {
		t.Fatalf("UpdateTemplate() error = %v", err)
	}
	rec := mustRecord(t, svc, RecordInput{Title: "talk", TemplateID: tmpl.ID})

	if _, _, err := svc.AddSegment(ctx, rec.ID, SegmentInput{}); !errors.Is(err, ErrValidation) {
		t.Errorf("AddSegment() error = %v, want ErrValidation", err)
	}
}

func TestService_DeleteSegment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := mustRecord(t, svc, RecordInput{Title: "talk"})

	for _, p := range []string{"first", "second", "third"} {
		if _, _, err := svc.AddSegment(ctx, rec.ID, SegmentInput{Prompt: p}); err != nil {
			t.Fatalf("AddSegment(%s) error = %v", p, err)
		}
	}

	got, removed, err := svc.DeleteSegment(ctx, rec.ID, 0)
	if err != nil {
		t.Fatalf("DeleteSegment() error = %v", err)
	}
	if removed.Prompt != "first" {
		t.Errorf("removed = %q, want first", removed.Prompt)
	}
	if got.Ledger().TotalCount() != 2 {
		t.Fatalf("TotalCount = %d, want 2", got.Ledger().TotalCount())
	}
	e, _ := got.Ledger().At(0)
	if e.Prompt != "second" {
		t.Errorf("entry 0 = %q, want second", e.Prompt)
	}

	if _, _, err := svc.DeleteSegment(ctx, rec.ID, 2); !errors.Is(err, ledger.ErrIndexOutOfRange) {
		t.Errorf("DeleteSegment() error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestService_GeneratePrompt(t *testing.T) {
	ctx := context.Background()

	t.Run("without lookup", func(t *testing.T) {
		svc, _ := newTestService(t)
		tmpl := mustTemplate(t, svc, "Watch {youtube_link} now {youtube_title}")

		res, err := svc.GeneratePrompt(ctx, tmpl.ID, testURL)
		if err != nil {
			t.Fatalf("GeneratePrompt() error = %v", err)
		}
		if res.Prompt != "Watch "+testURL+" now " {
			t.Errorf("Prompt = %q", res.Prompt)
		}
		if res.MetadataError == "" {
			t.Error("MetadataError is empty")
		}
		if len(res.Placeholders) != 2 {
			t.Errorf("Placeholders = %v, want 2", res.Placeholders)
		}
	})

	t.Run("with lookup", func(t *testing.T) {
		lookup := &fakeLookup{info: &metadata.Info{Title: "Song"}}
		svc, _ := newTestService(t, WithMetadataLookup(lookup))
		tmpl := mustTemplate(t, svc, "Title is {youtube_title}")

		res, err := svc.GeneratePrompt(ctx, tmpl.ID, testURL)
		if err != nil {
			t.Fatalf("GeneratePrompt() error = %v", err)
		}
		if res.Prompt != "Title is Song" {
			t.Errorf("Prompt = %q, want %q", res.Prompt, "Title is Song")
		}
		if res.Metadata == nil {
			t.Error("Metadata is nil")
		}
	})

	t.Run("bad url", func(t *testing.T) {
		svc, _ := newTestService(t)
		tmpl := mustTemplate(t, svc, "Title is {youtube_title}")
		if _, err := svc.GeneratePrompt(ctx, tmpl.ID, "not a link"); !errors.Is(err, ErrValidation) {
			t.Errorf("GeneratePrompt() error = %v, want ErrValidation", err)
		}
	})
}

func TestService_PreviewSource_NoLookup(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.PreviewSource(context.Background(), testURL)
	if !errors.Is(err, metadata.ErrMetadataUnavailable) {
		t.Errorf("PreviewSource() error = %v, want ErrMetadataUnavailable", err)
	}
}

func TestService_DeleteRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := mustRecord(t, svc, RecordInput{Title: "talk"})

	if err := svc.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if _, err := svc.GetRecord(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
	}
	if n := svc.locks.Len(); n != 0 {
		t.Errorf("locks held = %d, want 0", n)
	}
}

func TestService_UpgradeLedgers(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := database.Conn().ExecContext(ctx, `
		INSERT INTO video_records (id, title, segments, ledger_version, created_at, updated_at)
		VALUES ('legacy-1', 'old', '[{"prompt":"p","minio_output_link":"outputs/legacy-1/a.mp4"}]', 1,
			'2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	n, err := svc.UpgradeLedgers(ctx)
	if err != nil {
		t.Fatalf("UpgradeLedgers() error = %v", err)
	}
	if n != 1 {
		t.Errorf("UpgradeLedgers() = %d, want 1", n)
	}

	rec, err := svc.GetRecord(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	e, err := rec.Ledger().At(0)
	if err != nil {
		t.Fatalf("At(0) error = %v", err)
	}
	if e.ID == "" {
		t.Error("upgraded entry has no id")
	}
	if e.OutputRef == nil || *e.OutputRef != "outputs/legacy-1/a.mp4" {
		t.Errorf("OutputRef = %v, want outputs/legacy-1/a.mp4", e.OutputRef)
	}
	if e.Status != ledger.StatusCompleted {
		t.Errorf("Status = %q, want %q", e.Status, ledger.StatusCompleted)
	}

	n, err = svc.UpgradeLedgers(ctx)
	if err != nil || n != 0 {
		t.Errorf("second UpgradeLedgers() = %d, %v, want 0, nil", n, err)
	}
}

func TestService_UpgradeLedgersKeepsUnconvertibleRows(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	svc := NewService(repo, nil)
	ctx := context.Background()

	const raw = `[{"prompt":"p","minio_output_link":"outputs/legacy-2/a.mp4","processed_at":"last tuesday"}]`
	_, err := database.Conn().ExecContext(ctx, `
		INSERT INTO video_records (id, title, segments, ledger_version, created_at, updated_at)
		VALUES ('legacy-2', 'old', ?, 1, '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`, raw)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	n, err := svc.UpgradeLedgers(ctx)
	if !errors.Is(err, ledger.ErrUnconvertible) {
		t.Errorf("UpgradeLedgers() error = %v, want ErrUnconvertible", err)
	}
	if n != 0 {
		t.Errorf("UpgradeLedgers() = %d, want 0", n)
	}

	var segments string
	var version int
	err = database.Conn().QueryRowContext(ctx,
		"SELECT segments, ledger_version FROM video_records WHERE id = 'legacy-2'").Scan(&segments, &version)
	if err != nil {
		t.Fatalf("query row: %v", err)
	}
	if segments != raw {
		t.Errorf("segments = %s, want %s", segments, raw)
	}
	if version != 1 {
		t.Errorf("ledger_version = %d, want 1", version)
	}
}
