package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vidprofile/vidprofile/internal/ledger"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	DeleteUser(ctx context.Context, id string) error

	CreateTemplate(ctx context.Context, t *PromptTemplate) error
	GetTemplate(ctx context.Context, id string) (*PromptTemplate, error)
	ListTemplates(ctx context.Context, f TemplateFilter) ([]*PromptTemplate, error)
	UpdateTemplate(ctx context.Context, t *PromptTemplate) error
	DeleteTemplate(ctx context.Context, id string) error

	CreateRecord(ctx context.Context, r *VideoRecord) error
	GetRecord(ctx context.Context, id string) (*VideoRecord, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]*VideoRecord, error)
	UpdateRecord(ctx context.Context, r *VideoRecord) error
	UpdateRecordStatus(ctx context.Context, id string, status RecordStatus, updatedAt time.Time) error
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	DeleteRecord(ctx context.Context, id string) error
	CountRecordsByStatus(ctx context.Context) (map[RecordStatus]int, error)
	UpgradeLedgers(ctx context.Context) (int, error)

	AppendLog(ctx context.Context, e *ProcessingLogEntry) error
	ListLogs(ctx context.Context, recordID string, limit int) ([]*ProcessingLogEntry, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
	`, u.ID, u.Username, formatTime(u.CreatedAt))
	return err
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE id = ?", id)
	return r.scanUser(row)
}

func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT id, username, created_at FROM users WHERE username = ?", username)
	return r.scanUser(row)
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, username, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(createdAt)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) DeleteUser(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	return err
}

const templateColumns = "id, name, category, body, description, active, created_at, updated_at"

func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t *PromptTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prompt_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, string(t.Category), t.Body, t.Description, boolToInt(t.Active),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, id string) (*PromptTemplate, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM prompt_templates WHERE id = ?", id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context, f TemplateFilter) ([]*PromptTemplate, error) {
	query := "SELECT " + templateColumns + " FROM prompt_templates"
	var where []string
	var args []any
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolToInt(*f.Active))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category, name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*PromptTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, t *PromptTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE prompt_templates
		SET name = ?, category = ?, body = ?, description = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, t.Name, string(t.Category), t.Body, t.Description, boolToInt(t.Active), formatTime(t.UpdatedAt), t.ID)
	return err
}

func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM prompt_templates WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s scanner) (*PromptTemplate, error) {
	var t PromptTemplate
	var category string
	var active int
	var createdAt, updatedAt string
	if err := s.Scan(&t.ID, &t.Name, &category, &t.Body, &t.Description, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Category = Category(category)
	t.Active = active == 1
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

const recordColumns = `id, title, source_url, source_bucket, source_key, owner_id, template_id,
	status, notes, tags, segments, created_at, updated_at`

func (r *SQLiteRepository) CreateRecord(ctx context.Context, rec *VideoRecord) error {
	tags, segments, err := encodeRecordJSON(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO video_records (id, title, source_url, source_bucket, source_key, owner_id, template_id,
			status, notes, tags, segments, ledger_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Title, nullString(rec.SourceURL), nullString(rec.SourceBucket), nullString(rec.SourceKey),
		nullString(rec.OwnerID), nullString(rec.TemplateID), string(rec.Status), rec.Notes,
		tags, segments, ledger.CurrentVersion, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetRecord(ctx context.Context, id string) (*VideoRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM video_records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *SQLiteRepository) ListRecords(ctx context.Context, f RecordFilter) ([]*VideoRecord, error) {
	query := "SELECT " + recordColumns + " FROM video_records"
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*VideoRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateRecord writes every mutable column, including the ledger, in one
// statement so a ledger change and its status are persisted together.
func (r *SQLiteRepository) UpdateRecord(ctx context.Context, rec *VideoRecord) error {
	tags, segments, err := encodeRecordJSON(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE video_records
		SET title = ?, source_url = ?, source_bucket = ?, source_key = ?, owner_id = ?, template_id = ?,
			status = ?, notes = ?, tags = ?, segments = ?, ledger_version = ?, updated_at = ?,
			processing_started_at = NULL
		WHERE id = ?
	`, rec.Title, nullString(rec.SourceURL), nullString(rec.SourceBucket), nullString(rec.SourceKey),
		nullString(rec.OwnerID), nullString(rec.TemplateID), string(rec.Status), rec.Notes,
		tags, segments, ledger.CurrentVersion, formatTime(rec.UpdatedAt), rec.ID)
	return err
}

// UpdateRecordStatus settles a record's status and clears any in-flight
// marker.
func (r *SQLiteRepository) UpdateRecordStatus(ctx context.Context, id string, status RecordStatus, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE video_records
		SET status = ?, updated_at = MAX(updated_at, ?), processing_started_at = NULL
		WHERE id = ?
	`, string(status), formatTime(updatedAt), id)
	return err
}

// MarkProcessing moves a record to processing and stamps it as in flight.
// Only stamped records are failed on the next startup.
func (r *SQLiteRepository) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE video_records
		SET status = ?, updated_at = MAX(updated_at, ?), processing_started_at = ?
		WHERE id = ?
	`, string(StatusProcessing), formatTime(startedAt), formatTime(startedAt), id)
	return err
}

func (r *SQLiteRepository) DeleteRecord(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM video_records WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CountRecordsByStatus(ctx context.Context) (map[RecordStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM video_records GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[RecordStatus]int, len(RecordStatuses))
	for _, s := range RecordStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[RecordStatus(status)] = n
	}
	return counts, rows.Err()
}

// UpgradeLedgers rewrites every ledger stored in an older shape into the
// current one. Rows that cannot be decoded, or would lose a legacy value on
// rewrite, are left untouched and reported in the returned error; the rest
// are still upgraded.
func (r *SQLiteRepository) UpgradeLedgers(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, segments FROM video_records WHERE ledger_version < ?", ledger.CurrentVersion)
	if err != nil {
		return 0, err
	}

	type pending struct {
		id   string
		data []byte
	}
	var stale []pending
	for rows.Next() {
		var p pending
		var raw sql.NullString
		if err := rows.Scan(&p.id, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		p.data = []byte(raw.String)
		stale = append(stale, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var errs []error
	upgraded := 0
	for _, p := range stale {
		l, err := ledger.DecodeForUpgrade(p.data)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", p.id, err))
			continue
		}
		data, err := ledger.Encode(l)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", p.id, err))
			continue
		}
		if _, err := r.db.ExecContext(ctx,
			"UPDATE video_records SET segments = ?, ledger_version = ? WHERE id = ?",
			string(data), ledger.CurrentVersion, p.id); err != nil {
			return upgraded, err
		}
		upgraded++
	}
	return upgraded, errors.Join(errs...)
}

func scanRecord(s scanner) (*VideoRecord, error) {
	var rec VideoRecord
	var sourceURL, sourceBucket, sourceKey, ownerID, templateID sql.NullString
	var status, tags, segments, createdAt, updatedAt string

	err := s.Scan(&rec.ID, &rec.Title, &sourceURL, &sourceBucket, &sourceKey, &ownerID, &templateID,
		&status, &rec.Notes, &tags, &segments, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.SourceURL = sourceURL.String
	rec.SourceBucket = sourceBucket.String
	rec.SourceKey = sourceKey.String
	rec.OwnerID = ownerID.String
	rec.TemplateID = templateID.String
	rec.Status = RecordStatus(status)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("record %s tags: %w", rec.ID, err)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	l, _, err := ledger.Decode([]byte(segments))
	if err != nil {
		return nil, fmt.Errorf("record %s segments: %w", rec.ID, err)
	}
	rec.Segments = l
	return &rec, nil
}

func encodeRecordJSON(rec *VideoRecord) (string, string, error) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagData, err := json.Marshal(tags)
	if err != nil {
		return "", "", err
	}
	segData, err := ledger.Encode(rec.Segments)
	if err != nil {
		return "", "", err
	}
	return string(tagData), string(segData), nil
}

func (r *SQLiteRepository) AppendLog(ctx context.Context, e *ProcessingLogEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode log details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO processing_logs (id, record_id, level, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.RecordID, string(e.Level), e.Message, string(data), formatTime(e.CreatedAt))
	return err
}

func (r *SQLiteRepository) ListLogs(ctx context.Context, recordID string, limit int) ([]*ProcessingLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_id, level, message, details, created_at
		FROM processing_logs WHERE record_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, recordID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ProcessingLogEntry
	for rows.Next() {
		var e ProcessingLogEntry
		var level, details, createdAt string
		if err := rows.Scan(&e.ID, &e.RecordID, &level, &e.Message, &details, &createdAt); err != nil {
			return nil, err
		}
		e.Level = LogLevel(level)
		e.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			e.Details = map[string]any{"raw": details}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
