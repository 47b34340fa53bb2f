// Package ledger implements the per-record result ledger: an ordered,
// index-addressed list of segment cut outcomes.
//
// Entries are addressed two ways. The positional index is what callers have
// always used, and RemoveAt shifts every later index down by one, so an index
// obtained before a removal may point at a different entry afterwards. Each
// entry also carries a stable ID assigned at append time; IndexOf resolves it
// to the current position.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the per-entry processing status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known entry statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	ErrIndexOutOfRange = errors.New("ledger index out of range")
	ErrInvalidRange    = errors.New("invalid time range")
	ErrInvalidEntry    = errors.New("invalid ledger entry")
)

// Entry is one requested cut and its outcome.
type Entry struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Result      string     `json:"result"`
	StartTime   *float64   `json:"start_time"`
	EndTime     *float64   `json:"end_time"`
	OutputRef   *string    `json:"output_object_reference"`
	ProcessedAt *time.Time `json:"processed_at"`
	Status      Status     `json:"status"`
}

// HasOutput reports whether the cut for this entry has been published.
// This is the canonical completion criterion.
func (e Entry) HasOutput() bool {
	return e.OutputRef != nil && *e.OutputRef != ""
}

// HasRange reports whether both start and end times are set.
func (e Entry) HasRange() bool {
	return e.StartTime != nil && e.EndTime != nil
}

// Validate checks the entry invariants.
func (e Entry) Validate() error {
	if e.StartTime != nil && *e.StartTime < 0 {
		return fmt.Errorf("%w: start %v is negative", ErrInvalidRange, *e.StartTime)
	}
	if e.EndTime != nil && *e.EndTime < 0 {
		return fmt.Errorf("%w: end %v is negative", ErrInvalidRange, *e.EndTime)
	}
	if e.HasRange() && *e.EndTime <= *e.StartTime {
		return fmt.Errorf("%w: end %v must be greater than start %v", ErrInvalidRange, *e.EndTime, *e.StartTime)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, e.Status)
	}
	if e.HasOutput() && e.Status != StatusCompleted {
		return fmt.Errorf("%w: entry with output must be completed, got %q", ErrInvalidEntry, e.Status)
	}
	return nil
}

// Patch lists the fields UpdateAt merges into an existing entry. Nil fields
// are left untouched.
type Patch struct {
	Prompt      *string
	Result      *string
	StartTime   *float64
	EndTime     *float64
	OutputRef   *string
	ProcessedAt *time.Time
	Status      *Status
}

// Ledger is the ordered entry sequence. The zero value is an empty ledger.
type Ledger struct {
	entries []Entry
}

// New builds a ledger from existing entries without validating them;
// stored data is accepted as-is.
func New(entries ...Entry) *Ledger {
	l := &Ledger{entries: make([]Entry, len(entries))}
	copy(l.entries, entries)
	return l
}

// Append validates e, assigns it a stable ID when it has none, and adds it
// at the end. It returns the new entry's index.
func (l *Ledger) Append(e Entry) (int, error) {
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.HasOutput() {
		e.Status = StatusCompleted
	}
	if err := e.Validate(); err != nil {
		return -1, err
	}
	if e.ID == "" {
		e.ID = NewEntryID()
	}
	l.entries = append(l.entries, e)
	return len(l.entries) - 1, nil
}

// UpdateAt merges p into the entry at index. Setting an output reference
// marks the entry completed unless the patch says otherwise, in which case
// validation rejects it. On error the entry is left unchanged.
func (l *Ledger) UpdateAt(index int, p Patch) error {
	if index < 0 || index >= len(l.entries) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(l.entries))
	}

	e := l.entries[index]
	if p.Prompt != nil {
		e.Prompt = *p.Prompt
	}
	if p.Result != nil {
		e.Result = *p.Result
	}
	if p.StartTime != nil {
		e.StartTime = cloneFloat(p.StartTime)
	}
	if p.EndTime != nil {
		e.EndTime = cloneFloat(p.EndTime)
	}
	if p.OutputRef != nil {
		ref := *p.OutputRef
		e.OutputRef = &ref
		if p.Status == nil {
			e.Status = StatusCompleted
		}
	}
	if p.ProcessedAt != nil {
		at := *p.ProcessedAt
		e.ProcessedAt = &at
	}
	if p.Status != nil {
		e.Status = *p.Status
	}

	if err := e.Validate(); err != nil {
		return err
	}
	l.entries[index] = e
	return nil
}

// RemoveAt permanently removes the entry at index and returns it. Every
// later entry moves down one position.
func (l *Ledger) RemoveAt(index int) (Entry, error) {
	if index < 0 || index >= len(l.entries) {
		return Entry{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(l.entries))
	}
	removed := l.entries[index]
	l.entries = append(l.entries[:index:index], l.entries[index+1:]...)
	return removed, nil
}

// At returns a copy of the entry at index.
func (l *Ledger) At(index int) (Entry, error) {
	if index < 0 || index >= len(l.entries) {
		return Entry{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(l.entries))
	}
	return l.entries[index], nil
}

// IndexOf returns the current index of the entry with the given stable ID,
// or -1.
func (l *Ledger) IndexOf(id string) int {
	for i, e := range l.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Entries returns a copy of the entries in order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	return New(l.entries...)
}

func (l *Ledger) TotalCount() int {
	return len(l.entries)
}

// CompletedCount counts entries with an output reference.
func (l *Ledger) CompletedCount() int {
	n := 0
	for _, e := range l.entries {
		if e.HasOutput() {
			n++
		}
	}
	return n
}

// ProgressPercentage is floor(100 * completed / total), 0 for an empty ledger.
func (l *Ledger) ProgressPercentage() int {
	total := l.TotalCount()
	if total == 0 {
		return 0
	}
	return l.CompletedCount() * 100 / total
}

// AllCompleted reports whether the ledger is non-empty and every entry has
// an output reference.
func (l *Ledger) AllCompleted() bool {
	total := l.TotalCount()
	return total > 0 && l.CompletedCount() == total
}

// NewEntryID returns a fresh stable entry ID.
func NewEntryID() string {
	return uuid.NewString()
}

func cloneFloat(f *float64) *float64 {
	v := *f
	return &v
}

// Float returns a pointer to v, for building entries and patches.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// StatusPtr returns a pointer to s.
func StatusPtr(s Status) *Status { return &s }
