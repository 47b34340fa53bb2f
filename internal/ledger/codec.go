package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CurrentVersion is the on-disk ledger shape written by Encode.
//
// Version 1 is the shape produced by the original data-entry tool: entries
// with prompt/result, an output field named minio_output_link (or
// output_link / output_object_reference in some rows), optional
// prompt_result, no id and usually no status.
// Version 2 is canonical: {id, prompt, result, start_time, end_time,
// output_object_reference, processed_at, status}.
const CurrentVersion = 2

// ErrUnconvertible reports a legacy value with no place in the current shape.
var ErrUnconvertible = errors.New("legacy value cannot be converted")

// wireEntry accepts every historical field name.
type wireEntry struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Result       *string  `json:"result"`
	PromptResult *string  `json:"prompt_result"`
	StartTime    *float64 `json:"start_time"`
	EndTime      *float64 `json:"end_time"`
	OutputRef    *string  `json:"output_object_reference"`
	MinioOutput  *string  `json:"minio_output_link"`
	OutputLink   *string  `json:"output_link"`
	ProcessedAt  *string  `json:"processed_at"`
	Status       string   `json:"status"`
}

var processedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Encode serializes the ledger in the current shape. An empty ledger is
// encoded as [] rather than null.
func Encode(l *Ledger) ([]byte, error) {
	if l == nil || len(l.entries) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// Decode parses any historical ledger shape. It reports upgraded=true when
// at least one entry had to be normalized (missing id or status, legacy
// field names), meaning the stored bytes should be rewritten.
// Stored entries are not validated: existing data is accepted as-is.
func Decode(data []byte) (l *Ledger, upgraded bool, err error) {
	return decode(data, false)
}

// DecodeForUpgrade is Decode for callers about to rewrite the stored bytes.
// It fails with ErrUnconvertible instead of dropping a legacy value the
// current shape cannot hold, so the original row can be kept.
func DecodeForUpgrade(data []byte) (*Ledger, error) {
	l, _, err := decode(data, true)
	return l, err
}

func decode(data []byte, strict bool) (*Ledger, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &Ledger{}, false, nil
	}

	var wire []wireEntry
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, false, fmt.Errorf("decode ledger: %w", err)
	}

	l := &Ledger{entries: make([]Entry, 0, len(wire))}
	upgraded := false
	for i, w := range wire {
		e, changed, lost := w.normalize()
		if lost != nil && strict {
			return nil, false, fmt.Errorf("entry %d: %w", i, lost)
		}
		if changed {
			upgraded = true
		}
		l.entries = append(l.entries, e)
	}
	return l, upgraded, nil
}

func (w wireEntry) normalize() (Entry, bool, error) {
	var lost error
	changed := false
	e := Entry{
		ID:        w.ID,
		Prompt:    w.Prompt,
		StartTime: w.StartTime,
		EndTime:   w.EndTime,
		Status:    Status(w.Status),
	}

	if e.ID == "" {
		e.ID = NewEntryID()
		changed = true
	}

	switch {
	case w.Result != nil:
		e.Result = *w.Result
	case w.PromptResult != nil:
		e.Result = *w.PromptResult
		changed = true
	}

	switch {
	case nonEmpty(w.OutputRef):
		e.OutputRef = w.OutputRef
	case nonEmpty(w.MinioOutput):
		e.OutputRef = w.MinioOutput
		changed = true
	case nonEmpty(w.OutputLink):
		e.OutputRef = w.OutputLink
		changed = true
	}

	if w.ProcessedAt != nil && strings.TrimSpace(*w.ProcessedAt) != "" {
		if at, ok := parseProcessedAt(*w.ProcessedAt); ok {
			e.ProcessedAt = &at
		} else {
			lost = fmt.Errorf("processed_at %q: %w", *w.ProcessedAt, ErrUnconvertible)
		}
	}

	if !e.Status.Valid() {
		changed = true
		if e.HasOutput() {
			e.Status = StatusCompleted
		} else {
			e.Status = StatusPending
		}
	}
	if e.HasOutput() && e.Status != StatusCompleted {
		e.Status = StatusCompleted
		changed = true
	}

	return e, changed, lost
}

func parseProcessedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range processedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// MarshalJSON encodes the ledger as its entry array.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return Encode(l)
}

// UnmarshalJSON accepts any historical shape.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	decoded, _, err := Decode(data)
	if err != nil {
		return err
	}
	*l = *decoded
	return nil
}
