package ledger

import (
	"errors"
	"testing"
	"time"
)

func entryWithRange(start, end float64) Entry {
	return Entry{Prompt: "cut", StartTime: Float(start), EndTime: Float(end)}
}

func TestAppend_AssignsIndexAndID(t *testing.T) {
	var l Ledger

	i0, err := l.Append(entryWithRange(0, 10))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	i1, err := l.Append(Entry{Prompt: "no range yet"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if i0 != 0 || i1 != 1 {
		t.Errorf("indices = %d, %d, want 0, 1", i0, i1)
	}
	e0, _ := l.At(0)
	e1, _ := l.At(1)
	if e0.ID == "" || e1.ID == "" || e0.ID == e1.ID {
		t.Errorf("entry IDs not assigned uniquely: %q %q", e0.ID, e1.ID)
	}
	if e0.Status != StatusPending {
		t.Errorf("status = %q, want pending", e0.Status)
	}
}

func TestAppend_RejectsInvalidRange(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{"end equals start", entryWithRange(5, 5)},
		{"end before start", entryWithRange(10, 4)},
		{"negative start", entryWithRange(-1, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Ledger
			if _, err := l.Append(tt.entry); !errors.Is(err, ErrInvalidRange) {
				t.Errorf("Append() error = %v, want ErrInvalidRange", err)
			}
			if l.TotalCount() != 0 {
				t.Errorf("TotalCount = %d, want 0", l.TotalCount())
			}
		})
	}
}

func TestAppend_OutputForcesCompleted(t *testing.T) {
	var l Ledger
	e := entryWithRange(1, 2)
	e.OutputRef = String("outputs/a.mp4")
	l.Append(e)

	got, _ := l.At(0)
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestUpdateAt(t *testing.T) {
	var l Ledger
	l.Append(Entry{Prompt: "p"})

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := l.UpdateAt(0, Patch{
		StartTime:   Float(10),
		EndTime:     Float(40),
		OutputRef:   String("outputs/r/a_segment_0_10_40.mp4"),
		ProcessedAt: &now,
	})
	if err != nil {
		t.Fatalf("UpdateAt() error = %v", err)
	}

	e, _ := l.At(0)
	if !e.HasOutput() || *e.OutputRef != "outputs/r/a_segment_0_10_40.mp4" {
		t.Errorf("output = %v", e.OutputRef)
	}
	if e.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", e.Status)
	}
	if *e.StartTime != 10 || *e.EndTime != 40 {
		t.Errorf("range = (%v, %v), want (10, 40)", *e.StartTime, *e.EndTime)
	}
	if !e.ProcessedAt.Equal(now) {
		t.Errorf("processed_at = %v, want %v", e.ProcessedAt, now)
	}
	if e.Prompt != "p" {
		t.Errorf("prompt changed to %q", e.Prompt)
	}
}

func TestUpdateAt_OutOfRange(t *testing.T) {
	var l Ledger
	l.Append(Entry{})

	for _, idx := range []int{-1, 1, 7} {
		if err := l.UpdateAt(idx, Patch{Result: String("x")}); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("UpdateAt(%d) error = %v, want ErrIndexOutOfRange", idx, err)
		}
	}
}

func TestUpdateAt_InvalidPatchLeavesEntry(t *testing.T) {
	var l Ledger
	l.Append(entryWithRange(10, 20))

	if err := l.UpdateAt(0, Patch{EndTime: Float(5)}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("UpdateAt() error = %v, want ErrInvalidRange", err)
	}
	e, _ := l.At(0)
	if *e.EndTime != 20 {
		t.Errorf("end = %v, want unchanged 20", *e.EndTime)
	}

	err := l.UpdateAt(0, Patch{OutputRef: String("k"), Status: StatusPtr(StatusFailed)})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("UpdateAt() error = %v, want ErrInvalidEntry", err)
	}
	e, _ = l.At(0)
	if e.HasOutput() {
		t.Error("output should not have been attached")
	}
}

func TestRemoveAt_ShiftsIndices(t *testing.T) {
	var l Ledger
	l.Append(Entry{Prompt: "a"})
	l.Append(Entry{Prompt: "b"})
	l.Append(Entry{Prompt: "c"})
	b, _ := l.At(1)

	removed, err := l.RemoveAt(0)
	if err != nil {
		t.Fatalf("RemoveAt() error = %v", err)
	}
	if removed.Prompt != "a" {
		t.Errorf("removed = %q, want a", removed.Prompt)
	}
	if l.TotalCount() != 2 {
		t.Fatalf("TotalCount = %d, want 2", l.TotalCount())
	}
	first, _ := l.At(0)
	if first.Prompt != "b" {
		t.Errorf("index 0 = %q, want b", first.Prompt)
	}
	if got := l.IndexOf(b.ID); got != 0 {
		t.Errorf("IndexOf(b) = %d, want 0", got)
	}
}

func TestRemoveAt_TwiceOutOfRange(t *testing.T) {
	var l Ledger
	l.Append(Entry{Prompt: "a"})
	l.Append(Entry{Prompt: "b"})

	if _, err := l.RemoveAt(1); err != nil {
		t.Fatalf("first RemoveAt() error = %v", err)
	}
	before := l.Entries()
	if _, err := l.RemoveAt(1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("second RemoveAt() error = %v, want ErrIndexOutOfRange", err)
	}
	after := l.Entries()
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Errorf("ledger changed after failed removal: %v -> %v", before, after)
	}
}

func TestRemoveAt_DoesNotAliasEntries(t *testing.T) {
	var l Ledger
	l.Append(Entry{Prompt: "a"})
	l.Append(Entry{Prompt: "b"})
	snapshot := l.Entries()

	l.RemoveAt(0)
	if snapshot[0].Prompt != "a" || snapshot[1].Prompt != "b" {
		t.Errorf("snapshot mutated by RemoveAt: %v", snapshot)
	}
}

func TestProgressPercentage(t *testing.T) {
	var l Ledger
	if got := l.ProgressPercentage(); got != 0 {
		t.Errorf("empty ledger progress = %d, want 0", got)
	}
	if l.AllCompleted() {
		t.Error("empty ledger must not be AllCompleted")
	}

	for i := 0; i < 3; i++ {
		l.Append(entryWithRange(float64(i), float64(i+1)))
	}

	prev := l.ProgressPercentage()
	wants := []int{33, 66, 100}
	for i, want := range wants {
		if err := l.UpdateAt(i, Patch{OutputRef: String("k")}); err != nil {
			t.Fatalf("UpdateAt(%d) error = %v", i, err)
		}
		got := l.ProgressPercentage()
		if got != want {
			t.Errorf("after %d completions progress = %d, want %d", i+1, got, want)
		}
		if got < prev {
			t.Errorf("progress decreased from %d to %d", prev, got)
		}
		prev = got
	}
	if !l.AllCompleted() {
		t.Error("AllCompleted = false with every entry output set")
	}
}

func TestProgress_StatusAloneDoesNotCount(t *testing.T) {
	l := New(Entry{ID: "x", Status: StatusCompleted})
	if l.CompletedCount() != 0 {
		t.Errorf("CompletedCount = %d, want 0 (no output reference)", l.CompletedCount())
	}
}
