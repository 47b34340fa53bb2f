package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecode_Empty(t *testing.T) {
	for _, in := range []string{"", "null", "  ", "[]"} {
		l, upgraded, err := Decode([]byte(in))
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", in, err)
		}
		if l.TotalCount() != 0 || upgraded {
			t.Errorf("Decode(%q) = %d entries, upgraded=%v", in, l.TotalCount(), upgraded)
		}
	}
}

func TestDecode_LegacyShape(t *testing.T) {
	legacy := `[
		{"prompt": "intro", "result": "summary", "minio_output_link": "outputs/a_segment_0_0_10.mp4", "start_time": 0, "end_time": 10},
		{"prompt": "middle", "prompt_result": "ai text", "minio_output_link": null, "start_time": null, "end_time": null},
		{"prompt": "tail", "result": "", "output_link": "outputs/a_segment_2_20_30.mp4", "start_time": 20, "end_time": 30, "processed_at": "2024-05-01T10:11:12.123456"},
		{"prompt": "empty link", "minio_output_link": ""}
	]`

	l, upgraded, err := Decode([]byte(legacy))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !upgraded {
		t.Error("legacy data should report upgraded")
	}
	if l.TotalCount() != 4 {
		t.Fatalf("TotalCount = %d, want 4", l.TotalCount())
	}

	e0, _ := l.At(0)
	if e0.ID == "" || !e0.HasOutput() || e0.Status != StatusCompleted || e0.Result != "summary" {
		t.Errorf("entry 0 = %+v", e0)
	}
	e1, _ := l.At(1)
	if e1.Result != "ai text" || e1.HasOutput() || e1.Status != StatusPending || e1.HasRange() {
		t.Errorf("entry 1 = %+v", e1)
	}
	e2, _ := l.At(2)
	if *e2.OutputRef != "outputs/a_segment_2_20_30.mp4" || e2.ProcessedAt == nil {
		t.Errorf("entry 2 = %+v", e2)
	}
	if e2.ProcessedAt != nil && e2.ProcessedAt.Year() != 2024 {
		t.Errorf("processed_at = %v", e2.ProcessedAt)
	}
	e3, _ := l.At(3)
	if e3.HasOutput() {
		t.Error("empty legacy output link must decode as no output")
	}

	if l.CompletedCount() != 2 || l.ProgressPercentage() != 50 {
		t.Errorf("completed = %d progress = %d, want 2 and 50", l.CompletedCount(), l.ProgressPercentage())
	}
}

func TestEncode_CanonicalShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(
		Entry{ID: "e1", Prompt: "p", StartTime: Float(1.5), EndTime: Float(3), OutputRef: String("k"), ProcessedAt: &at, Status: StatusCompleted},
		Entry{ID: "e2", Prompt: "q", Status: StatusPending},
	)

	data, err := Encode(l)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"id", "prompt", "result", "start_time", "end_time", "output_object_reference", "processed_at", "status"}
	for _, key := range want {
		if _, ok := raw[1][key]; !ok {
			t.Errorf("field %q missing from encoded entry", key)
		}
	}
	if raw[1]["output_object_reference"] != nil {
		t.Errorf("pending entry output = %v, want null", raw[1]["output_object_reference"])
	}

	back, upgraded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if upgraded {
		t.Error("canonical data must not report upgraded")
	}
	e, _ := back.At(0)
	if e.ID != "e1" || !e.ProcessedAt.Equal(at) || *e.StartTime != 1.5 {
		t.Errorf("decoded entry = %+v", e)
	}
}

func TestEncode_EmptyIsArray(t *testing.T) {
	data, err := Encode(&Ledger{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Encode(empty) = %s, want []", data)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, _, err := Decode([]byte(`{"prompt": "not an array"}`)); err == nil {
		t.Error("Decode() of an object should fail")
	}
}

func TestDecodeForUpgrade_UnparseableProcessedAt(t *testing.T) {
	data := []byte(`[{"prompt":"p","minio_output_link":"outputs/r/a.mp4","processed_at":"last tuesday"}]`)

	if _, err := DecodeForUpgrade(data); !errors.Is(err, ErrUnconvertible) {
		t.Errorf("DecodeForUpgrade() error = %v, want ErrUnconvertible", err)
	}

	l, _, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if l.TotalCount() != 1 {
		t.Errorf("TotalCount() = %d, want 1", l.TotalCount())
	}
}

func TestDecodeForUpgrade_ParseableProcessedAt(t *testing.T) {
	tests := []string{
		`[{"prompt":"p","processed_at":"2024-03-01 10:20:30"}]`,
		`[{"prompt":"p","processed_at":""}]`,
		`[{"prompt":"p","processed_at":null}]`,
		`[{"prompt":"p"}]`,
	}
	for _, in := range tests {
		if _, err := DecodeForUpgrade([]byte(in)); err != nil {
			t.Errorf("DecodeForUpgrade(%s) error = %v", in, err)
		}
	}
}
