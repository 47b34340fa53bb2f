package export

import (
	"strings"
	"testing"
	"time"

	"github.com/vidprofile/vidprofile/internal/ledger"
)

func TestGenerateEDL_SingleClip(t *testing.T) {
	clips := []Clip{{Name: "intro", MediaPath: "outputs/r1/a_segment_0_0_2.mp4", Start: 0, End: 2}}

	edl := GenerateEDL(clips, "Project One", 30.0)

	if !strings.Contains(edl, "TITLE: Project One") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  intro") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  outputs/r1/a_segment_0_0_2.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestGenerateEDL_RecordOffsets(t *testing.T) {
	clips := []Clip{
		{Name: "a", MediaPath: "a.mp4", Start: 10, End: 11},
		{Name: "b", MediaPath: "b.mp4", Start: 100, End: 101.5},
	}

	edl := GenerateEDL(clips, "Multi", 30.0)

	if !strings.Contains(edl, "001  AX       V     C        00:00:10:00 00:00:11:00 00:00:00:00 00:00:01:00") {
		t.Fatalf("first event line mismatch: %q", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:01:40:00 00:01:41:15 00:00:01:00 00:00:02:15") {
		t.Fatalf("second event line mismatch or bad record offset: %q", edl)
	}
}

func TestGenerateEDL_DropFrame(t *testing.T) {
	edl := GenerateEDL([]Clip{{Name: "c", MediaPath: "x.mp4", Start: 0, End: 1}}, "Drop", 29.97)
	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestGenerateEDL_DefaultFrameRate(t *testing.T) {
	edl := GenerateEDL([]Clip{{Name: "c", MediaPath: "x.mp4", Start: 0, End: 0.5}}, "Default", 0)
	if !strings.Contains(edl, "00:00:00:00 00:00:00:15") {
		t.Fatalf("expected 30fps timecodes, got: %q", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		fps     int
		want    string
	}{
		{name: "zero", seconds: 0, fps: 30, want: "00:00:00:00"},
		{name: "one second", seconds: 1, fps: 30, want: "00:00:01:00"},
		{name: "fractional second", seconds: 0.5, fps: 30, want: "00:00:00:15"},
		{name: "one minute", seconds: 60, fps: 30, want: "00:01:00:00"},
		{name: "one hour", seconds: 3600, fps: 30, want: "01:00:00:00"},
		{name: "25fps", seconds: 2.2, fps: 25, want: "00:00:02:05"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Timecode(tc.seconds, tc.fps)
			if got != tc.want {
				t.Fatalf("Timecode(%v, %d) = %q, want %q", tc.seconds, tc.fps, got, tc.want)
			}
		})
	}
}

func TestClipsFromLedger(t *testing.T) {
	now := time.Now()
	l := ledger.New(
		ledger.Entry{ID: "done", StartTime: ledger.Float(1), EndTime: ledger.Float(3), OutputRef: ledger.String("k1"), ProcessedAt: &now, Status: ledger.StatusCompleted},
		ledger.Entry{ID: "pending", StartTime: ledger.Float(4), EndTime: ledger.Float(5), Status: ledger.StatusPending},
		ledger.Entry{ID: "unranged", OutputRef: ledger.String("k3"), Status: ledger.StatusCompleted},
	)

	clips := ClipsFromLedger(l)
	if len(clips) != 1 {
		t.Fatalf("clips = %d, want 1", len(clips))
	}
	if clips[0].Name != "done" || clips[0].MediaPath != "k1" || clips[0].Duration() != 2 {
		t.Errorf("clip = %+v", clips[0])
	}
}
