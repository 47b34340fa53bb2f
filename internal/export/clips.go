// Package export renders a record's completed segments as an edit decision
// list for NLE import.
package export

import (
	"github.com/vidprofile/vidprofile/internal/ledger"
)

// Clip is one published segment placed on the EDL timeline. Times are
// source seconds.
type Clip struct {
	Name      string
	MediaPath string
	Start     float64
	End       float64
}

func (c Clip) Duration() float64 { return c.End - c.Start }

// ClipsFromLedger returns the completed, ranged entries of l in ledger order.
// Each clip is named by its entry id and points at its published key.
func ClipsFromLedger(l *ledger.Ledger) []Clip {
	var clips []Clip
	for _, e := range l.Entries() {
		if !e.HasOutput() || !e.HasRange() {
			continue
		}
		clips = append(clips, Clip{
			Name:      e.ID,
			MediaPath: *e.OutputRef,
			Start:     *e.StartTime,
			End:       *e.EndTime,
		})
	}
	return clips
}
