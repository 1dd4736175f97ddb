package race

import (
	"time"

	"github.com/google/uuid"
)

// Record is the immutable outcome of one completed race. It carries enough to
// replay the client-side animation: every rank, timeline and parameter the
// simulation consumed.
type Record struct {
	ID        string       `json:"id"`
	Round     int          `json:"round"`
	Mode      Mode         `json:"mode"`
	Track     string       `json:"track"`
	Distance  float64      `json:"distance"`
	Seed      int64        `json:"seed"`
	Bets      BetMap       `json:"bets"`
	Ranks     []int        `json:"ranks"`
	Lanes     []LaneResult `json:"lanes"`
	CapHit    bool         `json:"capHit"`
	Timelines [][]*Gimmick `json:"timelines"`
	Weather   Schedule     `json:"weather"`
	Winners   []string     `json:"winners"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NewRecord snapshots a completed race. The bet map is copied so later room
// mutations cannot leak into the record.
func NewRecord(round int, mode Mode, track *TrackPreset, seed int64, bets BetMap, result *Result, timelines [][]*Gimmick, weather Schedule, winners []string, now time.Time) *Record {
	betCopy := make(BetMap, len(bets))
	for user, lane := range bets {
		betCopy[user] = lane
	}
	return &Record{
		ID:        uuid.NewString(),
		Round:     round,
		Mode:      mode,
		Track:     track.Name,
		Distance:  track.Distance,
		Seed:      seed,
		Bets:      betCopy,
		Ranks:     result.Ranks,
		Lanes:     result.Lanes,
		CapHit:    result.CapHit,
		Timelines: timelines,
		Weather:   weather,
		Winners:   winners,
		CreatedAt: now,
	}
}

// History is a bounded, newest-last list of race records. Appending past the
// cap drops the oldest entry.
type History struct {
	cap  int
	recs []*Record
}

// NewHistory creates a history bounded to max records.
func NewHistory(max int) *History {
	return &History{cap: max}
}

// Append adds a record, evicting the oldest beyond the cap.
func (h *History) Append(rec *Record) {
	h.recs = append(h.recs, rec)
	if len(h.recs) > h.cap {
		h.recs = h.recs[len(h.recs)-h.cap:]
	}
}

// Len returns the number of retained records.
func (h *History) Len() int { return len(h.recs) }

// All returns a copy of the retained records, oldest first.
func (h *History) All() []*Record {
	out := make([]*Record, len(h.recs))
	copy(out, h.recs)
	return out
}
