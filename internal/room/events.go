package room

import (
	"time"

	"github.com/lox/raceroom/internal/race"
)

// Event names pushed to clients. The transport wraps payloads into its own
// message envelope; the room only decides what goes out and to whom.
const (
	EventSelectionUpdate = "selection_update"
	EventCountdown       = "countdown"
	EventRaceStarted     = "race_started"
	EventRaceEnded       = "race_ended"
	EventRaceReset       = "race_reset"
)

// Broadcaster is the outbound side of the transport. Implementations must not
// block: the room actor calls these from its own goroutine.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any)
	Send(roomID, user, event string, payload any)
}

// Recorder receives completed race records and closed game sessions for
// persistence. Implementations are fire-and-forget: failures are theirs to
// log, gameplay never waits.
type Recorder interface {
	RecordRace(roomID string, rec *race.Record)
	RecordSession(roomID string, sess *SessionRecord)
}

// SessionRecord summarises a game session at the moment it is ended.
type SessionRecord struct {
	GameType     string    `json:"gameType"`
	Mode         race.Mode `json:"mode"`
	Winner       string    `json:"winner"` // most round wins, "" when nobody won
	Participants int       `json:"participants"`
	Rounds       int       `json:"rounds"`
	EndedAt      time.Time `json:"endedAt"`
}

// SelectionView is the per-recipient betting state: who has selected (targets
// hidden until countdown) plus the recipient's own bet.
type SelectionView struct {
	Selected    []string `json:"selected"`
	OwnBet      *int     `json:"ownBet,omitempty"`
	AllSelected bool     `json:"allSelected"`
}

// CountdownEvent reveals the full bet map and starts the client countdown.
type CountdownEvent struct {
	Seconds int         `json:"seconds"`
	Round   int         `json:"round"`
	Bets    race.BetMap `json:"bets"`
}

// RaceStartedEvent carries the complete authoritative outcome so every client
// renders the same race from identical inputs.
type RaceStartedEvent struct {
	Record     *race.Record           `json:"record"`
	SlowMotion *race.SlowMotionConfig `json:"slowMotion"`
}

// RaceEndedEvent closes a round. Moral marks the no-winner presentation
// fallback where the best-ranked bettors stand in as winners.
type RaceEndedEvent struct {
	History []*race.Record `json:"history"`
	Winners []string       `json:"winners"`
	Moral   bool           `json:"moral,omitempty"`
}

// RaceResetEvent announces a privileged reset discarding any pending result.
type RaceResetEvent struct {
	History []*race.Record `json:"history"`
}
