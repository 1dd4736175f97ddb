package store

import (
	"time"

	"github.com/lox/raceroom/internal/race"
	"github.com/lox/raceroom/internal/room"
)

// DB is the persistence surface for completed races and game sessions.
// Writes come from the async recorder; reads back the replay/stats surface.
type DB interface {
	SaveRace(roomID string, rec *race.Record) error
	SaveSession(roomID string, sess *room.SessionRecord) error
	GetRace(id string) (*RaceRow, error)
	ListRecentRaces(roomID string, limit int) ([]RaceRow, error)
	GetTallies(roomID string) ([]ParticipantTally, error)
	ListSessions(roomID string, limit int) ([]SessionRow, error)
	Close() error
}

// RaceRow is a persisted race. Record carries the full serialized outcome so
// a race can be replayed from storage alone.
type RaceRow struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Round     int       `json:"round"`
	Mode      string    `json:"mode"`
	Track     string    `json:"track"`
	Seed      int64     `json:"seed"`
	CapHit    bool      `json:"capHit"`
	Winners   []string  `json:"winners"`
	Record    string    `json:"record"` // race.Record as JSON
	CreatedAt time.Time `json:"createdAt"`
}

// ParticipantTally accumulates per-lane statistics across a room's races:
// how often the lane appeared, was picked, came first, and its rank sum for
// average-position reporting.
type ParticipantTally struct {
	RoomID      string `json:"roomId"`
	Lane        int    `json:"lane"`
	Class       string `json:"class"`
	Appearances int    `json:"appearances"`
	Picks       int    `json:"picks"`
	Firsts      int    `json:"firsts"`
	RankSum     int    `json:"rankSum"`
}

// SessionRow is a persisted game session summary.
type SessionRow struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	GameType     string    `json:"gameType"`
	Mode         string    `json:"mode"`
	Winner       string    `json:"winner"`
	Participants int       `json:"participants"`
	Rounds       int       `json:"rounds"`
	EndedAt      time.Time `json:"endedAt"`
}
