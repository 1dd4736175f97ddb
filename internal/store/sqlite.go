package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lox/raceroom/internal/race"
	"github.com/lox/raceroom/internal/room"
)

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) the database at path and runs migrations.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteDB{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS races (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			mode TEXT NOT NULL,
			track TEXT NOT NULL,
			seed INTEGER NOT NULL,
			cap_hit INTEGER NOT NULL DEFAULT 0,
			winners TEXT NOT NULL DEFAULT '[]',
			record TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS participant_tallies (
			room_id TEXT NOT NULL,
			lane INTEGER NOT NULL,
			class TEXT NOT NULL DEFAULT '',
			appearances INTEGER NOT NULL DEFAULT 0,
			picks INTEGER NOT NULL DEFAULT 0,
			firsts INTEGER NOT NULL DEFAULT 0,
			rank_sum INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (room_id, lane)
		)`,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			game_type TEXT NOT NULL,
			mode TEXT NOT NULL,
			winner TEXT NOT NULL DEFAULT '',
			participants INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			ended_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_races_room_created ON races(room_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_room_ended ON game_sessions(room_id, ended_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRace persists a completed race and folds its per-lane outcome into the
// room's participant tallies in one transaction.
func (s *SQLiteDB) SaveRace(roomID string, rec *race.Record) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	winnersJSON, err := json.Marshal(rec.Winners)
	if err != nil {
		return fmt.Errorf("failed to encode winners: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	capHit := 0
	if rec.CapHit {
		capHit = 1
	}

	_, err = tx.Exec(`INSERT INTO races (id, room_id, round, mode, track, seed, cap_hit, winners, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, roomID, rec.Round, string(rec.Mode), rec.Track, rec.Seed, capHit,
		string(winnersJSON), string(recordJSON), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert race: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO participant_tallies (room_id, lane, class, appearances, picks, firsts, rank_sum)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(room_id, lane) DO UPDATE SET
			class = excluded.class,
			appearances = appearances + 1,
			picks = picks + excluded.picks,
			firsts = firsts + excluded.firsts,
			rank_sum = rank_sum + excluded.rank_sum`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	counts := rec.Bets.Backers(len(rec.Lanes))
	for _, lane := range rec.Lanes {
		first := 0
		if lane.Rank == 1 {
			first = 1
		}
		if _, err := stmt.Exec(roomID, lane.Lane, lane.Class, counts[lane.Lane], first, lane.Rank); err != nil {
			return fmt.Errorf("failed to update tally for lane %d: %w", lane.Lane, err)
		}
	}

	return tx.Commit()
}

// SaveSession persists a game session summary.
func (s *SQLiteDB) SaveSession(roomID string, sess *room.SessionRecord) error {
	_, err := s.db.Exec(`INSERT INTO game_sessions (id, room_id, game_type, mode, winner, participants, rounds, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), roomID, sess.GameType, string(sess.Mode), sess.Winner,
		sess.Participants, sess.Rounds, sess.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetRace retrieves a race by ID
func (s *SQLiteDB) GetRace(id string) (*RaceRow, error) {
	row := s.db.QueryRow(`SELECT id, room_id, round, mode, track, seed, cap_hit, winners, record, created_at
		FROM races WHERE id = ?`, id)
	return scanRace(row)
}

// ListRecentRaces returns a room's races, newest first.
func (s *SQLiteDB) ListRecentRaces(roomID string, limit int) ([]RaceRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, room_id, round, mode, track, seed, cap_hit, winners, record, created_at
		FROM races WHERE room_id = ?
		ORDER BY created_at DESC, round DESC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	var races []RaceRow
	for rows.Next() {
		row, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		races = append(races, *row)
	}
	return races, rows.Err()
}

// GetTallies returns a room's per-lane statistics ordered by lane.
func (s *SQLiteDB) GetTallies(roomID string) ([]ParticipantTally, error) {
	rows, err := s.db.Query(`SELECT room_id, lane, class, appearances, picks, firsts, rank_sum
		FROM participant_tallies WHERE room_id = ?
		ORDER BY lane`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tallies: %w", err)
	}
	defer rows.Close()

	var tallies []ParticipantTally
	for rows.Next() {
		var t ParticipantTally
		if err := rows.Scan(&t.RoomID, &t.Lane, &t.Class, &t.Appearances, &t.Picks, &t.Firsts, &t.RankSum); err != nil {
			return nil, fmt.Errorf("failed to scan tally: %w", err)
		}
		tallies = append(tallies, t)
	}
	return tallies, rows.Err()
}

// ListSessions returns a room's ended sessions, newest first.
func (s *SQLiteDB) ListSessions(roomID string, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, room_id, game_type, mode, winner, participants, rounds, ended_at
		FROM game_sessions WHERE room_id = ?
		ORDER BY ended_at DESC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var sess SessionRow
		if err := rows.Scan(&sess.ID, &sess.RoomID, &sess.GameType, &sess.Mode, &sess.Winner,
			&sess.Participants, &sess.Rounds, &sess.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRace(row rowScanner) (*RaceRow, error) {
	var r RaceRow
	var capHit int
	var winners string
	if err := row.Scan(&r.ID, &r.RoomID, &r.Round, &r.Mode, &r.Track, &r.Seed,
		&capHit, &winners, &r.Record, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CapHit = capHit == 1
	if err := json.Unmarshal([]byte(winners), &r.Winners); err != nil {
		return nil, fmt.Errorf("failed to decode winners: %w", err)
	}
	return &r, nil
}
