package store

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/raceroom/internal/race"
	"github.com/lox/raceroom/internal/room"
)

// queueSize bounds the write backlog. A full queue drops the write with a
// warning rather than stalling gameplay.
const queueSize = 128

// AsyncRecorder implements room.Recorder by pushing writes through a single
// background worker. Persistence failures are logged and never surface to the
// rooms; gameplay state does not roll back on a lost write.
type AsyncRecorder struct {
	db     DB
	logger *log.Logger

	jobs      chan func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncRecorder starts the write worker.
func NewAsyncRecorder(db DB, logger *log.Logger) *AsyncRecorder {
	a := &AsyncRecorder{
		db:     db,
		logger: logger.WithPrefix("recorder"),
		jobs:   make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AsyncRecorder) run() {
	defer a.wg.Done()
	for job := range a.jobs {
		job()
	}
}

// Close drains the queue and stops the worker.
func (a *AsyncRecorder) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		close(a.jobs)
	})
	a.wg.Wait()
}

// RecordRace implements room.Recorder.
func (a *AsyncRecorder) RecordRace(roomID string, rec *race.Record) {
	a.enqueue(func() {
		if err := a.db.SaveRace(roomID, rec); err != nil {
			a.logger.Error("failed to persist race", "room", roomID, "race", rec.ID, "error", err)
			return
		}
		a.logger.Debug("race persisted", "room", roomID, "race", rec.ID, "round", rec.Round)
	})
}

// RecordSession implements room.Recorder.
func (a *AsyncRecorder) RecordSession(roomID string, sess *room.SessionRecord) {
	a.enqueue(func() {
		if err := a.db.SaveSession(roomID, sess); err != nil {
			a.logger.Error("failed to persist session", "room", roomID, "error", err)
			return
		}
		a.logger.Debug("session persisted", "room", roomID, "rounds", sess.Rounds)
	})
}

func (a *AsyncRecorder) enqueue(job func()) {
	select {
	case <-a.done:
		a.logger.Warn("recorder closed, dropping write")
		return
	default:
	}
	select {
	case a.jobs <- job:
	default:
		a.logger.Warn("write queue full, dropping write")
	}
}
