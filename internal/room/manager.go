package room

import (
	"sync"

	rand "math/rand/v2"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/raceroom/internal/race"
	"github.com/lox/raceroom/internal/randutil"
)

// Manager owns the live rooms. Rooms are created on first join and run
// independently of each other; only the registry itself is shared.
type Manager struct {
	logger *log.Logger
	clock  quartz.Clock
	tun    *race.Tunables
	bcast  Broadcaster
	rec    Recorder

	mu    sync.RWMutex
	rooms map[string]*Room
	seeds *rand.Rand
}

// NewManager creates a room registry. seed feeds per-room seed derivation so
// a fixed manager seed reproduces every session it spawns.
func NewManager(tun *race.Tunables, bcast Broadcaster, rec Recorder, clock quartz.Clock, seed int64, logger *log.Logger) *Manager {
	return &Manager{
		logger: logger,
		clock:  clock,
		tun:    tun,
		bcast:  bcast,
		rec:    rec,
		rooms:  make(map[string]*Room),
		seeds:  randutil.New(seed),
	}
}

// Get returns the room with the given id, or nil.
func (m *Manager) Get(id string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[id]
}

// GetOrCreate returns the room with the given id, starting a fresh one if it
// does not exist yet.
func (m *Manager) GetOrCreate(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r
	}
	r := New(id, m.tun, m.bcast, m.rec, m.clock, m.seeds.Int64(), m.logger)
	r.Start()
	m.rooms[id] = r
	m.logger.Info("room created", "room", id)
	return r
}

// Remove closes and forgets a room.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		r.Close()
		delete(m.rooms, id)
		m.logger.Info("room removed", "room", id)
	}
}

// CloseAll shuts every room down. Used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rooms {
		r.Close()
		delete(m.rooms, id)
	}
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
