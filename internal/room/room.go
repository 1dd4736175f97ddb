package room

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	rand "math/rand/v2"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/raceroom/internal/race"
	"github.com/lox/raceroom/internal/randutil"
)

// member is the per-user state the room tracks. done is only meaningful
// while a broadcast race is awaiting client completion.
type member struct {
	ready  bool
	wins   int
	bucket *tokenBucket
}

// Room owns the state for one game room. A single actor goroutine owns every
// field below the cmds channel; public methods post closures onto it and wait
// for the reply, so no mutex guards the game state.
type Room struct {
	id     string
	logger *log.Logger
	clock  quartz.Clock
	tun    *race.Tunables
	bcast  Broadcaster
	rec    Recorder
	seeds  *rand.Rand

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// Actor-owned state.
	phase       Phase
	members     map[string]*member
	order       []string // join order; order[0] is the controller
	bets        race.BetMap
	mode        race.Mode
	trackName   string
	weather     string // forced weather, "" means random per race
	photoFinish bool
	racing      bool
	round       int
	gen         int // race generation; stale timer fires check it and bail
	countdown   *quartz.Timer
	pending     *race.Record
	await       map[string]bool // member -> done, set when the outcome goes out
	history     *race.History
}

// New creates a room. Call Start before posting commands and Close when the
// room is torn down. seed feeds the room's race-seed stream so a fixed seed
// reproduces an entire session.
func New(id string, tun *race.Tunables, bcast Broadcaster, rec Recorder, clock quartz.Clock, seed int64, logger *log.Logger) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		id:        id,
		logger:    logger.WithPrefix("room").With("room", id),
		clock:     clock,
		tun:       tun,
		bcast:     bcast,
		rec:       rec,
		seeds:     randutil.New(seed),
		cmds:      make(chan func(), 32),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		phase:     PhaseIdle,
		members:   make(map[string]*member),
		bets:      make(race.BetMap),
		mode:      race.ModeFirst,
		trackName: tun.Tracks[0].Name,
		history:   race.NewHistory(tun.HistoryCap),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Start launches the actor goroutine.
func (r *Room) Start() {
	go r.run()
}

// Close stops the actor. In-flight commands get ErrRoomClosed.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		close(r.done)
	})
}

func (r *Room) run() {
	for {
		select {
		case fn := <-r.cmds:
			fn()
		case <-r.done:
			if r.countdown != nil {
				r.countdown.Stop()
			}
			return
		}
	}
}

// do posts fn onto the actor and waits for its result.
func (r *Room) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case r.cmds <- func() { errc <- fn() }:
	case <-r.done:
		return ErrRoomClosed
	}
	select {
	case err := <-errc:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// post enqueues fn without waiting. Timer callbacks use it so a firing timer
// never blocks on the actor.
func (r *Room) post(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.done:
	}
}

// Join adds a user to the room. Joining during a race marks the user done so
// a spectator cannot stall the completion barrier for a race they never saw
// start.
func (r *Room) Join(user string) error {
	return r.do(func() error {
		if _, ok := r.members[user]; ok {
			return ErrAlreadyMember
		}
		r.members[user] = &member{bucket: newTokenBucket(r.clock.Now())}
		r.order = append(r.order, user)
		if r.await != nil {
			r.await[user] = true
		}
		r.logger.Info("member joined", "user", user, "members", len(r.members))
		r.syncPhase()
		r.broadcastSelection()
		return nil
	})
}

// Leave removes a user. Their bet is withdrawn; if they were the controller
// the next-longest member inherits the role.
func (r *Room) Leave(user string) error {
	return r.do(func() error {
		if _, ok := r.members[user]; !ok {
			return ErrNotMember
		}
		delete(r.members, user)
		delete(r.bets, user)
		for i, name := range r.order {
			if name == user {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		delete(r.await, user)
		r.logger.Info("member left", "user", user, "members", len(r.members))
		if len(r.members) == 0 && r.pending != nil {
			r.logger.Warn("all members gone with a race pending; result held until end_game",
				"round", r.pending.Round)
		}
		r.syncPhase()
		r.checkCompletion()
		r.broadcastSelection()
		return nil
	})
}

// SetReady flags a member as ready for the next race. Dropping readiness also
// withdraws the member's bet.
func (r *Room) SetReady(user string, ready bool) error {
	return r.do(func() error {
		m, ok := r.members[user]
		if !ok {
			return ErrNotMember
		}
		if !m.bucket.allow(r.clock.Now()) {
			return ErrRateLimited
		}
		if r.racing {
			return ErrRaceActive
		}
		m.ready = ready
		if !ready {
			delete(r.bets, user)
		}
		r.syncPhase()
		r.broadcastSelection()
		return nil
	})
}

// PlaceBet toggles a member's bet on a lane: betting the same lane again
// withdraws it. Bets stay private until the countdown reveals them.
func (r *Room) PlaceBet(user string, lane int) error {
	return r.do(func() error {
		m, ok := r.members[user]
		if !ok {
			return ErrNotMember
		}
		if !m.bucket.allow(r.clock.Now()) {
			return ErrRateLimited
		}
		if r.racing {
			return ErrRaceActive
		}
		if !m.ready {
			return ErrNotReady
		}
		track := r.tun.Track(r.trackName)
		if lane < 0 || lane >= track.Lanes {
			return ErrInvalidParticipant
		}
		if cur, ok := r.bets[user]; ok && cur == lane {
			delete(r.bets, user)
		} else {
			r.bets[user] = lane
		}
		r.syncPhase()
		r.broadcastSelection()
		return nil
	})
}

// SetMode switches the win rule for subsequent races. Controller only.
func (r *Room) SetMode(user string, mode race.Mode) error {
	return r.do(func() error {
		if err := r.checkControl(user); err != nil {
			return err
		}
		if r.racing {
			return ErrRaceActive
		}
		if !mode.Valid() {
			return ErrInvalidMode
		}
		r.mode = mode
		r.logger.Info("mode changed", "mode", mode)
		return nil
	})
}

// SetTrack switches the track preset. Controller only; existing bets are
// withdrawn because lane counts may differ between tracks.
func (r *Room) SetTrack(user, name string) error {
	return r.do(func() error {
		if err := r.checkControl(user); err != nil {
			return err
		}
		if r.racing {
			return ErrRaceActive
		}
		if r.tun.Track(name) == nil {
			return ErrUnknownTrack
		}
		r.trackName = name
		r.bets = make(race.BetMap)
		r.logger.Info("track changed", "track", name)
		r.syncPhase()
		r.broadcastSelection()
		return nil
	})
}

// SetWeather forces a weather type for subsequent races, or restores random
// weather when name is empty. Controller only.
func (r *Room) SetWeather(user, name string) error {
	return r.do(func() error {
		if err := r.checkControl(user); err != nil {
			return err
		}
		if r.racing {
			return ErrRaceActive
		}
		if name != "" {
			found := false
			for _, w := range r.tun.WeatherTypes {
				if w.Name == name {
					found = true
					break
				}
			}
			if !found {
				return ErrUnknownWeather
			}
		}
		r.weather = name
		return nil
	})
}

// SetPhotoFinish toggles photo-finish forcing for subsequent races.
// Controller only.
func (r *Room) SetPhotoFinish(user string, on bool) error {
	return r.do(func() error {
		if err := r.checkControl(user); err != nil {
			return err
		}
		if r.racing {
			return ErrRaceActive
		}
		r.photoFinish = on
		return nil
	})
}

// StartRace runs the whole outcome pipeline once and schedules the reveal for
// when the countdown elapses. Only the controller can start, only one race can
// be in flight, and every ready member must have bet.
func (r *Room) StartRace(user string) error {
	return r.do(func() error {
		m, ok := r.members[user]
		if !ok {
			return ErrNotMember
		}
		if !m.bucket.allow(r.clock.Now()) {
			return ErrRateLimited
		}
		if err := r.checkControl(user); err != nil {
			return err
		}
		if r.racing {
			return ErrRaceActive
		}
		ready := r.readyMembers()
		if len(ready) < 2 {
			return ErrNotEnoughReady
		}
		for _, name := range ready {
			if _, ok := r.bets[name]; !ok {
				return ErrMissingBets
			}
		}

		r.racing = true
		r.gen++
		r.round++
		r.phase = PhaseCountdown
		gen := r.gen

		r.bcast.Broadcast(r.id, EventCountdown, CountdownEvent{
			Seconds: r.tun.CountdownSeconds,
			Round:   r.round,
			Bets:    r.copyBets(),
		})

		rec, err := r.runPipeline()
		if err != nil {
			r.racing = false
			r.syncPhase()
			return fmt.Errorf("running race pipeline: %w", err)
		}
		r.phase = PhaseSimulated
		r.pending = rec

		r.logger.Info("race simulated",
			"round", rec.Round,
			"seed", rec.Seed,
			"track", rec.Track,
			"winners", rec.Winners,
			"capHit", rec.CapHit)

		delay := time.Duration(r.tun.CountdownSeconds) * time.Second
		r.countdown = r.clock.AfterFunc(delay, func() {
			r.post(func() { r.reveal(gen) })
		})
		return nil
	})
}

// ClientDone signals that a client has finished rendering the race animation.
// Standings resolve once every awaited member has reported done.
func (r *Room) ClientDone(user string) error {
	return r.do(func() error {
		m, ok := r.members[user]
		if !ok {
			return ErrNotMember
		}
		if !m.bucket.allow(r.clock.Now()) {
			return ErrRateLimited
		}
		if r.phase != PhaseAwaitingCompletion {
			return ErrWrongPhase
		}
		if _, ok := r.await[user]; ok {
			r.await[user] = true
		}
		r.checkCompletion()
		return nil
	})
}

// EndGame cancels any in-flight race synchronously, discards the pending
// result, records the session and resets the room to idle. Controller only.
func (r *Room) EndGame(user string) error {
	return r.do(func() error {
		if err := r.checkControl(user); err != nil {
			return err
		}
		if r.countdown != nil {
			r.countdown.Stop()
			r.countdown = nil
		}
		r.gen++
		if r.pending != nil {
			r.logger.Info("discarding pending race result", "round", r.pending.Round)
		}
		r.pending = nil
		r.await = nil
		r.racing = false

		r.rec.RecordSession(r.id, &SessionRecord{
			GameType:     "race",
			Mode:         r.mode,
			Winner:       r.sessionWinner(),
			Participants: len(r.members),
			Rounds:       r.round,
			EndedAt:      r.clock.Now(),
		})

		r.round = 0
		r.bets = make(race.BetMap)
		for _, m := range r.members {
			m.ready = false
			m.wins = 0
		}
		r.phase = PhaseIdle
		r.logger.Info("game ended", "by", user)
		r.bcast.Broadcast(r.id, EventRaceReset, RaceResetEvent{History: r.history.All()})
		return nil
	})
}

// Snapshot returns a copy of the room's externally visible state.
func (r *Room) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := r.do(func() error {
		snap = Snapshot{
			ID:      r.id,
			Phase:   r.phase.String(),
			Round:   r.round,
			Mode:    r.mode,
			Track:   r.trackName,
			Lanes:   r.tun.Track(r.trackName).Lanes,
			Members: append([]string(nil), r.order...),
			Ready:   r.readyMembers(),
			History: r.history.All(),
		}
		return nil
	})
	return snap, err
}

// Snapshot is a point-in-time copy of room state for transports and tests.
type Snapshot struct {
	ID      string         `json:"id"`
	Phase   string         `json:"phase"`
	Round   int            `json:"round"`
	Mode    race.Mode      `json:"mode"`
	Track   string         `json:"track"`
	Lanes   int            `json:"lanes"`
	Members []string       `json:"members"`
	Ready   []string       `json:"ready"`
	History []*race.Record `json:"history"`
}

// runPipeline executes generator, weather, simulator and evaluator once,
// returning the authoritative record for this round.
func (r *Room) runPipeline() (*race.Record, error) {
	seed := r.seeds.Int64()
	rng := randutil.New(seed)
	track := r.tun.Track(r.trackName)

	timelines := race.GenerateTimelines(rng, r.tun, track, r.bets)
	weather := race.BuildSchedule(rng, r.tun, r.weather)

	result, err := race.Simulate(r.ctx, rng, race.Input{
		Seed:        seed,
		Track:       track,
		Tunables:    r.tun,
		Bets:        r.bets,
		Timelines:   timelines,
		Weather:     weather,
		PhotoFinish: r.photoFinish,
	})
	if err != nil {
		return nil, err
	}

	winners := race.Winners(result.Ranks, r.bets, r.mode)
	rec := race.NewRecord(r.round, r.mode, track, seed, r.bets, result, timelines, weather, winners, r.clock.Now())
	return rec, nil
}

// reveal fires when the countdown elapses: it pushes the full outcome and
// opens the completion barrier. A stale generation means the race was ended
// or superseded while the timer was in flight.
func (r *Room) reveal(gen int) {
	if gen != r.gen || !r.racing || r.pending == nil {
		return
	}
	r.phase = PhaseBroadcasting
	r.countdown = nil
	r.bcast.Broadcast(r.id, EventRaceStarted, RaceStartedEvent{
		Record:     r.pending,
		SlowMotion: r.tun.SlowMotion,
	})
	r.await = make(map[string]bool, len(r.members))
	for name := range r.members {
		r.await[name] = false
	}
	r.phase = PhaseAwaitingCompletion
	r.logger.Info("race broadcast, awaiting client completion", "round", r.pending.Round, "clients", len(r.await))
	r.checkCompletion()
}

// checkCompletion resolves the race once every awaited member reported done.
// An emptied barrier (everyone left) holds the result rather than resolving
// to nobody; end_game is the way out.
func (r *Room) checkCompletion() {
	if r.phase != PhaseAwaitingCompletion || r.pending == nil {
		return
	}
	if len(r.await) == 0 {
		return
	}
	for _, done := range r.await {
		if !done {
			return
		}
	}
	r.resolve()
}

// resolve finalises the round: winners (or moral winners) are tallied and
// auto-readied, the record goes to history and persistence, and the room
// reopens for selection.
func (r *Room) resolve() {
	rec := r.pending
	r.phase = PhaseResolved

	winners := rec.Winners
	moral := false
	if len(winners) == 0 {
		winners = race.BestBackedBettors(rec.Ranks, rec.Bets)
		moral = true
	}

	for _, m := range r.members {
		m.ready = false
	}
	for _, name := range winners {
		if m, ok := r.members[name]; ok {
			m.ready = true
			m.wins++
		}
	}

	r.history.Append(rec)
	r.rec.RecordRace(r.id, rec)

	r.bcast.Broadcast(r.id, EventRaceEnded, RaceEndedEvent{
		History: r.history.All(),
		Winners: winners,
		Moral:   moral,
	})
	r.logger.Info("race resolved", "round", rec.Round, "winners", winners, "moral", moral)

	r.pending = nil
	r.await = nil
	r.bets = make(race.BetMap)
	r.racing = false
	r.syncPhase()
	r.broadcastSelection()
}

// syncPhase recomputes the selection-side phase. It never touches the race
// phases; those advance only through the start/reveal/resolve path.
func (r *Room) syncPhase() {
	if r.racing {
		return
	}
	switch {
	case len(r.members) == 0:
		r.phase = PhaseIdle
	case r.allSelected():
		r.phase = PhaseAllSelected
	default:
		r.phase = PhaseSelectionOpen
	}
}

// allSelected reports whether every ready member has a bet down, with at
// least two of them ready.
func (r *Room) allSelected() bool {
	ready := r.readyMembers()
	if len(ready) < 2 {
		return false
	}
	for _, name := range ready {
		if _, ok := r.bets[name]; !ok {
			return false
		}
	}
	return true
}

// broadcastSelection fans a per-recipient selection view out to every member:
// everyone sees who has bet, only the recipient sees their own target.
func (r *Room) broadcastSelection() {
	if r.racing || len(r.members) == 0 {
		return
	}
	selected := make([]string, 0, len(r.bets))
	for name := range r.bets {
		selected = append(selected, name)
	}
	sort.Strings(selected)
	all := r.allSelected()
	for name := range r.members {
		view := SelectionView{Selected: selected, AllSelected: all}
		if lane, ok := r.bets[name]; ok {
			l := lane
			view.OwnBet = &l
		}
		r.bcast.Send(r.id, name, EventSelectionUpdate, view)
	}
}

func (r *Room) checkControl(user string) error {
	if _, ok := r.members[user]; !ok {
		return ErrNotMember
	}
	if len(r.order) == 0 || r.order[0] != user {
		return ErrNotController
	}
	return nil
}

func (r *Room) readyMembers() []string {
	var ready []string
	for _, name := range r.order {
		if r.members[name].ready {
			ready = append(ready, name)
		}
	}
	return ready
}

func (r *Room) copyBets() race.BetMap {
	out := make(race.BetMap, len(r.bets))
	for user, lane := range r.bets {
		out[user] = lane
	}
	return out
}

// sessionWinner is the member with the most round wins, ties broken by join
// order. Empty when nobody won anything.
func (r *Room) sessionWinner() string {
	best := ""
	bestWins := 0
	for _, name := range r.order {
		if m := r.members[name]; m.wins > bestWins {
			best = name
			bestWins = m.wins
		}
	}
	return best
}
