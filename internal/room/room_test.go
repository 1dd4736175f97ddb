package room

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/raceroom/internal/race"
)

type capturedEvent struct {
	room    string
	user    string // empty for broadcasts
	event   string
	payload any
}

type fakeTransport struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (f *fakeTransport) Broadcast(roomID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, capturedEvent{room: roomID, event: event, payload: payload})
}

func (f *fakeTransport) Send(roomID, user, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, capturedEvent{room: roomID, user: user, event: event, payload: payload})
}

func (f *fakeTransport) byEvent(name string) []capturedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []capturedEvent
	for _, ev := range f.events {
		if ev.event == name {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeTransport) lastTo(user, name string) (capturedEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].user == user && f.events[i].event == name {
			return f.events[i], true
		}
	}
	return capturedEvent{}, false
}

type fakeRecorder struct {
	mu       sync.Mutex
	races    []*race.Record
	sessions []*SessionRecord
}

func (f *fakeRecorder) RecordRace(roomID string, rec *race.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.races = append(f.races, rec)
}

func (f *fakeRecorder) RecordSession(roomID string, sess *SessionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sess)
}

func (f *fakeRecorder) raceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.races)
}

func (f *fakeRecorder) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func newTestRoom(t *testing.T) (*Room, *fakeTransport, *fakeRecorder, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	transport := &fakeTransport{}
	recorder := &fakeRecorder{}
	logger := log.New(io.Discard)
	r := New("test-room", race.DefaultTunables(), transport, recorder, clock, 42, logger)
	r.Start()
	t.Cleanup(r.Close)
	return r, transport, recorder, clock
}

// flush waits for every queued command to finish.
func flush(t *testing.T, r *Room) Snapshot {
	t.Helper()
	snap, err := r.Snapshot()
	require.NoError(t, err)
	return snap
}

// setupReadyBets joins users in name order, so the first name is always the
// room controller.
func setupReadyBets(t *testing.T, r *Room, bets map[string]int) {
	t.Helper()
	users := make([]string, 0, len(bets))
	for user := range bets {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		require.NoError(t, r.Join(user))
	}
	for _, user := range users {
		require.NoError(t, r.SetReady(user, true))
		require.NoError(t, r.PlaceBet(user, bets[user]))
	}
}

func TestRoomFullRound(t *testing.T) {
	r, transport, recorder, clock := newTestRoom(t)
	ctx := context.Background()

	require.NoError(t, r.Join("alice"))
	require.NoError(t, r.Join("bob"))
	require.NoError(t, r.SetReady("alice", true))
	require.NoError(t, r.SetReady("bob", true))
	require.NoError(t, r.PlaceBet("alice", 0))
	require.NoError(t, r.PlaceBet("bob", 1))

	snap := flush(t, r)
	assert.Equal(t, PhaseAllSelected.String(), snap.Phase)

	require.NoError(t, r.StartRace("alice"))
	snap = flush(t, r)
	assert.Equal(t, PhaseSimulated.String(), snap.Phase, "outcome is computed before the countdown elapses")
	assert.Equal(t, 1, snap.Round)

	countdowns := transport.byEvent(EventCountdown)
	require.Len(t, countdowns, 1)
	cd := countdowns[0].payload.(CountdownEvent)
	assert.Equal(t, race.BetMap{"alice": 0, "bob": 1}, cd.Bets, "countdown reveals all bets")

	// Nothing goes out before the countdown elapses.
	assert.Empty(t, transport.byEvent(EventRaceStarted))

	clock.Advance(5 * time.Second).MustWait(ctx)
	snap = flush(t, r)
	assert.Equal(t, PhaseAwaitingCompletion.String(), snap.Phase)

	started := transport.byEvent(EventRaceStarted)
	require.Len(t, started, 1)
	ev := started[0].payload.(RaceStartedEvent)
	require.NotNil(t, ev.Record)
	assert.Len(t, ev.Record.Ranks, 4)
	assert.NotNil(t, ev.SlowMotion)

	// Standings hold until every client reports its animation done.
	require.NoError(t, r.ClientDone("alice"))
	snap = flush(t, r)
	assert.Equal(t, PhaseAwaitingCompletion.String(), snap.Phase)
	assert.Empty(t, transport.byEvent(EventRaceEnded))

	require.NoError(t, r.ClientDone("bob"))
	snap = flush(t, r)
	assert.Equal(t, PhaseSelectionOpen.String(), snap.Phase)
	require.Len(t, snap.History, 1)

	ended := transport.byEvent(EventRaceEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, 1, recorder.raceCount())
}

func TestStartRaceRejections(t *testing.T) {
	r, _, _, _ := newTestRoom(t)

	require.NoError(t, r.Join("alice"))
	require.NoError(t, r.Join("bob"))

	assert.ErrorIs(t, r.StartRace("bob"), ErrNotController)
	assert.ErrorIs(t, r.StartRace("alice"), ErrNotEnoughReady)

	require.NoError(t, r.SetReady("alice", true))
	require.NoError(t, r.SetReady("bob", true))
	assert.ErrorIs(t, r.StartRace("alice"), ErrMissingBets)

	require.NoError(t, r.PlaceBet("alice", 0))
	require.NoError(t, r.PlaceBet("bob", 1))
	require.NoError(t, r.StartRace("alice"))

	// One race in flight: a second start is rejected, not queued.
	assert.ErrorIs(t, r.StartRace("alice"), ErrRaceActive)
	assert.ErrorIs(t, r.PlaceBet("alice", 2), ErrRaceActive)
}

func TestPlaceBetRules(t *testing.T) {
	r, transport, _, _ := newTestRoom(t)

	require.NoError(t, r.Join("alice"))
	assert.ErrorIs(t, r.PlaceBet("alice", 0), ErrNotReady)
	assert.ErrorIs(t, r.PlaceBet("ghost", 0), ErrNotMember)

	require.NoError(t, r.SetReady("alice", true))
	assert.ErrorIs(t, r.PlaceBet("alice", -1), ErrInvalidParticipant)
	assert.ErrorIs(t, r.PlaceBet("alice", 99), ErrInvalidParticipant)

	require.NoError(t, r.PlaceBet("alice", 2))
	ev, ok := transport.lastTo("alice", EventSelectionUpdate)
	require.True(t, ok)
	view := ev.payload.(SelectionView)
	require.NotNil(t, view.OwnBet)
	assert.Equal(t, 2, *view.OwnBet)
	assert.Equal(t, []string{"alice"}, view.Selected)

	// Betting the same lane again withdraws the bet.
	require.NoError(t, r.PlaceBet("alice", 2))
	flush(t, r)
	ev, ok = transport.lastTo("alice", EventSelectionUpdate)
	require.True(t, ok)
	view = ev.payload.(SelectionView)
	assert.Nil(t, view.OwnBet)
	assert.Empty(t, view.Selected)
}

func TestSelectionViewHidesOthersTargets(t *testing.T) {
	r, transport, _, _ := newTestRoom(t)
	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})
	flush(t, r)

	ev, ok := transport.lastTo("bob", EventSelectionUpdate)
	require.True(t, ok)
	view := ev.payload.(SelectionView)
	assert.ElementsMatch(t, []string{"alice", "bob"}, view.Selected)
	require.NotNil(t, view.OwnBet)
	assert.Equal(t, 1, *view.OwnBet, "bob sees his own target and nobody else's")
	assert.True(t, view.AllSelected)
}

func TestUnreadyWithdrawsBet(t *testing.T) {
	r, transport, _, _ := newTestRoom(t)
	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})

	require.NoError(t, r.SetReady("alice", false))
	flush(t, r)

	ev, ok := transport.lastTo("alice", EventSelectionUpdate)
	require.True(t, ok)
	view := ev.payload.(SelectionView)
	assert.Nil(t, view.OwnBet)
	assert.Equal(t, []string{"bob"}, view.Selected)
	assert.False(t, view.AllSelected)
}

func TestEndGameCancelsCountdown(t *testing.T) {
	r, transport, recorder, clock := newTestRoom(t)
	ctx := context.Background()

	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})
	require.NoError(t, r.StartRace("alice"))
	require.NoError(t, r.EndGame("alice"))

	snap := flush(t, r)
	assert.Equal(t, PhaseIdle.String(), snap.Phase)
	assert.Equal(t, 0, snap.Round)

	// The stale timer must not broadcast a discarded race.
	clock.Advance(5 * time.Second).MustWait(ctx)
	flush(t, r)
	assert.Empty(t, transport.byEvent(EventRaceStarted))
	assert.Len(t, transport.byEvent(EventRaceReset), 1)

	assert.Equal(t, 0, recorder.raceCount())
	assert.Equal(t, 1, recorder.sessionCount())
}

func TestEndGameDiscardsPendingResult(t *testing.T) {
	r, transport, recorder, clock := newTestRoom(t)
	ctx := context.Background()

	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})
	require.NoError(t, r.StartRace("alice"))
	clock.Advance(5 * time.Second).MustWait(ctx)
	flush(t, r)

	require.NoError(t, r.ClientDone("alice"))
	require.NoError(t, r.EndGame("alice"))

	snap := flush(t, r)
	assert.Equal(t, PhaseIdle.String(), snap.Phase)
	assert.Empty(t, transport.byEvent(EventRaceEnded))
	assert.Equal(t, 0, recorder.raceCount())
}

func TestClientDoneOutsideBarrier(t *testing.T) {
	r, _, _, _ := newTestRoom(t)
	require.NoError(t, r.Join("alice"))
	assert.ErrorIs(t, r.ClientDone("alice"), ErrWrongPhase)
}

func TestLateJoinerDoesNotBlockCompletion(t *testing.T) {
	r, transport, _, clock := newTestRoom(t)
	ctx := context.Background()

	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})
	require.NoError(t, r.StartRace("alice"))
	clock.Advance(5 * time.Second).MustWait(ctx)
	flush(t, r)

	require.NoError(t, r.Join("carol"))
	require.NoError(t, r.ClientDone("alice"))
	require.NoError(t, r.ClientDone("bob"))

	flush(t, r)
	assert.Len(t, transport.byEvent(EventRaceEnded), 1)
}

func TestLeaverReleasesCompletionBarrier(t *testing.T) {
	r, transport, _, clock := newTestRoom(t)
	ctx := context.Background()

	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})
	require.NoError(t, r.StartRace("alice"))
	clock.Advance(5 * time.Second).MustWait(ctx)
	flush(t, r)

	require.NoError(t, r.ClientDone("alice"))
	require.NoError(t, r.Leave("bob"))

	flush(t, r)
	assert.Len(t, transport.byEvent(EventRaceEnded), 1)
}

func TestAllLeaveHoldsPendingResult(t *testing.T) {
	r, transport, _, clock := newTestRoom(t)
	ctx := context.Background()

	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})
	require.NoError(t, r.StartRace("alice"))
	clock.Advance(5 * time.Second).MustWait(ctx)
	flush(t, r)

	require.NoError(t, r.Leave("alice"))
	require.NoError(t, r.Leave("bob"))

	// Nobody left to signal completion: the result is held, not resolved.
	flush(t, r)
	assert.Empty(t, transport.byEvent(EventRaceEnded))
}

func TestLeaveReassignsController(t *testing.T) {
	r, _, _, _ := newTestRoom(t)
	require.NoError(t, r.Join("alice"))
	require.NoError(t, r.Join("bob"))

	assert.ErrorIs(t, r.SetMode("bob", race.ModeLast), ErrNotController)
	require.NoError(t, r.Leave("alice"))
	require.NoError(t, r.SetMode("bob", race.ModeLast))
}

func TestSetTrackClearsBets(t *testing.T) {
	r, _, _, _ := newTestRoom(t)
	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})

	assert.ErrorIs(t, r.SetTrack("alice", "no-such-track"), ErrUnknownTrack)
	require.NoError(t, r.SetTrack("alice", "long"))

	snap := flush(t, r)
	assert.Equal(t, "long", snap.Track)
	assert.Equal(t, PhaseSelectionOpen.String(), snap.Phase, "bets are withdrawn on track change")
}

func TestSetWeatherValidation(t *testing.T) {
	r, _, _, _ := newTestRoom(t)
	require.NoError(t, r.Join("alice"))

	assert.ErrorIs(t, r.SetWeather("alice", "locusts"), ErrUnknownWeather)
	require.NoError(t, r.SetWeather("alice", "storm"))
	require.NoError(t, r.SetWeather("alice", ""))
}

func TestWinnersAutoReadiedForNextRound(t *testing.T) {
	r, _, _, clock := newTestRoom(t)
	ctx := context.Background()

	// Everyone on lane 0 makes it the only backed lane, which the outcome
	// engine boosts while stopping the rest, so lane 0 always ranks first
	// and both bettors win.
	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 0})
	require.NoError(t, r.StartRace("alice"))
	clock.Advance(5 * time.Second).MustWait(ctx)
	flush(t, r)

	require.NoError(t, r.ClientDone("alice"))
	require.NoError(t, r.ClientDone("bob"))

	snap := flush(t, r)
	assert.ElementsMatch(t, []string{"alice", "bob"}, snap.Ready, "winners carry ready into the next round")
	require.Len(t, snap.History, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, snap.History[0].Winners)
}

func TestResolveMoralWinnersFallback(t *testing.T) {
	r, transport, _, _ := newTestRoom(t)
	require.NoError(t, r.Join("alice"))
	require.NoError(t, r.Join("bob"))

	// Inject a zero-winner pending result directly: the presentation
	// fallback promotes the best-ranked bettors.
	track := race.DefaultTunables().Track("short")
	result := &race.Result{
		Ranks: []int{2, 1, 0, 3},
		Lanes: []race.LaneResult{{Lane: 0}, {Lane: 1}, {Lane: 2}, {Lane: 3}},
	}
	bets := race.BetMap{"alice": 0, "bob": 3}
	rec := race.NewRecord(1, race.ModeFirst, track, 7, bets, result, make([][]*race.Gimmick, 4), race.Schedule{{Weather: "clear"}}, nil, time.Now())

	err := r.do(func() error {
		r.racing = true
		r.round = 1
		r.pending = rec
		r.phase = PhaseAwaitingCompletion
		r.await = map[string]bool{"alice": false, "bob": false}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, r.ClientDone("alice"))
	require.NoError(t, r.ClientDone("bob"))

	snap := flush(t, r)
	ended := transport.byEvent(EventRaceEnded)
	require.Len(t, ended, 1)
	ev := ended[0].payload.(RaceEndedEvent)
	assert.True(t, ev.Moral)
	assert.Equal(t, []string{"alice"}, ev.Winners, "lane 0 is the best-ranked backed lane")
	assert.Equal(t, []string{"alice"}, snap.Ready)
}

func TestRoundsAccumulateAcrossRaces(t *testing.T) {
	r, _, recorder, clock := newTestRoom(t)
	ctx := context.Background()

	setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 0})

	for round := 1; round <= 3; round++ {
		require.NoError(t, r.StartRace("alice"))
		clock.Advance(5 * time.Second).MustWait(ctx)
		flush(t, r)
		require.NoError(t, r.ClientDone("alice"))
		require.NoError(t, r.ClientDone("bob"))

		snap := flush(t, r)
		assert.Equal(t, round, snap.Round)

		// Winners are auto-readied; re-bet for the next round.
		require.NoError(t, r.PlaceBet("alice", 0))
		require.NoError(t, r.PlaceBet("bob", 0))
	}

	assert.Equal(t, 3, recorder.raceCount())
	snap := flush(t, r)
	assert.Len(t, snap.History, 3)
}

func TestReproducibleSession(t *testing.T) {
	run := func() []int {
		r, transport, _, clock := newTestRoom(t)
		ctx := context.Background()
		setupReadyBets(t, r, map[string]int{"alice": 0, "bob": 1})
		require.NoError(t, r.StartRace("alice"))
		clock.Advance(5 * time.Second).MustWait(ctx)
		flush(t, r)
		started := transport.byEvent(EventRaceStarted)
		require.Len(t, started, 1)
		r.Close()
		return started[0].payload.(RaceStartedEvent).Record.Ranks
	}

	assert.Equal(t, run(), run(), "same room seed, same bets, same outcome")
}

func TestClosedRoomRejectsCommands(t *testing.T) {
	r, _, _, _ := newTestRoom(t)
	require.NoError(t, r.Join("alice"))
	r.Close()
	assert.ErrorIs(t, r.Join("bob"), ErrRoomClosed)
}
