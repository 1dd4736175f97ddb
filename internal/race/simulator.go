package race

import (
	"context"
	"runtime"
	"sort"

	rand "math/rand/v2"

	"github.com/lox/raceroom/internal/randutil"
)

const (
	// stepMs is the fixed logical step of the simulation clock.
	stepMs = 16.0
	// hardCapMs bounds the run so a misconfigured table cannot stall the
	// pipeline. Not a normal code path.
	hardCapMs = 60_000.0
	// judgedDecel replaces every other speed input once a lane's rank is
	// frozen: judged lanes coast instead of racing.
	judgedDecel = 0.35
	// laneWidth is the visual width used by the two-stage finish: the front
	// edge (pos + width) freezes the rank, the position freezes movement.
	laneWidth = 30.0

	walkTargetMin = 0.9
	walkTargetMax = 1.1
	walkRollMs    = 400.0
	walkSmoothing = 0.08

	yieldEvery = 256
)

// Input carries everything one simulation run consumes. The run is fully
// reproducible from Seed plus the prepared timelines.
type Input struct {
	Seed        int64
	Track       *TrackPreset
	Tunables    *Tunables
	Bets        BetMap
	Timelines   [][]*Gimmick
	Weather     Schedule
	PhotoFinish bool

	// Durations overrides the random base-duration draw when non-nil.
	// Used by tests and replay tooling; len must equal Track.Lanes.
	Durations []float64
}

// LaneResult is the per-lane outcome of a run.
type LaneResult struct {
	Lane       int     `json:"lane"`
	Class      string  `json:"class"`
	Rank       int     `json:"rank"`
	JudgedStep int     `json:"judgedStep"` // -1 when the lane was never judged
	Duration   float64 `json:"duration"`   // drawn base duration, logical ms
}

// Result is the authoritative outcome of one race.
type Result struct {
	Ranks       []int        `json:"ranks"` // lane indices, rank 1 first
	Lanes       []LaneResult `json:"lanes"` // indexed by lane
	Steps       int          `json:"steps"`
	CapHit      bool         `json:"capHit"`
	LeaderSlow  bool         `json:"leaderSlow"`
	LoserSlow   bool         `json:"loserSlow"`
	LoserTarget int          `json:"loserTarget"` // lane the loser camera follows, -1 if none
}

type lane struct {
	index    int
	class    string
	backed   bool
	width    float64
	duration float64
	speed    float64 // base units per logical ms

	factor   float64 // smoothed walk factor
	target   float64
	nextRoll float64
	walk     *rand.Rand

	gimmicks []*Gimmick
	pos      float64

	judged     bool
	finished   bool
	judgedStep int
}

// Simulate advances every lane in fixed steps until all relevant lanes have
// finished or the hard cap is hit. The rank order is the order in which lanes
// were judged; lanes judged on the same step rank in lane index order, so a
// same-step finish resolves the same way on every run.
func Simulate(ctx context.Context, rng *rand.Rand, in Input) (*Result, error) {
	track := in.Track
	tun := in.Tunables

	lanes := make([]*lane, track.Lanes)
	counts := in.Bets.Backers(track.Lanes)
	durations := in.Durations
	if durations == nil {
		durations = drawDurations(rng, track, in.PhotoFinish, tun.PhotoFinish)
	}
	for i := range lanes {
		lanes[i] = &lane{
			index:      i,
			class:      tun.Class(i),
			backed:     counts[i] > 0,
			width:      laneWidth,
			duration:   durations[i],
			speed:      track.Distance / durations[i],
			factor:     1.0,
			target:     1.0,
			nextRoll:   walkRollMs,
			walk:       randutil.Stream(in.Seed, i),
			gimmicks:   append([]*Gimmick(nil), in.Timelines[i]...),
			judgedStep: -1,
		}
	}

	sm := slowMo{cfg: tun.SlowMotion, target: -1}
	var judged []*lane

	now := 0.0
	steps := 0
	capHit := false
	for {
		if raceDone(lanes, len(in.Bets) > 0) {
			break
		}
		if now >= hardCapMs {
			capHit = true
			break
		}

		slow := sm.factor()
		for _, l := range lanes {
			if l.finished {
				continue
			}
			progress := l.pos / track.Distance
			l.advanceGimmicks(now, progress)
			l.updateWalk(now)

			mult := l.factor
			if m, active := l.activeMultiplier(); active {
				mult = m
			}

			var move float64
			if l.judged {
				move = l.speed * judgedDecel * stepMs * slow
			} else {
				wmod := tun.WeatherModifier(l.class, in.Weather.At(progress))
				move = l.speed * mult * wmod * stepMs * slow
			}
			l.pos += move
			if l.pos < 0 {
				l.pos = 0
			}

			if !l.judged && l.pos+l.width >= track.Distance {
				l.judged = true
				l.judgedStep = steps
				judged = append(judged, l)
			} else if l.judged && !l.finished && l.pos >= track.Distance {
				l.finished = true
				l.pos = track.Distance
			}
		}

		sm.update(lanes, track.Distance, len(in.Bets) > 0)

		steps++
		now += stepMs
		if steps%yieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			runtime.Gosched()
		}
	}

	sort.SliceStable(judged, func(i, j int) bool { return judged[i].judgedStep < judged[j].judgedStep })

	result := &Result{
		Lanes:       make([]LaneResult, len(lanes)),
		Steps:       steps,
		CapHit:      capHit,
		LeaderSlow:  sm.leaderTriggered,
		LoserSlow:   sm.loserTriggered,
		LoserTarget: sm.target,
	}
	for _, l := range judged {
		result.Ranks = append(result.Ranks, l.index)
	}
	for _, l := range lanes {
		if !l.judged {
			result.Ranks = append(result.Ranks, l.index)
		}
	}
	for rank, idx := range result.Ranks {
		l := lanes[idx]
		result.Lanes[idx] = LaneResult{
			Lane:       idx,
			Class:      l.class,
			Rank:       rank + 1,
			JudgedStep: l.judgedStep,
			Duration:   l.duration,
		}
	}
	return result, nil
}

// drawDurations rolls each lane's base duration; with photo finish enabled the
// two fastest are pulled together so their gap fraction lands inside the
// configured bounds.
func drawDurations(rng *rand.Rand, track *TrackPreset, photo bool, cfg *PhotoFinishConfig) []float64 {
	durations := make([]float64, track.Lanes)
	for i := range durations {
		durations[i] = track.DurationMin + rng.Float64()*(track.DurationMax-track.DurationMin)
	}
	if !photo || track.Lanes < 2 {
		return durations
	}

	fastest, second := 0, 1
	if durations[second] < durations[fastest] {
		fastest, second = second, fastest
	}
	for i := 2; i < len(durations); i++ {
		switch {
		case durations[i] < durations[fastest]:
			second = fastest
			fastest = i
		case durations[i] < durations[second]:
			second = i
		}
	}
	gap := cfg.GapMin + rng.Float64()*(cfg.GapMax-cfg.GapMin)
	runnerUp := durations[fastest] * (1 + gap)
	durations[second] = runnerUp

	// Any other lane drawn inside the manufactured gap would become the real
	// runner-up and shrink the gap below its lower bound; push it behind the
	// pair instead.
	for i := range durations {
		if i == fastest || i == second {
			continue
		}
		if durations[i] < runnerUp {
			durations[i] = runnerUp * (1 + cfg.GapMin + rng.Float64()*(cfg.GapMax-cfg.GapMin))
		}
	}
	return durations
}

func raceDone(lanes []*lane, haveBets bool) bool {
	for _, l := range lanes {
		if haveBets && !l.backed {
			continue
		}
		if !l.finished {
			return false
		}
	}
	return true
}

// advanceGimmicks triggers, expires and chains this lane's gimmicks at the
// current simulation time. A chained follow-up enters the list already active.
func (l *lane) advanceGimmicks(now, progress float64) {
	for _, g := range l.gimmicks {
		if !g.triggered && progress >= g.TriggerAt {
			g.triggered = true
			g.active = true
			g.expiresAt = now + g.Duration
		}
		if g.active && now >= g.expiresAt {
			g.active = false
			if c := g.Chain; c != nil && !c.triggered {
				c.triggered = true
				c.active = true
				c.expiresAt = now + c.Duration
				l.gimmicks = append(l.gimmicks, c)
			}
		}
	}
}

// activeMultiplier returns the multiplier of the last active gimmick.
// Overlaps are not expected by construction; last one wins.
func (l *lane) activeMultiplier() (float64, bool) {
	mult, active := 0.0, false
	for _, g := range l.gimmicks {
		if g.active {
			mult, active = g.Multiplier, true
		}
	}
	return mult, active
}

// updateWalk advances the smoothed random walk toward a target factor that is
// re-rolled on a fixed cadence from the lane's own seed stream.
func (l *lane) updateWalk(now float64) {
	for now >= l.nextRoll {
		l.target = walkTargetMin + l.walk.Float64()*(walkTargetMax-walkTargetMin)
		l.nextRoll += walkRollMs
	}
	l.factor += (l.target - l.factor) * walkSmoothing
}

// slowMo arbitrates the two one-shot slow motion triggers. The leader trigger
// takes priority while active; at most one factor applies per step.
type slowMo struct {
	cfg *SlowMotionConfig

	leaderTriggered bool
	leaderActive    bool
	loserTriggered  bool
	loserActive     bool
	target          int
}

func (s *slowMo) factor() float64 {
	switch {
	case s.leaderActive:
		return s.cfg.LeaderFactor
	case s.loserActive:
		return s.cfg.LoserFactor
	default:
		return 1.0
	}
}

func (s *slowMo) update(lanes []*lane, distance float64, haveBets bool) {
	if !s.leaderTriggered {
		best := -1.0
		for _, l := range lanes {
			if !l.judged && l.pos > best {
				best = l.pos
			}
		}
		if best >= 0 && distance-best <= s.cfg.LeaderDistance {
			s.leaderTriggered = true
			s.leaderActive = true
		}
	}
	if s.leaderActive {
		for _, l := range lanes {
			if l.judged {
				s.leaderActive = false
				break
			}
		}
	}

	if !s.leaderActive && !s.loserTriggered {
		var field []*lane
		for _, l := range lanes {
			if haveBets && !l.backed {
				continue
			}
			if !l.finished {
				field = append(field, l)
			}
		}
		if len(field) >= 2 {
			sort.SliceStable(field, func(i, j int) bool { return field[i].pos < field[j].pos })
			secondSlowest := field[1]
			if distance-secondSlowest.pos <= s.cfg.LoserDistance {
				s.loserTriggered = true
				s.loserActive = true
				s.target = secondSlowest.index
			}
		}
	}
	if s.loserActive && s.target >= 0 && lanes[s.target].finished {
		s.loserActive = false
	}
}
