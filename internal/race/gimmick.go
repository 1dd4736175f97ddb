package race

import (
	"math"
	"sort"

	rand "math/rand/v2"
)

// Synthetic categories injected by the post-generation overrides. They never
// appear in the configured table.
const (
	CategoryStopped = "stopped"
	CategoryBoosted = "boosted"
)

// permanentDuration marks a gimmick that outlasts any race. Kept finite so
// records stay JSON-encodable.
const permanentDuration = 1e12

const triggerAttempts = 32

// Gimmick is a timed speed-affecting event attached to one lane. TriggerAt is
// a progress fraction; Duration is in logical milliseconds. A chained gimmick
// is spliced in as already-active the moment its parent expires.
type Gimmick struct {
	TriggerAt  float64  `json:"triggerAt"`
	Category   string   `json:"category"`
	Duration   float64  `json:"duration"`
	Multiplier float64  `json:"multiplier"`
	Chain      *Gimmick `json:"chain,omitempty"`

	triggered bool
	active    bool
	expiresAt float64
}

// BetMap maps a user name to the lane index they backed.
type BetMap map[string]int

// Backers returns the number of bettors per lane.
func (b BetMap) Backers(lanes int) []int {
	counts := make([]int, lanes)
	for _, lane := range b {
		if lane >= 0 && lane < lanes {
			counts[lane]++
		}
	}
	return counts
}

// GenerateTimelines builds one gimmick list per lane, then applies the betting
// overrides: unbacked lanes are pinned to a permanent stop, and when every
// bettor backed the same lane that lane gets a single permanent boost.
func GenerateTimelines(rng *rand.Rand, t *Tunables, track *TrackPreset, bets BetMap) [][]*Gimmick {
	timelines := make([][]*Gimmick, track.Lanes)
	for lane := 0; lane < track.Lanes; lane++ {
		timelines[lane] = generateLane(rng, t, track)
	}

	if len(bets) == 0 {
		return timelines
	}

	counts := bets.Backers(track.Lanes)
	backed := 0
	for _, c := range counts {
		if c > 0 {
			backed++
		}
	}
	for lane, c := range counts {
		switch {
		case c == 0:
			timelines[lane] = []*Gimmick{{
				Category:   CategoryStopped,
				Duration:   permanentDuration,
				Multiplier: 0,
			}}
		case backed == 1:
			timelines[lane] = []*Gimmick{{
				Category:   CategoryBoosted,
				Duration:   permanentDuration,
				Multiplier: t.BoostMultiplier,
			}}
		}
	}
	return timelines
}

func generateLane(rng *rand.Rand, t *Tunables, track *TrackPreset) []*Gimmick {
	n := track.GimmicksMin
	if track.GimmicksMax > track.GimmicksMin {
		n += rng.IntN(track.GimmicksMax - track.GimmicksMin + 1)
	}

	// Place every trigger point before assigning categories, so the
	// repeat window below runs over trigger-order neighbors rather than
	// draw order.
	triggers := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		triggers = append(triggers, drawTrigger(rng, t, triggers))
	}
	sort.Float64s(triggers)

	gimmicks := make([]*Gimmick, 0, n)
	var lastCategories [2]string
	for _, trigger := range triggers {
		spec := drawCategory(rng, t, lastCategories)
		if spec == nil {
			continue
		}
		lastCategories[1] = lastCategories[0]
		lastCategories[0] = spec.Category

		g := instantiate(rng, t, spec)
		g.TriggerAt = trigger
		gimmicks = append(gimmicks, g)
	}
	return gimmicks
}

// drawTrigger rejection-samples a trigger point that keeps the configured
// progress gap to already-placed triggers. Best effort: after the attempt
// budget the last candidate is accepted.
func drawTrigger(rng *rand.Rand, t *Tunables, placed []float64) float64 {
	candidate := 0.0
	for attempt := 0; attempt < triggerAttempts; attempt++ {
		candidate = t.TriggerMin + rng.Float64()*(t.TriggerMax-t.TriggerMin)
		ok := true
		for _, p := range placed {
			if math.Abs(candidate-p) < t.TriggerGap {
				ok = false
				break
			}
		}
		if ok {
			break
		}
	}
	return candidate
}

// drawCategory picks from the weighted table with the lane's previous two
// categories excluded, so the same gimmick cannot fire back to back. A table
// whose remaining weight is all in the recent categories falls back to the
// full draw.
func drawCategory(rng *rand.Rand, t *Tunables, recent [2]string) *GimmickSpec {
	eligible := make([]GimmickSpec, 0, len(t.Gimmicks))
	for _, s := range t.Gimmicks {
		if s.Category != recent[0] && s.Category != recent[1] {
			eligible = append(eligible, s)
		}
	}
	if pick := weightedPick(rng, eligible); pick != nil {
		return pick
	}
	return weightedPick(rng, t.Gimmicks)
}

func weightedPick(rng *rand.Rand, specs []GimmickSpec) *GimmickSpec {
	total := 0.0
	for _, s := range specs {
		total += s.Weight
	}
	if total <= 0 {
		return nil
	}
	roll := rng.Float64() * total
	cum := 0.0
	for i := range specs {
		cum += specs[i].Weight
		if roll < cum {
			return &specs[i]
		}
	}
	return &specs[len(specs)-1]
}

func instantiate(rng *rand.Rand, t *Tunables, spec *GimmickSpec) *Gimmick {
	return instantiateDepth(rng, t, spec, 0)
}

// maxChainDepth caps follow-up splicing so a cyclic chain configuration
// cannot recurse forever.
const maxChainDepth = 4

func instantiateDepth(rng *rand.Rand, t *Tunables, spec *GimmickSpec, depth int) *Gimmick {
	g := &Gimmick{
		Category:   spec.Category,
		Duration:   spec.DurationMin + rng.Float64()*(spec.DurationMax-spec.DurationMin),
		Multiplier: spec.MultiplierMin + rng.Float64()*(spec.MultiplierMax-spec.MultiplierMin),
	}
	if spec.Chain != "" && depth < maxChainDepth {
		if chainSpec := t.GimmickSpec(spec.Chain); chainSpec != nil {
			g.Chain = instantiateDepth(rng, t, chainSpec, depth+1)
		}
	}
	return g
}
