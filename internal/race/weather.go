package race

import rand "math/rand/v2"

// weatherRetries bounds the redraw loop when a switch has to land on a value
// different from the current one.
const weatherRetries = 8

// WeatherEntry activates its weather once race progress passes Threshold.
type WeatherEntry struct {
	Threshold float64 `json:"threshold"`
	Weather   string  `json:"weather"`
}

// Schedule is a race-wide weather timeline: thresholds are non-decreasing and
// the first entry always starts at 0.
type Schedule []WeatherEntry

// At returns the weather in effect at the given progress fraction.
func (s Schedule) At(progress float64) string {
	if len(s) == 0 {
		return ""
	}
	current := s[0].Weather
	for _, e := range s[1:] {
		if progress < e.Threshold {
			break
		}
		current = e.Weather
	}
	return current
}

// BuildSchedule rolls the weather timeline. A forced weather yields a single
// fixed entry with no further changes. Otherwise the initial weather is drawn
// from the probability table and each configured checkpoint flips a coin to
// decide whether to switch; a switch redraws until the value differs from the
// current one (bounded retries).
func BuildSchedule(rng *rand.Rand, t *Tunables, forced string) Schedule {
	if forced != "" {
		return Schedule{{Threshold: 0, Weather: forced}}
	}

	current := drawWeather(rng, t)
	schedule := Schedule{{Threshold: 0, Weather: current}}
	for _, cp := range t.Weather.Checkpoints {
		if rng.Float64() >= t.Weather.SwitchChance {
			continue
		}
		next := current
		for attempt := 0; attempt < weatherRetries && next == current; attempt++ {
			next = drawWeather(rng, t)
		}
		if next == current {
			continue
		}
		current = next
		schedule = append(schedule, WeatherEntry{Threshold: cp, Weather: current})
	}
	return schedule
}

func drawWeather(rng *rand.Rand, t *Tunables) string {
	total := 0.0
	for _, w := range t.WeatherTypes {
		total += w.Weight
	}
	roll := rng.Float64() * total
	cum := 0.0
	for _, w := range t.WeatherTypes {
		cum += w.Weight
		if roll < cum {
			return w.Name
		}
	}
	return t.WeatherTypes[len(t.WeatherTypes)-1].Name
}
