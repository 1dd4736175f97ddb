package race

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Mode selects which rank a bet has to hit to win.
type Mode string

const (
	ModeFirst Mode = "first"
	ModeLast  Mode = "last"
)

// Valid reports whether m is a recognised game mode.
func (m Mode) Valid() bool {
	return m == ModeFirst || m == ModeLast
}

// TrackPreset describes one selectable track length class.
type TrackPreset struct {
	Name        string  `hcl:"name,label"`
	Distance    float64 `hcl:"distance,optional"`     // logical units
	Lanes       int     `hcl:"lanes,optional"`        // participant slots
	DurationMin float64 `hcl:"duration_min,optional"` // base duration draw, logical ms
	DurationMax float64 `hcl:"duration_max,optional"`
	GimmicksMin int     `hcl:"gimmicks_min,optional"`
	GimmicksMax int     `hcl:"gimmicks_max,optional"`
}

// GimmickSpec is one entry in the weighted gimmick category table.
type GimmickSpec struct {
	Category      string  `hcl:"category,label"`
	Weight        float64 `hcl:"weight,optional"`
	DurationMin   float64 `hcl:"duration_min,optional"` // logical ms
	DurationMax   float64 `hcl:"duration_max,optional"`
	MultiplierMin float64 `hcl:"multiplier_min,optional"`
	MultiplierMax float64 `hcl:"multiplier_max,optional"`
	Chain         string  `hcl:"chain,optional"` // category spliced in when this one expires
}

// ClassModifier is a weather speed factor for one visual class.
type ClassModifier struct {
	Class  string  `hcl:"class,label"`
	Factor float64 `hcl:"factor"`
}

// WeatherSpec is one entry in the weather probability table.
type WeatherSpec struct {
	Name      string          `hcl:"name,label"`
	Weight    float64         `hcl:"weight,optional"`
	Modifiers []ClassModifier `hcl:"modifier,block"`
}

// WeatherSettings controls how the race-wide timeline is rolled.
type WeatherSettings struct {
	Checkpoints  []float64 `hcl:"checkpoints,optional"` // progress fractions
	SwitchChance float64   `hcl:"switch_chance,optional"`
}

// SlowMotionConfig holds the two proximity triggers. Distances are logical
// units from the finish line, factors multiply every participant's movement.
type SlowMotionConfig struct {
	LeaderDistance float64 `hcl:"leader_distance,optional"`
	LeaderFactor   float64 `hcl:"leader_factor,optional"`
	LoserDistance  float64 `hcl:"loser_distance,optional"`
	LoserFactor    float64 `hcl:"loser_factor,optional"`
}

// PhotoFinishConfig bounds the manufactured gap between the two fastest base
// durations, as a fraction of the faster one.
type PhotoFinishConfig struct {
	GapMin float64 `hcl:"gap_min,optional"`
	GapMax float64 `hcl:"gap_max,optional"`
}

// Tunables is the injected configuration for the whole race pipeline.
type Tunables struct {
	CountdownSeconds int      `hcl:"countdown_seconds,optional"`
	HistoryCap       int      `hcl:"history_cap,optional"`
	TriggerMin       float64  `hcl:"trigger_min,optional"` // gimmick trigger window
	TriggerMax       float64  `hcl:"trigger_max,optional"`
	TriggerGap       float64  `hcl:"trigger_gap,optional"` // min progress gap between triggers
	BoostMultiplier  float64  `hcl:"boost_multiplier,optional"`
	Classes          []string `hcl:"classes,optional"` // visual classes, assigned round-robin by lane

	Tracks       []TrackPreset      `hcl:"track,block"`
	Gimmicks     []GimmickSpec      `hcl:"gimmick,block"`
	WeatherTypes []WeatherSpec      `hcl:"weather_type,block"`
	Weather      *WeatherSettings   `hcl:"weather,block"`
	SlowMotion   *SlowMotionConfig  `hcl:"slow_motion,block"`
	PhotoFinish  *PhotoFinishConfig `hcl:"photo_finish,block"`
}

// DefaultTunables returns the built-in table set used when no file is given.
func DefaultTunables() *Tunables {
	return &Tunables{
		CountdownSeconds: 5,
		HistoryCap:       20,
		TriggerMin:       0.05,
		TriggerMax:       0.85,
		TriggerGap:       0.08,
		BoostMultiplier:  2.5,
		Classes:          []string{"stallion", "pony", "draft", "mustang"},
		Tracks: []TrackPreset{
			{Name: "short", Distance: 900, Lanes: 4, DurationMin: 4200, DurationMax: 6500, GimmicksMin: 1, GimmicksMax: 2},
			{Name: "medium", Distance: 1200, Lanes: 4, DurationMin: 6000, DurationMax: 9000, GimmicksMin: 2, GimmicksMax: 3},
			{Name: "long", Distance: 1600, Lanes: 4, DurationMin: 8500, DurationMax: 12500, GimmicksMin: 2, GimmicksMax: 4},
		},
		Gimmicks: []GimmickSpec{
			{Category: "sprint", Weight: 30, DurationMin: 600, DurationMax: 1400, MultiplierMin: 1.4, MultiplierMax: 1.9},
			{Category: "stumble", Weight: 25, DurationMin: 500, DurationMax: 1100, MultiplierMin: 0.3, MultiplierMax: 0.6, Chain: "recover"},
			{Category: "recover", Weight: 0, DurationMin: 400, DurationMax: 800, MultiplierMin: 1.2, MultiplierMax: 1.5},
			{Category: "daydream", Weight: 20, DurationMin: 700, DurationMax: 1500, MultiplierMin: 0.5, MultiplierMax: 0.8},
			{Category: "tailwind", Weight: 25, DurationMin: 500, DurationMax: 1000, MultiplierMin: 1.2, MultiplierMax: 1.6},
		},
		WeatherTypes: []WeatherSpec{
			{Name: "clear", Weight: 45},
			{Name: "rain", Weight: 25, Modifiers: []ClassModifier{
				{Class: "pony", Factor: 0.92},
				{Class: "draft", Factor: 1.05},
			}},
			{Name: "storm", Weight: 10, Modifiers: []ClassModifier{
				{Class: "stallion", Factor: 0.9},
				{Class: "pony", Factor: 0.85},
				{Class: "mustang", Factor: 1.04},
			}},
			{Name: "windy", Weight: 20, Modifiers: []ClassModifier{
				{Class: "mustang", Factor: 1.08},
				{Class: "draft", Factor: 0.95},
			}},
		},
		Weather: &WeatherSettings{
			Checkpoints:  []float64{0.3, 0.5, 0.7},
			SwitchChance: 0.35,
		},
		SlowMotion: &SlowMotionConfig{
			LeaderDistance: 120,
			LeaderFactor:   0.5,
			LoserDistance:  80,
			LoserFactor:    0.3,
		},
		PhotoFinish: &PhotoFinishConfig{
			GapMin: 0.005,
			GapMax: 0.02,
		},
	}
}

// LoadTunables loads tunables from an HCL file, falling back to the defaults
// when the file does not exist. Missing values are filled from the defaults.
func LoadTunables(filename string) (*Tunables, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultTunables(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var t Tunables
	diags = gohcl.DecodeBody(file.Body, nil, &t)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	t.applyDefaults()
	return &t, nil
}

func (t *Tunables) applyDefaults() {
	def := DefaultTunables()
	if t.CountdownSeconds == 0 {
		t.CountdownSeconds = def.CountdownSeconds
	}
	if t.HistoryCap == 0 {
		t.HistoryCap = def.HistoryCap
	}
	if t.TriggerMax == 0 {
		t.TriggerMin = def.TriggerMin
		t.TriggerMax = def.TriggerMax
	}
	if t.TriggerGap == 0 {
		t.TriggerGap = def.TriggerGap
	}
	if t.BoostMultiplier == 0 {
		t.BoostMultiplier = def.BoostMultiplier
	}
	if len(t.Classes) == 0 {
		t.Classes = def.Classes
	}
	if len(t.Tracks) == 0 {
		t.Tracks = def.Tracks
	}
	if len(t.Gimmicks) == 0 {
		t.Gimmicks = def.Gimmicks
	}
	if len(t.WeatherTypes) == 0 {
		t.WeatherTypes = def.WeatherTypes
	}
	if t.Weather == nil {
		t.Weather = def.Weather
	}
	if t.SlowMotion == nil {
		t.SlowMotion = def.SlowMotion
	}
	if t.PhotoFinish == nil {
		t.PhotoFinish = def.PhotoFinish
	}
}

// Validate checks the tunables for configurations the pipeline cannot run on.
func (t *Tunables) Validate() error {
	if len(t.Tracks) == 0 {
		return fmt.Errorf("at least one track must be configured")
	}
	for _, tr := range t.Tracks {
		if tr.Distance <= 0 {
			return fmt.Errorf("track %s: distance must be positive", tr.Name)
		}
		if tr.Lanes < 2 {
			return fmt.Errorf("track %s: needs at least two lanes", tr.Name)
		}
		if tr.DurationMin <= 0 || tr.DurationMax < tr.DurationMin {
			return fmt.Errorf("track %s: invalid duration range", tr.Name)
		}
		if tr.GimmicksMin < 0 || tr.GimmicksMax < tr.GimmicksMin {
			return fmt.Errorf("track %s: invalid gimmick count range", tr.Name)
		}
	}
	if t.TriggerMin < 0 || t.TriggerMax > 1 || t.TriggerMax <= t.TriggerMin {
		return fmt.Errorf("invalid trigger window [%v, %v]", t.TriggerMin, t.TriggerMax)
	}
	for _, g := range t.Gimmicks {
		if g.Weight < 0 {
			return fmt.Errorf("gimmick %s: weight must not be negative", g.Category)
		}
		if g.DurationMin <= 0 || g.DurationMax < g.DurationMin {
			return fmt.Errorf("gimmick %s: invalid duration range", g.Category)
		}
		if g.MultiplierMin < 0 || g.MultiplierMax < g.MultiplierMin {
			return fmt.Errorf("gimmick %s: invalid multiplier range", g.Category)
		}
		if g.Chain != "" && t.GimmickSpec(g.Chain) == nil {
			return fmt.Errorf("gimmick %s: chain %s is not configured", g.Category, g.Chain)
		}
	}
	weightSum := 0.0
	for _, g := range t.Gimmicks {
		weightSum += g.Weight
	}
	if weightSum <= 0 {
		return fmt.Errorf("gimmick table has no positive weights")
	}
	if len(t.WeatherTypes) == 0 {
		return fmt.Errorf("at least one weather type must be configured")
	}
	weightSum = 0
	for _, w := range t.WeatherTypes {
		if w.Weight < 0 {
			return fmt.Errorf("weather %s: weight must not be negative", w.Name)
		}
		weightSum += w.Weight
	}
	if weightSum <= 0 {
		return fmt.Errorf("weather table has no positive weights")
	}
	if t.Weather.SwitchChance < 0 || t.Weather.SwitchChance > 1 {
		return fmt.Errorf("weather switch chance must be within [0, 1]")
	}
	for i, cp := range t.Weather.Checkpoints {
		if cp <= 0 || cp >= 1 {
			return fmt.Errorf("weather checkpoint %v must be within (0, 1)", cp)
		}
		if i > 0 && cp <= t.Weather.Checkpoints[i-1] {
			return fmt.Errorf("weather checkpoints must be strictly increasing")
		}
	}
	if t.SlowMotion.LeaderFactor <= 0 || t.SlowMotion.LeaderFactor >= 1 ||
		t.SlowMotion.LoserFactor <= 0 || t.SlowMotion.LoserFactor >= 1 {
		return fmt.Errorf("slow motion factors must be within (0, 1)")
	}
	if t.PhotoFinish.GapMin < 0 || t.PhotoFinish.GapMax < t.PhotoFinish.GapMin {
		return fmt.Errorf("invalid photo finish gap bounds")
	}
	if t.CountdownSeconds <= 0 {
		return fmt.Errorf("countdown must be positive")
	}
	if t.HistoryCap <= 0 {
		return fmt.Errorf("history cap must be positive")
	}
	return nil
}

// Track returns the preset with the given name, or nil.
func (t *Tunables) Track(name string) *TrackPreset {
	for i := range t.Tracks {
		if t.Tracks[i].Name == name {
			return &t.Tracks[i]
		}
	}
	return nil
}

// GimmickSpec returns the category spec with the given name, or nil.
func (t *Tunables) GimmickSpec(category string) *GimmickSpec {
	for i := range t.Gimmicks {
		if t.Gimmicks[i].Category == category {
			return &t.Gimmicks[i]
		}
	}
	return nil
}

// Class returns the visual class for a lane index.
func (t *Tunables) Class(lane int) string {
	if len(t.Classes) == 0 {
		return ""
	}
	return t.Classes[lane%len(t.Classes)]
}

// WeatherModifier returns the speed factor for a visual class under the given
// weather. Unmapped combinations are neutral.
func (t *Tunables) WeatherModifier(class, weather string) float64 {
	for _, w := range t.WeatherTypes {
		if w.Name != weather {
			continue
		}
		for _, m := range w.Modifiers {
			if m.Class == class {
				return m.Factor
			}
		}
	}
	return 1.0
}
