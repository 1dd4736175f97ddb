package race

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/raceroom/internal/randutil"
)

func TestBuildScheduleForcedWeather(t *testing.T) {
	tun := DefaultTunables()
	schedule := BuildSchedule(randutil.New(1), tun, "storm")

	require.Len(t, schedule, 1)
	assert.Equal(t, 0.0, schedule[0].Threshold)
	assert.Equal(t, "storm", schedule[0].Weather)
	assert.Equal(t, "storm", schedule.At(0))
	assert.Equal(t, "storm", schedule.At(0.99))
}

func TestBuildScheduleThresholdsMonotone(t *testing.T) {
	tun := DefaultTunables()
	for seed := int64(0); seed < 50; seed++ {
		schedule := BuildSchedule(randutil.New(seed), tun, "")
		require.NotEmpty(t, schedule, "seed %d", seed)
		assert.Equal(t, 0.0, schedule[0].Threshold, "seed %d", seed)
		for i := 1; i < len(schedule); i++ {
			assert.Greater(t, schedule[i].Threshold, schedule[i-1].Threshold, "seed %d", seed)
			assert.NotEqual(t, schedule[i].Weather, schedule[i-1].Weather,
				"seed %d: switch must change the weather", seed)
		}
	}
}

func TestScheduleAt(t *testing.T) {
	schedule := Schedule{
		{Threshold: 0, Weather: "clear"},
		{Threshold: 0.3, Weather: "rain"},
		{Threshold: 0.7, Weather: "windy"},
	}

	assert.Equal(t, "clear", schedule.At(0))
	assert.Equal(t, "clear", schedule.At(0.29))
	assert.Equal(t, "rain", schedule.At(0.3))
	assert.Equal(t, "rain", schedule.At(0.69))
	assert.Equal(t, "windy", schedule.At(0.7))
	assert.Equal(t, "windy", schedule.At(1))
}

func TestWeatherModifierDefaultsNeutral(t *testing.T) {
	tun := DefaultTunables()

	assert.Equal(t, 0.92, tun.WeatherModifier("pony", "rain"))
	assert.Equal(t, 1.0, tun.WeatherModifier("stallion", "rain"), "unmapped class is neutral")
	assert.Equal(t, 1.0, tun.WeatherModifier("pony", "clear"), "clear has no modifiers")
	assert.Equal(t, 1.0, tun.WeatherModifier("pony", "no-such-weather"))
}
