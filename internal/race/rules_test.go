package race

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWinnersFirstMode(t *testing.T) {
	ranks := []int{2, 0, 1}
	bets := BetMap{"alice": 1, "bob": 1, "carol": 0, "dave": 2}

	assert.Equal(t, []string{"dave"}, Winners(ranks, bets, ModeFirst))
}

func TestWinnersLastModeIgnoresUnbackedLanes(t *testing.T) {
	// Backed lanes finish 2, 0, 1; lane 1 holds the worst backed rank.
	ranks := []int{2, 0, 1}
	bets := BetMap{"alice": 1, "bob": 1, "carol": 0}

	assert.Equal(t, 1, TargetLane(ranks, bets, ModeLast))
	assert.Equal(t, []string{"alice", "bob"}, Winners(ranks, bets, ModeLast))
}

func TestWinnersLastModeStoppedLaneCannotWin(t *testing.T) {
	// Lane 3 is unbacked and ranks dead last; "last" must target the worst
	// backed lane instead.
	ranks := []int{0, 1, 2, 3}
	bets := BetMap{"alice": 0, "bob": 1, "carol": 2}

	assert.Equal(t, 2, TargetLane(ranks, bets, ModeLast))
	assert.Equal(t, []string{"carol"}, Winners(ranks, bets, ModeLast))
}

func TestWinnersNoBets(t *testing.T) {
	assert.Nil(t, Winners([]int{0, 1}, BetMap{}, ModeFirst))
	assert.Nil(t, Winners([]int{0, 1}, nil, ModeLast))
}

func TestWinnersManyOnSameLane(t *testing.T) {
	ranks := []int{1, 0}
	bets := BetMap{"alice": 1, "bob": 1, "carol": 0}

	assert.Equal(t, []string{"alice", "bob"}, Winners(ranks, bets, ModeFirst))
}

func TestWinnersNobodyBackedTarget(t *testing.T) {
	// First mode with the winning lane unbacked: zero winners is a valid
	// outcome, the presentation fallback is the orchestrator's job.
	ranks := []int{3, 0, 1, 2}
	bets := BetMap{"alice": 0, "bob": 1}

	assert.Empty(t, Winners(ranks, bets, ModeFirst))
}

func TestBestBackedBettors(t *testing.T) {
	ranks := []int{3, 0, 1, 2}
	bets := BetMap{"alice": 0, "bob": 1}

	assert.Equal(t, []string{"alice"}, BestBackedBettors(ranks, bets))
	assert.Nil(t, BestBackedBettors(ranks, nil))
}

func TestModeValid(t *testing.T) {
	assert.True(t, ModeFirst.Valid())
	assert.True(t, ModeLast.Valid())
	assert.False(t, Mode("middle").Valid())
}
