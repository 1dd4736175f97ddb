package race

import "sort"

// TargetLane returns the lane whose backers win under the given mode, or -1
// when no bets exist. "first" targets rank 1; "last" targets the worst rank
// held by a bettor-backed lane, so permanently stopped unbacked lanes cannot
// trivially take it.
func TargetLane(ranks []int, bets BetMap, mode Mode) int {
	if len(ranks) == 0 || len(bets) == 0 {
		return -1
	}
	if mode == ModeFirst {
		return ranks[0]
	}
	counts := bets.Backers(len(ranks))
	for i := len(ranks) - 1; i >= 0; i-- {
		if counts[ranks[i]] > 0 {
			return ranks[i]
		}
	}
	return -1
}

// Winners returns the bettors whose bet targets the lane holding the target
// rank, sorted by name. Zero, one or many winners are all valid; ties are not
// broken.
func Winners(ranks []int, bets BetMap, mode Mode) []string {
	target := TargetLane(ranks, bets, mode)
	if target < 0 {
		return nil
	}
	var winners []string
	for user, lane := range bets {
		if lane == target {
			winners = append(winners, user)
		}
	}
	sort.Strings(winners)
	return winners
}

// BestBackedBettors returns the bettors on the best-ranked backed lane. The
// orchestrator uses this as the "moral winners" presentation fallback when a
// race produces no winners; it is not part of the evaluator's contract.
func BestBackedBettors(ranks []int, bets BetMap) []string {
	if len(bets) == 0 {
		return nil
	}
	counts := bets.Backers(len(ranks))
	for _, lane := range ranks {
		if counts[lane] == 0 {
			continue
		}
		var users []string
		for user, l := range bets {
			if l == lane {
				users = append(users, user)
			}
		}
		sort.Strings(users)
		return users
	}
	return nil
}
