// Package scoring implements the speed-weighted score for quiz answers.
package scoring

// Speed returns the points awarded for a correct answer submitted after
// responseTimeMS of a question with timeLimitMS on the clock.
//
// Formula: 1000 × (time_limit − response_time) / time_limit, floored,
// clamped to [1, 1000]. Answers at or past the time limit earn the minimum
// of 1 point. Wrong answers are scored by the caller as 0 and never reach
// this function's clamp.
func Speed(timeLimitMS, responseTimeMS int) int {
	if timeLimitMS <= 0 {
		return 1
	}
	if responseTimeMS >= timeLimitMS {
		return 1
	}

	remaining := timeLimitMS - responseTimeMS
	score := 1000 * remaining / timeLimitMS

	if score < 1 {
		return 1
	}
	if score > 1000 {
		return 1000
	}
	return score
}
