package budget

import (
	"github.com/calyxhq/expenseflow/internal/models"
)

// warnRatio is the spend fraction at which a user is first warned
const warnRatio = 0.8

// Advance computes the next alert state after an approved expense lands
// against a user's monthly budget. The state only moves forward
// (none -> warned -> exceeded); Reset moves it back when the budget
// period rolls over, so a user can be re-alerted after a reset.
// The second return value reports whether a new alert should be sent.
func Advance(current models.AlertState, spent, budget float64) (models.AlertState, bool) {
	if budget <= 0 {
		return current, false
	}

	target := models.AlertNone
	switch {
	case spent > budget:
		target = models.AlertExceeded
	case spent >= budget*warnRatio:
		target = models.AlertWarned
	}

	if rank(target) <= rank(current) {
		return current, false
	}
	return target, true
}

// Reset returns the state a fresh budget period starts in
func Reset() models.AlertState {
	return models.AlertNone
}

func rank(s models.AlertState) int {
	switch s {
	case models.AlertWarned:
		return 1
	case models.AlertExceeded:
		return 2
	default:
		return 0
	}
}
