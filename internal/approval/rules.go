package approval

import (
	"sort"

	"github.com/calyxhq/expenseflow/internal/models"
)

// SelectRule picks the single rule governing an expense: the
// highest-priority active rule whose amount range and category filter
// both match. Priority ties break oldest-created first, then lowest ID,
// so selection is stable regardless of query order.
func SelectRule(rules []*models.ApprovalRule, amount float64, category string) *models.ApprovalRule {
	var matches []*models.ApprovalRule
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if r.Matches(amount, category) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	return matches[0]
}
