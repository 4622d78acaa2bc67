package budget

import (
	"testing"

	"github.com/calyxhq/expenseflow/internal/models"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		name       string
		current    models.AlertState
		spent      float64
		budget     float64
		wantState  models.AlertState
		wantNotify bool
	}{
		{
			name:       "under warn ratio stays none",
			current:    models.AlertNone,
			spent:      500, budget: 1000,
			wantState: models.AlertNone, wantNotify: false,
		},
		{
			name:       "crossing warn ratio warns once",
			current:    models.AlertNone,
			spent:      800, budget: 1000,
			wantState: models.AlertWarned, wantNotify: true,
		},
		{
			name:       "already warned does not re-warn",
			current:    models.AlertWarned,
			spent:      900, budget: 1000,
			wantState: models.AlertWarned, wantNotify: false,
		},
		{
			name:       "exceeding budget escalates",
			current:    models.AlertWarned,
			spent:      1100, budget: 1000,
			wantState: models.AlertExceeded, wantNotify: true,
		},
		{
			name:       "state never moves backwards",
			current:    models.AlertExceeded,
			spent:      100, budget: 1000,
			wantState: models.AlertExceeded, wantNotify: false,
		},
		{
			name:       "no budget configured",
			current:    models.AlertNone,
			spent:      9999, budget: 0,
			wantState: models.AlertNone, wantNotify: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, notify := Advance(tt.current, tt.spent, tt.budget)
			if state != tt.wantState || notify != tt.wantNotify {
				t.Errorf("Advance() = (%v, %v), want (%v, %v)", state, notify, tt.wantState, tt.wantNotify)
			}
		})
	}
}

func TestResetAllowsReAlerting(t *testing.T) {
	state, _ := Advance(models.AlertNone, 1200, 1000)
	if state != models.AlertExceeded {
		t.Fatalf("expected exceeded, got %v", state)
	}

	state = Reset()
	state, notify := Advance(state, 850, 1000)
	if state != models.AlertWarned || !notify {
		t.Errorf("after reset expected (warned, true), got (%v, %v)", state, notify)
	}
}
