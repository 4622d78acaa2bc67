package notify

import (
	"context"

	"github.com/calyxhq/expenseflow/internal/models"
)

// EventKind identifies what happened to an expense
type EventKind string

const (
	EventSubmitted  EventKind = "submitted"
	EventStepActed  EventKind = "step_acted"
	EventApproved   EventKind = "approved"
	EventRejected   EventKind = "rejected"
	EventOverridden EventKind = "overridden"
	EventBudget     EventKind = "budget_alert"
)

// Event carries everything a channel needs to compose a notification.
// Recipient may be nil for broadcast-style events.
type Event struct {
	Kind      EventKind
	Expense   *models.Expense
	Actor     *models.User
	Recipient *models.User
	Message   string
}

// Notifier delivers one event over some channel. Delivery is
// best-effort: failures are logged by the dispatcher and never affect
// the approval transaction that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
