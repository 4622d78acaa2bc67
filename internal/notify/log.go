package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes events to the application log. It is the fallback
// channel when no messaging credentials are configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	fields := []zap.Field{zap.String("kind", string(event.Kind))}
	if event.Expense != nil {
		fields = append(fields, zap.Int64("expense_id", event.Expense.ID))
	}
	if event.Recipient != nil {
		fields = append(fields, zap.String("recipient", event.Recipient.Email))
	}
	n.logger.Info("Notification", fields...)
	return nil
}
