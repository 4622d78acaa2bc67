package notify

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// LarkConfig holds Lark app credentials
type LarkConfig struct {
	AppID     string
	AppSecret string
}

// LarkNotifier delivers approval events as Lark IM messages addressed by
// the recipient's email
type LarkNotifier struct {
	client *lark.Client
	logger *zap.Logger
}

// NewLarkNotifier creates a Lark-backed notifier
func NewLarkNotifier(cfg LarkConfig, logger *zap.Logger) *LarkNotifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkNotifier{client: client, logger: logger}
}

// Notify sends one event as a text message
func (n *LarkNotifier) Notify(ctx context.Context, event Event) error {
	if event.Recipient == nil || event.Recipient.Email == "" {
		n.logger.Debug("Skipping notification without recipient",
			zap.String("kind", string(event.Kind)))
		return nil
	}

	content, err := json.Marshal(map[string]string{"text": composeText(event)})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("email").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(event.Recipient.Email).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("kind", string(event.Kind)),
			zap.String("recipient", event.Recipient.Email),
			zap.Error(err))
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if !resp.Success() {
		n.logger.Error("Notification API returned failure",
			zap.String("recipient", event.Recipient.Email),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("notification API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	n.logger.Info("Notification sent",
		zap.String("kind", string(event.Kind)),
		zap.String("recipient", event.Recipient.Email))
	return nil
}

func composeText(event Event) string {
	if event.Message != "" {
		return event.Message
	}

	e := event.Expense
	switch event.Kind {
	case EventSubmitted:
		return fmt.Sprintf("Expense #%d (%s %.2f, %s) is awaiting your approval.",
			e.ID, e.Currency, e.Amount, e.Category)
	case EventStepActed:
		return fmt.Sprintf("Expense #%d advanced; your approval is requested.", e.ID)
	case EventApproved:
		return fmt.Sprintf("Expense #%d (%s %.2f) was approved.", e.ID, e.Currency, e.Amount)
	case EventRejected:
		return fmt.Sprintf("Expense #%d (%s %.2f) was rejected.", e.ID, e.Currency, e.Amount)
	case EventOverridden:
		return fmt.Sprintf("Expense #%d was finalized by an administrator.", e.ID)
	default:
		return fmt.Sprintf("Expense #%d was updated.", e.ID)
	}
}
