package notifications

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/loops"
)

// EmailSender is the slice of the Loops client the channel uses.
type EmailSender interface {
	SendTransactional(ctx context.Context, req *loops.TransactionalRequest) error
}

// EmailChannel sends notifications as transactional emails via Loops.
type EmailChannel struct {
	client          EmailSender
	recipient       string
	transactionalID string
}

// NewEmailChannel creates an email delivery channel from environment config.
// Requires LOOPS_API_KEY, LOOPS_TRANSACTIONAL_ID and NOTIFY_EMAIL.
func NewEmailChannel() (*EmailChannel, error) {
	apiKey := os.Getenv("LOOPS_API_KEY")
	transactionalID := os.Getenv("LOOPS_TRANSACTIONAL_ID")
	recipient := os.Getenv("NOTIFY_EMAIL")
	if apiKey == "" || transactionalID == "" || recipient == "" {
		return nil, fmt.Errorf("LOOPS_API_KEY, LOOPS_TRANSACTIONAL_ID and NOTIFY_EMAIL are required for email notifications")
	}

	return &EmailChannel{
		client:          loops.New(apiKey),
		recipient:       recipient,
		transactionalID: transactionalID,
	}, nil
}

// Name returns the channel name
func (c *EmailChannel) Name() string {
	return "email"
}

// Deliver sends a notification email to the ops recipient.
// The notification ID doubles as the idempotency key, so a retried
// drain never emails the same notification twice.
func (c *EmailChannel) Deliver(ctx context.Context, n *db.Notification) error {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "https://app.bridgeops.io"
	}

	vars := map[string]any{
		"subject": n.Subject,
		"message": n.Message,
		"type":    string(n.Type),
	}
	if n.Link != "" {
		vars["link"] = appURL + n.Link
	}

	err := c.client.SendTransactional(ctx, &loops.TransactionalRequest{
		Email:           c.recipient,
		TransactionalID: c.transactionalID,
		DataVariables:   vars,
		IdempotencyKey:  n.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}

	log.Info().
		Str("notification_id", n.ID).
		Str("recipient", c.recipient).
		Msg("Email notification sent")

	return nil
}
