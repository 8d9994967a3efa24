// Package notifications delivers batch lifecycle notifications to the ops
// team. Batch runs write notification rows; this package drains the pending
// rows and fans them out to the configured channels (Slack, email).
package notifications

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/bridgeops/leadbridge/internal/db"
)

// NotificationDB defines the database operations needed by the service
type NotificationDB interface {
	GetPendingSlackNotifications(ctx context.Context, limit int) ([]*db.Notification, error)
	MarkSlackDelivered(ctx context.Context, notificationID string) error
}

// DeliveryChannel defines the interface for notification delivery
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, n *db.Notification) error
}

// Service drains pending notifications into its delivery channels
type Service struct {
	db       NotificationDB
	channels []DeliveryChannel
}

// NewService creates a notification service
func NewService(database NotificationDB) *Service {
	return &Service{db: database}
}

// AddChannel adds a delivery channel to the service
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// ChannelCount reports how many delivery channels are registered.
func (s *Service) ChannelCount() int {
	return len(s.channels)
}

// ProcessPendingNotifications delivers pending notifications to all channels
func (s *Service) ProcessPendingNotifications(ctx context.Context, limit int) error {
	notifications, err := s.db.GetPendingSlackNotifications(ctx, limit)
	if err != nil {
		return err
	}

	for _, n := range notifications {
		delivered := true
		for _, ch := range s.channels {
			if err := ch.Deliver(ctx, n); err != nil {
				log.Warn().
					Err(err).
					Str("notification_id", n.ID).
					Str("channel", ch.Name()).
					Msg("Failed to deliver notification")
				delivered = false
			}
		}

		// A failed delivery keeps the row pending so the next drain retries it.
		if !delivered {
			continue
		}

		if err := s.db.MarkSlackDelivered(ctx, n.ID); err != nil {
			log.Warn().
				Err(err).
				Str("notification_id", n.ID).
				Msg("Failed to mark notification delivered")
		}
	}

	return nil
}

// SlackPoster is the slice of the Slack client the channel uses.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel posts notifications to a single ops channel
type SlackChannel struct {
	client    SlackPoster
	channelID string
}

// NewSlackChannel creates a Slack delivery channel from environment config.
// Requires SLACK_BOT_TOKEN and SLACK_CHANNEL_ID.
func NewSlackChannel() (*SlackChannel, error) {
	token := os.Getenv("SLACK_BOT_TOKEN")
	channelID := os.Getenv("SLACK_CHANNEL_ID")
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN and SLACK_CHANNEL_ID are required for Slack notifications")
	}

	return &SlackChannel{
		client:    slack.New(token),
		channelID: channelID,
	}, nil
}

// Name returns the channel name
func (c *SlackChannel) Name() string {
	return "slack"
}

// Deliver posts a notification to the ops channel
func (c *SlackChannel) Deliver(ctx context.Context, n *db.Notification) error {
	blocks := c.buildMessageBlocks(n)
	fallbackText := fmt.Sprintf("%s: %s", n.Subject, n.Message)

	_, _, err := c.client.PostMessageContext(
		ctx,
		c.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallbackText, false),
	)
	if err != nil {
		return fmt.Errorf("failed to post Slack message: %w", err)
	}

	log.Info().
		Str("notification_id", n.ID).
		Str("channel_id", c.channelID).
		Msg("Slack notification sent")

	return nil
}

func (c *SlackChannel) buildMessageBlocks(n *db.Notification) []slack.Block {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "https://app.bridgeops.io"
	}

	var emoji string
	switch n.Type {
	case db.NotificationBatchComplete:
		emoji = ":white_check_mark:"
	case db.NotificationBatchFailed:
		emoji = ":x:"
	default:
		emoji = ":bell:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *%s*", emoji, n.Subject),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	if n.Message != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", n.Message, false, false),
			nil,
			nil,
		))
	}

	if n.Link != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("<%s%s|View batch>", appURL, n.Link),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	return blocks
}
