package notifications

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Listener reacts to PostgreSQL NOTIFY events on new notification rows and
// triggers delivery immediately instead of waiting for the next poll.
type Listener struct {
	connStr string
	service *Service
}

// NewListener creates a new notification listener.
// Returns nil if service is nil to prevent nil pointer dereferences.
func NewListener(connStr string, service *Service) *Listener {
	if service == nil {
		log.Error().Msg("Cannot create notification listener: service is nil")
		return nil
	}
	return &Listener{
		connStr: connStr,
		service: service,
	}
}

// Start begins listening for notifications, reconnecting on failure.
func (l *Listener) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Notification listener stopped")
			return
		default:
			if err := l.listen(ctx); err != nil {
				log.Warn().Err(err).Msg("Notification listener error, retrying in 5s")
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
					continue
				}
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	// LISTEN needs its own connection outside the pool
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("Notification listener event error")
		}
	})
	defer listener.Close()

	if err := listener.Listen("new_notification"); err != nil {
		return err
	}

	log.Info().Msg("Notification listener started (real-time mode)")

	// Drain anything that queued up while we were away
	l.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost, reconnect
				return nil
			}

			log.Debug().
				Str("channel", notification.Channel).
				Str("payload", notification.Extra).
				Msg("Received notification")

			// The payload carries one notification ID, but draining all
			// pending rows also picks up anything a missed event left behind.
			l.processPending(ctx)

		case <-time.After(90 * time.Second):
			// Ping to keep connection alive
			if err := listener.Ping(); err != nil {
				return err
			}
		}
	}
}

func (l *Listener) processPending(ctx context.Context) {
	if err := l.service.ProcessPendingNotifications(ctx, 50); err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to process pending notifications")
		}
	}
}

// StartWithFallback starts the listener with polling fallback. Connection
// poolers in transaction mode cannot hold a LISTEN, so when the main URL
// looks pooled we either use DATABASE_DIRECT_URL for real-time delivery or
// drop to polling.
func StartWithFallback(ctx context.Context, connStr string, service *Service) {
	directURL := os.Getenv("DATABASE_DIRECT_URL")
	if directURL != "" {
		if testConnection(directURL) {
			listener := NewListener(directURL, service)
			if listener != nil {
				log.Info().Msg("Notification listener started (real-time via DATABASE_DIRECT_URL)")
				go listener.Start(ctx)
				return
			}
		} else {
			log.Warn().Msg("DATABASE_DIRECT_URL connection failed, falling back to polling")
		}
	}

	listener := NewListener(connStr, service)
	if listener == nil {
		log.Warn().Msg("Notification listener not created, using polling fallback")
		go startPolling(ctx, service)
		return
	}

	if canUseListen(connStr) {
		go listener.Start(ctx)
		return
	}

	log.Info().Msg("Using polling mode for notifications (connection pooler detected)")
	go startPolling(ctx, service)
}

// testConnection tests if a database connection can be established.
func testConnection(connStr string) bool {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to open direct connection")
		return false
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Debug().Err(err).Msg("Failed to ping direct connection")
		return false
	}
	return true
}

// canUseListen checks if the connection string supports LISTEN/NOTIFY.
// Pooler hosts advertise themselves in the URL; PgBouncer defaults to 6543.
func canUseListen(connStr string) bool {
	if strings.Contains(connStr, "pooler") {
		return false
	}
	if strings.Contains(connStr, ":6543") {
		return false
	}
	return true
}

func startPolling(ctx context.Context, service *Service) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	log.Info().Msg("Notification processor started (polling mode)")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Notification processor stopped")
			return
		case <-ticker.C:
			if err := service.ProcessPendingNotifications(ctx, 50); err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("Failed to process pending notifications")
				}
			}
		}
	}
}
