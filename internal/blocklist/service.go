// Package blocklist manages the email blocklist consulted by the backfill
// executor: full addresses and whole domains that must never be synced.
package blocklist

import (
	"context"
	"fmt"
	"strings"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/db"
)

var verifier = emailverifier.NewVerifier()

// Store is the subset of the database the blocklist service needs.
type Store interface {
	AddBlockedEmail(ctx context.Context, entry *db.BlockedEmail) error
	RemoveBlockedEmail(ctx context.Context, entryID string) error
	ListBlockedEmails(ctx context.Context) ([]*db.BlockedEmail, error)
}

// Service validates and stores blocklist entries.
type Service struct {
	store Store
}

// NewService creates a blocklist service around the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Add validates a pattern and stores it. A pattern containing "@" is a full
// address; anything else is treated as a domain that blocks every address
// under it.
func (s *Service) Add(ctx context.Context, pattern, reason string) (*db.BlockedEmail, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	isDomain := !strings.Contains(pattern, "@")
	probe := pattern
	if isDomain {
		probe = "probe@" + pattern
	}
	if syntax := verifier.ParseAddress(probe); !syntax.Valid {
		if isDomain {
			return nil, fmt.Errorf("invalid domain: %s", pattern)
		}
		return nil, fmt.Errorf("invalid email address: %s", pattern)
	}

	entry := &db.BlockedEmail{
		ID:       uuid.New().String(),
		Pattern:  pattern,
		IsDomain: isDomain,
		Reason:   reason,
	}
	if err := s.store.AddBlockedEmail(ctx, entry); err != nil {
		return nil, err
	}

	log.Info().
		Str("pattern", pattern).
		Bool("is_domain", isDomain).
		Msg("Blocklist entry added")

	return entry, nil
}

// Remove deletes an entry by ID.
func (s *Service) Remove(ctx context.Context, entryID string) error {
	return s.store.RemoveBlockedEmail(ctx, entryID)
}

// List returns all entries, newest first.
func (s *Service) List(ctx context.Context) ([]*db.BlockedEmail, error) {
	return s.store.ListBlockedEmails(ctx)
}

// Matcher answers "is this email blocked" from an in-memory snapshot of the
// blocklist, so the executor pays one query per chunk rather than per lead.
type Matcher struct {
	addresses map[string]struct{}
	domains   map[string]struct{}
}

// LoadMatcher snapshots the current blocklist into a matcher.
func (s *Service) LoadMatcher(ctx context.Context) (*Matcher, error) {
	entries, err := s.store.ListBlockedEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocklist: %w", err)
	}
	return NewMatcher(entries), nil
}

// NewMatcher builds a matcher from blocklist entries.
func NewMatcher(entries []*db.BlockedEmail) *Matcher {
	m := &Matcher{
		addresses: make(map[string]struct{}),
		domains:   make(map[string]struct{}),
	}
	for _, entry := range entries {
		pattern := strings.ToLower(entry.Pattern)
		if entry.IsDomain {
			m.domains[pattern] = struct{}{}
		} else {
			m.addresses[pattern] = struct{}{}
		}
	}
	return m
}

// Blocked reports whether the email matches a blocked address or domain.
func (m *Matcher) Blocked(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, ok := m.addresses[email]; ok {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, ok := m.domains[email[at+1:]]
	return ok
}
