package db

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/bridgeops/leadbridge/internal/cache"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
	Cache  *cache.InMemoryCache
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string        // Database host
	Port         string        // Database port
	User         string        // Database user
	Password     string        // Database password
	Database     string        // Database name
	SSLMode      string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
	DatabaseURL  string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.DatabaseURL == "" {
		if config.Host == "" {
			return nil, fmt.Errorf("database host is required")
		}
		if config.Port == "" {
			return nil, fmt.Errorf("database port is required")
		}
		if config.User == "" {
			return nil, fmt.Errorf("database user is required")
		}
		if config.Database == "" {
			return nil, fmt.Errorf("database name is required")
		}
	}

	// Defaults for optional fields
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 20
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 50
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, config: config, Cache: cache.NewInMemoryCache()}, nil
}

// InitFromEnv creates a PostgreSQL connection using environment variables.
// DATABASE_URL takes priority over the individual POSTGRES_* parts.
func InitFromEnv() (*DB, error) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return New(&Config{DatabaseURL: url})
	}

	return New(&Config{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     os.Getenv("POSTGRES_PORT"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: os.Getenv("POSTGRES_DB"),
		SSLMode:  os.Getenv("POSTGRES_SSL_MODE"),
	})
}

// setupSchema creates the necessary tables in PostgreSQL
func setupSchema(db *sql.DB) error {
	// Companies scraped from job boards, qualified and enriched over time
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS companies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			domain TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'new',
			posting_count INTEGER NOT NULL DEFAULT 0,
			contact_count INTEGER NOT NULL DEFAULT 0,
			technologies TEXT[] NOT NULL DEFAULT '{}',
			enriched_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create companies table: %w", err)
	}

	// Scraped job postings, keyed by source URL for idempotent collection
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS job_postings (
			id TEXT PRIMARY KEY,
			company_id TEXT REFERENCES companies(id),
			title TEXT NOT NULL,
			location TEXT,
			source_url TEXT UNIQUE NOT NULL,
			posted_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create job_postings table: %w", err)
	}

	// Email blocklist consulted by the backfill executor
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS blocked_emails (
			id TEXT PRIMARY KEY,
			pattern TEXT UNIQUE NOT NULL,
			is_domain BOOLEAN NOT NULL DEFAULT FALSE,
			reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create blocked_emails table: %w", err)
	}

	// Sync batches: backfill and campaign-assignment runs
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_batches (
			id TEXT PRIMARY KEY,
			batch_type TEXT NOT NULL,
			status TEXT NOT NULL,
			target_ids TEXT[] NOT NULL DEFAULT '{}',
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			batch_size INTEGER NOT NULL DEFAULT 50,
			max_items INTEGER NOT NULL DEFAULT 0,
			time_limit_ms INTEGER NOT NULL DEFAULT 0,
			synced_leads INTEGER NOT NULL DEFAULT 0,
			skipped_already_synced INTEGER NOT NULL DEFAULT 0,
			skipped_during_processing INTEGER NOT NULL DEFAULT 0,
			failed_leads INTEGER NOT NULL DEFAULT 0,
			total_leads INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_batches table: %w", err)
	}

	// Per-batch resumable cursor: one row per (batch, campaign)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_cursors (
			batch_id TEXT NOT NULL REFERENCES sync_batches(id),
			campaign_id TEXT NOT NULL,
			next_skip INTEGER NOT NULL DEFAULT 0,
			exhausted BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (batch_id, campaign_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_cursors table: %w", err)
	}

	// Leads already pushed to the CRM, keyed by email for dedup
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS synced_leads (
			email TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			crm_person_id TEXT,
			batch_id TEXT REFERENCES sync_batches(id),
			synced_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create synced_leads table: %w", err)
	}

	// Leads that failed during a batch, kept for the retry control
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS failed_leads (
			batch_id TEXT NOT NULL REFERENCES sync_batches(id),
			email TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			error_message TEXT,
			failed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (batch_id, email)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create failed_leads table: %w", err)
	}

	// Append-only activity log per batch
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_activity (
			id SERIAL PRIMARY KEY,
			batch_id TEXT NOT NULL REFERENCES sync_batches(id),
			log_type TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create batch_activity table: %w", err)
	}

	// Contacts assigned to outreach campaigns by the scheduled assigner
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS campaign_assignments (
			id TEXT PRIMARY KEY,
			batch_id TEXT REFERENCES sync_batches(id),
			company_id TEXT NOT NULL REFERENCES companies(id),
			contact_email TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(contact_email, campaign_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create campaign_assignments table: %w", err)
	}

	// Notifications delivered to Slack by the notifications service
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			subject TEXT NOT NULL,
			message TEXT,
			link TEXT,
			data JSONB,
			slack_delivered_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}

	return createIndexes(db)
}

// createIndexes adds the query-path indexes the API and executor lean on
func createIndexes(db *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_companies_status ON companies(status)`,
		`CREATE INDEX IF NOT EXISTS idx_postings_company ON job_postings(company_id)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_status ON sync_batches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_type ON sync_batches(batch_type, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_batch ON batch_activity(batch_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_synced_leads_campaign ON synced_leads(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_company ON campaign_assignments(company_id)`,
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying *sql.DB handle
func (db *DB) GetDB() *sql.DB {
	return db.client
}
