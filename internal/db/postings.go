package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobPosting is one scraped job advertisement
type JobPosting struct {
	ID        string     `json:"id"`
	CompanyID *string    `json:"company_id,omitempty"`
	Title     string     `json:"title"`
	Location  string     `json:"location,omitempty"`
	SourceURL string     `json:"source_url"`
	PostedAt  *time.Time `json:"posted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// UpsertPosting inserts a posting keyed by source URL, bumping the owning
// company's posting count only on first sight.
func (db *DB) UpsertPosting(ctx context.Context, posting *JobPosting) error {
	queue := NewDbQueue(db.client)
	return queue.Execute(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO job_postings (id, company_id, title, location, source_url, posted_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (source_url) DO NOTHING
		`, posting.ID, posting.CompanyID, posting.Title, posting.Location, posting.SourceURL, posting.PostedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert posting: %w", err)
		}

		inserted, err := result.RowsAffected()
		if err != nil || inserted == 0 || posting.CompanyID == nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE companies SET posting_count = posting_count + 1, updated_at = NOW() WHERE id = $1
		`, *posting.CompanyID)
		if err != nil {
			return fmt.Errorf("failed to bump posting count: %w", err)
		}
		return nil
	})
}

// ListPostings returns postings newest-first, optionally for one company
func (db *DB) ListPostings(ctx context.Context, companyID string, limit, offset int) ([]*JobPosting, int, error) {
	query := `
		SELECT id, company_id, title, COALESCE(location, ''), source_url, posted_at, created_at,
		       COUNT(*) OVER() AS total_count
		FROM job_postings
	`
	args := []interface{}{}
	if companyID != "" {
		query += ` WHERE company_id = $1`
		args = append(args, companyID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := db.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list postings: %w", err)
	}
	defer rows.Close()

	var postings []*JobPosting
	total := 0
	for rows.Next() {
		posting := &JobPosting{}
		var companyID sql.NullString
		var postedAt sql.NullTime
		if err := rows.Scan(
			&posting.ID, &companyID, &posting.Title, &posting.Location,
			&posting.SourceURL, &postedAt, &posting.CreatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan posting: %w", err)
		}
		if companyID.Valid {
			posting.CompanyID = &companyID.String
		}
		if postedAt.Valid {
			posting.PostedAt = &postedAt.Time
		}
		postings = append(postings, posting)
	}

	return postings, total, rows.Err()
}
