package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// CompanyStatus is the qualification state of a scraped company
type CompanyStatus string

const (
	CompanyStatusNew          CompanyStatus = "new"
	CompanyStatusQualified    CompanyStatus = "qualified"
	CompanyStatusDisqualified CompanyStatus = "disqualified"
	CompanyStatusEnriched     CompanyStatus = "enriched"
)

// ValidCompanyStatus reports whether the string is a known status
func ValidCompanyStatus(status string) bool {
	switch CompanyStatus(status) {
	case CompanyStatusNew, CompanyStatusQualified, CompanyStatusDisqualified, CompanyStatusEnriched:
		return true
	}
	return false
}

// Company is a scraped employer, qualified and enriched over time
type Company struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Domain       string     `json:"domain"`
	Status       string     `json:"status"`
	PostingCount int        `json:"posting_count"`
	ContactCount int        `json:"contact_count"`
	Technologies []string   `json:"technologies,omitempty"`
	EnrichedAt   *time.Time `json:"enriched_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UpsertCompany inserts a company or refreshes its name on domain conflict.
// The domain is the natural key: a conflicting row keeps its stored ID, and
// company.ID is overwritten with the canonical one so postings reference the
// row that actually exists.
func (db *DB) UpsertCompany(ctx context.Context, company *Company) error {
	err := db.client.QueryRowContext(ctx, `
		INSERT INTO companies (id, name, domain, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (domain) DO UPDATE SET name = $2, updated_at = NOW()
		RETURNING id
	`, company.ID, company.Name, company.Domain, company.Status).Scan(&company.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert company: %w", err)
	}
	return nil
}

// GetCompany retrieves a company by ID
func (db *DB) GetCompany(ctx context.Context, companyID string) (*Company, error) {
	company := &Company{}
	var enrichedAt sql.NullTime

	err := db.client.QueryRowContext(ctx, `
		SELECT id, name, domain, status, posting_count, contact_count, technologies, enriched_at, created_at, updated_at
		FROM companies
		WHERE id = $1
	`, companyID).Scan(
		&company.ID, &company.Name, &company.Domain, &company.Status,
		&company.PostingCount, &company.ContactCount, pq.Array(&company.Technologies),
		&enrichedAt, &company.CreatedAt, &company.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("company not found: %s", companyID)
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	if enrichedAt.Valid {
		company.EnrichedAt = &enrichedAt.Time
	}

	return company, nil
}

// ListCompanies returns companies newest-first with optional status filter
func (db *DB) ListCompanies(ctx context.Context, status string, limit, offset int) ([]*Company, int, error) {
	query := `
		SELECT id, name, domain, status, posting_count, contact_count, technologies, enriched_at, created_at, updated_at,
		       COUNT(*) OVER() AS total_count
		FROM companies
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := db.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []*Company
	total := 0
	for rows.Next() {
		company := &Company{}
		var enrichedAt sql.NullTime
		if err := rows.Scan(
			&company.ID, &company.Name, &company.Domain, &company.Status,
			&company.PostingCount, &company.ContactCount, pq.Array(&company.Technologies),
			&enrichedAt, &company.CreatedAt, &company.UpdatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan company: %w", err)
		}
		if enrichedAt.Valid {
			company.EnrichedAt = &enrichedAt.Time
		}
		companies = append(companies, company)
	}

	return companies, total, rows.Err()
}

// UpdateCompanyStatus moves a company to a new qualification status
func (db *DB) UpdateCompanyStatus(ctx context.Context, companyID, status string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE companies SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, companyID)
	if err != nil {
		return fmt.Errorf("failed to update company status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("company not found: %s", companyID)
	}

	return nil
}

// MarkCompanyEnriched stores enrichment results against a company
func (db *DB) MarkCompanyEnriched(ctx context.Context, companyID string, technologies []string, contactCount int) error {
	_, err := db.client.ExecContext(ctx, `
		UPDATE companies
		SET status = $1, technologies = $2, contact_count = $3, enriched_at = NOW(), updated_at = NOW()
		WHERE id = $4
	`, CompanyStatusEnriched, pq.Array(technologies), contactCount, companyID)
	if err != nil {
		return fmt.Errorf("failed to mark company enriched: %w", err)
	}
	return nil
}

// QualifiedContact is a verified contact of a qualified company awaiting
// campaign assignment.
type QualifiedContact struct {
	CompanyID string
	Email     string
}

// ListUnassignedContacts returns qualified companies' contacts that are not
// yet in any outreach campaign. Contacts live in campaign_assignments once
// assigned, so the anti-join is on email.
func (db *DB) ListUnassignedContacts(ctx context.Context, limit int) ([]QualifiedContact, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT s.email, c.id
		FROM synced_leads s
		JOIN companies c ON split_part(s.email, '@', 2) = c.domain
		WHERE c.status IN ('qualified', 'enriched')
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_assignments a WHERE a.contact_email = s.email
		  )
		ORDER BY s.synced_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned contacts: %w", err)
	}
	defer rows.Close()

	var contacts []QualifiedContact
	for rows.Next() {
		var contact QualifiedContact
		if err := rows.Scan(&contact.Email, &contact.CompanyID); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}

// RecordAssignment stores a contact-to-campaign assignment
func (db *DB) RecordAssignment(ctx context.Context, id, batchID, companyID, email, campaignID string) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO campaign_assignments (id, batch_id, company_id, contact_email, campaign_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contact_email, campaign_id) DO NOTHING
	`, id, batchID, companyID, email, campaignID)
	if err != nil {
		return fmt.Errorf("failed to record assignment: %w", err)
	}
	return nil
}
