package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/cache"
	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/util"
)

// profileCacheTTL bounds how often we re-hit the enrichment API for a domain
const profileCacheTTL = time.Hour

// CompanyStore is the subset of the database the enricher needs.
type CompanyStore interface {
	GetCompany(ctx context.Context, companyID string) (*db.Company, error)
	MarkCompanyEnriched(ctx context.Context, companyID string, technologies []string, contactCount int) error
}

// ProfileLookup fetches a company profile from the enrichment API.
type ProfileLookup interface {
	LookupCompany(ctx context.Context, domain string) (*CompanyProfile, error)
}

// TechDetector fingerprints a domain's website.
type TechDetector interface {
	DetectDomain(ctx context.Context, domain string) ([]string, error)
}

// Enricher combines profile lookup and technology detection to qualify a
// company, caching API results per domain.
type Enricher struct {
	store    CompanyStore
	lookup   ProfileLookup
	detector TechDetector
	cache    *cache.InMemoryCache
}

// EnrichResult summarises what enrichment found for a company.
type EnrichResult struct {
	CompanyID    string   `json:"company_id"`
	Domain       string   `json:"domain"`
	ContactCount int      `json:"contact_count"`
	Technologies []string `json:"technologies"`
}

// NewEnricher creates an enricher around the given store, API client and detector.
func NewEnricher(store CompanyStore, lookup ProfileLookup, detector TechDetector) *Enricher {
	return &Enricher{
		store:    store,
		lookup:   lookup,
		detector: detector,
		cache:    cache.NewInMemoryCache(),
	}
}

// EnrichCompany looks up the company's domain profile and website stack and
// records the result. A missing profile is not an error: the company is still
// marked enriched with whatever technology detection found.
func (e *Enricher) EnrichCompany(ctx context.Context, companyID string) (*EnrichResult, error) {
	company, err := e.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	if err := util.ValidateDomain(company.Domain); err != nil {
		return nil, fmt.Errorf("company %s has unusable domain %q: %w", companyID, company.Domain, err)
	}

	profile, err := e.lookupCached(ctx, company.Domain)
	if err != nil && !IsNotFound(err) {
		return nil, fmt.Errorf("enrichment lookup failed for %s: %w", company.Domain, err)
	}

	contactCount := 0
	if profile != nil {
		for _, contact := range profile.Contacts {
			if contact.Verified {
				contactCount++
			}
		}
	}

	technologies, err := e.detector.DetectDomain(ctx, company.Domain)
	if err != nil {
		// Sites block fingerprinting or time out routinely; contact data
		// alone still makes the enrichment worth recording.
		log.Warn().
			Err(err).
			Str("domain", company.Domain).
			Msg("Technology detection failed")
		technologies = nil
	}

	if err := e.store.MarkCompanyEnriched(ctx, companyID, technologies, contactCount); err != nil {
		return nil, err
	}

	log.Info().
		Str("company_id", companyID).
		Str("domain", company.Domain).
		Int("contacts", contactCount).
		Int("technologies", len(technologies)).
		Msg("Company enriched")

	return &EnrichResult{
		CompanyID:    companyID,
		Domain:       company.Domain,
		ContactCount: contactCount,
		Technologies: technologies,
	}, nil
}

func (e *Enricher) lookupCached(ctx context.Context, domain string) (*CompanyProfile, error) {
	key := "enrich:profile:" + domain
	if cached, found := e.cache.Get(key); found {
		if profile, ok := cached.(*CompanyProfile); ok {
			return profile, nil
		}
	}

	profile, err := e.lookup.LookupCompany(ctx, domain)
	if err != nil {
		if IsNotFound(err) {
			// Cache the miss too: a domain without a profile stays that way
			// for a while and re-enrichment should not hammer the API.
			e.cache.SetWithTTL(key, (*CompanyProfile)(nil), profileCacheTTL)
		}
		return nil, err
	}

	e.cache.SetWithTTL(key, profile, profileCacheTTL)
	return profile, nil
}
