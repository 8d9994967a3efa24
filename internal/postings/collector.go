// Package postings scrapes job postings off careers and listing pages and
// feeds them into the back office.
package postings

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/util"
)

const userAgent = "Mozilla/5.0 (compatible; LeadBridge/1.0; +https://bridgeops.io)"

// Store is the collector's slice of the database.
type Store interface {
	UpsertCompany(ctx context.Context, company *db.Company) error
	UpsertPosting(ctx context.Context, posting *db.JobPosting) error
	GetCompany(ctx context.Context, companyID string) (*db.Company, error)
}

// Collector scrapes one listing page per call and upserts what it finds.
// Posting rows are keyed by source URL so repeated collection runs stay
// idempotent.
type Collector struct {
	store Store

	// Parallelism bounds concurrent fetches per run.
	Parallelism int
	// Timeout bounds each page fetch.
	Timeout time.Duration
}

// CollectResult summarises one collection run.
type CollectResult struct {
	PagesVisited  int `json:"pages_visited"`
	PostingsFound int `json:"postings_found"`
	Errors        int `json:"errors"`
}

// NewCollector creates a collector around the given store.
func NewCollector(store Store) *Collector {
	return &Collector{
		store:       store,
		Parallelism: 2,
		Timeout:     20 * time.Second,
	}
}

// Collect scrapes the listing page at pageURL. Each anchor inside an element
// the page marks as a job entry becomes a posting; the page's host becomes
// the company when companyID is empty.
func (c *Collector) Collect(ctx context.Context, pageURL, companyID string) (*CollectResult, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid listing URL: %s", pageURL)
	}

	companyID, err = c.resolveCompany(ctx, parsed, companyID)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(c.Timeout)
	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.Parallelism,
	})

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	result := &CollectResult{}

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		result.PagesVisited++
		e.DOM.Find("[class*=job], [class*=position], [class*=vacanc], [class*=opening]").Each(func(i int, s *goquery.Selection) {
			posting, ok := extractPosting(s, e.Request.URL)
			if !ok {
				return
			}
			posting.ID = uuid.New().String()
			posting.CompanyID = &companyID

			if err := c.store.UpsertPosting(ctx, posting); err != nil {
				result.Errors++
				log.Warn().Err(err).Str("source_url", posting.SourceURL).Msg("Failed to store posting")
				return
			}
			result.PostingsFound++
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		result.Errors++
		log.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("Listing page fetch failed")
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", pageURL, err)
	}
	collector.Wait()

	log.Info().
		Str("url", pageURL).
		Int("postings", result.PostingsFound).
		Int("errors", result.Errors).
		Msg("Collection run completed")

	return result, nil
}

// resolveCompany returns the target company ID, creating a company from the
// page's host when none was given.
func (c *Collector) resolveCompany(ctx context.Context, pageURL *url.URL, companyID string) (string, error) {
	if companyID != "" {
		if _, err := c.store.GetCompany(ctx, companyID); err != nil {
			return "", err
		}
		return companyID, nil
	}

	domain := util.NormaliseDomain(strings.ToLower(pageURL.Host))
	company := &db.Company{
		ID:     uuid.New().String(),
		Name:   companyNameFromDomain(domain),
		Domain: domain,
		Status: string(db.CompanyStatusNew),
	}
	// The upsert rewrites company.ID with the stored row's ID when the
	// domain already exists, so re-collecting a known host reuses it.
	if err := c.store.UpsertCompany(ctx, company); err != nil {
		return "", err
	}
	return company.ID, nil
}

// extractPosting pulls a posting out of one candidate element. An element
// qualifies when it carries a link and a plausible title.
func extractPosting(s *goquery.Selection, base *url.URL) (*db.JobPosting, bool) {
	link := s.Find("a[href]").First()
	href, ok := link.Attr("href")
	if !ok {
		return nil, false
	}

	title := strings.TrimSpace(link.Text())
	if heading := strings.TrimSpace(s.Find("h1, h2, h3, h4").First().Text()); heading != "" {
		title = heading
	}
	if len(title) < 4 || len(title) > 200 {
		return nil, false
	}

	resolved, err := base.Parse(href)
	if err != nil || resolved.Host == "" {
		return nil, false
	}

	location := strings.TrimSpace(s.Find("[class*=location]").First().Text())

	return &db.JobPosting{
		Title:     title,
		Location:  location,
		SourceURL: resolved.String(),
	}, true
}

func companyNameFromDomain(domain string) string {
	name := strings.Split(domain, ".")[0]
	if name == "" {
		return domain
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
