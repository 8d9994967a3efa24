package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// maxBodySample caps how much of the homepage is fed to the fingerprinter (50KB)
const maxBodySample = 50 * 1024

// Detector identifies the technologies a company's website runs on. The
// detected names feed company qualification (e.g. filtering by CMS or stack).
type Detector struct {
	client     *wappalyzer.Wappalyze
	httpClient *http.Client
	mu         sync.RWMutex
}

// NewDetector creates a new technology detector.
func NewDetector() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	return &Detector{
		client: client,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// Detect identifies technologies from HTTP headers and body and returns the
// technology names sorted for stable storage in the companies table.
func (d *Detector) Detect(headers http.Header, body []byte) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(body) > maxBodySample {
		body = body[:maxBodySample]
	}

	fingerprints := d.client.Fingerprint(headers, body)

	technologies := make([]string, 0, len(fingerprints))
	for tech := range fingerprints {
		technologies = append(technologies, tech)
	}
	sort.Strings(technologies)

	log.Debug().
		Int("tech_count", len(technologies)).
		Msg("Technology detection completed")

	return technologies
}

// DetectDomain fetches a domain's homepage over HTTPS and fingerprints it.
func (d *Detector) DetectDomain(ctx context.Context, domain string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", domain, err)
	}
	req.Header.Set("User-Agent", "LeadBridge/1.0 (+https://bridgeops.io)")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", domain, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySample))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", domain, err)
	}

	return d.Detect(resp.Header, body), nil
}
