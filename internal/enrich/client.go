// Package enrich provides company and contact enrichment: a client for a
// contact-enrichment REST API plus website technology detection.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.enrichlayer.com/v1"
	defaultTimeout = 20 * time.Second
)

// Client provides methods to interact with the enrichment API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new enrichment client with the given API key.
func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, defaultBaseURL)
}

// NewClientWithBaseURL creates a client against a non-default endpoint, used by tests.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Contact is one verified contact returned by a company lookup.
type Contact struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Title     string `json:"title,omitempty"`
	Verified  bool   `json:"verified"`
}

// CompanyProfile is the enrichment result for a domain.
type CompanyProfile struct {
	Domain    string    `json:"domain"`
	Name      string    `json:"name"`
	Size      string    `json:"size,omitempty"`
	Industry  string    `json:"industry,omitempty"`
	Contacts  []Contact `json:"contacts"`
	FetchedAt time.Time `json:"-"`
}

// LookupCompany fetches the enrichment profile for a domain.
func (c *Client) LookupCompany(ctx context.Context, domain string) (*CompanyProfile, error) {
	query := url.Values{}
	query.Set("domain", domain)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/company?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("enrich: failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	profile := &CompanyProfile{}
	if err := c.do(httpReq, profile); err != nil {
		return nil, err
	}
	profile.FetchedAt = time.Now()
	return profile, nil
}

// LookupPerson fetches enrichment data for a single email address.
func (c *Client) LookupPerson(ctx context.Context, email string) (*Contact, error) {
	query := url.Values{}
	query.Set("email", email)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/person?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("enrich: failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	contact := &Contact{}
	if err := c.do(httpReq, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// APIError represents an error response from the enrichment API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("enrich: API error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the enrichment API,
// which means the domain or email simply has no profile.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// setHeaders applies the standard auth and content-type headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// do executes the request and decodes the response body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("enrich: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("enrich: failed to decode response: %w", err)
		}
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var apiResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiResp) == nil && apiResp.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
