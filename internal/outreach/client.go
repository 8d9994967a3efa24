// Package outreach provides a client for the Instantly campaign API.
// See https://developer.instantly.ai for full documentation.
package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://api.instantly.ai/api/v2"
	defaultTimeout = 15 * time.Second
)

// CampaignStatusActive marks campaigns eligible for lead assignment.
const CampaignStatusActive = "active"

// Client provides methods to interact with the Instantly API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Instantly client with the given API key.
func New(apiKey string) *Client {
	return NewWithBaseURL(apiKey, defaultBaseURL)
}

// NewWithBaseURL creates a client against a non-default endpoint, used by tests.
func NewWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Campaign is an outreach campaign as reported by the API.
type Campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Lead is one contact in a campaign.
type Lead struct {
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	CompanyDomain string `json:"company_domain,omitempty"`
	Website       string `json:"website,omitempty"`
	CampaignID    string `json:"campaign,omitempty"`
}

// LeadPage is one page of a campaign's lead list.
type LeadPage struct {
	Leads []Lead `json:"items"`
	// Total is the campaign's full lead count, reported on every page.
	Total int `json:"total"`
}

// ListCampaigns returns all campaigns visible to the API key.
func (c *Client) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/campaigns", nil)
	if err != nil {
		return nil, fmt.Errorf("instantly: failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	var result struct {
		Items []Campaign `json:"items"`
	}
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// ListLeads returns one page of a campaign's leads. The skip/limit pair is
// the pagination cursor the backfill executor persists between chunks.
func (c *Client) ListLeads(ctx context.Context, campaignID string, skip, limit int) (*LeadPage, error) {
	query := url.Values{}
	query.Set("campaign", campaignID)
	query.Set("skip", strconv.Itoa(skip))
	query.Set("limit", strconv.Itoa(limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/leads?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("instantly: failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	page := &LeadPage{}
	if err := c.do(httpReq, page); err != nil {
		return nil, err
	}
	return page, nil
}

// CreateLead adds a contact to a campaign.
func (c *Client) CreateLead(ctx context.Context, campaignID string, lead *Lead) error {
	payload := *lead
	payload.CampaignID = campaignID

	body, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("instantly: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/leads", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("instantly: failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	return c.do(httpReq, nil)
}

// APIError represents an error response from the Instantly API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instantly: API error %d: %s", e.StatusCode, e.Message)
}

// setHeaders applies the standard auth and content-type headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// do executes the request, decoding the response body into out when given.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("instantly: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("instantly: failed to decode response: %w", err)
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
