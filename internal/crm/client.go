// Package crm provides a client for the Pipedrive CRM API.
// See https://developers.pipedrive.com/docs/api/v1 for full documentation.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.pipedrive.com/v1"
	defaultTimeout = 15 * time.Second
)

// Client provides methods to interact with the Pipedrive API.
// Pipedrive authenticates with an api_token query parameter rather than a header.
type Client struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Pipedrive client with the given API token.
func New(apiToken string) *Client {
	return NewWithBaseURL(apiToken, defaultBaseURL)
}

// NewWithBaseURL creates a client against a non-default endpoint, used by tests.
func NewWithBaseURL(apiToken, baseURL string) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Person is a Pipedrive person record.
type Person struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	OrgID int    `json:"org_id,omitempty"`
}

// PersonRequest contains the fields for creating a person.
type PersonRequest struct {
	// Name is the person's full name (required).
	Name string `json:"name"`
	// Email is the person's primary email address.
	Email string `json:"email,omitempty"`
	// OrgID links the person to an organization (optional).
	OrgID int `json:"org_id,omitempty"`
}

// Organization is a Pipedrive organization record.
type Organization struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Deal is a Pipedrive deal record.
type Deal struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	PersonID int    `json:"person_id,omitempty"`
	OrgID    int    `json:"org_id,omitempty"`
}

// DealRequest contains the fields for creating a deal.
type DealRequest struct {
	Title    string `json:"title"`
	PersonID int    `json:"person_id,omitempty"`
	OrgID    int    `json:"org_id,omitempty"`
}

// CreatePerson creates a person record.
func (c *Client) CreatePerson(ctx context.Context, req *PersonRequest) (*Person, error) {
	person := &Person{}
	if err := c.post(ctx, "/persons", req, person); err != nil {
		return nil, err
	}
	return person, nil
}

// FindPersonByEmail searches for a person by exact email match. Returns
// nil when no person matches.
func (c *Client) FindPersonByEmail(ctx context.Context, email string) (*Person, error) {
	query := url.Values{}
	query.Set("term", email)
	query.Set("fields", "email")
	query.Set("exact_match", "true")

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/persons/search", query, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Items []struct {
			Item Person `json:"item"`
		} `json:"items"`
	}
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	return &result.Items[0].Item, nil
}

// CreateOrganization creates an organization record.
func (c *Client) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	org := &Organization{}
	payload := map[string]string{"name": name}
	if err := c.post(ctx, "/organizations", payload, org); err != nil {
		return nil, err
	}
	return org, nil
}

// CreateDeal creates a deal record.
func (c *Client) CreateDeal(ctx context.Context, req *DealRequest) (*Deal, error) {
	deal := &Deal{}
	if err := c.post(ctx, "/deals", req, deal); err != nil {
		return nil, err
	}
	return deal, nil
}

// APIError represents an error response from the Pipedrive API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pipedrive: API error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pipedrive: failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}

	return c.do(httpReq, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_token", c.apiToken)

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), body)
	if err != nil {
		return nil, fmt.Errorf("pipedrive: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// do executes the request and unwraps Pipedrive's {success, data} envelope.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pipedrive: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pipedrive: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiResp) == nil && apiResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("pipedrive: failed to decode response: %w", err)
	}
	if !envelope.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: "success=false in response"}
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("pipedrive: failed to decode response data: %w", err)
	}
	return nil
}
