package outreach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListLeadsPagination(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"email": "jane@acme.com", "first_name": "Jane", "company_domain": "acme.com"},
				{"email": "sam@acme.com", "first_name": "Sam"},
			},
			"total": 120,
		})
	}))
	defer server.Close()

	client := NewWithBaseURL("test-key", server.URL)
	page, err := client.ListLeads(context.Background(), "camp-1", 50, 25)
	require.NoError(t, err)

	assert.Contains(t, gotPath, "campaign=camp-1")
	assert.Contains(t, gotPath, "skip=50")
	assert.Contains(t, gotPath, "limit=25")
	assert.Len(t, page.Leads, 2)
	assert.Equal(t, 120, page.Total)
	assert.Equal(t, "jane@acme.com", page.Leads[0].Email)
}

func TestListCampaigns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "camp-1", "name": "AU SaaS", "status": "active"},
				{"id": "camp-2", "name": "Paused outreach", "status": "paused"},
			},
		})
	}))
	defer server.Close()

	client := NewWithBaseURL("test-key", server.URL)
	campaigns, err := client.ListCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, CampaignStatusActive, campaigns[0].Status)
}

func TestCreateLeadSetsCampaign(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewWithBaseURL("test-key", server.URL)
	err := client.CreateLead(context.Background(), "camp-9", &Lead{Email: "jane@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "camp-9", gotBody["campaign"])
	assert.Equal(t, "jane@acme.com", gotBody["email"])
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid api key"})
	}))
	defer server.Close()

	client := NewWithBaseURL("bad-key", server.URL)
	_, err := client.ListCampaigns(context.Background())
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid api key", apiErr.Message)
}
