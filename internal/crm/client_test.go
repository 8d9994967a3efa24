package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePerson(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-token", r.URL.Query().Get("api_token"))

		var req PersonRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Jane Doe", req.Name)

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"id": 42, "name": req.Name, "email": req.Email},
		})
	}))
	defer server.Close()

	client := NewWithBaseURL("test-token", server.URL)
	person, err := client.CreatePerson(context.Background(), &PersonRequest{
		Name:  "Jane Doe",
		Email: "jane@acme.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 42, person.ID)
}

func TestFindPersonByEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jane@acme.com", r.URL.Query().Get("term"))
		assert.Equal(t, "true", r.URL.Query().Get("exact_match"))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"items": []map[string]any{
					{"item": map[string]any{"id": 7, "name": "Jane Doe"}},
				},
			},
		})
	}))
	defer server.Close()

	client := NewWithBaseURL("test-token", server.URL)
	person, err := client.FindPersonByEmail(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Equal(t, 7, person.ID)
}

func TestFindPersonByEmailNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"items": []any{}},
		})
	}))
	defer server.Close()

	client := NewWithBaseURL("test-token", server.URL)
	person, err := client.FindPersonByEmail(context.Background(), "nobody@acme.com")
	require.NoError(t, err)
	assert.Nil(t, person)
}

func TestAPIErrorFromErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	}))
	defer server.Close()

	client := NewWithBaseURL("test-token", server.URL)
	_, err := client.CreateDeal(context.Background(), &DealRequest{Title: "Acme"})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
}

func TestSuccessFalseIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer server.Close()

	client := NewWithBaseURL("test-token", server.URL)
	_, err := client.CreateOrganization(context.Background(), "Acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "success=false")
}
