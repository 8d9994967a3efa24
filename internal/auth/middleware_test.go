package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	claims *UserClaims
	err    error
}

func (f *fakeValidator) ValidateToken(ctx context.Context, token string) (*UserClaims, error) {
	return f.claims, f.err
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		expectErr string
	}{
		{
			name:   "complete config",
			config: Config{JWKSURL: "https://id.example/jwks.json", Issuer: "https://id.example", Audience: "leadbridge"},
		},
		{
			name:      "missing jwks url",
			config:    Config{Issuer: "https://id.example", Audience: "leadbridge"},
			expectErr: "AUTH_JWKS_URL",
		},
		{
			name:      "missing issuer",
			config:    Config{JWKSURL: "https://id.example/jwks.json", Audience: "leadbridge"},
			expectErr: "AUTH_ISSUER",
		},
		{
			name:      "missing audience",
			config:    Config{JWKSURL: "https://id.example/jwks.json", Issuer: "https://id.example"},
			expectErr: "AUTH_AUDIENCE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectErr)
		})
	}
}

func TestExtractTokenFromRequest(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		expectTok string
		expectErr bool
	}{
		{name: "valid bearer", header: "Bearer abc.def.ghi", expectTok: "abc.def.ghi"},
		{name: "missing header", header: "", expectErr: true},
		{name: "wrong scheme", header: "Basic dXNlcg==", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/companies", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			token, err := ExtractTokenFromRequest(r)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectTok, token)
		})
	}
}

func TestMiddlewareSetsUserInContext(t *testing.T) {
	validator := &fakeValidator{claims: &UserClaims{UserID: "user-1", Email: "ops@bridgeops.io"}}

	var gotClaims *UserClaims
	handler := Middleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/companies", nil)
	r.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "user-1", gotClaims.UserID)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	handler := Middleware(&fakeValidator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/companies", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORISED")
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	validator := &fakeValidator{err: errors.New("token is expired")}
	handler := Middleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/companies", nil)
	r.Header.Set("Authorization", "Bearer stale")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestMiddlewareFlagsJWKSMisconfiguration(t *testing.T) {
	validator := &fakeValidator{err: errors.New("failed to initialise JWKS: no such host")}
	handler := Middleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/companies", nil)
	r.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
