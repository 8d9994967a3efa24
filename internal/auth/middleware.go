package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/getsentry/sentry-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// TokenValidator validates a bearer token into user claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*UserClaims, error)
}

// UserContextKey is the key used to store user claims in the request context.
type UserContextKey string

const UserKey UserContextKey = "user"

// UserClaims are the JWT claims the back office cares about.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"sub"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Validator validates tokens against the provider's JWKS.
type Validator struct {
	config *Config

	jwksOnce sync.Once
	jwks     keyfunc.Keyfunc
	jwksErr  error
}

// NewValidator creates a validator for the given provider config.
func NewValidator(config *Config) *Validator {
	return &Validator{config: config}
}

// getJWKS lazily builds the cached JWKS client.
func (v *Validator) getJWKS() (keyfunc.Keyfunc, error) {
	v.jwksOnce.Do(func() {
		override := keyfunc.Override{
			Client:          &http.Client{Timeout: 5 * time.Second},
			HTTPTimeout:     5 * time.Second,
			RefreshInterval: 10 * time.Minute,
			RefreshErrorHandlerFunc: func(url string) func(ctx context.Context, err error) {
				return func(ctx context.Context, err error) {
					log.Error().Err(err).Str("jwks_url", url).Msg("JWKS refresh failed")
				}
			},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		v.jwks, v.jwksErr = keyfunc.NewDefaultOverrideCtx(ctx, []string{v.config.JWKSURL}, override)
	})

	if v.jwksErr != nil {
		return nil, v.jwksErr
	}
	return v.jwks, nil
}

// ValidateToken parses and validates a bearer token.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*UserClaims, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request context cancelled: %w", ctx.Err())
	default:
	}

	jwks, err := v.getJWKS()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise JWKS: %w", err)
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&UserClaims{},
		jwks.Keyfunc,
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodES256.Name,
		}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ExtractTokenFromRequest pulls the bearer token out of the Authorization header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("missing or invalid Authorization header")
	}
	return strings.TrimPrefix(authHeader, "Bearer "), nil
}

// GetUserFromContext extracts user claims from the request context.
func GetUserFromContext(ctx context.Context) (*UserClaims, bool) {
	user, ok := ctx.Value(UserKey).(*UserClaims)
	return user, ok
}

// Middleware returns a handler wrapper that requires a valid bearer token.
func Middleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := ExtractTokenFromRequest(r)
			if err != nil {
				writeAuthError(w, r, "Missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				log.Warn().Err(err).Msg("JWT validation failed")

				errorMsg := "Invalid authentication token"
				statusCode := http.StatusUnauthorized

				if strings.Contains(err.Error(), "expired") {
					errorMsg = "Authentication token has expired"
				} else if strings.Contains(err.Error(), "signature") {
					sentry.CaptureException(err)
					errorMsg = "Invalid token signature"
				} else if strings.Contains(strings.ToLower(err.Error()), "jwks") {
					sentry.CaptureException(err)
					errorMsg = "Authentication service misconfigured"
					statusCode = http.StatusInternalServerError
				}

				writeAuthError(w, r, errorMsg, statusCode)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes a standardised authentication error response.
func writeAuthError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"status":  statusCode,
		"message": message,
		"code":    "UNAUTHORISED",
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode unauthorised response")
	}
}
