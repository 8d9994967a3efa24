package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/bridgeops/leadbridge/internal/api"
	"github.com/bridgeops/leadbridge/internal/auth"
	"github.com/bridgeops/leadbridge/internal/backfill"
	"github.com/bridgeops/leadbridge/internal/blocklist"
	"github.com/bridgeops/leadbridge/internal/campaign"
	"github.com/bridgeops/leadbridge/internal/crm"
	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/enrich"
	"github.com/bridgeops/leadbridge/internal/notifications"
	"github.com/bridgeops/leadbridge/internal/observability"
	"github.com/bridgeops/leadbridge/internal/outreach"
	"github.com/bridgeops/leadbridge/internal/postings"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Port                 string // HTTP port to listen on
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter

	InstantlyAPIKey   string // Instantly API key for lead paging
	PipedriveAPIToken string // Pipedrive API token for CRM writes
	EnrichAPIKey      string // Enrichment API key (optional)
	AssignerEnabled   bool   // Toggle the background campaign assignment job
	SlackEnabled      bool   // Toggle Slack delivery of batch notifications
	EmailEnabled      bool   // Toggle email delivery of batch notifications
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		InstantlyAPIKey:      os.Getenv("INSTANTLY_API_KEY"),
		PipedriveAPIToken:    os.Getenv("PIPEDRIVE_API_TOKEN"),
		EnrichAPIKey:         os.Getenv("ENRICH_API_KEY"),
		AssignerEnabled:      getEnvWithDefault("ASSIGNER_ENABLED", "true") == "true",
		SlackEnabled:         getEnvWithDefault("SLACK_ENABLED", "false") == "true",
		EmailEnabled:         getEnvWithDefault("EMAIL_NOTIFICATIONS_ENABLED", "false") == "true",
	}

	setupLogging(config)

	if config.InstantlyAPIKey == "" || config.PipedriveAPIToken == "" {
		log.Fatal().Msg("INSTANTLY_API_KEY and PIPEDRIVE_API_TOKEN are required")
	}

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var (
		obsProviders *observability.Providers
		metricsSrv   *http.Server
		err          error
	)

	if config.ObservabilityEnabled {
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:        true,
			ServiceName:    "leadbridge",
			Environment:    config.Env,
			OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure:   config.OTLPInsecure,
			MetricsAddress: config.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else if obsProviders != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				metricsSrv = &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           obsProviders.MetricsHandler,
					ReadHeaderTimeout: 5 * time.Second,
				}

				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()

				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	// Connect to PostgreSQL, retrying through transient startup failures
	pgDB, err := db.InitFromEnvWithRetry(context.Background())
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	// External clients
	instantly := outreach.New(config.InstantlyAPIKey)
	pipedrive := crm.New(config.PipedriveAPIToken)

	// Core services
	blocklistService := blocklist.NewService(pgDB)
	executor := backfill.NewExecutor(pgDB, instantly, pipedrive, blocklistService)
	batchService := backfill.NewBatchService(pgDB, executor, instantly)
	collector := postings.NewCollector(pgDB)

	var enricher api.EnrichController
	if config.EnrichAPIKey != "" {
		detector, err := enrich.NewDetector()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialise technology detector")
		}
		enricher = enrich.NewEnricher(pgDB, enrich.NewClient(config.EnrichAPIKey), detector)
	} else {
		log.Warn().Msg("ENRICH_API_KEY not configured, company enrichment disabled")
		enricher = disabledEnricher{}
	}

	// Background lifecycle context for everything that outlives requests
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Campaign assignment job
	if config.AssignerEnabled {
		assigner := campaign.NewAssigner(pgDB, instantly)
		go assigner.Run(bgCtx)
	} else {
		log.Info().Msg("Campaign assigner disabled")
	}

	// Slack and email notifications for finished batches
	notifService := notifications.NewService(pgDB)
	if config.SlackEnabled {
		slackChannel, err := notifications.NewSlackChannel()
		if err != nil {
			log.Warn().Err(err).Msg("Slack notifications misconfigured, skipping")
		} else {
			notifService.AddChannel(slackChannel)
		}
	}
	if config.EmailEnabled {
		emailChannel, err := notifications.NewEmailChannel()
		if err != nil {
			log.Warn().Err(err).Msg("Email notifications misconfigured, skipping")
		} else {
			notifService.AddChannel(emailChannel)
		}
	}
	if notifService.ChannelCount() > 0 {
		notifications.StartWithFallback(bgCtx, pgDB.GetConfig().ConnectionString(), notifService)
	}

	// Auth middleware for the /v1 surface
	authConfig, err := auth.NewConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Auth configuration incomplete")
	}
	validator := auth.NewValidator(authConfig)

	// Create a rate limiter
	limiter := newRateLimiter()

	// Create API handler with dependencies
	apiHandler := api.NewHandler(pgDB, batchService, executor, blocklistService, enricher, collector, auth.Middleware(validator))

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	// Create middleware stack with rate limiting
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !limiter.getLimiter(ip).Allow() {
			api.WriteErrorMessage(w, r, "Too many requests", http.StatusTooManyRequests, api.ErrCodeRateLimit)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Add middleware in reverse order (outermost first)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CrossOriginProtectionMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	handler = observability.WrapHandler(handler, obsProviders)

	server := &http.Server{
		Addr:    ":" + config.Port,
		Handler: handler,
	}

	// Channel to listen for termination signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal when the server has shut down
	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Str("port", config.Port).Msg("Starting server")

	baseURL := fmt.Sprintf("http://localhost:%s", config.Port)
	log.Info().Str("health", baseURL+"/health").Msg("Health check")
	log.Info().Str("dashboard", baseURL+"/v1/dashboard/stats").Msg("Dashboard stats")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done // Wait for the shutdown process to complete
	log.Info().Msg("Server stopped")
}

// disabledEnricher rejects enrichment requests when no API key is configured.
type disabledEnricher struct{}

func (disabledEnricher) EnrichCompany(ctx context.Context, companyID string) (*enrich.EnrichResult, error) {
	return nil, fmt.Errorf("enrichment is not configured")
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "leadbridge").
			Logger()
	}
}

// RateLimiter represents a rate limiting system based on client IP addresses
type RateLimiter struct {
	limits   map[string]*IPRateLimiter
	mu       sync.Mutex
	rate     rate.Limit
	capacity int
}

// IPRateLimiter wraps a token bucket rate limiter specific to an IP address
type IPRateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter creates a new rate limiter with default settings
func newRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits:   make(map[string]*IPRateLimiter),
		rate:     rate.Limit(20), // 20 requests per second for the back-office UI
		capacity: 10,             // 10 burst capacity
	}
}

// getLimiter returns the rate limiter for a specific IP address
func (rl *RateLimiter) getLimiter(ip string) *IPRateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limits[ip]
	if !exists {
		limiter = &IPRateLimiter{
			limiter: rate.NewLimiter(rl.rate, rl.capacity),
		}
		rl.limits[ip] = limiter
	}

	return limiter
}

// Allow checks if a request from this IP should be allowed
func (ipl *IPRateLimiter) Allow() bool {
	return ipl.limiter.Allow()
}

// getClientIP extracts the client's IP address from a request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For might contain multiple IPs, take the first one
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ips := strings.Split(ip, ",")
		return strings.TrimSpace(ips[0])
	}

	ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	return ip
}
