// Package api exposes the back-office HTTP surface: companies, postings,
// blocklist, dashboard and the batch/chunk control endpoints the sync
// frontend drives.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/enrich"
	"github.com/bridgeops/leadbridge/internal/postings"
	leadsync "github.com/bridgeops/leadbridge/internal/sync"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.2.0"

// DBClient is the store surface the read-side handlers use directly.
type DBClient interface {
	GetDB() *sql.DB
	ListCompanies(ctx context.Context, status string, limit, offset int) ([]*db.Company, int, error)
	GetCompany(ctx context.Context, companyID string) (*db.Company, error)
	UpdateCompanyStatus(ctx context.Context, companyID, status string) error
	ListPostings(ctx context.Context, companyID string, limit, offset int) ([]*db.JobPosting, int, error)
	ListActivity(ctx context.Context, batchID string, limit int) ([]db.ActivityEntry, error)
	ListFailedLeads(ctx context.Context, batchID string) ([]db.FailedLead, error)
	GetPipelineStats(ctx context.Context) (*db.PipelineStats, error)
}

// BatchController drives batch lifecycle operations.
type BatchController interface {
	Start(ctx context.Context, order *leadsync.WorkOrder) (*db.SyncBatch, error)
	Get(ctx context.Context, batchID string) (*db.SyncBatch, error)
	List(ctx context.Context, batchType string, limit, offset int) ([]*db.SyncBatch, int, error)
	Pause(ctx context.Context, batchID string) error
	Resume(ctx context.Context, batchID string) error
	Cancel(ctx context.Context, batchID string) error
	RetryFailed(ctx context.Context, batchID string) error
}

// ChunkController executes one chunk of a batch.
type ChunkController interface {
	ExecuteChunk(ctx context.Context, batchID string, order *leadsync.WorkOrder) (*leadsync.ChunkResult, error)
}

// BlocklistController manages blocklist entries.
type BlocklistController interface {
	Add(ctx context.Context, pattern, reason string) (*db.BlockedEmail, error)
	Remove(ctx context.Context, entryID string) error
	List(ctx context.Context) ([]*db.BlockedEmail, error)
}

// EnrichController enriches a company.
type EnrichController interface {
	EnrichCompany(ctx context.Context, companyID string) (*enrich.EnrichResult, error)
}

// PostingsController collects postings off a listing page.
type PostingsController interface {
	Collect(ctx context.Context, pageURL, companyID string) (*postings.CollectResult, error)
}

// Handler holds dependencies for API handlers
type Handler struct {
	DB        DBClient
	Batches   BatchController
	Chunks    ChunkController
	Blocklist BlocklistController
	Enricher  EnrichController
	Collector PostingsController

	// AuthMiddleware wraps every /v1 route; tests inject a pass-through.
	AuthMiddleware func(http.Handler) http.Handler
}

// NewHandler creates a new API handler with dependencies
func NewHandler(database DBClient, batches BatchController, chunks ChunkController, blocklistService BlocklistController, enricher EnrichController, collector PostingsController, authMiddleware func(http.Handler) http.Handler) *Handler {
	return &Handler{
		DB:             database,
		Batches:        batches,
		Chunks:         chunks,
		Blocklist:      blocklistService,
		Enricher:       enricher,
		Collector:      collector,
		AuthMiddleware: authMiddleware,
	}
}

// SetupRoutes configures all API routes with proper middleware
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	// Health check endpoints (no auth required)
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	// Back-office routes (require auth)
	mux.Handle("/v1/companies", h.protected(h.CompaniesHandler))
	mux.Handle("/v1/companies/", h.protected(h.CompanyHandler))
	mux.Handle("/v1/postings", h.protected(h.PostingsHandler))
	mux.Handle("/v1/postings/collect", h.protected(h.CollectPostingsHandler))
	mux.Handle("/v1/blocklist", h.protected(h.BlocklistHandler))
	mux.Handle("/v1/blocklist/", h.protected(h.BlocklistEntryHandler))

	// Sync control routes (require auth)
	mux.Handle("/v1/sync/chunk", h.protected(h.ChunkHandler))
	mux.Handle("/v1/batches", h.protected(h.BatchesHandler))
	mux.Handle("/v1/batches/", h.protected(h.BatchHandler))

	// Dashboard (requires auth)
	mux.Handle("/v1/dashboard/stats", h.protected(h.DashboardStats))
}

// protected wraps a handler func with the auth middleware.
func (h *Handler) protected(fn http.HandlerFunc) http.Handler {
	if h.AuthMiddleware == nil {
		return fn
	}
	return h.AuthMiddleware(fn)
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, "leadbridge", Version)
}

// DatabaseHealthCheck handles database health check requests
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", fmt.Errorf("database connection not configured"))
		return
	}

	if err := h.DB.GetDB().Ping(); err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	WriteHealthy(w, r, "postgresql", "")
}

// DashboardStats handles GET /v1/dashboard/stats
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	stats, err := h.DB.GetPipelineStats(r.Context())
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, stats, "")
}
