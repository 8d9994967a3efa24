package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/enrich"
	"github.com/bridgeops/leadbridge/internal/postings"
	leadsync "github.com/bridgeops/leadbridge/internal/sync"
)

type fakeDBClient struct {
	companies    []*db.Company
	company      *db.Company
	stats        *db.PipelineStats
	postingsList []*db.JobPosting
	activity     []db.ActivityEntry
	failedLeads  []db.FailedLead

	statusUpdates map[string]string
	listErr       error
}

func (f *fakeDBClient) GetDB() *sql.DB { return nil }

func (f *fakeDBClient) ListCompanies(ctx context.Context, status string, limit, offset int) ([]*db.Company, int, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.companies, len(f.companies), nil
}

func (f *fakeDBClient) GetCompany(ctx context.Context, companyID string) (*db.Company, error) {
	if f.company == nil || f.company.ID != companyID {
		return nil, fmt.Errorf("company not found: %s", companyID)
	}
	return f.company, nil
}

func (f *fakeDBClient) UpdateCompanyStatus(ctx context.Context, companyID, status string) error {
	if f.company == nil || f.company.ID != companyID {
		return fmt.Errorf("company not found: %s", companyID)
	}
	if f.statusUpdates == nil {
		f.statusUpdates = make(map[string]string)
	}
	f.statusUpdates[companyID] = status
	return nil
}

func (f *fakeDBClient) ListPostings(ctx context.Context, companyID string, limit, offset int) ([]*db.JobPosting, int, error) {
	return f.postingsList, len(f.postingsList), nil
}

func (f *fakeDBClient) ListActivity(ctx context.Context, batchID string, limit int) ([]db.ActivityEntry, error) {
	return f.activity, nil
}

func (f *fakeDBClient) ListFailedLeads(ctx context.Context, batchID string) ([]db.FailedLead, error) {
	return f.failedLeads, nil
}

func (f *fakeDBClient) GetPipelineStats(ctx context.Context) (*db.PipelineStats, error) {
	if f.stats == nil {
		return nil, errors.New("stats query failed")
	}
	return f.stats, nil
}

type fakeBatches struct {
	batch      *db.SyncBatch
	batches    []*db.SyncBatch
	startErr   error
	actionErr  error
	lastAction string
}

func (f *fakeBatches) Start(ctx context.Context, order *leadsync.WorkOrder) (*db.SyncBatch, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if order.TimeLimitMs <= 0 {
		order.TimeLimitMs = int(leadsync.DefaultTimeLimit / time.Millisecond)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return f.batch, nil
}

func (f *fakeBatches) Get(ctx context.Context, batchID string) (*db.SyncBatch, error) {
	if f.batch == nil || f.batch.ID != batchID {
		return nil, fmt.Errorf("batch not found: %s", batchID)
	}
	return f.batch, nil
}

func (f *fakeBatches) List(ctx context.Context, batchType string, limit, offset int) ([]*db.SyncBatch, int, error) {
	return f.batches, len(f.batches), nil
}

func (f *fakeBatches) Pause(ctx context.Context, batchID string) error {
	f.lastAction = "pause"
	return f.actionErr
}

func (f *fakeBatches) Resume(ctx context.Context, batchID string) error {
	f.lastAction = "resume"
	return f.actionErr
}

func (f *fakeBatches) Cancel(ctx context.Context, batchID string) error {
	f.lastAction = "cancel"
	return f.actionErr
}

func (f *fakeBatches) RetryFailed(ctx context.Context, batchID string) error {
	f.lastAction = "retry"
	return f.actionErr
}

type fakeChunks struct {
	result *leadsync.ChunkResult
	err    error

	gotBatchID string
	gotOrder   *leadsync.WorkOrder
}

func (f *fakeChunks) ExecuteChunk(ctx context.Context, batchID string, order *leadsync.WorkOrder) (*leadsync.ChunkResult, error) {
	f.gotBatchID = batchID
	f.gotOrder = order
	return f.result, f.err
}

type fakeBlocklist struct {
	entries   []*db.BlockedEmail
	addErr    error
	removeErr error
	removed   string
}

func (f *fakeBlocklist) Add(ctx context.Context, pattern, reason string) (*db.BlockedEmail, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	return &db.BlockedEmail{ID: "entry-1", Pattern: pattern, Reason: reason}, nil
}

func (f *fakeBlocklist) Remove(ctx context.Context, entryID string) error {
	f.removed = entryID
	return f.removeErr
}

func (f *fakeBlocklist) List(ctx context.Context) ([]*db.BlockedEmail, error) {
	return f.entries, nil
}

type fakeEnricher struct {
	result *enrich.EnrichResult
	err    error
}

func (f *fakeEnricher) EnrichCompany(ctx context.Context, companyID string) (*enrich.EnrichResult, error) {
	return f.result, f.err
}

type fakeCollector struct {
	result *postings.CollectResult
	err    error
	gotURL string
}

func (f *fakeCollector) Collect(ctx context.Context, pageURL, companyID string) (*postings.CollectResult, error) {
	f.gotURL = pageURL
	return f.result, f.err
}

type testEnv struct {
	db        *fakeDBClient
	batches   *fakeBatches
	chunks    *fakeChunks
	blocklist *fakeBlocklist
	enricher  *fakeEnricher
	collector *fakeCollector
	mux       *http.ServeMux
}

// passthroughAuth stands in for the JWT middleware in handler tests.
func passthroughAuth(next http.Handler) http.Handler { return next }

func newTestEnv() *testEnv {
	env := &testEnv{
		db:        &fakeDBClient{},
		batches:   &fakeBatches{},
		chunks:    &fakeChunks{},
		blocklist: &fakeBlocklist{},
		enricher:  &fakeEnricher{},
		collector: &fakeCollector{},
		mux:       http.NewServeMux(),
	}

	handler := NewHandler(env.db, env.batches, env.chunks, env.blocklist, env.enricher, env.collector, passthroughAuth)
	handler.SetupRoutes(env.mux)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, r)
	return w
}

func testBatch() *db.SyncBatch {
	return &db.SyncBatch{
		ID:                      "batch-1",
		BatchType:               db.BatchTypeBackfill,
		Status:                  "processing",
		TargetIDs:               []string{"camp-1"},
		BatchSize:               50,
		SyncedLeads:             12,
		SkippedAlreadySynced:    3,
		SkippedDuringProcessing: 2,
		FailedLeads:             1,
		TotalLeads:              40,
		CreatedAt:               time.Now().UTC(),
		UpdatedAt:               time.Now().UTC(),
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"service":"leadbridge"`)
}

func TestStartBatch(t *testing.T) {
	env := newTestEnv()
	env.batches.batch = testBatch()

	w := env.do(t, http.MethodPost, "/v1/batches", map[string]interface{}{
		"target_ids": []string{"camp-1"},
		"batch_size": 50,
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Status string                 `json:"status"`
		Data   leadsync.BatchSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "batch-1", resp.Data.ID)
	// The two skip counters collapse into one number for the poller.
	assert.Equal(t, 5, resp.Data.SkippedLeads)
}

func TestStartBatchRejectsInvalidOrder(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/v1/batches", map[string]interface{}{
		"batch_size": 50,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "target ID")
}

func TestGetBatchNotFound(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/v1/batches/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestBatchTransitions(t *testing.T) {
	for _, action := range []string{"pause", "resume", "cancel", "retry"} {
		t.Run(action, func(t *testing.T) {
			env := newTestEnv()
			env.batches.batch = testBatch()

			w := env.do(t, http.MethodPost, "/v1/batches/batch-1/"+action, nil)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, action, env.batches.lastAction)
		})
	}
}

func TestBatchTransitionConflict(t *testing.T) {
	env := newTestEnv()
	env.batches.batch = testBatch()
	env.batches.actionErr = errors.New("batch batch-1 is completed, cannot pause")

	w := env.do(t, http.MethodPost, "/v1/batches/batch-1/pause", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CONFLICT")
}

func TestBatchActivity(t *testing.T) {
	env := newTestEnv()
	env.db.activity = []db.ActivityEntry{
		{BatchID: "batch-1", LogType: db.LogTypeInfo, Message: "Batch created"},
	}

	w := env.do(t, http.MethodGet, "/v1/batches/batch-1/activity", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Batch created")
}

func TestChunkHandler(t *testing.T) {
	env := newTestEnv()
	env.chunks.result = &leadsync.ChunkResult{
		Success:        true,
		Done:           false,
		Synced:         8,
		Skipped:        leadsync.SkipBreakdown{AlreadySynced: 2, Total: 2},
		LeadsProcessed: 10,
	}

	w := env.do(t, http.MethodPost, "/v1/sync/chunk", map[string]interface{}{
		"batch_id":      "batch-1",
		"target_ids":    []string{"camp-1"},
		"batch_size":    50,
		"time_limit_ms": 30000,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "batch-1", env.chunks.gotBatchID)
	require.NotNil(t, env.chunks.gotOrder)
	assert.Equal(t, 50, env.chunks.gotOrder.BatchSize)

	// Raw chunk result, no envelope: the poller decodes this directly.
	var result leadsync.ChunkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 8, result.Synced)
	assert.Equal(t, 2, result.Skipped.Total)
}

func TestChunkHandlerRequiresBatchID(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/v1/sync/chunk", map[string]interface{}{
		"target_ids":    []string{"camp-1"},
		"batch_size":    50,
		"time_limit_ms": 30000,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "batch_id")
}

func TestChunkHandlerInactiveBatchConflicts(t *testing.T) {
	env := newTestEnv()
	env.chunks.err = errors.New("batch batch-1 is completed, not active")

	w := env.do(t, http.MethodPost, "/v1/sync/chunk", map[string]interface{}{
		"batch_id":      "batch-1",
		"target_ids":    []string{"camp-1"},
		"batch_size":    50,
		"time_limit_ms": 30000,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListCompaniesRejectsBadStatusFilter(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/v1/companies?status=bogus", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bogus")
}

func TestListCompanies(t *testing.T) {
	env := newTestEnv()
	env.db.companies = []*db.Company{
		{ID: "co-1", Name: "Acme", Domain: "acme.example", Status: "new"},
	}

	w := env.do(t, http.MethodGet, "/v1/companies?status=new&limit=10", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "acme.example")
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestUpdateCompanyStatus(t *testing.T) {
	env := newTestEnv()
	env.db.company = &db.Company{ID: "co-1", Status: "new"}

	w := env.do(t, http.MethodPut, "/v1/companies/co-1/status", map[string]string{
		"status": "qualified",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "qualified", env.db.statusUpdates["co-1"])
}

func TestUpdateCompanyStatusRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv()
	env.db.company = &db.Company{ID: "co-1", Status: "new"}

	w := env.do(t, http.MethodPut, "/v1/companies/co-1/status", map[string]string{
		"status": "promoted",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.db.statusUpdates)
}

func TestEnrichCompany(t *testing.T) {
	env := newTestEnv()
	env.enricher.result = &enrich.EnrichResult{
		CompanyID:    "co-1",
		Domain:       "acme.example",
		ContactCount: 4,
		Technologies: []string{"Shopify"},
	}

	w := env.do(t, http.MethodPost, "/v1/companies/co-1/enrich", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Shopify")
}

func TestEnrichCompanyNotFound(t *testing.T) {
	env := newTestEnv()
	env.enricher.err = errors.New("company not found: co-9")

	w := env.do(t, http.MethodPost, "/v1/companies/co-9/enrich", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCollectPostings(t *testing.T) {
	env := newTestEnv()
	env.collector.result = &postings.CollectResult{PagesVisited: 1, PostingsFound: 3}

	w := env.do(t, http.MethodPost, "/v1/postings/collect", map[string]string{
		"url": "https://acme.example/careers",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://acme.example/careers", env.collector.gotURL)
	assert.Contains(t, w.Body.String(), `"postings_found":3`)
}

func TestCollectPostingsRequiresURL(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/v1/postings/collect", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "url is required")
}

func TestBlocklistAddAndList(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/v1/blocklist", map[string]string{
		"pattern": "spam.example",
		"reason":  "competitor",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	env.blocklist.entries = []*db.BlockedEmail{
		{ID: "entry-1", Pattern: "spam.example", IsDomain: true},
	}
	w = env.do(t, http.MethodGet, "/v1/blocklist", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "spam.example")
}

func TestBlocklistAddRejectsBadPattern(t *testing.T) {
	env := newTestEnv()
	env.blocklist.addErr = errors.New("invalid email address: not@@valid")

	w := env.do(t, http.MethodPost, "/v1/blocklist", map[string]string{
		"pattern": "not@@valid",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBlocklistDelete(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodDelete, "/v1/blocklist/entry-1", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "entry-1", env.blocklist.removed)
}

func TestBlocklistDeleteMissingEntry(t *testing.T) {
	env := newTestEnv()
	env.blocklist.removeErr = sql.ErrNoRows

	w := env.do(t, http.MethodDelete, "/v1/blocklist/entry-9", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDashboardStats(t *testing.T) {
	env := newTestEnv()
	env.db.stats = &db.PipelineStats{
		TotalCompanies: 120,
		TotalPostings:  340,
		SyncedLeads:    990,
	}

	w := env.do(t, http.MethodGet, "/v1/dashboard/stats", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_companies":120`)
}

func TestProtectedRoutesUseAuthMiddleware(t *testing.T) {
	rejectAll := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Unauthorised(w, r, "No token provided")
		})
	}

	mux := http.NewServeMux()
	handler := NewHandler(&fakeDBClient{}, &fakeBatches{}, &fakeChunks{}, &fakeBlocklist{}, &fakeEnricher{}, &fakeCollector{}, rejectAll)
	handler.SetupRoutes(mux)

	for _, path := range []string{"/v1/companies", "/v1/batches", "/v1/blocklist", "/v1/dashboard/stats"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	// Health stays open.
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodDelete, "/v1/companies", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "METHOD_NOT_ALLOWED")
}
