package postings

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/util"
)

type fakeStore struct {
	mu        stdsync.Mutex
	companies map[string]*db.Company
	postings  map[string]*db.JobPosting // keyed by source URL
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		companies: make(map[string]*db.Company),
		postings:  make(map[string]*db.JobPosting),
	}
}

// UpsertCompany mirrors the store's conflict semantics: a known domain keeps
// its stored ID and the caller's company.ID is rewritten to match.
func (f *fakeStore) UpsertCompany(ctx context.Context, company *db.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.companies {
		if existing.Domain == company.Domain {
			existing.Name = company.Name
			company.ID = existing.ID
			return nil
		}
	}
	f.companies[company.ID] = company
	return nil
}

func (f *fakeStore) UpsertPosting(ctx context.Context, posting *db.JobPosting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postings[posting.SourceURL] = posting
	return nil
}

func (f *fakeStore) GetCompany(ctx context.Context, companyID string) (*db.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if company, ok := f.companies[companyID]; ok {
		return company, nil
	}
	return nil, fmt.Errorf("company not found: %s", companyID)
}

const careersPage = `<!DOCTYPE html>
<html><body>
<h1>Careers at Acme</h1>
<ul>
  <li class="job-listing">
    <h3>Senior Backend Engineer</h3>
    <a href="/jobs/backend-engineer">Apply</a>
    <span class="location">Sydney</span>
  </li>
  <li class="job-listing">
    <a href="/jobs/data-analyst">Data Analyst</a>
  </li>
  <li class="nav-item"><a href="/about">About us</a></li>
</ul>
</body></html>`

func TestCollectExtractsPostings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, careersPage)
	}))
	defer server.Close()

	store := newFakeStore()
	collector := NewCollector(store)

	result, err := collector.Collect(context.Background(), server.URL+"/careers", "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.PagesVisited)
	assert.GreaterOrEqual(t, result.PostingsFound, 2)

	backend := store.postings[server.URL+"/jobs/backend-engineer"]
	require.NotNil(t, backend)
	assert.Equal(t, "Senior Backend Engineer", backend.Title)
	assert.Equal(t, "Sydney", backend.Location)

	analyst := store.postings[server.URL+"/jobs/data-analyst"]
	require.NotNil(t, analyst)
	assert.Equal(t, "Data Analyst", analyst.Title)
}

func TestCollectCreatesCompanyFromHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, careersPage)
	}))
	defer server.Close()

	store := newFakeStore()
	collector := NewCollector(store)

	_, err := collector.Collect(context.Background(), server.URL, "")
	require.NoError(t, err)

	require.Len(t, store.companies, 1)
	for _, company := range store.companies {
		assert.Equal(t, string(db.CompanyStatusNew), company.Status)
		assert.NotEmpty(t, company.Domain)
	}
}

func TestCollectReusesCompanyForKnownDomain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, careersPage)
	}))
	defer server.Close()

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	domain := util.NormaliseDomain(strings.ToLower(parsed.Host))

	store := newFakeStore()
	store.companies["co-existing"] = &db.Company{
		ID:     "co-existing",
		Name:   "Acme",
		Domain: domain,
		Status: string(db.CompanyStatusQualified),
	}

	collector := NewCollector(store)
	result, err := collector.Collect(context.Background(), server.URL+"/careers", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.PostingsFound, 2)
	assert.Zero(t, result.Errors)

	// No duplicate company row, and every posting points at the stored row.
	require.Len(t, store.companies, 1)
	for _, posting := range store.postings {
		require.NotNil(t, posting.CompanyID)
		assert.Equal(t, "co-existing", *posting.CompanyID)
	}
}

func TestCollectRequiresKnownCompany(t *testing.T) {
	store := newFakeStore()
	collector := NewCollector(store)

	_, err := collector.Collect(context.Background(), "https://acme.example/careers", "missing-co")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company not found")
}

func TestCollectRejectsInvalidURL(t *testing.T) {
	collector := NewCollector(newFakeStore())

	_, err := collector.Collect(context.Background(), "not a url", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid listing URL")
}

func TestExtractPostingFiltersNoise(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul>
			<li class="job"><a href="/x">Go</a></li>
			<li class="job"><span>No link here</span></li>
		</ul></body></html>`)
	}))
	defer server.Close()

	store := newFakeStore()
	collector := NewCollector(store)

	result, err := collector.Collect(context.Background(), server.URL, "")
	require.NoError(t, err)
	// "Go" is below the minimum title length; the second entry has no link.
	assert.Equal(t, 0, result.PostingsFound)
}
