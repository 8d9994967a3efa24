package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// PostingsHandler handles GET /v1/postings
func (h *Handler) PostingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	companyID := r.URL.Query().Get("company_id")
	limit, offset := paginationParams(r, 20)

	items, total, err := h.DB.ListPostings(r.Context(), companyID, limit, offset)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"postings": items,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	}, "")
}

// CollectPostingsHandler handles POST /v1/postings/collect. It scrapes the
// given listing page synchronously; careers pages are a single page, so the
// request returns once the collect finishes.
func (h *Handler) CollectPostingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req struct {
		URL       string `json:"url"`
		CompanyID string `json:"company_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid request body: "+err.Error())
		return
	}

	if req.URL == "" {
		BadRequest(w, r, "url is required")
		return
	}

	result, err := h.Collector.Collect(r.Context(), req.URL, req.CompanyID)
	if err != nil {
		if isNotFound(err) {
			NotFound(w, r, err.Error())
			return
		}
		BadRequest(w, r, err.Error())
		return
	}

	log.Info().
		Str("url", req.URL).
		Int("postings_found", result.PostingsFound).
		Int("errors", result.Errors).
		Msg("Postings collected via API")

	WriteSuccess(w, r, result, "Collection complete")
}
