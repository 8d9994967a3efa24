package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/db"
)

// CompaniesHandler handles GET /v1/companies
func (h *Handler) CompaniesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !db.ValidCompanyStatus(status) {
		BadRequest(w, r, "Invalid status filter: "+status)
		return
	}

	limit, offset := paginationParams(r, 20)

	companies, total, err := h.DB.ListCompanies(r.Context(), status, limit, offset)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"companies": companies,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	}, "")
}

// CompanyHandler handles /v1/companies/{id}/status and /v1/companies/{id}/enrich
func (h *Handler) CompanyHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/companies/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		BadRequest(w, r, "Company ID is required")
		return
	}
	companyID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			MethodNotAllowed(w, r)
			return
		}
		h.getCompany(w, r, companyID)
		return
	}

	switch parts[1] {
	case "status":
		if r.Method != http.MethodPut {
			MethodNotAllowed(w, r)
			return
		}
		h.updateCompanyStatus(w, r, companyID)
	case "enrich":
		if r.Method != http.MethodPost {
			MethodNotAllowed(w, r)
			return
		}
		h.enrichCompany(w, r, companyID)
	default:
		NotFound(w, r, "Unknown company resource: "+parts[1])
	}
}

func (h *Handler) getCompany(w http.ResponseWriter, r *http.Request, companyID string) {
	company, err := h.DB.GetCompany(r.Context(), companyID)
	if err != nil {
		if isNotFound(err) {
			NotFound(w, r, "Company not found: "+companyID)
			return
		}
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, company, "")
}

func (h *Handler) updateCompanyStatus(w http.ResponseWriter, r *http.Request, companyID string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid request body: "+err.Error())
		return
	}

	if !db.ValidCompanyStatus(req.Status) {
		BadRequest(w, r, "Invalid company status: "+req.Status)
		return
	}

	if err := h.DB.UpdateCompanyStatus(r.Context(), companyID, req.Status); err != nil {
		if isNotFound(err) {
			NotFound(w, r, "Company not found: "+companyID)
			return
		}
		DatabaseError(w, r, err)
		return
	}

	log.Info().
		Str("company_id", companyID).
		Str("status", req.Status).
		Msg("Company status updated")

	WriteSuccess(w, r, map[string]string{
		"id":     companyID,
		"status": req.Status,
	}, "Company status updated")
}

func (h *Handler) enrichCompany(w http.ResponseWriter, r *http.Request, companyID string) {
	result, err := h.Enricher.EnrichCompany(r.Context(), companyID)
	if err != nil {
		if isNotFound(err) {
			NotFound(w, r, "Company not found: "+companyID)
			return
		}
		InternalError(w, r, err)
		return
	}

	WriteSuccess(w, r, result, "Company enriched")
}
