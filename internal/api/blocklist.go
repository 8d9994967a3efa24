package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// BlocklistHandler handles /v1/blocklist (collection operations)
func (h *Handler) BlocklistHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBlocklist(w, r)
	case http.MethodPost:
		h.addBlocklistEntry(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

func (h *Handler) listBlocklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Blocklist.List(r.Context())
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	}, "")
}

func (h *Handler) addBlocklistEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
		Reason  string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid request body: "+err.Error())
		return
	}

	entry, err := h.Blocklist.Add(r.Context(), req.Pattern, req.Reason)
	if err != nil {
		// Add only fails on malformed patterns or store errors; the former
		// dominates and carries a descriptive message.
		BadRequest(w, r, err.Error())
		return
	}

	log.Info().
		Str("pattern", entry.Pattern).
		Bool("is_domain", entry.IsDomain).
		Msg("Blocklist entry added")

	WriteCreated(w, r, entry, "Blocklist entry added")
}

// BlocklistEntryHandler handles DELETE /v1/blocklist/{id}
func (h *Handler) BlocklistEntryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		MethodNotAllowed(w, r)
		return
	}

	entryID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/blocklist/"), "/")
	if entryID == "" {
		BadRequest(w, r, "Entry ID is required")
		return
	}

	if err := h.Blocklist.Remove(r.Context(), entryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isNotFound(err) {
			NotFound(w, r, "Blocklist entry not found: "+entryID)
			return
		}
		DatabaseError(w, r, err)
		return
	}

	WriteNoContent(w, r)
}
