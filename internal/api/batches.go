package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/db"
	leadsync "github.com/bridgeops/leadbridge/internal/sync"
)

// chunkRequest is the body of POST /v1/sync/chunk: the batch being worked
// plus the unchanged work order of the run.
type chunkRequest struct {
	BatchID string `json:"batch_id"`
	leadsync.WorkOrder
}

// ChunkHandler handles POST /v1/sync/chunk. Each call executes one chunk
// against the batch's saved cursors and reports whether more work remains.
func (h *Handler) ChunkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid request body: "+err.Error())
		return
	}

	if req.BatchID == "" {
		BadRequest(w, r, "batch_id is required")
		return
	}
	if err := req.WorkOrder.Validate(); err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	result, err := h.Chunks.ExecuteChunk(r.Context(), req.BatchID, &req.WorkOrder)
	if err != nil {
		if isNotFound(err) {
			NotFound(w, r, err.Error())
			return
		}
		if strings.Contains(err.Error(), "not active") {
			Conflict(w, r, err.Error())
			return
		}
		InternalError(w, r, err)
		return
	}

	// The poller reads the result directly, not wrapped in the envelope.
	WriteJSON(w, r, result, http.StatusOK)
}

// BatchesHandler handles /v1/batches (collection operations)
func (h *Handler) BatchesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.startBatch(w, r)
	case http.MethodGet:
		h.listBatches(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

func (h *Handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var order leadsync.WorkOrder
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		BadRequest(w, r, "Invalid request body: "+err.Error())
		return
	}

	batch, err := h.Batches.Start(r.Context(), &order)
	if err != nil {
		// Start validates the order after applying defaults; replaying the
		// check tells a caller mistake apart from a server fault.
		if vErr := order.Validate(); vErr != nil {
			BadRequest(w, r, vErr.Error())
			return
		}
		InternalError(w, r, err)
		return
	}

	log.Info().
		Str("batch_id", batch.ID).
		Strs("targets", batch.TargetIDs).
		Bool("dry_run", batch.DryRun).
		Msg("Batch started via API")

	WriteCreated(w, r, snapshotFromBatch(batch), "Batch created")
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 20)
	batchType := r.URL.Query().Get("type")

	batches, total, err := h.Batches.List(r.Context(), batchType, limit, offset)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	snapshots := make([]*leadsync.BatchSnapshot, 0, len(batches))
	for _, batch := range batches {
		snapshots = append(snapshots, snapshotFromBatch(batch))
	}

	WriteSuccess(w, r, map[string]interface{}{
		"batches": snapshots,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	}, "")
}

// BatchHandler handles /v1/batches/{id} and its sub-resources
func (h *Handler) BatchHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/batches/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		BadRequest(w, r, "Batch ID is required")
		return
	}
	batchID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			MethodNotAllowed(w, r)
			return
		}
		h.getBatch(w, r, batchID)
		return
	}

	switch parts[1] {
	case "pause", "resume", "cancel", "retry":
		if r.Method != http.MethodPost {
			MethodNotAllowed(w, r)
			return
		}
		h.transitionBatch(w, r, batchID, parts[1])
	case "activity":
		if r.Method != http.MethodGet {
			MethodNotAllowed(w, r)
			return
		}
		h.batchActivity(w, r, batchID)
	case "failed":
		if r.Method != http.MethodGet {
			MethodNotAllowed(w, r)
			return
		}
		h.batchFailedLeads(w, r, batchID)
	default:
		NotFound(w, r, "Unknown batch resource: "+parts[1])
	}
}

// getBatch returns the snapshot the status poller consumes.
func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request, batchID string) {
	batch, err := h.Batches.Get(r.Context(), batchID)
	if err != nil {
		if isNotFound(err) {
			NotFound(w, r, "Batch not found: "+batchID)
			return
		}
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, snapshotFromBatch(batch), "")
}

func (h *Handler) transitionBatch(w http.ResponseWriter, r *http.Request, batchID, action string) {
	var err error
	switch action {
	case "pause":
		err = h.Batches.Pause(r.Context(), batchID)
	case "resume":
		err = h.Batches.Resume(r.Context(), batchID)
	case "cancel":
		err = h.Batches.Cancel(r.Context(), batchID)
	case "retry":
		err = h.Batches.RetryFailed(r.Context(), batchID)
	}

	if err != nil {
		if isNotFound(err) {
			NotFound(w, r, err.Error())
			return
		}
		// Lifecycle violations (pausing a completed batch, retrying a
		// running one) are conflicts, not server faults.
		Conflict(w, r, err.Error())
		return
	}

	batch, err := h.Batches.Get(r.Context(), batchID)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, snapshotFromBatch(batch), "Batch "+action+" accepted")
}

func (h *Handler) batchActivity(w http.ResponseWriter, r *http.Request, batchID string) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, err := h.DB.ListActivity(r.Context(), batchID, limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"batch_id": batchID,
		"activity": entries,
	}, "")
}

func (h *Handler) batchFailedLeads(w http.ResponseWriter, r *http.Request, batchID string) {
	leads, err := h.DB.ListFailedLeads(r.Context(), batchID)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"batch_id":     batchID,
		"failed_leads": leads,
	}, "")
}

// snapshotFromBatch folds the stored batch record into the wire shape the
// poller consumes. Skip counts collapse into one number; the breakdown stays
// available on the batch record itself.
func snapshotFromBatch(batch *db.SyncBatch) *leadsync.BatchSnapshot {
	return &leadsync.BatchSnapshot{
		ID:           batch.ID,
		Status:       leadsync.BatchStatus(batch.Status),
		SyncedLeads:  batch.SyncedLeads,
		SkippedLeads: batch.SkippedAlreadySynced + batch.SkippedDuringProcessing,
		FailedLeads:  batch.FailedLeads,
		TotalLeads:   batch.TotalLeads,
		DryRun:       batch.DryRun,
		CreatedAt:    batch.CreatedAt,
		UpdatedAt:    batch.UpdatedAt,
	}
}

// paginationParams reads limit/offset query params with sane bounds.
func paginationParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
