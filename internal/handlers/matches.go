package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
)

// EnqueueMatchRequest asks for a stored match to be aggregated
type EnqueueMatchRequest struct {
	MatchID int64 `json:"match_id" validate:"required,gt=0"`
}

// EnqueueMatchesRequest asks for several stored matches to be aggregated
type EnqueueMatchesRequest struct {
	MatchIDs []int64 `json:"match_ids" validate:"required,min=1,max=1000,dive,gt=0"`
}

// EnqueueMatch handles POST /api/v1/stats/matches
// @Summary Queue Match for Aggregation
// @Description Queues a stored match id; aggregation happens asynchronously
// @Tags Aggregation
// @Accept json
// @Produce json
// @Security ServerToken
// @Param body body EnqueueMatchRequest true "Match id"
// @Success 202 {object} map[string]interface{} "Queued"
// @Failure 400 {object} map[string]string "Bad Request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 413 {object} map[string]string "Request Entity Too Large"
// @Router /stats/matches [post]
func (h *Handler) EnqueueMatch(w http.ResponseWriter, r *http.Request) {
	var req EnqueueMatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.queue.Enqueue(req.MatchID)
	h.logger.Infow("Match queued for aggregation", "match_id", req.MatchID)

	h.jsonResponse(w, http.StatusAccepted, map[string]interface{}{
		"status":   "queued",
		"match_id": req.MatchID,
	})
}

// EnqueueMatches handles POST /api/v1/stats/matches/batch
// @Summary Queue Matches for Aggregation
// @Description Queues between 1 and 1000 stored match ids in one request
// @Tags Aggregation
// @Accept json
// @Produce json
// @Security ServerToken
// @Param body body EnqueueMatchesRequest true "Match ids"
// @Success 202 {object} map[string]interface{} "Queued"
// @Failure 400 {object} map[string]string "Bad Request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 413 {object} map[string]string "Request Entity Too Large"
// @Router /stats/matches/batch [post]
func (h *Handler) EnqueueMatches(w http.ResponseWriter, r *http.Request) {
	var req EnqueueMatchesRequest
	if !h.decode(w, r, &req) {
		return
	}

	for _, id := range req.MatchIDs {
		h.queue.Enqueue(id)
	}
	h.logger.Infow("Matches queued for aggregation", "count", len(req.MatchIDs))

	h.jsonResponse(w, http.StatusAccepted, map[string]interface{}{
		"status": "queued",
		"queued": len(req.MatchIDs),
	})
}

// decode reads and validates a JSON body, writing the error response itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.errorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warnw("Validation failed", "error", err)
		h.errorResponse(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}
