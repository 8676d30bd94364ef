package handlers

import (
	"errors"
	"net/http"

	"github.com/kozaktomas/faceid/internal/database"
)

// MatcherInfo describes the active matching calibration.
type MatcherInfo struct {
	AcceptThreshold  float64 `json:"accept_threshold"`
	AmbiguityEpsilon float64 `json:"ambiguity_epsilon"`
	Index            string  `json:"index"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Status      string              `json:"status"` // ok or degraded
	Enrollments int                 `json:"enrollments"`
	Dim         int                 `json:"dim"`
	Backend     string              `json:"backend"`
	Extractor   string              `json:"extractor"`
	Matcher     MatcherInfo         `json:"matcher"`
	Durability  database.Durability `json:"durability"`
	Version     string              `json:"version"`
}

// StatusHandler reports store size and persistence health.
type StatusHandler struct {
	store     *database.Store
	backend   string
	extractor string
	matcher   MatcherInfo
	version   string
}

// NewStatusHandler creates a status handler for store.
func NewStatusHandler(store *database.Store, backend, extractor string, matcher MatcherInfo, version string) *StatusHandler {
	return &StatusHandler{
		store:     store,
		backend:   backend,
		extractor: extractor,
		matcher:   matcher,
		version:   version,
	}
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	durability := h.store.Durability()
	status := "ok"
	if durability.Degraded {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		Status:      status,
		Enrollments: h.store.Len(),
		Dim:         h.store.Dim(),
		Backend:     h.backend,
		Extractor:   h.extractor,
		Matcher:     h.matcher,
		Durability:  durability,
		Version:     h.version,
	})
}

// Flush handles POST /api/v1/flush, waiting until pending writes reach the backend.
func (h *StatusHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Flush(r.Context()); err != nil {
		if errors.Is(err, database.ErrStoreClosed) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.store.Durability())
}
