package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/silverstream/sentiment-checker/internal/cache"
	"github.com/silverstream/sentiment-checker/internal/sentiment"
	"github.com/silverstream/sentiment-checker/pkg/models"
)

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps pipeline errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sentiment.ErrMissingTenant),
		errors.Is(err, sentiment.ErrReservedTenant),
		errors.Is(err, sentiment.ErrMissingTicketID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cache.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "cache is not configured")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream timeout")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// TicketsRequest is the body shared by the ticket endpoints. Either a single
// ticket or a list is accepted; TicketIDs is a shorthand for score queries.
type TicketsRequest struct {
	Ticket    *models.Ticket                 `json:"ticket"`
	Tickets   []models.Ticket                `json:"tickets"`
	TicketIDs []models.ID                    `json:"ticket_ids"`
	Statuses  map[string]models.TicketStatus `json:"statuses"`
	Purge     bool                           `json:"purge_vectors"`
}

// AllTickets returns the single ticket followed by the list.
func (req TicketsRequest) AllTickets() []models.Ticket {
	out := make([]models.Ticket, 0, len(req.Tickets)+1)
	if req.Ticket != nil {
		out = append(out, *req.Ticket)
	}
	return append(out, req.Tickets...)
}

// IDs returns every ticket ID named by the request, in order.
func (req TicketsRequest) IDs() []string {
	var out []string
	for _, t := range req.AllTickets() {
		out = append(out, t.ID.String())
	}
	for _, id := range req.TicketIDs {
		out = append(out, id.String())
	}
	return out
}

// decodeTickets decodes the body. An empty body yields an empty request.
func decodeTickets(r *http.Request) (TicketsRequest, error) {
	var req TicketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

func tenantOf(r *http.Request) string {
	tc, _ := TenantFromContext(r.Context())
	return tc.Tenant
}

// handleHealth answers liveness probes.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleVersion returns the worker version.
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleReady returns 200 only when the vector store (and cache, if any)
// answer; 503 otherwise.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service initializing")
		return
	}
	if err := s.core.Health(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Readiness check failed")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	body := map[string]any{
		"status":     "ready",
		"cache":      s.core.CacheEnabled(),
		"rate_limit": s.limiter.Stats(),
	}
	if s.warmer != nil {
		body["warmer"] = s.warmer.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// requireReady is middleware that returns 503 until the service started.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service initializing")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleAnalyzeComments scores every comment of the posted tickets.
func (s *Service) handleAnalyzeComments(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTickets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	tickets := req.AllTickets()
	if len(tickets) == 0 {
		writeError(w, http.StatusBadRequest, "Missing comments or ticket id")
		return
	}

	res, err := s.core.AnalyzeComments(r.Context(), tenantOf(r), tickets)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetScore returns the mean score of the named tickets.
func (s *Service) handleGetScore(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTickets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	score, err := s.core.GetScore(r.Context(), tenantOf(r), req.IDs())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"score": score})
}

// handleGetScores returns per-ticket scores; unavailable tickets are absent.
func (s *Service) handleGetScores(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTickets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	scores, err := s.core.GetScores(r.Context(), tenantOf(r), req.IDs())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

// handleGetTicketVectors returns the scored comments of the named tickets.
func (s *Service) handleGetTicketVectors(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTickets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	vectors, err := s.core.GetTicketVectors(r.Context(), tenantOf(r), req.IDs())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vectors": vectors})
}

// handleUnsolvedTickets lists cached unsolved tickets, newest first.
func (s *Service) handleUnsolvedTickets(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}
	perPage := cache.DefaultPerPage
	if v := r.URL.Query().Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "per_page must be a positive integer")
			return
		}
		perPage = n
	}

	res, err := s.core.GetUnsolvedTickets(r.Context(), tenantOf(r), page, perPage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRemoveFromCache drops cached scores, and optionally stored vectors.
func (s *Service) handleRemoveFromCache(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTickets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	ids := req.IDs()
	if err := s.core.RemoveTicketFromCache(r.Context(), tenantOf(r), ids, req.Purge); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": len(ids), "purged_vectors": req.Purge})
}

// handlePopulateCache recomputes and caches every stored ticket of the
// tenant. Statuses come from the statuses map and the posted tickets.
func (s *Service) handlePopulateCache(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTickets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	statuses := make(map[string]models.TicketStatus, len(req.Statuses))
	for id, st := range req.Statuses {
		statuses[id] = st
	}
	for _, t := range req.AllTickets() {
		if t.ID != "" && t.Status != "" {
			statuses[t.ID.String()] = t.Status
		}
	}

	n, err := s.core.PopulateAll(r.Context(), tenantOf(r), statuses)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"populated": n})
}

// handleNamespaceExists reports whether the tenant has stored vectors.
func (s *Service) handleNamespaceExists(w http.ResponseWriter, r *http.Request) {
	exists, err := s.core.CheckNamespaceExists(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}
