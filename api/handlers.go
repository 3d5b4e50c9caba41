package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"newhome-tracker/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "newhome-tracker"})
}

// handleListListings returns listings.
// GET /api/listings?builder=kb-home,lennar&status=available
func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	var filter models.ListingFilter
	filter.BuilderIDs = splitParam(r.URL.Query().Get("builder"))
	for _, raw := range splitParam(r.URL.Query().Get("status")) {
		st := models.ParseStatus(raw)
		if st == models.StatusUnknown {
			s.writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	listings, err := s.store.ListListings(r.Context(), filter)
	if err != nil {
		s.fail(w, err, "list listings")
		return
	}
	if listings == nil {
		listings = []*models.CanonicalListing{}
	}
	s.writeJSON(w, http.StatusOK, listings)
}

// GET /api/listings/{id}
func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.store.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, "get listing")
		return
	}
	s.writeJSON(w, http.StatusOK, l)
}

// GET /api/listings/{id}/price-changes
func (s *Server) handlePriceChanges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetListing(r.Context(), id); err != nil {
		s.fail(w, err, "get listing")
		return
	}
	events, err := s.store.ListPriceChanges(r.Context(), id)
	if err != nil {
		s.fail(w, err, "list price changes")
		return
	}
	if events == nil {
		events = []*models.PriceChangeEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// GET /api/listings/{id}/price-history
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetListing(r.Context(), id); err != nil {
		s.fail(w, err, "get listing")
		return
	}
	intervals, err := s.store.ListIntervals(r.Context(), id)
	if err != nil {
		s.fail(w, err, "list price history")
		return
	}
	if intervals == nil {
		intervals = []*models.PriceHistoryInterval{}
	}
	s.writeJSON(w, http.StatusOK, intervals)
}

// GET /api/listings/{id}/evaluation
func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvaluation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err, "get evaluation")
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

// fail maps store errors onto responses; anything but a miss is logged.
func (s *Server) fail(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, models.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error().Err(err).Str("op", op).Msg("Request failed")
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func splitParam(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
