package availability

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/vocaline/intake/pkg/types"
)

// Server exposes a [Store] over HTTP under /api/v1/availabilities.
type Server struct {
	store *Store
	log   *slog.Logger
}

// NewServer wraps a store. A nil logger falls back to slog.Default.
func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, log: logger.With("component", "availability_server")}
}

// Router builds the chi router for the availability API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/availabilities", func(r chi.Router) {
		r.Get("/", s.handleQuery)
		r.Route("/{slotID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/reserve", s.handleReserve)
			r.Post("/release", s.handleRelease)
			r.Post("/book", s.handleBook)
		})
	})
	return r
}

// queryResponse is the availability listing envelope.
type queryResponse struct {
	Slots    []types.AvailabilitySlot `json:"slots"`
	Total    int                      `json:"total"`
	MotiveID string                   `json:"motive_id"`
}

// reserveRequest carries the optional hold duration.
type reserveRequest struct {
	DurationSeconds int `json:"reservation_duration_seconds"`
}

// reserveResponse confirms a hold. The token must come back on /book while
// the hold lives.
type reserveResponse struct {
	Success   bool      `json:"success"`
	SlotID    uuid.UUID `json:"slot_id"`
	ExpiresAt time.Time `json:"expires_at"`
	HoldToken uuid.UUID `json:"hold_token"`
}

// bookRequest carries the hold token of a prior reservation, if any.
type bookRequest struct {
	HoldToken uuid.UUID `json:"hold_token"`
}

// releaseResponse reports whether a hold existed.
type releaseResponse struct {
	Success bool      `json:"success"`
	SlotID  uuid.UUID `json:"slot_id"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	motiveID := q.Get("motive_id")
	if motiveID == "" {
		writeError(w, http.StatusBadRequest, "motive_id is required")
		return
	}

	var c types.SlotConstraints
	var err error
	if c.From, err = parseTime(q.Get("start_date")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date")
		return
	}
	if c.Until, err = parseTime(q.Get("end_date")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date")
		return
	}
	c.PractitionerID = q.Get("practitioner_id")
	c.AfterHour = parseInt(q.Get("after_hour"))
	c.BeforeHour = parseInt(q.Get("before_hour"))
	c.Limit = parseInt(q.Get("limit"))
	c.Offset = parseInt(q.Get("offset"))

	slots := s.store.Query(motiveID, c)
	if slots == nil {
		slots = []types.AvailabilitySlot{}
	}
	s.log.Debug("availability query", "motive_id", motiveID, "results", len(slots))
	writeJSON(w, http.StatusOK, queryResponse{Slots: slots, Total: len(slots), MotiveID: motiveID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}
	slot, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "slot not found")
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}

	var req reserveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	expiry, token, err := s.store.Reserve(id, time.Duration(req.DurationSeconds)*time.Second)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "slot not found")
		return
	case errors.Is(err, ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot is already reserved or unavailable")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "reservation failed")
		return
	}

	s.log.Info("slot reserved", "slot_id", id, "expires_at", expiry)
	writeJSON(w, http.StatusOK, reserveResponse{Success: true, SlotID: id, ExpiresAt: expiry, HoldToken: token})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}
	released := s.store.Release(id)
	writeJSON(w, http.StatusOK, releaseResponse{Success: released, SlotID: id})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}

	var req bookRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	err := s.store.Book(id, req.HoldToken)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "slot not found")
		return
	case errors.Is(err, ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot no longer available")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "booking failed")
		return
	}
	s.log.Info("slot booked", "slot_id", id)
	writeJSON(w, http.StatusOK, releaseResponse{Success: true, SlotID: id})
}

func slotID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot id")
		return uuid.Nil, false
	}
	return id, true
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
