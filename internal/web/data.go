package web

import (
	"errors"
	"net/http"
	"strconv"

	"procodus.dev/alertnav/internal/store"
)

// DataScope selects which readings GET /api/data returns.
type DataScope string

const (
	// ScopeOwner returns only readings owned by the signed-in user.
	ScopeOwner DataScope = "owner"
	// ScopeAll returns every device's latest reading regardless of owner.
	ScopeAll DataScope = "all"
)

// ParseDataScope maps a config value to a DataScope.
func ParseDataScope(v string) (DataScope, error) {
	switch DataScope(v) {
	case "", ScopeOwner:
		return ScopeOwner, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", errors.New("data scope must be \"owner\" or \"all\"")
	}
}

type listResponse struct {
	Data []store.LatestReading `json:"data"`
}

// readingResponse holds the row by value. goccy/go-json v0.10.5 crashes
// encoding a pointer to a struct that starts with a pointer field.
type readingResponse struct {
	Data store.LocationReading `json:"data"`
}

// updateRequest requires both keys to be present. Other fields are ignored.
type updateRequest struct {
	Event *string `json:"event" validate:"required,max=255"`
	Group *string `json:"group" validate:"required,max=255"`
}

// handleListLatest returns the newest positioned reading of every device.
func (s *Server) handleListLatest(w http.ResponseWriter, r *http.Request) {
	owner := ""
	if s.config.DataScope == ScopeOwner {
		email, ok := EmailFromContext(r.Context())
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		owner = email
	}

	rows, err := s.readings.LatestPerDevice(r.Context(), owner)
	if err != nil {
		s.logger.Error("failed to fetch latest readings", "error", err, "owner", owner)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch data")
		return
	}

	s.writeJSON(w, http.StatusOK, listResponse{Data: rows})
}

func parseID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 0)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// handleGetReading returns one reading by id.
func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	reading, err := s.readings.ReadingByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to fetch reading", "error", err, "id", id)
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch data")
		return
	}

	s.writeJSON(w, http.StatusOK, readingResponse{Data: *reading})
}

// handleUpdateReading changes the event and group of one reading.
func (s *Server) handleUpdateReading(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	var req updateRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "event and group are required")
		return
	}

	reading, err := s.readings.UpdateClassification(r.Context(), id, *req.Event, *req.Group)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to update reading", "error", err, "id", id)
		s.writeError(w, http.StatusInternalServerError, "Failed to update data")
		return
	}

	s.logger.Info("reading updated", "id", id, "device_id", reading.DeviceID, "event", *req.Event)
	s.writeJSON(w, http.StatusOK, readingResponse{Data: *reading})
}
