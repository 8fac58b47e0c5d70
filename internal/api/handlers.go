package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hillheadsc/racelights/internal/audit"
	"github.com/hillheadsc/racelights/internal/lights"
	"github.com/hillheadsc/racelights/internal/racecontrol"
)

// setLightsRequest is the body of PUT /lights. Exactly one field is set.
type setLightsRequest struct {
	Lights []string `json:"lights,omitempty"`
	Preset string   `json:"preset,omitempty"`
}

var accepted = map[string]string{"status": "accepted"}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Snapshot(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.controller.Connect(r.Context())
	s.recordCommand(r, "connect", nil, err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	err := s.controller.Disconnect(r.Context())
	s.recordCommand(r, "disconnect", nil, err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleSetLights(w http.ResponseWriter, r *http.Request) {
	var req setLightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	switch {
	case req.Preset != "" && req.Lights != nil:
		writeBadRequest(w, "set either lights or preset, not both")
		return
	case req.Preset != "":
		err := s.controller.SetPreset(r.Context(), req.Preset)
		s.recordCommand(r, "lights", map[string]any{"preset": req.Preset}, err)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		state, _ := racecontrol.Preset(req.Preset) //nolint:errcheck // SetPreset accepted the name
		writeJSON(w, http.StatusOK, map[string]any{"lights": state})
	case req.Lights != nil:
		state, err := lights.ParseState(req.Lights)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		err = s.controller.SetLights(r.Context(), state)
		s.recordCommand(r, "lights", map[string]any{"lights": state}, err)
		if err != nil {
			writeControllerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"lights": state})
	default:
		writeBadRequest(w, "lights or preset is required")
	}
}

func (s *Server) handleLightsOff(w http.ResponseWriter, r *http.Request) {
	err := s.controller.LightsOff(r.Context())
	s.recordCommand(r, "lights_off", nil, err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"names":   racecontrol.PresetNames(),
		"presets": racecontrol.Presets(),
	})
}

func (s *Server) handleStartSequence(w http.ResponseWriter, r *http.Request) {
	var req racecontrol.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cd, err := s.controller.StartCountdown(r.Context(), req)
	s.recordCommand(r, "start", map[string]any{
		"policy":           req.Policy,
		"starts":           req.Starts,
		"minutes_to_start": req.MinutesToStart,
	}, err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cd)
}

func (s *Server) handleResetSequence(w http.ResponseWriter, r *http.Request) {
	err := s.controller.Reset(r.Context())
	s.recordCommand(r, "reset", nil, err)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleListSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "history is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 time")
			return
		}
		since = t
	}

	events, err := s.history.ListSessionEvents(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("listing session events failed", "error", err)
		writeInternalError(w, "failed to list session events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	res, err := s.audit.List(r.Context(), audit.Filter{
		Action: r.URL.Query().Get("action"),
		Source: r.URL.Query().Get("source"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// recordCommand writes an audit entry for a controller command. A failed
// write is logged and does not affect the response.
func (s *Server) recordCommand(r *http.Request, action string, details map[string]any, cmdErr error) {
	if s.audit == nil {
		return
	}
	entry := audit.NewEntry(action, audit.SourceAPI, subjectFromContext(r.Context()), details, cmdErr)
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("failed to write audit entry", "action", action, "error", err)
	}
}

// parseLimit reads ?limit=. Zero or absent leaves the repository default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
