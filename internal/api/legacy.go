package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/nerrad567/autotouch-core/internal/adb"
	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/vision"
)

// defaultDetectThreshold is used by /debug_detect when none is given.
const defaultDetectThreshold = 0.8

// errNoDevices is returned by device routes when no backend is configured.
var errNoDevices = errors.New("no device backend configured")

// executeRequest is the body of POST /execute.
type executeRequest struct {
	Action    string          `json:"action"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"` // client clock, logged only
	DeviceID  string          `json:"device_id,omitempty"`
}

// touchRequest is the body of POST /debug_touch.
type touchRequest struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	DeviceID string `json:"device_id,omitempty"`
}

// handleExecute starts a run of the named sequence.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, legacyResponse{Error: "invalid JSON body"})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, legacyResponse{Error: "action is required"})
		return
	}

	h, err := s.runs.Start(r.Context(), req.Action, automation.OriginAPI, automation.WithDevice(req.DeviceID))
	if err != nil {
		s.logger.Info("execute rejected", "action", req.Action, "error", err)
		writeLegacyError(w, err)
		return
	}

	s.logger.Info("execute accepted",
		"action", req.Action,
		"run_id", h.ID(),
		"device_id", req.DeviceID,
		"client_timestamp", string(req.Timestamp),
		"subject", r.Context().Value(ctxKeySubject),
	)
	writeJSON(w, http.StatusOK, legacyResponse{
		Success: true,
		Message: fmt.Sprintf("sequence %s started", req.Action),
		RunID:   h.ID(),
	})
}

// handleStop cancels the active run. Stopping while idle succeeds.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	id, ok := s.runs.CancelActive()
	if !ok {
		writeJSON(w, http.StatusOK, legacyResponse{Success: true, Message: "no active run"})
		return
	}
	writeJSON(w, http.StatusOK, legacyResponse{Success: true, Message: "stop requested", RunID: id})
}

// handleActions lists the runnable sequence IDs.
func (s *Server) handleActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.catalog.IDs()})
}

// handleDevices lists attached device serials.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeJSON(w, http.StatusServiceUnavailable, legacyResponse{Error: errNoDevices.Error()})
		return
	}
	devices, err := s.devices.Devices(r.Context())
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleCheckGameState reports whether a package is running and focused.
func (s *Server) handleCheckGameState(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeJSON(w, http.StatusServiceUnavailable, legacyResponse{Error: errNoDevices.Error()})
		return
	}
	q := r.URL.Query()
	pkg := q.Get("package_name")
	if !adb.ValidPackageName(pkg) {
		writeJSON(w, http.StatusBadRequest, legacyResponse{Error: "package_name must be a valid Android package"})
		return
	}

	state, err := s.devices.GameState(r.Context(), q.Get("device_id"), pkg)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleDebugTouch taps a point. It accepts a JSON body or form fields.
func (s *Server) handleDebugTouch(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeJSON(w, http.StatusServiceUnavailable, legacyResponse{Error: errNoDevices.Error()})
		return
	}
	req, err := decodeTouch(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, legacyResponse{Error: err.Error()})
		return
	}

	if err := s.devices.Tap(r.Context(), req.DeviceID, image.Pt(req.X, req.Y)); err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, legacyResponse{
		Success: true,
		Message: fmt.Sprintf("tap sent at (%d,%d)", req.X, req.Y),
	})
}

func decodeTouch(r *http.Request) (touchRequest, error) {
	var req touchRequest
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid JSON body")
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(maxRequestBodySize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, errors.New("invalid form body")
	}
	x, errX := strconv.Atoi(r.FormValue("x"))
	y, errY := strconv.Atoi(r.FormValue("y"))
	if errX != nil || errY != nil {
		return req, errors.New("x and y must be integers")
	}
	req.X, req.Y = x, y
	req.DeviceID = r.FormValue("device_id")
	return req, nil
}

// handleDebugDetect captures the screen and looks for one template of a
// sequence.
func (s *Server) handleDebugDetect(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil || s.matcher == nil || s.templates == nil {
		writeJSON(w, http.StatusServiceUnavailable, legacyResponse{Error: "detection is not configured"})
		return
	}

	q := r.URL.Query()
	action := q.Get("action")
	if action == "" {
		action = q.Get("action_name")
	}
	file := q.Get("template_file")
	if action == "" || file == "" {
		writeJSON(w, http.StatusBadRequest, legacyResponse{Error: "action and template_file are required"})
		return
	}
	// Only files directly inside the group directory.
	if filepath.Base(file) != file || file == "." || file == ".." {
		writeJSON(w, http.StatusBadRequest, legacyResponse{Error: "template_file must be a plain file name"})
		return
	}
	threshold := defaultDetectThreshold
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 1 {
			writeJSON(w, http.StatusBadRequest, legacyResponse{Error: "threshold must be between 0 and 1"})
			return
		}
		threshold = t
	}

	group, err := s.catalog.Get(action)
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	tpl, err := s.templates.Load(group.TemplatePath(file))
	if err != nil {
		writeJSON(w, http.StatusNotFound, legacyResponse{Error: err.Error()})
		return
	}
	screen, err := s.devices.Capture(r.Context(), q.Get("device_id"))
	if err != nil {
		writeLegacyError(w, err)
		return
	}

	results, err := s.matcher.Match(r.Context(), screen, []vision.Candidate{
		{ID: file, Template: tpl, Threshold: threshold},
	})
	if err != nil {
		writeLegacyError(w, err)
		return
	}

	res := results[0]
	resp := map[string]any{"found": res.Found, "confidence": res.Confidence}
	if res.Found {
		c := res.Center()
		resp["x"], resp["y"] = c.X, c.Y
	}
	writeJSON(w, http.StatusOK, resp)
}
