package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/autotouch-core/internal/overlay"
)

// permissionRequest is the optional body of POST /api/v1/overlay/permission.
// Without a body the controller asks its permission provider; with one, the
// client reports what the platform dialog returned.
type permissionRequest struct {
	Granted *bool `json:"granted"`
}

// menuRequest is the optional body of POST /api/v1/overlay/menu. Without an
// explicit open flag the menu toggles.
type menuRequest struct {
	Open *bool `json:"open"`
}

// withOverlay answers 503 when no overlay controller is configured.
func (s *Server) withOverlay(w http.ResponseWriter) bool {
	if s.overlay == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "overlay is not configured")
		return false
	}
	return true
}

// decodeOptional decodes a JSON body into v. An empty body is not an error.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleOverlayState returns the overlay snapshot.
func (s *Server) handleOverlayState(w http.ResponseWriter, _ *http.Request) {
	if !s.withOverlay(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.overlay.State())
}

// handleOverlayPermission requests or records the draw-over-apps permission.
func (s *Server) handleOverlayPermission(w http.ResponseWriter, r *http.Request) {
	if !s.withOverlay(w) {
		return
	}
	var req permissionRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Granted != nil {
		p := overlay.PermissionDenied
		if *req.Granted {
			p = overlay.PermissionGranted
		}
		writeJSON(w, http.StatusOK, s.overlay.SetPermission(r.Context(), p))
		return
	}

	if _, err := s.overlay.RequestPermission(r.Context()); err != nil {
		if errors.Is(err, overlay.ErrNoPermissionProvider) {
			writeBadRequest(w, "no permission provider; report the result with {\"granted\": bool}")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.overlay.State())
}

// handleOverlayActivate shows the overlay.
func (s *Server) handleOverlayActivate(w http.ResponseWriter, _ *http.Request) {
	if !s.withOverlay(w) {
		return
	}
	state, err := s.overlay.Activate()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleOverlayDeactivate hides the overlay and cancels its run.
func (s *Server) handleOverlayDeactivate(w http.ResponseWriter, r *http.Request) {
	if !s.withOverlay(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.overlay.Deactivate(r.Context()))
}

// handleOverlayMenu opens, closes or toggles the action menu.
func (s *Server) handleOverlayMenu(w http.ResponseWriter, r *http.Request) {
	if !s.withOverlay(w) {
		return
	}
	var req menuRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var (
		state overlay.State
		err   error
	)
	switch {
	case req.Open == nil:
		state, err = s.overlay.ToggleMenu()
	case *req.Open:
		state, err = s.overlay.OpenMenu()
	default:
		state, err = s.overlay.CloseMenu()
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleOverlayTrigger starts a run from the overlay menu.
func (s *Server) handleOverlayTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.withOverlay(w) {
		return
	}
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SequenceID == "" {
		writeBadRequest(w, "sequence_id is required")
		return
	}

	id, err := s.overlay.Trigger(r.Context(), req.SequenceID, req.options()...)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}
