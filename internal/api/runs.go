package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/catalog"
	"github.com/nerrad567/autotouch-core/internal/vision"
)

// startRunRequest is the body of POST /api/v1/runs and /overlay/trigger.
type startRunRequest struct {
	SequenceID string `json:"sequence_id"`
	DeviceID   string `json:"device_id,omitempty"`

	// Account selects the per-account variant of the sequence.
	Account string `json:"account,omitempty"`
}

func (req startRunRequest) options() []automation.StartOption {
	opts := []automation.StartOption{automation.WithDevice(req.DeviceID)}
	if req.Account != "" {
		opts = append(opts, automation.WithAccount(req.Account))
	}
	return opts
}

// handleListRuns returns finished runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := s.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, s.historyLimit)
	}

	runs, err := s.runs.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleStartRun starts a run and returns its first snapshot.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SequenceID == "" {
		writeBadRequest(w, "sequence_id is required")
		return
	}

	h, err := s.runs.Start(r.Context(), req.SequenceID, automation.OriginAPI, req.options()...)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	run, err := s.runs.Status(r.Context(), h.ID())
	if err != nil {
		// Started but already evicted; the ID is still useful.
		writeJSON(w, http.StatusAccepted, map[string]string{"id": h.ID()})
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// handleActiveRun returns the non-terminal run, if any.
func (s *Server) handleActiveRun(w http.ResponseWriter, _ *http.Request) {
	run, ok := s.runs.Active()
	if !ok {
		writeNotFound(w, "no active run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetRun returns a snapshot of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCancelRun requests cancellation and returns the run as it stands.
// Cancelling a finished run returns it unchanged.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runs.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	run, err := s.runs.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListSequences returns every loaded sequence.
func (s *Server) handleListSequences(w http.ResponseWriter, _ *http.Request) {
	groups := s.catalog.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sequences": groups,
		"count":     len(groups),
		"version":   s.catalog.Version(),
	})
}

// handleGetSequence returns one sequence.
func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	group, err := s.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// handleReloadCatalog rescans the template root. A failed reload keeps the
// previous catalog.
func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	groups, err := s.catalog.LoadAll(r.Context())
	if err != nil {
		s.logger.Warn("catalog reload failed", "error", err)
		writeDomainError(w, err)
		return
	}
	s.logger.Info("catalog reloaded", "groups", len(groups), "version", s.catalog.Version())
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(groups),
		"version": s.catalog.Version(),
	})
}

// stepMatch is the response of POST /api/v1/sequences/{id}/match.
type stepMatch struct {
	Found      bool    `json:"found"`
	Step       int     `json:"step"`
	StepName   string  `json:"step_name,omitempty"`
	Template   string  `json:"template,omitempty"`
	Action     string  `json:"action"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Confidence float64 `json:"confidence"`
}

// handleMatchSequence checks an uploaded screenshot against the template
// steps of a sequence and reports the first step, in sequence order, whose
// template is on screen.
func (s *Server) handleMatchSequence(w http.ResponseWriter, r *http.Request) {
	if s.matcher == nil || s.templates == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "detection is not configured")
		return
	}

	group, err := s.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	screen, err := vision.Decode(file)
	if err != nil {
		writeBadRequest(w, "file is not a supported image")
		return
	}

	candidates := make([]vision.Candidate, 0, len(group.Steps))
	stepOf := make([]int, 0, len(group.Steps))
	for i, step := range group.Steps {
		if step.Kind != catalog.KindTemplate {
			continue
		}
		tpl, err := s.templates.Load(group.TemplatePath(step.Template))
		if err != nil {
			s.logger.Warn("template unavailable", "sequence", group.ID, "template", step.Template, "error", err)
			continue
		}
		c := vision.Candidate{ID: step.Template, Template: tpl, Threshold: step.Threshold}
		if step.Region != nil {
			c.Region = step.Region.Rect()
		}
		candidates = append(candidates, c)
		stepOf = append(stepOf, i)
	}

	resp := stepMatch{Step: -1, Action: string(catalog.ActionNone)}
	if len(candidates) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	results, err := s.matcher.Match(r.Context(), screen, candidates)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	best := -1
	for i, res := range results {
		if res.Found && (best < 0 || res.Index < results[best].Index) {
			best = i
		}
	}
	if best < 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res := results[best]
	step := group.Steps[stepOf[res.Index]]
	p := res.Center().Add(step.Offset)
	writeJSON(w, http.StatusOK, stepMatch{
		Found:      true,
		Step:       stepOf[res.Index],
		StepName:   step.Name,
		Template:   step.Template,
		Action:     string(step.Action),
		X:          p.X,
		Y:          p.Y,
		Confidence: res.Confidence,
	})
}
