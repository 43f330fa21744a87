package api

import (
	"bytes"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/catalog"
)

// ─── Runs ───────────────────────────────────────────────────────────────────

func TestRuns_StartGetAndList(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"sequence_id": "quick"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d (%s)", w.Code, w.Body.String())
	}
	started := decode[automation.ActionRun](t, w)
	if started.ID == "" || started.SequenceID != "quick" || started.Origin != automation.OriginAPI {
		t.Fatalf("started = %+v", started)
	}

	waitFor(t, "run to finish", func() bool {
		run := decode[automation.ActionRun](t, f.do(t, http.MethodGet, "/api/v1/runs/"+started.ID, nil))
		return run.IsTerminal()
	})

	got := decode[automation.ActionRun](t, f.do(t, http.MethodGet, "/api/v1/runs/"+started.ID, nil))
	if got.Result != automation.StateSucceeded || got.FinishedAt == nil {
		t.Errorf("run = %+v", got)
	}

	list := decode[struct {
		Runs  []automation.ActionRun `json:"runs"`
		Count int                    `json:"count"`
	}](t, f.do(t, http.MethodGet, "/api/v1/runs", nil))
	if list.Count != 1 || len(list.Runs) != 1 || list.Runs[0].ID != started.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestRuns_StartErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"invalid JSON", "{", http.StatusBadRequest, ErrCodeBadRequest},
		{"missing sequence", map[string]string{}, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown sequence", map[string]string{"sequence_id": "nope"}, http.StatusNotFound, ErrCodeUnknownSequence},
		{"unknown account", map[string]string{"sequence_id": "quick", "account": "main"}, http.StatusNotFound, ErrCodeUnknownAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, nil)
			w := f.do(t, http.MethodPost, "/api/v1/runs", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := decode[errorEnvelope](t, w).Error.Code; got != tt.wantErr {
				t.Errorf("code = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestRuns_StartForAccount(t *testing.T) {
	group := catalog.TemplateGroup{ID: "login", Name: "login", Dir: t.TempDir(), Steps: []catalog.TemplateStep{
		{Name: "google", Kind: catalog.KindWait, MaxAttempts: 1, DelayAfter: time.Millisecond},
		{Name: "email main", Kind: catalog.KindTemplate, Template: "main.png", Account: "main", Threshold: 0.9, MaxAttempts: 1},
		{Name: "email alt", Kind: catalog.KindTemplate, Template: "alt.png", Account: "alt", Threshold: 0.9, MaxAttempts: 1},
	}}
	f := setup(t, nil, group)

	w := f.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"sequence_id": "login", "account": "alt"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d (%s)", w.Code, w.Body.String())
	}
	started := decode[automation.ActionRun](t, w)
	if started.Account != "alt" || started.StepCount != 2 {
		t.Errorf("started = %+v, want the two-step alt variant", started)
	}
}

func TestRuns_ActiveAndCancel(t *testing.T) {
	f := setup(t, nil)

	if w := f.do(t, http.MethodGet, "/api/v1/runs/active", nil); w.Code != http.StatusNotFound {
		t.Errorf("active while idle status = %d, want 404", w.Code)
	}

	started := decode[automation.ActionRun](t, f.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"sequence_id": "pegar_bau"}))

	active := decode[automation.ActionRun](t, f.do(t, http.MethodGet, "/api/v1/runs/active", nil))
	if active.ID != started.ID {
		t.Errorf("active = %s, want %s", active.ID, started.ID)
	}

	w := f.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"sequence_id": "quick"})
	if w.Code != http.StatusConflict || decode[errorEnvelope](t, w).Error.Code != ErrCodeAlreadyRunning {
		t.Errorf("second start status = %d (%s)", w.Code, w.Body.String())
	}

	if w := f.do(t, http.MethodPost, "/api/v1/runs/"+started.ID+"/cancel", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	waitFor(t, "cancellation", func() bool {
		run := decode[automation.ActionRun](t, f.do(t, http.MethodGet, "/api/v1/runs/"+started.ID, nil))
		return run.State == automation.StateCancelled && run.Reason == automation.ReasonCancelled
	})

	// Cancelling a finished run returns it unchanged.
	again := decode[automation.ActionRun](t, f.do(t, http.MethodPost, "/api/v1/runs/"+started.ID+"/cancel", nil))
	if again.State != automation.StateCancelled {
		t.Errorf("second cancel = %+v", again)
	}
}

func TestRuns_NotFound(t *testing.T) {
	f := setup(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/runs/missing"},
		{http.MethodPost, "/api/v1/runs/missing/cancel"},
	} {
		w := f.do(t, tc.method, tc.path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, w.Code)
		}
		if got := decode[errorEnvelope](t, w).Error.Code; got != ErrCodeNotFound {
			t.Errorf("code = %q", got)
		}
	}
}

func TestRuns_ListLimit(t *testing.T) {
	f := setup(t, func(d *Deps) { d.HistoryLimit = 2 })

	for i := 0; i < 3; i++ {
		started := decode[automation.ActionRun](t, f.do(t, http.MethodPost, "/api/v1/runs", map[string]string{"sequence_id": "quick"}))
		waitFor(t, fmt.Sprintf("run %d", i), func() bool {
			_, busy := f.sup.Active()
			run, err := f.sup.Status(t.Context(), started.ID)
			return !busy && err == nil && run.IsTerminal()
		})
	}

	tests := []struct {
		query string
		want  int
		code  int
	}{
		{"", 2, http.StatusOK},
		{"?limit=1", 1, http.StatusOK},
		{"?limit=50", 2, http.StatusOK},
		{"?limit=0", 0, http.StatusBadRequest},
		{"?limit=abc", 0, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/runs"+tt.query, nil)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			if got := decode[map[string]any](t, w)["count"]; got != float64(tt.want) {
				t.Errorf("count = %v, want %d", got, tt.want)
			}
		})
	}
}

// ─── Sequences and catalog ──────────────────────────────────────────────────

func TestSequences(t *testing.T) {
	f := setup(t, nil)

	list := decode[struct {
		Sequences []catalog.TemplateGroup `json:"sequences"`
		Count     int                     `json:"count"`
		Version   uint64                  `json:"version"`
	}](t, f.do(t, http.MethodGet, "/api/v1/sequences", nil))
	if list.Count != 2 || list.Sequences[0].ID != "pegar_bau" || list.Version != 1 {
		t.Errorf("list = %+v", list)
	}

	got := decode[catalog.TemplateGroup](t, f.do(t, http.MethodGet, "/api/v1/sequences/quick", nil))
	if got.ID != "quick" || len(got.Steps) != 1 || got.Steps[0].Kind != catalog.KindWait {
		t.Errorf("sequence = %+v", got)
	}

	w := f.do(t, http.MethodGet, "/api/v1/sequences/nope", nil)
	if w.Code != http.StatusNotFound || decode[errorEnvelope](t, w).Error.Code != ErrCodeUnknownSequence {
		t.Errorf("missing sequence status = %d (%s)", w.Code, w.Body.String())
	}
}

func TestCatalogReload(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/catalog/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["count"] != float64(2) || body["version"] != float64(2) {
		t.Errorf("reload = %v", body)
	}

	f.cat.loadErr = fmt.Errorf("%w: permission denied", catalog.ErrCatalogLoad)
	w = f.do(t, http.MethodPost, "/api/v1/catalog/reload", nil)
	if w.Code != http.StatusInternalServerError || decode[errorEnvelope](t, w).Error.Code != ErrCodeCatalogLoad {
		t.Errorf("failed reload status = %d (%s)", w.Code, w.Body.String())
	}
	if f.cat.Version() != 2 {
		t.Errorf("version after failed reload = %d, want 2", f.cat.Version())
	}
}

// ─── Offline step detection ─────────────────────────────────────────────────

func uploadScreenshot(t *testing.T, f *fixture, path string, png []byte) (int, stepMatch) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "screen.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(png); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	w := f.doRaw(t, http.MethodPost, path, mw.FormDataContentType(), &body)
	if w.Code != http.StatusOK {
		return w.Code, stepMatch{}
	}
	return w.Code, decode[stepMatch](t, w)
}

func TestMatchSequence(t *testing.T) {
	dir := t.TempDir()
	screen := noise(160, 120, 7)
	writeTemplate(t, dir, "absent.png", noise(40, 40, 8), image.Rect(4, 4, 20, 20))
	writeTemplate(t, dir, "chest.png", screen, image.Rect(40, 30, 56, 46))
	writeTemplate(t, dir, "later.png", screen, image.Rect(100, 60, 116, 76))

	group := catalog.TemplateGroup{ID: "pegar_bau", Name: "pegar_bau", Dir: dir, Steps: []catalog.TemplateStep{
		{Name: "wait first", Kind: catalog.KindWait, MaxAttempts: 1},
		{Name: "menu", Kind: catalog.KindTemplate, Template: "absent.png", Threshold: 0.9, Action: catalog.ActionTap, MaxAttempts: 1},
		{Name: "chest", Kind: catalog.KindTemplate, Template: "chest.png", Threshold: 0.9, Action: catalog.ActionTap, Offset: image.Pt(5, 0), MaxAttempts: 1},
		{Name: "confirm", Kind: catalog.KindTemplate, Template: "later.png", Threshold: 0.9, Action: catalog.ActionTap, MaxAttempts: 1},
	}}
	f := setup(t, nil, group)

	t.Run("first visible step wins", func(t *testing.T) {
		code, got := uploadScreenshot(t, f, "/api/v1/sequences/pegar_bau/match", encodePNG(t, screen))
		if code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		want := stepMatch{Found: true, Step: 2, StepName: "chest", Template: "chest.png", Action: "tap", X: 53, Y: 38}
		got.Confidence = 0
		if got != want {
			t.Errorf("match = %+v, want %+v", got, want)
		}
	})

	t.Run("nothing visible", func(t *testing.T) {
		code, got := uploadScreenshot(t, f, "/api/v1/sequences/pegar_bau/match", encodePNG(t, noise(160, 120, 99)))
		if code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if got.Found || got.Step != -1 || got.Action != "none" {
			t.Errorf("match = %+v, want not found", got)
		}
	})

	t.Run("screenshot smaller than every template", func(t *testing.T) {
		code, got := uploadScreenshot(t, f, "/api/v1/sequences/pegar_bau/match", encodePNG(t, noise(6, 6, 3)))
		if code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if got.Found || got.Step != -1 {
			t.Errorf("match = %+v, want not found", got)
		}
	})

	t.Run("not an image", func(t *testing.T) {
		code, _ := uploadScreenshot(t, f, "/api/v1/sequences/pegar_bau/match", []byte("garbage"))
		if code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})

	t.Run("unknown sequence", func(t *testing.T) {
		code, _ := uploadScreenshot(t, f, "/api/v1/sequences/nope/match", encodePNG(t, screen))
		if code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", code)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/sequences/pegar_bau/match", map[string]string{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}
