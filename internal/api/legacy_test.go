package api

import (
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/nerrad567/autotouch-core/internal/adb"
	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/catalog"
)

// ─── /execute and /stop ─────────────────────────────────────────────────────

func TestExecute_StartsRun(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodPost, "/execute", map[string]any{
		"action":    "quick",
		"timestamp": 1718000000.5,
		"device_id": "emulator-5554",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	resp := decode[legacyResponse](t, w)
	if !resp.Success || resp.RunID == "" {
		t.Fatalf("response = %+v", resp)
	}

	waitFor(t, "run to finish", func() bool {
		run, err := f.sup.Status(t.Context(), resp.RunID)
		return err == nil && run.IsTerminal()
	})
	run, _ := f.sup.Status(t.Context(), resp.RunID)
	if run.Origin != automation.OriginAPI || run.DeviceID != "emulator-5554" {
		t.Errorf("run = %+v", run)
	}
	if run.Result != automation.StateSucceeded {
		t.Errorf("result = %s, want succeeded", run.Result)
	}
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"invalid JSON", "{nope", http.StatusBadRequest, "invalid JSON body"},
		{"missing action", map[string]any{"timestamp": "now"}, http.StatusBadRequest, "action is required"},
		{"unknown sequence", map[string]any{"action": "nope"}, http.StatusNotFound, "unknown sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, nil)

			w := f.do(t, http.MethodPost, "/execute", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			resp := decode[legacyResponse](t, w)
			if resp.Success || !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("response = %+v, want error containing %q", resp, tt.wantErr)
			}
		})
	}
}

func TestExecute_AlreadyRunning(t *testing.T) {
	f := setup(t, nil)

	first := decode[legacyResponse](t, f.do(t, http.MethodPost, "/execute", map[string]any{"action": "pegar_bau"}))
	if !first.Success {
		t.Fatalf("first execute = %+v", first)
	}

	w := f.do(t, http.MethodPost, "/execute", map[string]any{"action": "quick"})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if resp := decode[legacyResponse](t, w); resp.Success {
		t.Errorf("second execute = %+v", resp)
	}

	active, ok := f.sup.Active()
	if !ok || active.ID != first.RunID {
		t.Errorf("active = %+v, want the first run", active)
	}
}

func TestStop(t *testing.T) {
	f := setup(t, nil)

	t.Run("idle", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/stop", nil)
		resp := decode[legacyResponse](t, w)
		if w.Code != http.StatusOK || !resp.Success || resp.RunID != "" {
			t.Errorf("status = %d, response = %+v", w.Code, resp)
		}
	})

	t.Run("active run", func(t *testing.T) {
		started := decode[legacyResponse](t, f.do(t, http.MethodPost, "/execute", map[string]any{"action": "pegar_bau"}))

		resp := decode[legacyResponse](t, f.do(t, http.MethodPost, "/stop", nil))
		if !resp.Success || resp.RunID != started.RunID {
			t.Fatalf("stop = %+v, want run %s", resp, started.RunID)
		}

		waitFor(t, "cancellation", func() bool {
			run, err := f.sup.Status(t.Context(), started.RunID)
			return err == nil && run.State == automation.StateCancelled
		})
	})
}

// ─── Catalog and devices ────────────────────────────────────────────────────

func TestActions(t *testing.T) {
	f := setup(t, nil)

	body := decode[map[string][]string](t, f.do(t, http.MethodGet, "/actions", nil))
	want := []string{"pegar_bau", "quick"}
	if fmt.Sprint(body["actions"]) != fmt.Sprint(want) {
		t.Errorf("actions = %v, want %v", body["actions"], want)
	}
}

func TestDevices(t *testing.T) {
	f := setup(t, nil)

	body := decode[map[string][]string](t, f.do(t, http.MethodGet, "/devices", nil))
	if len(body["devices"]) != 1 || body["devices"][0] != "emulator-5554" {
		t.Errorf("devices = %v", body["devices"])
	}

	f.dev.err = fmt.Errorf("%w: exit status 1", adb.ErrADBNotFound)
	if w := f.do(t, http.MethodGet, "/devices", nil); w.Code != http.StatusBadGateway {
		t.Errorf("status with adb missing = %d, want 502", w.Code)
	}
}

func TestDeviceRoutes_WithoutBackend(t *testing.T) {
	f := setup(t, func(d *Deps) { d.Devices = nil })

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/devices"},
		{http.MethodGet, "/check_game_state?package_name=com.example.game"},
		{http.MethodPost, "/debug_touch"},
		{http.MethodGet, "/debug_detect?action=quick&template_file=a.png"},
	} {
		if w := f.do(t, tc.method, tc.path, nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want 503", tc.method, tc.path, w.Code)
		}
	}
}

func TestCheckGameState(t *testing.T) {
	f := setup(t, nil)
	f.dev.state = adb.GameState{Running: true, Foreground: false}

	w := f.do(t, http.MethodGet, "/check_game_state?package_name=com.example.game&device_id=emulator-5554", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[adb.GameState](t, w)
	if !got.Running || got.Foreground {
		t.Errorf("state = %+v", got)
	}
	if f.dev.lastPkg != "com.example.game" {
		t.Errorf("package = %q", f.dev.lastPkg)
	}

	for _, pkg := range []string{"", "com.example;reboot", "nodots"} {
		w := f.do(t, http.MethodGet, "/check_game_state?package_name="+url.QueryEscape(pkg), nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("package %q status = %d, want 400", pkg, w.Code)
		}
	}
}

// ─── Diagnostics ────────────────────────────────────────────────────────────

func TestDebugTouch(t *testing.T) {
	f := setup(t, nil)

	t.Run("json", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/debug_touch", map[string]any{"x": 120, "y": 300, "device_id": "emulator-5554"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
		}
	})

	t.Run("form", func(t *testing.T) {
		form := url.Values{"x": {"5"}, "y": {"6"}}
		rec := f.doRaw(t, http.MethodPost, "/debug_touch", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("bad coordinates", func(t *testing.T) {
		rec := f.doRaw(t, http.MethodPost, "/debug_touch", "application/x-www-form-urlencoded", strings.NewReader("x=a&y=1"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	want := []tap{
		{serial: "emulator-5554", p: image.Pt(120, 300)},
		{serial: "", p: image.Pt(5, 6)},
	}
	if fmt.Sprint(f.dev.taps) != fmt.Sprint(want) {
		t.Errorf("taps = %v, want %v", f.dev.taps, want)
	}
}

func TestDebugDetect(t *testing.T) {
	dir := t.TempDir()
	screen := noise(160, 120, 1)
	writeTemplate(t, dir, "button.png", screen, image.Rect(40, 30, 56, 46))
	writeTemplate(t, dir, "elsewhere.png", noise(32, 32, 2), image.Rect(0, 0, 16, 16))

	group := catalog.TemplateGroup{ID: "pegar_bau", Name: "pegar_bau", Dir: dir, Steps: []catalog.TemplateStep{
		{Name: "open", Kind: catalog.KindTemplate, Template: "button.png", Threshold: 0.8, MaxAttempts: 1},
	}}
	f := setup(t, nil, group)
	f.dev.screen = screen

	t.Run("found", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/debug_detect?action=pegar_bau&template_file=button.png&device_id=emulator-5554", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
		}
		got := decode[map[string]any](t, w)
		if got["found"] != true || got["x"] != float64(48) || got["y"] != float64(38) {
			t.Errorf("detect = %v, want found at (48,38)", got)
		}
		if c, _ := got["confidence"].(float64); c < 0.99 {
			t.Errorf("confidence = %v", got["confidence"])
		}
	})

	t.Run("legacy parameter name", func(t *testing.T) {
		got := decode[map[string]any](t, f.do(t, http.MethodGet, "/debug_detect?action_name=pegar_bau&template_file=button.png", nil))
		if got["found"] != true {
			t.Errorf("detect = %v", got)
		}
	})

	t.Run("not on screen", func(t *testing.T) {
		got := decode[map[string]any](t, f.do(t, http.MethodGet, "/debug_detect?action=pegar_bau&template_file=elsewhere.png&threshold=0.9", nil))
		if got["found"] != false {
			t.Errorf("detect = %v, want not found", got)
		}
		if _, ok := got["x"]; ok {
			t.Error("x should be omitted when not found")
		}
	})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing template", "action=pegar_bau", http.StatusBadRequest},
		{"path traversal", "action=pegar_bau&template_file=" + url.QueryEscape("../secret.png"), http.StatusBadRequest},
		{"bad threshold", "action=pegar_bau&template_file=button.png&threshold=2", http.StatusBadRequest},
		{"unknown sequence", "action=nope&template_file=button.png", http.StatusNotFound},
		{"missing file", "action=pegar_bau&template_file=gone.png", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodGet, "/debug_detect?"+tt.query, nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	t.Run("capture smaller than template", func(t *testing.T) {
		f.dev.mu.Lock()
		f.dev.screen = noise(10, 4, 5)
		f.dev.mu.Unlock()

		w := f.do(t, http.MethodGet, "/debug_detect?action=pegar_bau&template_file=button.png", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
		}
		if got := decode[map[string]any](t, w); got["found"] != false {
			t.Errorf("detect = %v, want not found", got)
		}
	})
}
