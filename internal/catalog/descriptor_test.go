package catalog

import (
	"errors"
	"image"
	"reflect"
	"testing"
	"time"
)

func TestParse_ListForm(t *testing.T) {
	data := []byte(`[
  {"name": "find chest", "type": "template", "template_file": "01_bau.png",
   "action_on_found": "click", "click_offset": [5, -3], "click_delay": 1.5,
   "max_attempts": 5, "attempt_delay": 0.25, "initial_delay": 2},
  {"type": "# comment", "note": "ignored"},
  {"type": "coords", "coordinates": [100, 200]},
  {"type": "wait", "duration_seconds": 2}
]`)

	g, err := Parse("pegar_bau", data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if g.ID != "pegar_bau" || g.Name != "pegar_bau" {
		t.Errorf("ID/Name = %q/%q, want pegar_bau/pegar_bau", g.ID, g.Name)
	}
	if len(g.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3 (comment skipped)", len(g.Steps))
	}

	first := g.Steps[0]
	if first.Kind != KindTemplate || first.Action != ActionTap {
		t.Errorf("first step kind/action = %s/%s, want template/tap", first.Kind, first.Action)
	}
	if first.Offset != image.Pt(5, -3) {
		t.Errorf("Offset = %v, want (5,-3)", first.Offset)
	}
	if first.DelayAfter != 1500*time.Millisecond {
		t.Errorf("DelayAfter = %v, want 1.5s", first.DelayAfter)
	}
	if first.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", first.MaxAttempts)
	}
	if first.AttemptDelay != 250*time.Millisecond {
		t.Errorf("AttemptDelay = %v, want 250ms", first.AttemptDelay)
	}
	if first.InitialDelay != 2*time.Second {
		t.Errorf("InitialDelay = %v, want 2s", first.InitialDelay)
	}
	if first.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v, want default %v", first.Threshold, DefaultThreshold)
	}

	coords := g.Steps[1]
	if coords.Kind != KindCoords || coords.Coordinates != image.Pt(100, 200) {
		t.Errorf("coords step = %+v", coords)
	}
	if coords.Name != "step 2" {
		t.Errorf("default name = %q, want %q", coords.Name, "step 2")
	}

	wait := g.Steps[2]
	if wait.Kind != KindWait || wait.DelayAfter != 2*time.Second {
		t.Errorf("wait step = %+v", wait)
	}
}

func TestParse_MappingFormDefaults(t *testing.T) {
	data := []byte(`
name: Collect chest
sequence:
  - template_file: chest.png
    region: [10, 20, 300, 200]
    action_before_find:
      type: scroll
  - template_file: ok.png
    action_on_found: none
    action_after_find:
      type: wait
      duration_ms: 700
success_image:
  template_file: done.png
  threshold: 0.9
`)

	g, err := Parse("chest", data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if g.Name != "Collect chest" {
		t.Errorf("Name = %q", g.Name)
	}
	s := g.Steps[0]
	if s.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", s.MaxAttempts, DefaultMaxAttempts)
	}
	if s.AttemptDelay != DefaultAttemptDelay {
		t.Errorf("AttemptDelay = %v, want %v", s.AttemptDelay, DefaultAttemptDelay)
	}
	if s.Region == nil || *s.Region != (Box{X: 10, Y: 20, Width: 300, Height: 200}) {
		t.Errorf("Region = %+v", s.Region)
	}
	if s.Before == nil || s.Before.Type != GestureScroll || s.Before.Direction != "up" {
		t.Errorf("Before = %+v, want scroll up", s.Before)
	}
	if s.Before.Duration != defaultScrollDuration || s.Before.Settle != defaultScrollSettle {
		t.Errorf("Before timings = %v/%v", s.Before.Duration, s.Before.Settle)
	}

	s2 := g.Steps[1]
	if s2.Action != ActionNone {
		t.Errorf("Action = %s, want none", s2.Action)
	}
	if s2.After == nil || s2.After.Type != GestureWait || s2.After.Duration != 700*time.Millisecond {
		t.Errorf("After = %+v", s2.After)
	}

	if g.SuccessImage == nil || g.SuccessImage.Template != "done.png" || g.SuccessImage.Threshold != 0.9 {
		t.Errorf("SuccessImage = %+v", g.SuccessImage)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty document", ``, ErrInvalidGroup},
		{"scalar document", `hello`, ErrInvalidGroup},
		{"malformed", `[{"type": "template",`, ErrInvalidGroup},
		{"zero steps list", `[]`, ErrInvalidGroup},
		{"zero steps mapping", `name: x`, ErrInvalidGroup},
		{"only comments", `[{"type": "#note"}]`, ErrInvalidGroup},
		{"threshold above one", `[{"template_file": "a.png", "threshold": 1.5}]`, ErrInvalidStep},
		{"negative threshold", `[{"template_file": "a.png", "threshold": -0.1}]`, ErrInvalidStep},
		{"zero attempts", `[{"template_file": "a.png", "max_attempts": 0}]`, ErrInvalidStep},
		{"unknown type", `[{"type": "swipe"}]`, ErrInvalidStep},
		{"template without file", `[{"type": "template"}]`, ErrInvalidStep},
		{"escaping path", `[{"template_file": "../other/a.png"}]`, ErrInvalidStep},
		{"unknown action", `[{"template_file": "a.png", "action_on_found": "drag"}]`, ErrInvalidStep},
		{"bad offset", `[{"template_file": "a.png", "click_offset": [1]}]`, ErrInvalidStep},
		{"bad region", `[{"template_file": "a.png", "region": [0, 0, 0, 10]}]`, ErrInvalidStep},
		{"coords without coordinates", `[{"type": "coords"}]`, ErrInvalidStep},
		{"account on coords step", `[{"type": "coords", "coordinates": [1, 2], "account": "main"}]`, ErrInvalidStep},
		{"wait without duration", `[{"type": "wait"}]`, ErrInvalidStep},
		{"negative delay", `[{"template_file": "a.png", "delay_after_ms": -1}]`, ErrInvalidStep},
		{"bad scroll direction", `[{"template_file": "a.png", "action_before_find": {"type": "scroll", "direction": "left"}}]`, ErrInvalidStep},
		{"half scroll coords", `[{"template_file": "a.png", "action_before_find": {"type": "scroll", "start_coords": [1, 2]}}]`, ErrInvalidStep},
		{"success image without file", "sequence:\n  - template_file: a.png\nsuccess_image:\n  threshold: 0.5\n", ErrInvalidGroup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("g", []byte(tt.data))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	data := []byte(`
name: Collect chest
sequence:
  - name: find chest
    template_file: 01_bau.png
    click_offset: [4, 8]
    click_delay: 0.5
    max_attempts: 3
    threshold: 0.8
    region: [0, 0, 640, 360]
    action_before_find: {type: scroll, direction: down, start_coords: [10, 20], end_coords: [10, 200], delay_after_scroll: 0.2}
  - type: coords
    coordinates: [1200, 540]
    click_delay: 1
  - type: wait
    duration_seconds: 2
  - template_file: 02_login_main.png
    account: main
  - template_file: 04_fechar.png
    action_on_found: none
    initial_delay_ms: 300
    action_after_find: {type: wait, duration_seconds: 1}
success_image:
  template_file: done.png
  region: [5, 5, 50, 50]
`)

	first, err := Parse("pegar_bau", data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	encoded, err := Encode(first)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	second, err := Parse("pegar_bau", encoded)
	if err != nil {
		t.Fatalf("Parse(Encode()) error = %v\n%s", err, encoded)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip mismatch\nfirst:  %+v\nsecond: %+v\nencoded:\n%s", first, second, encoded)
	}

	again, err := Encode(second)
	if err != nil {
		t.Fatalf("second Encode() error = %v", err)
	}
	if string(again) != string(encoded) {
		t.Errorf("Encode is not stable:\n%s\nvs\n%s", encoded, again)
	}
}

// loginGroup is a login flow shared by three accounts: a universal first
// step, one tagged email step per account and a shared confirmation.
const loginGroup = `
name: Login
sequence:
  - name: google
    template_file: 01_google.png
  - name: email main
    template_file: 02_login_main.png
    account: main
  - name: email alt
    template_file: 02_login_alt.png
    account: alt
  - type: wait
    delay_after_ms: 500
  - name: email farm
    template_file: 02_login_farm.png
    account: farm
  - name: confirm
    template_file: 03_confirm.png
`

func TestTemplateGroup_Accounts(t *testing.T) {
	g, err := Parse("login", []byte(loginGroup))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got, want := g.Accounts(), []string{"main", "alt", "farm"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Accounts() = %v, want %v", got, want)
	}

	plain, err := Parse("plain", []byte("- template_file: a.png\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := plain.Accounts(); len(got) != 0 {
		t.Errorf("Accounts() of an untagged group = %v", got)
	}
}

func TestTemplateGroup_ForAccount(t *testing.T) {
	g, err := Parse("login", []byte(loginGroup))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		account string
		want    []string
	}{
		{"main", []string{"google", "email main", "step 4", "confirm"}},
		{"alt", []string{"google", "email alt", "step 4", "confirm"}},
		{"farm", []string{"google", "step 4", "email farm", "confirm"}},
	}
	for _, tt := range tests {
		t.Run(tt.account, func(t *testing.T) {
			v, err := g.ForAccount(tt.account)
			if err != nil {
				t.Fatalf("ForAccount() error = %v", err)
			}
			var names []string
			for _, s := range v.Steps {
				names = append(names, s.Name)
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("steps = %v, want %v", names, tt.want)
			}
			if v.ID != g.ID || v.Name != g.Name {
				t.Errorf("variant identity = %s/%s", v.ID, v.Name)
			}
		})
	}

	if len(g.Steps) != 6 {
		t.Errorf("ForAccount() modified the group: %d steps", len(g.Steps))
	}

	if _, err := g.ForAccount("nobody"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("unknown account error = %v, want ErrUnknownAccount", err)
	}
}
