package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"reflect"
	"testing"
)

// ─── Synthetic screens ──────────────────────────────────────────────

// scene renders a smooth, non-repeating background.
func scene(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 128 + 50*math.Sin(float64(x)/7)*math.Cos(float64(y)/5) + 30*math.Sin(float64(x+2*y)/11)
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return img
}

// stamp draws an asymmetric 14x14 button-like marker with its corner at p.
func stamp(img *image.Gray, p image.Point) {
	for y := 0; y < 14; y++ {
		for x := 0; x < 14; x++ {
			v := uint8(240)
			switch {
			case x >= 3 && x < 9 && y >= 5 && y < 11:
				v = 10
			case y == 1:
				v = 90
			}
			img.SetGray(p.X+x, p.Y+y, color.Gray{Y: v})
		}
	}
}

func crop(img *image.Gray, r image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.SetGray(x, y, img.GrayAt(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}

func checkerboard(n int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, n, n))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if (x/2+y/2)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestMatch_ExactLocation(t *testing.T) {
	screen := scene(120, 90)
	stamp(screen, image.Pt(37, 22))
	box := image.Rect(33, 18, 55, 40)

	m := NewMatcher(Options{Workers: 3})
	res, err := m.MatchOne(context.Background(), screen, Candidate{
		ID:        "button.png",
		Template:  crop(screen, box),
		Threshold: 0.8,
	})
	if err != nil {
		t.Fatalf("MatchOne() error = %v", err)
	}

	if res.Box != box {
		t.Errorf("Box = %v, want %v", res.Box, box)
	}
	if res.Confidence < 0.9999 {
		t.Errorf("Confidence = %v, want ~1", res.Confidence)
	}
	if !res.Found {
		t.Error("Found = false, want true")
	}
	if res.Template != "button.png" {
		t.Errorf("Template = %q", res.Template)
	}
	if got, want := res.Center(), image.Pt(44, 29); got != want {
		t.Errorf("Center() = %v, want %v", got, want)
	}
}

func TestMatch_CoarsePassRefinesToExactLocation(t *testing.T) {
	screen := scene(320, 240)
	stamp(screen, image.Pt(201, 133))
	box := image.Rect(196, 128, 236, 168)

	m := NewMatcher(Options{Scale: 0.5})
	res, err := m.MatchOne(context.Background(), screen, Candidate{
		ID:        "chest",
		Template:  crop(screen, box),
		Threshold: 0.8,
	})
	if err != nil {
		t.Fatalf("MatchOne() error = %v", err)
	}

	if res.Box != box {
		t.Errorf("Box = %v, want %v", res.Box, box)
	}
	if res.Confidence < 0.9999 {
		t.Errorf("Confidence = %v, want ~1", res.Confidence)
	}
}

func TestMatch_BelowThreshold(t *testing.T) {
	screen := scene(100, 80)

	m := NewMatcher(Options{})
	res, err := m.MatchOne(context.Background(), screen, Candidate{
		ID:        "checker",
		Template:  checkerboard(12),
		Threshold: 0.8,
	})
	if err != nil {
		t.Fatalf("MatchOne() error = %v", err)
	}
	if res.Found {
		t.Errorf("Found = true with confidence %v, want false", res.Confidence)
	}
	if res.Confidence >= 0.8 {
		t.Errorf("Confidence = %v, want < 0.8", res.Confidence)
	}
}

func TestMatch_RegionHintAndRasterTieBreak(t *testing.T) {
	screen := scene(200, 100)
	stamp(screen, image.Pt(20, 20))
	stamp(screen, image.Pt(150, 60))
	marker := crop(screen, image.Rect(20, 20, 34, 34))

	m := NewMatcher(Options{Workers: 4})
	ctx := context.Background()

	whole, err := m.MatchOne(ctx, screen, Candidate{ID: "m", Template: marker, Threshold: 0.9})
	if err != nil {
		t.Fatalf("MatchOne() error = %v", err)
	}
	if whole.Box.Min != image.Pt(20, 20) {
		t.Errorf("unrestricted match at %v, want first occurrence (20,20)", whole.Box.Min)
	}

	hinted, err := m.MatchOne(ctx, screen, Candidate{
		ID:        "m",
		Template:  marker,
		Threshold: 0.9,
		Region:    image.Rect(100, 0, 200, 100),
	})
	if err != nil {
		t.Fatalf("MatchOne() error = %v", err)
	}
	if hinted.Box.Min != image.Pt(150, 60) {
		t.Errorf("region match at %v, want (150,60)", hinted.Box.Min)
	}
}

func TestMatch_OrderingKeepsCandidateOrderOnTies(t *testing.T) {
	screen := scene(120, 90)
	stamp(screen, image.Pt(50, 40))
	marker := crop(screen, image.Rect(50, 40, 64, 54))

	m := NewMatcher(Options{})
	results, err := m.Match(context.Background(), screen, []Candidate{
		{ID: "checker", Template: checkerboard(10), Threshold: 0.8},
		{ID: "first", Template: marker, Threshold: 0.8},
		{ID: "second", Template: marker, Threshold: 0.8},
	})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	got := []string{results[0].Template, results[1].Template, results[2].Template}
	want := []string{"first", "second", "checker"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if results[0].Index != 1 || results[1].Index != 2 || results[2].Index != 0 {
		t.Errorf("indexes = %d,%d,%d, want 1,2,0", results[0].Index, results[1].Index, results[2].Index)
	}
}

func TestMatch_DeterministicAcrossWorkerCounts(t *testing.T) {
	screen := scene(160, 120)
	stamp(screen, image.Pt(90, 70))
	tpl := crop(screen, image.Rect(85, 65, 110, 90))
	candidates := []Candidate{
		{ID: "a", Template: tpl, Threshold: 0.8},
		{ID: "b", Template: checkerboard(8), Threshold: 0.5},
	}

	var runs [][]MatchResult
	for _, workers := range []int{1, 3, 8} {
		res, err := NewMatcher(Options{Workers: workers}).Match(context.Background(), screen, candidates)
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		runs = append(runs, res)
	}

	for i := 1; i < len(runs); i++ {
		if !reflect.DeepEqual(runs[0], runs[i]) {
			t.Errorf("run %d differs:\n%+v\n%+v", i, runs[0], runs[i])
		}
	}
}

func TestMatch_FlatRegions(t *testing.T) {
	tests := []struct {
		name     string
		screen   *image.Gray
		template *image.Gray
		want     float64
	}{
		{"flat equal", uniform(20, 20, 100), uniform(5, 5, 100), 1},
		{"flat different", uniform(20, 20, 100), uniform(5, 5, 50), 0},
		{"textured template on flat screen", uniform(20, 20, 100), checkerboard(6), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewMatcher(Options{}).MatchOne(context.Background(), tt.screen, Candidate{
				ID: "t", Template: tt.template, Threshold: 0.5,
			})
			if err != nil {
				t.Fatalf("MatchOne() error = %v", err)
			}
			if res.Confidence != tt.want {
				t.Errorf("Confidence = %v, want %v", res.Confidence, tt.want)
			}
		})
	}
}

func TestMatch_TemplateLargerThanSearchArea(t *testing.T) {
	tests := []struct {
		name     string
		screen   *image.Gray
		template *image.Gray
		region   image.Rectangle
	}{
		{"wider than screen", scene(100, 100), scene(150, 20), image.Rectangle{}},
		{"taller than screen", scene(100, 100), scene(20, 150), image.Rectangle{}},
		{"larger than screen", scene(30, 30), scene(40, 40), image.Rectangle{}},
		{"region smaller than template", scene(40, 40), scene(20, 20), image.Rect(0, 0, 10, 10)},
		{"region clipped by screen edge", scene(40, 40), scene(20, 20), image.Rect(30, 30, 60, 60)},
		{"region outside screen", scene(40, 40), scene(8, 8), image.Rect(100, 100, 200, 200)},
	}

	for _, opts := range []Options{{}, {Scale: 0.5}} {
		m := NewMatcher(opts)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res, err := m.MatchOne(context.Background(), tt.screen, Candidate{
					ID:        "big",
					Template:  tt.template,
					Threshold: 0.1,
					Region:    tt.region,
				})
				if err != nil {
					t.Fatalf("MatchOne() error = %v", err)
				}
				if res.Found || res.Confidence != 0 {
					t.Errorf("scale %v: result = %+v, want not found with zero confidence", opts.Scale, res)
				}
			})
		}
	}
}

func TestMatch_TemplateFillsScreen(t *testing.T) {
	// A single valid position at both scales.
	screen := scene(41, 41)
	tpl := crop(screen, image.Rect(0, 0, 41, 41))

	res, err := NewMatcher(Options{Scale: 0.3}).MatchOne(context.Background(), screen, Candidate{
		ID: "full", Template: tpl, Threshold: 0.99,
	})
	if err != nil {
		t.Fatalf("MatchOne() error = %v", err)
	}
	if !res.Found || res.Box != image.Rect(0, 0, 41, 41) {
		t.Errorf("result = %+v, want found at the full screen", res)
	}
}

func TestMatch_Errors(t *testing.T) {
	m := NewMatcher(Options{})

	if _, err := m.Match(context.Background(), image.NewGray(image.Rect(0, 0, 0, 0)), nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("empty screen error = %v, want ErrEmptyImage", err)
	}

	if _, err := m.MatchOne(context.Background(), scene(10, 10), Candidate{ID: "nil"}); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("nil template error = %v, want ErrEmptyImage", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.MatchOne(ctx, scene(50, 50), Candidate{ID: "c", Template: checkerboard(6), Threshold: 0.5})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled match error = %v, want context.Canceled", err)
	}
}

func TestGray_ConvertsAndReanchors(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(10, 10, 14, 12))
	rgba.Set(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	g := Gray(rgba)
	if g.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatalf("Bounds() = %v, want (0,0)-(4,2)", g.Bounds())
	}
	if g.GrayAt(0, 0).Y != 255 {
		t.Errorf("GrayAt(0,0) = %d, want 255", g.GrayAt(0, 0).Y)
	}
}

func TestDownscale(t *testing.T) {
	src := scene(100, 60)
	small := Downscale(src, 0.5)
	if small.Bounds() != image.Rect(0, 0, 50, 30) {
		t.Errorf("Bounds() = %v, want 50x30", small.Bounds())
	}
	if Downscale(src, 1) != src {
		t.Error("Downscale(1) should return the source")
	}
}
