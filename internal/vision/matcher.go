package vision

import (
	"context"
	"image"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// minCoarseSide is the smallest scaled template side the coarse pass accepts.
// Smaller templates are matched at full resolution only.
const minCoarseSide = 6

// Candidate is one template to look for.
type Candidate struct {
	// ID identifies the template in results (usually its file name).
	ID string

	// Template is the prepared reference image (see Gray).
	Template *image.Gray

	// Threshold is the minimum confidence for Found.
	Threshold float64

	// Region restricts the search to this part of the screen. Empty means
	// the whole image.
	Region image.Rectangle
}

// MatchResult is the best location of one candidate in one image.
type MatchResult struct {
	Template   string          `json:"template"`
	Index      int             `json:"index"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"-"`
	Found      bool            `json:"found"`
}

// Center returns the middle of the matched box.
func (r MatchResult) Center() image.Point {
	return image.Pt(r.Box.Min.X+r.Box.Dx()/2, r.Box.Min.Y+r.Box.Dy()/2)
}

// Options tunes the matcher.
type Options struct {
	// Scale in (0,1) enables a coarse pass on downscaled images followed by a
	// full-resolution refinement around the coarse peak. 0 or 1 disables it.
	Scale float64

	// Workers bounds the goroutines scanning row bands. 0 means GOMAXPROCS.
	Workers int
}

// Matcher scores templates against screenshots with zero-mean normalised
// cross-correlation over luma. Results are a pure function of the inputs.
type Matcher struct {
	opts Options
}

// NewMatcher creates a matcher.
func NewMatcher(opts Options) *Matcher {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Matcher{opts: opts}
}

// Match scores every candidate against img and returns results ordered by
// confidence, best first. Equal confidences keep candidate order.
func (m *Matcher) Match(ctx context.Context, img image.Image, candidates []Candidate) ([]MatchResult, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	screen := newPlane(Gray(img))
	var coarse *plane
	if m.coarseEnabled() {
		coarse = newPlane(Downscale(screen.img, m.opts.Scale))
	}

	results := make([]MatchResult, 0, len(candidates))
	for i, c := range candidates {
		r, err := m.matchOne(ctx, screen, coarse, c)
		if err != nil {
			return nil, err
		}
		r.Index = i
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results, nil
}

// MatchOne is Match for a single candidate.
func (m *Matcher) MatchOne(ctx context.Context, img image.Image, c Candidate) (MatchResult, error) {
	results, err := m.Match(ctx, img, []Candidate{c})
	if err != nil {
		return MatchResult{}, err
	}
	return results[0], nil
}

func (m *Matcher) coarseEnabled() bool {
	return m.opts.Scale > 0 && m.opts.Scale < 1
}

func (m *Matcher) matchOne(ctx context.Context, screen, coarse *plane, c Candidate) (MatchResult, error) {
	res := MatchResult{Template: c.ID, Confidence: 0}
	if c.Template == nil || c.Template.Bounds().Empty() {
		return res, ErrEmptyImage
	}

	tpl := newTemplate(c.Template)
	search := screen.img.Bounds()
	if !c.Region.Empty() {
		search = c.Region.Intersect(search)
	}
	// image.Rect would swap inverted bounds into a valid-looking rectangle.
	if search.Dx() < tpl.w || search.Dy() < tpl.h {
		return res, nil
	}
	// Top-left positions whose window fits entirely inside the search area.
	positions := image.Rect(search.Min.X, search.Min.Y, search.Max.X-tpl.w+1, search.Max.Y-tpl.h+1)
	if positions.Empty() {
		return res, nil
	}

	if coarse != nil {
		if narrowed, ok, err := m.coarsePeak(ctx, coarse, c.Template, positions); err != nil {
			return res, err
		} else if ok {
			positions = narrowed
		}
	}

	best, err := m.scan(ctx, screen, tpl, positions)
	if err != nil {
		return res, err
	}

	res.Confidence = best.score
	res.Box = image.Rect(best.x, best.y, best.x+tpl.w, best.y+tpl.h)
	res.Found = best.score >= c.Threshold
	return res, nil
}

// coarsePeak finds the best position on the downscaled planes and returns the
// full-resolution neighbourhood to refine.
func (m *Matcher) coarsePeak(ctx context.Context, coarse *plane, full *image.Gray, positions image.Rectangle) (image.Rectangle, bool, error) {
	s := m.opts.Scale
	small := Downscale(full, s)
	if small.Bounds().Dx() < minCoarseSide || small.Bounds().Dy() < minCoarseSide {
		return positions, false, nil
	}
	tpl := newTemplate(small)

	scaled := image.Rect(
		int(float64(positions.Min.X)*s), int(float64(positions.Min.Y)*s),
		int(math.Ceil(float64(positions.Max.X)*s)), int(math.Ceil(float64(positions.Max.Y)*s)),
	)
	cb := coarse.img.Bounds()
	if cb.Dx() < tpl.w || cb.Dy() < tpl.h {
		return positions, false, nil
	}
	fit := image.Rect(cb.Min.X, cb.Min.Y, cb.Max.X-tpl.w+1, cb.Max.Y-tpl.h+1)
	scaled = scaled.Intersect(fit)
	if scaled.Empty() {
		return positions, false, nil
	}

	best, err := m.scan(ctx, coarse, tpl, scaled)
	if err != nil {
		return positions, false, err
	}

	pad := int(math.Ceil(1/s)) + 2
	cx := int(float64(best.x) / s)
	cy := int(float64(best.y) / s)
	window := image.Rect(cx-pad, cy-pad, cx+pad+1, cy+pad+1).Intersect(positions)
	if window.Empty() {
		return positions, false, nil
	}
	return window, true, nil
}

type peak struct {
	score float64
	x, y  int
}

// scan evaluates every top-left position in the rectangle. Row bands run in
// parallel; bands are merged in order with a strict comparison so the first
// position in raster order wins ties.
func (m *Matcher) scan(ctx context.Context, p *plane, t *template, positions image.Rectangle) (peak, error) {
	rows := positions.Dy()
	workers := min(m.opts.Workers, rows)
	if workers < 1 {
		workers = 1
	}
	band := (rows + workers - 1) / workers

	bests := make([]peak, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		y0 := positions.Min.Y + w*band
		y1 := min(y0+band, positions.Max.Y)
		bests[w] = peak{score: math.Inf(-1), x: positions.Min.X, y: y0}
		if y0 >= y1 {
			continue
		}
		g.Go(func() error {
			best := peak{score: math.Inf(-1), x: positions.Min.X, y: y0}
			for y := y0; y < y1; y++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for x := positions.Min.X; x < positions.Max.X; x++ {
					if s := p.score(t, x, y); s > best.score {
						best = peak{score: s, x: x, y: y}
					}
				}
			}
			bests[w] = best
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return peak{}, err
	}

	best := bests[0]
	for _, b := range bests[1:] {
		if b.score > best.score {
			best = b
		}
	}
	if math.IsInf(best.score, -1) {
		best.score = 0
	}
	return best, nil
}
