package catalog

import (
	"fmt"
	"image"
	"time"
)

// Kind is what a step does.
type Kind string

const (
	// KindTemplate captures the screen, matches the step template and acts on it.
	KindTemplate Kind = "template"

	// KindCoords taps fixed screen coordinates without matching.
	KindCoords Kind = "coords"

	// KindWait only sleeps for the step's delay.
	KindWait Kind = "wait"
)

// Action is the interaction performed when a template step matches.
type Action string

const (
	// ActionTap taps the match centre plus the step offset.
	ActionTap Action = "tap"

	// ActionNone only confirms the template is on screen.
	ActionNone Action = "none"
)

// GestureType is an auxiliary gesture run around a template search.
type GestureType string

const (
	GestureScroll GestureType = "scroll"
	GestureWait   GestureType = "wait"
)

// Step defaults.
const (
	DefaultThreshold    = 0.8
	DefaultMaxAttempts  = 3
	DefaultAttemptDelay = 500 * time.Millisecond

	defaultScrollDuration = 500 * time.Millisecond
	defaultScrollSettle   = 500 * time.Millisecond
)

// Box is a screen region in pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// BoxFromRect converts an image.Rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Gesture is a scroll or wait performed before or after a template search.
type Gesture struct {
	Type GestureType `json:"type"`

	// Direction is "up" or "down" when Start/End are not given.
	Direction string       `json:"direction,omitempty"`
	Start     *image.Point `json:"start,omitempty"`
	End       *image.Point `json:"end,omitempty"`

	// Duration is the swipe duration for scrolls and the sleep for waits.
	Duration time.Duration `json:"duration"`

	// Settle is slept after a scroll so the screen stops moving.
	Settle time.Duration `json:"settle,omitempty"`
}

// TemplateStep is one entry of a sequence.
type TemplateStep struct {
	Name         string        `json:"name"`
	Kind         Kind          `json:"kind"`
	Template     string        `json:"template,omitempty"`
	Account      string        `json:"account,omitempty"`
	Region       *Box          `json:"region,omitempty"`
	Threshold    float64       `json:"threshold"`
	Action       Action        `json:"action"`
	Offset       image.Point   `json:"offset"`
	Coordinates  image.Point   `json:"coordinates"`
	DelayAfter   time.Duration `json:"delay_after"`
	MaxAttempts  int           `json:"max_attempts"`
	AttemptDelay time.Duration `json:"attempt_delay"`
	InitialDelay time.Duration `json:"initial_delay"`
	Before       *Gesture      `json:"before,omitempty"`
	After        *Gesture      `json:"after,omitempty"`
}

// SuccessImage ends a run early once it is visible after any step.
type SuccessImage struct {
	Template  string  `json:"template"`
	Threshold float64 `json:"threshold"`
	Region    *Box    `json:"region,omitempty"`
}

// TemplateGroup is one automatable action: a directory of reference images
// plus the ordered steps that use them.
type TemplateGroup struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Dir          string         `json:"-"`
	Steps        []TemplateStep `json:"steps"`
	SuccessImage *SuccessImage  `json:"success_image,omitempty"`
}

// TemplatePath returns the absolute path of a file in the group directory.
func (g *TemplateGroup) TemplatePath(name string) string {
	return joinDir(g.Dir, name)
}

// Accounts returns the distinct account tags of the group's steps in step order.
func (g *TemplateGroup) Accounts() []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range g.Steps {
		if s.Account != "" && !seen[s.Account] {
			seen[s.Account] = true
			out = append(out, s.Account)
		}
	}
	return out
}

// ForAccount returns the variant of the group run for one account: every
// untagged step plus the steps tagged with account, in their original order.
// Steps tagged for other accounts are dropped.
//
// Returns:
//   - TemplateGroup: independent copy holding the selected steps
//   - error: ErrUnknownAccount if no step carries the tag
func (g *TemplateGroup) ForAccount(account string) (TemplateGroup, error) {
	cp := g.DeepCopy()
	cp.Steps = make([]TemplateStep, 0, len(g.Steps))
	tagged := false
	for _, s := range g.Steps {
		switch s.Account {
		case "":
		case account:
			tagged = true
		default:
			continue
		}
		cp.Steps = append(cp.Steps, s.deepCopy())
	}
	if !tagged {
		return TemplateGroup{}, fmt.Errorf("%w: %q in %s", ErrUnknownAccount, account, g.ID)
	}
	return cp, nil
}

// DeepCopy returns an independent copy of the group.
func (g *TemplateGroup) DeepCopy() TemplateGroup {
	cp := *g
	if g.Steps != nil {
		cp.Steps = make([]TemplateStep, len(g.Steps))
		for i := range g.Steps {
			cp.Steps[i] = g.Steps[i].deepCopy()
		}
	}
	if g.SuccessImage != nil {
		si := *g.SuccessImage
		si.Region = copyBox(si.Region)
		cp.SuccessImage = &si
	}
	return cp
}

func (s TemplateStep) deepCopy() TemplateStep {
	s.Region = copyBox(s.Region)
	s.Before = copyGesture(s.Before)
	s.After = copyGesture(s.After)
	return s
}

func copyBox(b *Box) *Box {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

func copyGesture(g *Gesture) *Gesture {
	if g == nil {
		return nil
	}
	cp := *g
	if g.Start != nil {
		p := *g.Start
		cp.Start = &p
	}
	if g.End != nil {
		p := *g.End
		cp.End = &p
	}
	return &cp
}
