package catalog

import (
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DescriptorNames are the accepted sequence descriptor file names, in lookup order.
// JSON descriptors go through the YAML decoder.
var DescriptorNames = []string{"sequence.yaml", "sequence.yml", "sequence.json"}

// groupDescriptor is the mapping form of a descriptor. A bare list of steps
// is also accepted and treated as {sequence: [...]}.
type groupDescriptor struct {
	Name         string                  `yaml:"name,omitempty"`
	Sequence     []stepDescriptor        `yaml:"sequence"`
	SuccessImage *successImageDescriptor `yaml:"success_image,omitempty"`
}

type successImageDescriptor struct {
	TemplateFile string   `yaml:"template_file"`
	Threshold    *float64 `yaml:"threshold,omitempty"`
	Region       []int    `yaml:"region,omitempty,flow"`
}

// stepDescriptor accepts both the millisecond fields written by Encode and the
// second-based fields used by hand-written sequence.json files.
type stepDescriptor struct {
	Name          string   `yaml:"name,omitempty"`
	Type          string   `yaml:"type,omitempty"`
	TemplateFile  string   `yaml:"template_file,omitempty"`
	Account       string   `yaml:"account,omitempty"`
	Region        []int    `yaml:"region,omitempty,flow"`
	Threshold     *float64 `yaml:"threshold,omitempty"`
	ActionOnFound string   `yaml:"action_on_found,omitempty"`
	ClickOffset   []int    `yaml:"click_offset,omitempty,flow"`
	Coordinates   []int    `yaml:"coordinates,omitempty,flow"`
	MaxAttempts   *int     `yaml:"max_attempts,omitempty"`

	DelayAfterMS   *int `yaml:"delay_after_ms,omitempty"`
	AttemptDelayMS *int `yaml:"attempt_delay_ms,omitempty"`
	InitialDelayMS *int `yaml:"initial_delay_ms,omitempty"`

	ClickDelay      *float64 `yaml:"click_delay,omitempty"`
	DurationSeconds *float64 `yaml:"duration_seconds,omitempty"`
	AttemptDelay    *float64 `yaml:"attempt_delay,omitempty"`
	InitialDelay    *float64 `yaml:"initial_delay,omitempty"`

	ActionBeforeFind *gestureDescriptor `yaml:"action_before_find,omitempty"`
	ActionAfterFind  *gestureDescriptor `yaml:"action_after_find,omitempty"`
}

type gestureDescriptor struct {
	Type        string `yaml:"type"`
	Direction   string `yaml:"direction,omitempty"`
	StartCoords []int  `yaml:"start_coords,omitempty,flow"`
	EndCoords   []int  `yaml:"end_coords,omitempty,flow"`
	DurationMS  *int   `yaml:"duration_ms,omitempty"`
	SettleMS    *int   `yaml:"settle_ms,omitempty"`

	DurationSeconds  *float64 `yaml:"duration_seconds,omitempty"`
	DelayAfterScroll *float64 `yaml:"delay_after_scroll,omitempty"`
}

// Parse decodes a descriptor into a TemplateGroup with defaults applied.
// It validates structure and values but not the presence of image files.
func Parse(id string, data []byte) (TemplateGroup, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return TemplateGroup{}, fmt.Errorf("%w: %s: %w", ErrInvalidGroup, id, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return TemplateGroup{}, fmt.Errorf("%w: %s: empty descriptor", ErrInvalidGroup, id)
	}

	var desc groupDescriptor
	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&desc.Sequence); err != nil {
			return TemplateGroup{}, fmt.Errorf("%w: %s: %w", ErrInvalidGroup, id, err)
		}
	case yaml.MappingNode:
		if err := node.Decode(&desc); err != nil {
			return TemplateGroup{}, fmt.Errorf("%w: %s: %w", ErrInvalidGroup, id, err)
		}
	default:
		return TemplateGroup{}, fmt.Errorf("%w: %s: expected a list of steps or a mapping with a sequence key", ErrInvalidGroup, id)
	}

	return desc.build(id)
}

func (d groupDescriptor) build(id string) (TemplateGroup, error) {
	g := TemplateGroup{
		ID:   id,
		Name: d.Name,
	}
	if g.Name == "" {
		g.Name = id
	}

	for i, sd := range d.Sequence {
		// "#..." types are comments in hand-written files.
		if strings.HasPrefix(sd.Type, "#") {
			continue
		}
		step, err := sd.build(len(g.Steps))
		if err != nil {
			return TemplateGroup{}, fmt.Errorf("%w: %s: step %d: %w", ErrInvalidStep, id, i, err)
		}
		g.Steps = append(g.Steps, step)
	}

	if len(g.Steps) == 0 {
		return TemplateGroup{}, fmt.Errorf("%w: %s: sequence has no steps", ErrInvalidGroup, id)
	}

	if d.SuccessImage != nil {
		si, err := d.SuccessImage.build()
		if err != nil {
			return TemplateGroup{}, fmt.Errorf("%w: %s: success_image: %w", ErrInvalidGroup, id, err)
		}
		g.SuccessImage = si
	}

	return g, nil
}

func (d stepDescriptor) build(index int) (TemplateStep, error) {
	s := TemplateStep{
		Name: d.Name,
		Kind: Kind(d.Type),
	}
	if s.Name == "" {
		s.Name = fmt.Sprintf("step %d", index+1)
	}
	if s.Kind == "" {
		s.Kind = KindTemplate
	}

	var err error
	if s.Threshold, err = threshold(d.Threshold); err != nil {
		return s, err
	}

	s.MaxAttempts = DefaultMaxAttempts
	if d.MaxAttempts != nil {
		if *d.MaxAttempts < 1 {
			return s, fmt.Errorf("max_attempts must be at least 1, got %d", *d.MaxAttempts)
		}
		s.MaxAttempts = *d.MaxAttempts
	}

	if s.Region, err = box(d.Region); err != nil {
		return s, fmt.Errorf("region: %w", err)
	}

	if s.AttemptDelay, err = duration(d.AttemptDelayMS, d.AttemptDelay, DefaultAttemptDelay); err != nil {
		return s, fmt.Errorf("attempt_delay: %w", err)
	}
	if s.InitialDelay, err = duration(d.InitialDelayMS, d.InitialDelay, 0); err != nil {
		return s, fmt.Errorf("initial_delay: %w", err)
	}

	legacyDelay := d.ClickDelay
	if s.Kind == KindWait && legacyDelay == nil {
		legacyDelay = d.DurationSeconds
	}
	if s.DelayAfter, err = duration(d.DelayAfterMS, legacyDelay, 0); err != nil {
		return s, fmt.Errorf("delay_after: %w", err)
	}

	if d.Account != "" && s.Kind != KindTemplate {
		return s, fmt.Errorf("account only applies to template steps, not %s", s.Kind)
	}

	switch s.Kind {
	case KindTemplate:
		if d.TemplateFile == "" {
			return s, errors.New("template step needs template_file")
		}
		if !filepath.IsLocal(d.TemplateFile) {
			return s, fmt.Errorf("template_file %q must be relative to the group directory", d.TemplateFile)
		}
		s.Template = d.TemplateFile
		s.Account = d.Account

		switch d.ActionOnFound {
		case "", "tap", "click":
			s.Action = ActionTap
		case "none":
			s.Action = ActionNone
		default:
			return s, fmt.Errorf("unknown action_on_found %q", d.ActionOnFound)
		}

		if s.Offset, err = point(d.ClickOffset, image.Point{}); err != nil {
			return s, fmt.Errorf("click_offset: %w", err)
		}

	case KindCoords:
		if len(d.Coordinates) == 0 {
			return s, errors.New("coords step needs coordinates [x, y]")
		}
		if s.Coordinates, err = point(d.Coordinates, image.Point{}); err != nil {
			return s, fmt.Errorf("coordinates: %w", err)
		}
		s.Action = ActionTap

	case KindWait:
		if s.DelayAfter <= 0 {
			return s, errors.New("wait step needs a positive duration")
		}
		s.Action = ActionNone

	default:
		return s, fmt.Errorf("unknown step type %q", d.Type)
	}

	if s.Before, err = d.ActionBeforeFind.build("up"); err != nil {
		return s, fmt.Errorf("action_before_find: %w", err)
	}
	if s.After, err = d.ActionAfterFind.build("down"); err != nil {
		return s, fmt.Errorf("action_after_find: %w", err)
	}

	return s, nil
}

func (d *gestureDescriptor) build(defaultDirection string) (*Gesture, error) {
	if d == nil || d.Type == "" || strings.HasPrefix(d.Type, "#") {
		return nil, nil
	}

	g := &Gesture{Type: GestureType(d.Type)}
	var err error

	switch g.Type {
	case GestureScroll:
		g.Direction = d.Direction
		if g.Direction == "" {
			g.Direction = defaultDirection
		}
		if g.Direction != "up" && g.Direction != "down" {
			return nil, fmt.Errorf("unknown scroll direction %q", g.Direction)
		}
		if (d.StartCoords == nil) != (d.EndCoords == nil) {
			return nil, errors.New("start_coords and end_coords must be given together")
		}
		if d.StartCoords != nil {
			start, err := point(d.StartCoords, image.Point{})
			if err != nil {
				return nil, fmt.Errorf("start_coords: %w", err)
			}
			end, err := point(d.EndCoords, image.Point{})
			if err != nil {
				return nil, fmt.Errorf("end_coords: %w", err)
			}
			g.Start, g.End = &start, &end
		}
		if g.Duration, err = duration(d.DurationMS, nil, defaultScrollDuration); err != nil {
			return nil, err
		}
		if g.Settle, err = duration(d.SettleMS, d.DelayAfterScroll, defaultScrollSettle); err != nil {
			return nil, err
		}

	case GestureWait:
		if g.Duration, err = duration(d.DurationMS, d.DurationSeconds, 0); err != nil {
			return nil, err
		}
		if g.Duration <= 0 {
			return nil, errors.New("wait gesture needs a positive duration")
		}

	default:
		return nil, fmt.Errorf("unknown gesture type %q", d.Type)
	}

	return g, nil
}

func (d successImageDescriptor) build() (*SuccessImage, error) {
	if d.TemplateFile == "" {
		return nil, errors.New("template_file is required")
	}
	if !filepath.IsLocal(d.TemplateFile) {
		return nil, fmt.Errorf("template_file %q must be relative to the group directory", d.TemplateFile)
	}
	t, err := threshold(d.Threshold)
	if err != nil {
		return nil, err
	}
	region, err := box(d.Region)
	if err != nil {
		return nil, fmt.Errorf("region: %w", err)
	}
	return &SuccessImage{Template: d.TemplateFile, Threshold: t, Region: region}, nil
}

// Encode serialises a group to the canonical YAML descriptor. Every field is
// written explicitly so Parse(Encode(g)) reproduces g without relying on defaults.
func Encode(g TemplateGroup) ([]byte, error) {
	desc := groupDescriptor{
		Name:     g.Name,
		Sequence: make([]stepDescriptor, 0, len(g.Steps)),
	}

	for _, s := range g.Steps {
		sd := stepDescriptor{
			Name:           s.Name,
			Type:           string(s.Kind),
			Threshold:      ptr(s.Threshold),
			MaxAttempts:    ptr(s.MaxAttempts),
			Region:         boxSlice(s.Region),
			DelayAfterMS:   millis(s.DelayAfter),
			AttemptDelayMS: millis(s.AttemptDelay),
			InitialDelayMS: millis(s.InitialDelay),
		}
		switch s.Kind {
		case KindTemplate:
			sd.TemplateFile = s.Template
			sd.Account = s.Account
			sd.ActionOnFound = string(s.Action)
			sd.ClickOffset = []int{s.Offset.X, s.Offset.Y}
		case KindCoords:
			sd.Coordinates = []int{s.Coordinates.X, s.Coordinates.Y}
		}
		sd.ActionBeforeFind = encodeGesture(s.Before)
		sd.ActionAfterFind = encodeGesture(s.After)
		desc.Sequence = append(desc.Sequence, sd)
	}

	if si := g.SuccessImage; si != nil {
		desc.SuccessImage = &successImageDescriptor{
			TemplateFile: si.Template,
			Threshold:    ptr(si.Threshold),
			Region:       boxSlice(si.Region),
		}
	}

	out, err := yaml.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encoding group %s: %w", g.ID, err)
	}
	return out, nil
}

func encodeGesture(g *Gesture) *gestureDescriptor {
	if g == nil {
		return nil
	}
	d := &gestureDescriptor{
		Type:       string(g.Type),
		Direction:  g.Direction,
		DurationMS: millis(g.Duration),
	}
	if g.Type == GestureScroll {
		d.SettleMS = millis(g.Settle)
	}
	if g.Start != nil && g.End != nil {
		d.StartCoords = []int{g.Start.X, g.Start.Y}
		d.EndCoords = []int{g.End.X, g.End.Y}
	}
	return d
}

func threshold(v *float64) (float64, error) {
	if v == nil {
		return DefaultThreshold, nil
	}
	if math.IsNaN(*v) || *v < 0 || *v > 1 {
		return 0, fmt.Errorf("threshold must be within [0, 1], got %v", *v)
	}
	return *v, nil
}

func box(v []int) (*Box, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if len(v) != 4 {
		return nil, fmt.Errorf("expected [x, y, width, height], got %d values", len(v))
	}
	if v[0] < 0 || v[1] < 0 || v[2] <= 0 || v[3] <= 0 {
		return nil, fmt.Errorf("invalid box %v", v)
	}
	return &Box{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func boxSlice(b *Box) []int {
	if b == nil {
		return nil
	}
	return []int{b.X, b.Y, b.Width, b.Height}
}

func point(v []int, def image.Point) (image.Point, error) {
	if v == nil {
		return def, nil
	}
	if len(v) != 2 {
		return def, fmt.Errorf("expected [x, y], got %d values", len(v))
	}
	return image.Pt(v[0], v[1]), nil
}

// duration prefers the millisecond field, then the legacy seconds field, then def.
func duration(ms *int, seconds *float64, def time.Duration) (time.Duration, error) {
	switch {
	case ms != nil:
		if *ms < 0 {
			return 0, fmt.Errorf("negative duration %dms", *ms)
		}
		return time.Duration(*ms) * time.Millisecond, nil
	case seconds != nil:
		if *seconds < 0 || math.IsNaN(*seconds) {
			return 0, fmt.Errorf("negative duration %vs", *seconds)
		}
		return time.Duration(math.Round(*seconds*1000)) * time.Millisecond, nil
	default:
		return def, nil
	}
}

func millis(d time.Duration) *int {
	return ptr(int(d / time.Millisecond))
}

func ptr[T any](v T) *T {
	return &v
}
