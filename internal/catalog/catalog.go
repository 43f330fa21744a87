package catalog

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // template formats
	_ "image/jpeg" // template formats
	_ "image/png"  // template formats
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/bmp"  // template formats
	_ "golang.org/x/image/webp" // template formats
)

// Logger defines the logging interface used by the catalog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Catalog indexes the template groups found under a root directory.
//
// Reads go through an immutable snapshot held in an atomic pointer; LoadAll
// builds a complete new snapshot and swaps it in, so a reader sees either the
// old catalog or the new one, never a mix.
type Catalog struct {
	root   string
	logger Logger

	loadMu sync.Mutex // serialises loaders
	snap   atomic.Pointer[snapshot]
}

type snapshot struct {
	version  uint64
	loadedAt time.Time
	groups   map[string]*TemplateGroup
	ids      []string
}

// New creates a catalog over root. It is empty until LoadAll succeeds.
func New(root string, logger Logger) *Catalog {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Catalog{root: root, logger: logger}
	c.snap.Store(&snapshot{groups: map[string]*TemplateGroup{}})
	return c
}

// Root returns the template directory.
func (c *Catalog) Root() string {
	return c.root
}

// LoadAll reads every group under the root and replaces the current snapshot.
// On failure the previous snapshot is kept and the error wraps ErrCatalogLoad.
func (c *Catalog) LoadAll(ctx context.Context) ([]TemplateGroup, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	groups, err := c.Scan(ctx)
	if err != nil {
		return nil, err
	}

	prev := c.snap.Load()
	next := &snapshot{
		version:  prev.version + 1,
		loadedAt: time.Now(),
		groups:   make(map[string]*TemplateGroup, len(groups)),
		ids:      make([]string, 0, len(groups)),
	}
	for i := range groups {
		g := groups[i].DeepCopy()
		next.groups[g.ID] = &g
		next.ids = append(next.ids, g.ID)
	}
	c.snap.Store(next)

	c.logger.Info("template catalog loaded",
		"root", c.root,
		"groups", len(groups),
		"version", next.version,
	)

	return groups, nil
}

// Scan reads and validates every group without touching the active snapshot.
// All group failures are reported together.
func (c *Catalog) Scan(ctx context.Context) ([]TemplateGroup, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrCatalogLoad, c.root, err)
	}

	var (
		groups []TemplateGroup
		errs   []error
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCatalogLoad, err)
		}
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}

		dir := filepath.Join(c.root, name)
		if _, err := findDescriptor(dir); errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("skipping template directory without descriptor", "dir", dir)
			continue
		}

		g, err := LoadGroup(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		groups = append(groups, g)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrCatalogLoad, errors.Join(errs...))
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// Get returns a copy of the group with the given ID.
func (c *Catalog) Get(id string) (TemplateGroup, error) {
	g, ok := c.snap.Load().groups[id]
	if !ok {
		return TemplateGroup{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return g.DeepCopy(), nil
}

// Has reports whether id is in the current snapshot.
func (c *Catalog) Has(id string) bool {
	_, ok := c.snap.Load().groups[id]
	return ok
}

// List returns copies of every group, sorted by ID.
func (c *Catalog) List() []TemplateGroup {
	s := c.snap.Load()
	out := make([]TemplateGroup, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.groups[id].DeepCopy())
	}
	return out
}

// IDs returns the sorted group IDs.
func (c *Catalog) IDs() []string {
	s := c.snap.Load()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Version increments on every successful load. Zero means never loaded.
func (c *Catalog) Version() uint64 {
	return c.snap.Load().version
}

// LoadedAt returns when the active snapshot was built.
func (c *Catalog) LoadedAt() time.Time {
	return c.snap.Load().loadedAt
}

// Watch reloads the catalog every interval until ctx is cancelled.
// Failed reloads are logged and the previous snapshot stays active.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.LoadAll(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("template catalog reload failed", "error", err)
			}
		}
	}
}

// LoadGroup parses and validates one group directory. The group ID is the
// directory name.
func LoadGroup(dir string) (TemplateGroup, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return TemplateGroup{}, fmt.Errorf("%w: %s: %w", ErrInvalidGroup, dir, err)
	}
	id := filepath.Base(abs)

	path, err := findDescriptor(abs)
	if err != nil {
		return TemplateGroup{}, fmt.Errorf("%w: %s: %w", ErrInvalidGroup, id, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TemplateGroup{}, fmt.Errorf("%w: %s: %w", ErrInvalidGroup, id, err)
	}

	g, err := Parse(id, data)
	if err != nil {
		return TemplateGroup{}, err
	}
	g.Dir = abs

	if err := checkTemplates(&g); err != nil {
		return TemplateGroup{}, err
	}
	return g, nil
}

func findDescriptor(dir string) (string, error) {
	for _, name := range DescriptorNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no sequence descriptor in %s: %w", dir, os.ErrNotExist)
}

// checkTemplates verifies every referenced image exists, decodes as an image
// and fits inside its region.
func checkTemplates(g *TemplateGroup) error {
	for i, s := range g.Steps {
		if s.Kind != KindTemplate {
			continue
		}
		if err := checkImage(g.TemplatePath(s.Template), s.Region); err != nil {
			return fmt.Errorf("%w: %s: step %d (%s): %w", ErrTemplateMissing, g.ID, i, s.Name, err)
		}
	}
	if g.SuccessImage != nil {
		if err := checkImage(g.TemplatePath(g.SuccessImage.Template), g.SuccessImage.Region); err != nil {
			return fmt.Errorf("%w: %s: success image: %w", ErrTemplateMissing, g.ID, err)
		}
	}
	return nil
}

func checkImage(path string, region *Box) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%s has zero size", filepath.Base(path))
	}
	if region != nil && (region.Width < cfg.Width || region.Height < cfg.Height) {
		return fmt.Errorf("%w: %s is %dx%d but its region is %dx%d",
			ErrRegionTooSmall, filepath.Base(path), cfg.Width, cfg.Height, region.Width, region.Height)
	}
	return nil
}

func joinDir(dir, name string) string {
	return filepath.Join(dir, filepath.FromSlash(name))
}
