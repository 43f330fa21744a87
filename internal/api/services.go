package api

import (
	"context"
	"image"

	"github.com/nerrad567/autotouch-core/internal/adb"
	"github.com/nerrad567/autotouch-core/internal/automation"
	"github.com/nerrad567/autotouch-core/internal/catalog"
	"github.com/nerrad567/autotouch-core/internal/vision"
)

// RunService starts, stops and reports runs. *automation.Supervisor
// satisfies it.
type RunService interface {
	Start(ctx context.Context, sequenceID string, origin automation.Origin, opts ...automation.StartOption) (*automation.RunHandle, error)
	Cancel(ctx context.Context, runID string) error
	CancelActive() (string, bool)
	Active() (automation.ActionRun, bool)
	Status(ctx context.Context, runID string) (automation.ActionRun, error)
	History(ctx context.Context, limit int) ([]automation.ActionRun, error)
}

// CatalogService exposes the template catalog. *catalog.Catalog satisfies it.
type CatalogService interface {
	IDs() []string
	List() []catalog.TemplateGroup
	Get(id string) (catalog.TemplateGroup, error)
	LoadAll(ctx context.Context) ([]catalog.TemplateGroup, error)
	Version() uint64
}

// DeviceService talks to attached devices. An empty serial selects the
// configured default device.
type DeviceService interface {
	Devices(ctx context.Context) ([]string, error)
	GameState(ctx context.Context, serial, pkg string) (adb.GameState, error)
	Tap(ctx context.Context, serial string, p image.Point) error
	Capture(ctx context.Context, serial string) (image.Image, error)
}

// Matcher scores templates against screenshots. *vision.Matcher satisfies it.
type Matcher interface {
	Match(ctx context.Context, img image.Image, candidates []vision.Candidate) ([]vision.MatchResult, error)
}

// TemplateLoader provides prepared reference images by path.
// *vision.TemplateStore satisfies it.
type TemplateLoader interface {
	Load(path string) (*image.Gray, error)
}

// ADBDevices adapts an adb.Client to DeviceService.
type ADBDevices struct {
	Client *adb.Client
}

func (d ADBDevices) client(serial string) *adb.Client {
	if serial == "" {
		return d.Client
	}
	return d.Client.WithDevice(serial)
}

// Devices lists attached serials.
func (d ADBDevices) Devices(ctx context.Context) ([]string, error) {
	return d.Client.Devices(ctx)
}

// GameState reports whether pkg is running and focused on the device.
func (d ADBDevices) GameState(ctx context.Context, serial, pkg string) (adb.GameState, error) {
	return d.client(serial).GameState(ctx, pkg)
}

// Tap touches p on the device.
func (d ADBDevices) Tap(ctx context.Context, serial string, p image.Point) error {
	return d.client(serial).Tap(ctx, p)
}

// Capture takes a screenshot of the device.
func (d ADBDevices) Capture(ctx context.Context, serial string) (image.Image, error) {
	return d.client(serial).Capture(ctx)
}
