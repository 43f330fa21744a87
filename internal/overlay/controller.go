package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/autotouch-core/internal/automation"
)

// Permission is the draw-over-apps permission as last observed.
type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionDenied  Permission = "denied"
	PermissionGranted Permission = "granted"
)

// Valid reports whether p is one of the known values.
func (p Permission) Valid() bool {
	switch p {
	case PermissionUnknown, PermissionDenied, PermissionGranted:
		return true
	}
	return false
}

// EventChanged is broadcast with the new State after every transition.
const EventChanged = "overlay.changed"

var (
	// ErrPermissionRequired is returned by Activate without a granted permission.
	ErrPermissionRequired = errors.New("overlay: permission required")

	// ErrInactive is returned by menu and trigger operations while inactive.
	ErrInactive = errors.New("overlay: not active")

	// ErrNoPermissionProvider is returned by RequestPermission when nothing
	// can ask for the permission.
	ErrNoPermissionProvider = errors.New("overlay: no permission provider")
)

// State is a snapshot of the controller.
type State struct {
	Permission Permission `json:"permission"`
	Active     bool       `json:"active"`
	MenuOpen   bool       `json:"menu_open"`
	RunID      string     `json:"run_id,omitempty"`
}

// PermissionProvider asks the platform for the draw-over-apps permission.
type PermissionProvider interface {
	RequestPermission(ctx context.Context) (granted bool, err error)
}

// StaticPermission answers every request with the same result.
type StaticPermission bool

// RequestPermission implements PermissionProvider.
func (s StaticPermission) RequestPermission(context.Context) (bool, error) {
	return bool(s), nil
}

// RunStarter starts and cancels runs. *automation.Supervisor satisfies it.
type RunStarter interface {
	Start(ctx context.Context, sequenceID string, origin automation.Origin, opts ...automation.StartOption) (*automation.RunHandle, error)
	Cancel(ctx context.Context, runID string) error
}

// Broadcaster publishes state changes.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface for the controller.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Deps holds the controller's collaborators. Runs is required.
type Deps struct {
	Runs        RunStarter
	Permissions PermissionProvider
	Hub         Broadcaster
	Logger      Logger
}

// Controller is the overlay state machine.
//
// Thread Safety: all methods are safe for concurrent use. Collaborators are
// called without the lock held.
type Controller struct {
	deps Deps

	mu    sync.Mutex
	state State
}

// New creates a controller in the unknown/inactive state.
func New(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &Controller{
		deps:  deps,
		state: State{Permission: PermissionUnknown},
	}
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestPermission asks the provider when the permission is not yet
// granted. A provider error leaves the permission unchanged.
func (c *Controller) RequestPermission(ctx context.Context) (Permission, error) {
	c.mu.Lock()
	current := c.state.Permission
	c.mu.Unlock()

	if current == PermissionGranted {
		return current, nil
	}
	if c.deps.Permissions == nil {
		return current, ErrNoPermissionProvider
	}

	granted, err := c.deps.Permissions.RequestPermission(ctx)
	if err != nil {
		return current, fmt.Errorf("requesting overlay permission: %w", err)
	}

	next := PermissionDenied
	if granted {
		next = PermissionGranted
	}
	c.SetPermission(ctx, next)
	return next, nil
}

// SetPermission records an externally observed permission. Anything other
// than granted while active deactivates the surface.
func (c *Controller) SetPermission(ctx context.Context, p Permission) State {
	c.mu.Lock()
	if c.state.Permission == p {
		snap := c.state
		c.mu.Unlock()
		return snap
	}
	c.state.Permission = p
	revoked := p != PermissionGranted && c.state.Active
	snap := c.state
	c.mu.Unlock()

	c.deps.Logger.Info("overlay permission changed", "permission", p)
	if revoked {
		return c.Deactivate(ctx)
	}
	c.broadcast(snap)
	return snap
}

// Activate shows the surface. Requires a granted permission.
func (c *Controller) Activate() (State, error) {
	c.mu.Lock()
	if c.state.Permission != PermissionGranted {
		snap := c.state
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: permission is %s", ErrPermissionRequired, snap.Permission)
	}
	changed := !c.state.Active
	c.state.Active = true
	snap := c.state
	c.mu.Unlock()

	if changed {
		c.deps.Logger.Info("overlay activated")
		c.broadcast(snap)
	}
	return snap, nil
}

// Deactivate hides the surface, closes the menu and cancels the run the
// overlay started. It always succeeds; a failed cancel is logged.
func (c *Controller) Deactivate(ctx context.Context) State {
	c.mu.Lock()
	runID := c.state.RunID
	changed := c.state.Active || c.state.MenuOpen || runID != ""
	c.state.Active = false
	c.state.MenuOpen = false
	c.state.RunID = ""
	snap := c.state
	c.mu.Unlock()

	if runID != "" {
		c.cancelRun(ctx, runID)
	}
	if changed {
		c.deps.Logger.Info("overlay deactivated", "cancelled_run", runID)
		c.broadcast(snap)
	}
	return snap
}

// OpenMenu opens the action menu.
func (c *Controller) OpenMenu() (State, error) {
	return c.setMenu(func(bool) bool { return true })
}

// CloseMenu closes the action menu.
func (c *Controller) CloseMenu() (State, error) {
	return c.setMenu(func(bool) bool { return false })
}

// ToggleMenu flips the action menu.
func (c *Controller) ToggleMenu() (State, error) {
	return c.setMenu(func(open bool) bool { return !open })
}

func (c *Controller) setMenu(next func(open bool) bool) (State, error) {
	c.mu.Lock()
	if !c.state.Active {
		snap := c.state
		c.mu.Unlock()
		return snap, ErrInactive
	}
	open := next(c.state.MenuOpen)
	changed := open != c.state.MenuOpen
	c.state.MenuOpen = open
	snap := c.state
	c.mu.Unlock()

	if changed {
		c.broadcast(snap)
	}
	return snap, nil
}

// Trigger starts sequenceID on behalf of the overlay and closes the menu.
// Errors from the supervisor (unknown sequence, already running) are
// returned unchanged.
func (c *Controller) Trigger(ctx context.Context, sequenceID string, opts ...automation.StartOption) (string, error) {
	c.mu.Lock()
	active := c.state.Active
	c.mu.Unlock()
	if !active {
		return "", ErrInactive
	}

	h, err := c.deps.Runs.Start(ctx, sequenceID, automation.OriginOverlay, opts...)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if !c.state.Active {
		// Deactivated while starting.
		c.mu.Unlock()
		c.cancelRun(ctx, h.ID())
		return "", ErrInactive
	}
	c.state.RunID = h.ID()
	c.state.MenuOpen = false
	snap := c.state
	c.mu.Unlock()

	c.deps.Logger.Info("overlay triggered run", "sequence", sequenceID, "run_id", h.ID())
	c.broadcast(snap)

	go c.forget(h)
	return h.ID(), nil
}

// cancelRun stops a run the overlay owns. A run that already finished is fine.
func (c *Controller) cancelRun(ctx context.Context, runID string) {
	if err := c.deps.Runs.Cancel(ctx, runID); err != nil && !errors.Is(err, automation.ErrRunNotFound) {
		c.deps.Logger.Warn("cancelling overlay run failed", "run_id", runID, "error", err)
	}
}

// forget clears RunID once the run ends, unless a newer run replaced it.
func (c *Controller) forget(h *automation.RunHandle) {
	<-h.Done()

	c.mu.Lock()
	if c.state.RunID != h.ID() {
		c.mu.Unlock()
		return
	}
	c.state.RunID = ""
	snap := c.state
	c.mu.Unlock()

	c.broadcast(snap)
}

func (c *Controller) broadcast(s State) {
	if c.deps.Hub != nil {
		c.deps.Hub.Broadcast(EventChanged, s)
	}
}
