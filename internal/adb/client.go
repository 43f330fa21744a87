package adb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
)

const defaultCommandTimeout = 10 * time.Second

// packagePattern guards package names passed to the device shell.
var packagePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)+$`)

// Runner executes a command and returns its standard output.
// A non-zero exit must be reported as an error that includes stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binary comes from config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Logger defines the logging interface for the adb client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client runs adb commands against one device.
//
// Thread Safety: a Client is immutable after construction and safe for
// concurrent use.
type Client struct {
	binary  string
	serial  string
	timeout time.Duration
	runner  Runner
	logger  Logger
}

// New creates a client from config. The device serial may be empty, in which
// case adb picks the only attached device.
func New(cfg config.ADBConfig, opts ...Option) *Client {
	c := &Client{
		binary:  cfg.Binary,
		serial:  cfg.Device,
		timeout: time.Duration(cfg.CommandTimeout) * time.Millisecond,
		runner:  execRunner{},
		logger:  noopLogger{},
	}
	if c.binary == "" {
		c.binary = "adb"
	}
	if c.timeout <= 0 {
		c.timeout = defaultCommandTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithDevice returns a copy of the client bound to serial. An empty serial
// returns the receiver unchanged.
func (c *Client) WithDevice(serial string) *Client {
	if serial == "" || serial == c.serial {
		return c
	}
	cp := *c
	cp.serial = serial
	return &cp
}

// Serial returns the bound device serial, possibly empty.
func (c *Client) Serial() string {
	return c.serial
}

// Binary returns the adb executable path.
func (c *Client) Binary() string {
	return c.binary
}

// run executes adb with the device selector prepended.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.serial != "" {
		args = append([]string{"-s", c.serial}, args...)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.runner.Run(ctx, c.binary, args...)
	c.logger.Debug("adb command", "args", args, "duration_ms", time.Since(start).Milliseconds(), "error", err)
	if err != nil {
		return nil, c.classify(ctx, args, err)
	}
	return out, nil
}

// classify maps a runner error onto the package sentinels.
func (c *Client) classify(ctx context.Context, args []string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrADBNotFound, c.binary)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("adb %s: %w", strings.Join(args, " "), ctxErr)
	}
	msg := err.Error()
	if strings.Contains(msg, "not found") && (strings.Contains(msg, "device") || strings.Contains(msg, "emulator")) {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, msg)
	}
	if strings.Contains(msg, "no devices") || strings.Contains(msg, "device offline") || strings.Contains(msg, "unauthorized") {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, msg)
	}
	return fmt.Errorf("%w: adb %s: %s", ErrCommand, strings.Join(args, " "), msg)
}

// Capture grabs the current screen as a decoded PNG.
func (c *Client) Capture(ctx context.Context) (image.Image, error) {
	out, err := c.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding screencap (%d bytes): %w", ErrCommand, len(out), err)
	}
	return img, nil
}

// Tap sends a single touch at p.
func (c *Client) Tap(ctx context.Context, p image.Point) error {
	_, err := c.run(ctx, "shell", "input", "tap", strconv.Itoa(p.X), strconv.Itoa(p.Y))
	return err
}

// Swipe drags from one point to another over d.
func (c *Client) Swipe(ctx context.Context, from, to image.Point, d time.Duration) error {
	_, err := c.run(ctx, "shell", "input", "swipe",
		strconv.Itoa(from.X), strconv.Itoa(from.Y),
		strconv.Itoa(to.X), strconv.Itoa(to.Y),
		strconv.FormatInt(d.Milliseconds(), 10))
	return err
}

// Devices lists the serials of attached devices in the "device" state.
func (c *Client) Devices(ctx context.Context) ([]string, error) {
	// Listing is not device-scoped.
	unbound := *c
	unbound.serial = ""

	out, err := unbound.run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(out), nil
}

// parseDevices reads "adb devices" output.
//
//	List of devices attached
//	emulator-5554	device
//	R58M123ABC	unauthorized
func parseDevices(out []byte) []string {
	devices := []string{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			devices = append(devices, fields[0])
		}
	}
	return devices
}

// GameState reports whether an app process exists and whether it owns focus.
type GameState struct {
	Running    bool `json:"running"`
	Foreground bool `json:"foreground"`
}

// ValidPackageName reports whether name looks like an Android package and is
// safe to pass to the device shell.
func ValidPackageName(name string) bool {
	return packagePattern.MatchString(name)
}

// GameState inspects pkg on the device.
//
// Running comes from pidof. Foreground is read from the window manager's
// focus lines; when those are absent (newer Android builds), the resumed
// activity in the activity manager dump is used instead.
func (c *Client) GameState(ctx context.Context, pkg string) (GameState, error) {
	if !ValidPackageName(pkg) {
		return GameState{}, fmt.Errorf("%w: invalid package name %q", ErrCommand, pkg)
	}

	out, err := c.run(ctx, "shell", "pidof "+pkg+" || true")
	if err != nil {
		return GameState{}, err
	}
	state := GameState{Running: strings.TrimSpace(string(out)) != ""}
	if !state.Running {
		return state, nil
	}

	windows, err := c.run(ctx, "shell", "dumpsys", "window", "windows")
	if err != nil {
		return state, err
	}
	if focused, ok := focusOwner(windows, "mCurrentFocus", "mFocusedApp"); ok {
		state.Foreground = strings.Contains(focused, pkg)
		return state, nil
	}

	activities, err := c.run(ctx, "shell", "dumpsys", "activity", "activities")
	if err != nil {
		return state, err
	}
	if resumed, ok := focusOwner(activities, "topResumedActivity", "mResumedActivity", "ResumedActivity"); ok {
		state.Foreground = strings.Contains(resumed, pkg)
	}
	return state, nil
}

// focusOwner returns the concatenated dump lines that mention any key.
func focusOwner(dump []byte, keys ...string) (string, bool) {
	var b strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(dump))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		for _, k := range keys {
			if strings.Contains(line, k) {
				b.WriteString(line)
				b.WriteByte('\n')
				break
			}
		}
	}
	return b.String(), b.Len() > 0
}
