package automation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/nerrad567/autotouch-core/internal/catalog"
	"github.com/nerrad567/autotouch-core/internal/vision"
)

// ScreenCapture grabs the current screen of the target device.
type ScreenCapture interface {
	// Capture returns a full screenshot. It must return promptly once ctx is done.
	Capture(ctx context.Context) (image.Image, error)
}

// Interactor injects input into the target device.
type Interactor interface {
	// Tap touches a single point.
	Tap(ctx context.Context, p image.Point) error

	// Swipe drags from one point to another over d.
	Swipe(ctx context.Context, from, to image.Point, d time.Duration) error
}

// Device is a target that can be both observed and driven.
type Device interface {
	ScreenCapture
	Interactor
}

// TemplateMatcher locates one template in a screenshot.
// *vision.Matcher satisfies it.
type TemplateMatcher interface {
	MatchOne(ctx context.Context, img image.Image, c vision.Candidate) (vision.MatchResult, error)
}

// TemplateLoader provides prepared reference images by path.
// *vision.TemplateStore satisfies it.
type TemplateLoader interface {
	Load(path string) (*image.Gray, error)
}

// Observer receives executor progress. Calls are made synchronously from the
// executing goroutine, in order.
type Observer interface {
	// StateChanged is called on every state transition.
	StateChanged(p Progress)

	// Matched is called after every template match, found or not.
	Matched(step, attempt int, res vision.MatchResult, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) StateChanged(Progress)                                {}
func (noopObserver) Matched(int, int, vision.MatchResult, time.Duration) {}

// ExecutorConfig bounds the executor's calls into the device.
type ExecutorConfig struct {
	// CaptureTimeout bounds a single screen capture.
	CaptureTimeout time.Duration

	// InteractionTimeout bounds a single tap or swipe.
	InteractionTimeout time.Duration

	// ScreenWidth and ScreenHeight place scroll gestures that give a
	// direction instead of explicit coordinates.
	ScreenWidth  int
	ScreenHeight int
}

// DefaultExecutorConfig returns the bounds used when none are configured.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CaptureTimeout:     5 * time.Second,
		InteractionTimeout: 3 * time.Second,
		ScreenWidth:        2400,
		ScreenHeight:       1080,
	}
}

// Executor drives one sequence against one device.
//
// Each step is captured, matched and acted on in order with per-step
// retries. Every wait is a select on the context, so cancellation is
// observed immediately and no side effect happens after it.
//
// Thread Safety: an Executor holds no per-run state and may run several
// sequences concurrently, though the supervisor never does.
type Executor struct {
	device    Device
	matcher   TemplateMatcher
	templates TemplateLoader
	cfg       ExecutorConfig
	logger    Logger
}

// NewExecutor creates an executor.
//
// Parameters:
//   - device: Screen source and input sink for the target
//   - matcher: Template matcher (usually *vision.Matcher)
//   - templates: Reference image loader (usually *vision.TemplateStore)
//   - cfg: Capture and interaction bounds; zero values take defaults
//   - logger: Logger instance (may be nil)
func NewExecutor(device Device, matcher TemplateMatcher, templates TemplateLoader, cfg ExecutorConfig, logger Logger) *Executor {
	def := DefaultExecutorConfig()
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = def.CaptureTimeout
	}
	if cfg.InteractionTimeout <= 0 {
		cfg.InteractionTimeout = def.InteractionTimeout
	}
	if cfg.ScreenWidth <= 0 || cfg.ScreenHeight <= 0 {
		cfg.ScreenWidth, cfg.ScreenHeight = def.ScreenWidth, def.ScreenHeight
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{
		device:    device,
		matcher:   matcher,
		templates: templates,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs every step of group and returns how the run ended.
//
// Parameters:
//   - ctx: Cancelling ctx cancels the run; the outcome is then StateCancelled
//   - group: The sequence to run
//   - obs: Receives progress (may be nil)
//
// Returns:
//   - Outcome: terminal state, the step reached, and the cause on failure.
//     Outcome.Err is a *StepError for step failures.
func (e *Executor) Execute(ctx context.Context, group catalog.TemplateGroup, obs Observer) Outcome {
	if obs == nil {
		obs = noopObserver{}
	}
	x := &execution{Executor: e, group: group, obs: obs}
	x.report(StatePending)

	for i := range group.Steps {
		x.step = i
		x.attempt = 0
		if err := x.runStep(ctx, group.Steps[i]); err != nil {
			return x.finish(ctx, err)
		}

		if group.SuccessImage != nil && i < len(group.Steps)-1 {
			done, err := x.checkSuccess(ctx)
			if ctx.Err() != nil {
				return x.finish(ctx, ctx.Err())
			}
			if err != nil {
				e.logger.Warn("success image check failed", "sequence", group.ID, "error", err)
			}
			if done {
				e.logger.Info("success image visible, ending run early",
					"sequence", group.ID,
					"step", i,
				)
				return x.finish(ctx, nil)
			}
		}
	}
	return x.finish(ctx, nil)
}

// execution is the mutable state of one Execute call.
type execution struct {
	*Executor
	group catalog.TemplateGroup
	obs   Observer

	step         int
	attempt      int
	confidence   float64
	interactions int
}

func (x *execution) report(state RunState) {
	x.obs.StateChanged(Progress{
		State:          state,
		StepIndex:      x.step,
		Attempt:        x.attempt,
		LastConfidence: x.confidence,
		Interactions:   x.interactions,
	})
}

func (x *execution) finish(ctx context.Context, err error) Outcome {
	out := Outcome{
		StepIndex:      x.step,
		Attempt:        x.attempt,
		LastConfidence: x.confidence,
		Interactions:   x.interactions,
	}

	switch {
	case err == nil:
		out.State = StateSucceeded
	case ctx.Err() != nil:
		out.State = StateCancelled
		out.Reason = ReasonCancelled
		out.Err = fmt.Errorf("step %d: %w", x.step, context.Cause(ctx))
	case errors.Is(err, ErrTemplateUnavailable):
		out.State = StateError
		out.Reason = ReasonInternalError
		out.Err = err
	default:
		out.State = StateFailed
		out.Reason = reasonFor(err)
		out.Err = err
	}

	x.report(out.State)
	return out
}

func (x *execution) stepError(step catalog.TemplateStep, err error) *StepError {
	return &StepError{
		Step:       x.step,
		Name:       step.Name,
		Attempts:   x.attempt,
		Confidence: x.confidence,
		Err:        err,
	}
}

func (x *execution) runStep(ctx context.Context, step catalog.TemplateStep) error {
	x.logger.Debug("step started",
		"sequence", x.group.ID,
		"step", x.step,
		"name", step.Name,
		"kind", step.Kind,
	)

	switch step.Kind {
	case catalog.KindWait:
		x.report(StateWaiting)
		return x.sleep(ctx, step.DelayAfter)

	case catalog.KindCoords:
		if step.InitialDelay > 0 {
			x.report(StateWaiting)
			if err := x.sleep(ctx, step.InitialDelay); err != nil {
				return err
			}
		}
		x.attempt = 1
		x.report(StateActing)
		if err := x.tap(ctx, step.Coordinates); err != nil {
			return x.stepError(step, err)
		}
		x.report(StateWaiting)
		return x.sleep(ctx, step.DelayAfter)

	default:
		return x.runTemplateStep(ctx, step)
	}
}

func (x *execution) runTemplateStep(ctx context.Context, step catalog.TemplateStep) error {
	tpl, err := x.templates.Load(x.group.TemplatePath(step.Template))
	if err != nil {
		return x.stepError(step, fmt.Errorf("%w: %w", ErrTemplateUnavailable, err))
	}
	cand := vision.Candidate{ID: step.Template, Template: tpl, Threshold: step.Threshold}
	if step.Region != nil {
		cand.Region = step.Region.Rect()
	}

	if step.InitialDelay > 0 {
		x.report(StateWaiting)
		if err := x.sleep(ctx, step.InitialDelay); err != nil {
			return err
		}
	}
	if err := x.gesture(ctx, step.Before, "up"); err != nil {
		return x.stepError(step, err)
	}

	var lastErr error
	var found vision.MatchResult
	for attempt := 1; attempt <= step.MaxAttempts; attempt++ {
		x.attempt = attempt
		if attempt > 1 {
			x.report(StateWaiting)
			if err := x.sleep(ctx, step.AttemptDelay); err != nil {
				return err
			}
		}

		res, err := x.find(ctx, cand)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, ErrCapture) && !errors.Is(err, ErrCaptureTimeout) {
				return x.stepError(step, fmt.Errorf("%w: %w", ErrTemplateUnavailable, err))
			}
			x.logger.Warn("capture failed",
				"sequence", x.group.ID,
				"step", x.step,
				"attempt", attempt,
				"error", err,
			)
			lastErr = err
			continue
		}

		x.confidence = res.Confidence
		if res.Found {
			found = res
			lastErr = nil
			break
		}
		lastErr = ErrTemplateNotFound
		x.logger.Debug("template not found",
			"sequence", x.group.ID,
			"step", x.step,
			"attempt", attempt,
			"confidence", res.Confidence,
			"threshold", step.Threshold,
		)
	}
	if lastErr != nil {
		return x.stepError(step, lastErr)
	}

	if step.Action == catalog.ActionTap {
		x.report(StateActing)
		if err := x.tap(ctx, found.Center().Add(step.Offset)); err != nil {
			return x.stepError(step, err)
		}
	}

	x.report(StateWaiting)
	if err := x.sleep(ctx, step.DelayAfter); err != nil {
		return err
	}
	if err := x.gesture(ctx, step.After, "down"); err != nil {
		return x.stepError(step, err)
	}
	return nil
}

// find captures the screen and matches one candidate.
func (x *execution) find(ctx context.Context, cand vision.Candidate) (vision.MatchResult, error) {
	img, err := x.capture(ctx)
	if err != nil {
		return vision.MatchResult{}, err
	}

	x.report(StateMatching)
	start := time.Now()
	res, err := x.matcher.MatchOne(ctx, img, cand)
	if err != nil {
		return vision.MatchResult{}, err
	}
	x.obs.Matched(x.step, x.attempt, res, time.Since(start))
	return res, nil
}

func (x *execution) capture(ctx context.Context) (image.Image, error) {
	x.report(StateCapturing)

	cctx, cancel := context.WithTimeout(ctx, x.cfg.CaptureTimeout)
	defer cancel()

	img, err := x.device.Capture(cctx)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", ErrCaptureTimeout, x.cfg.CaptureTimeout)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	case img == nil || img.Bounds().Empty():
		return nil, fmt.Errorf("%w: empty screenshot", ErrCapture)
	}
	return img, nil
}

func (x *execution) tap(ctx context.Context, p image.Point) error {
	ictx, cancel := context.WithTimeout(ctx, x.cfg.InteractionTimeout)
	defer cancel()

	if err := x.device.Tap(ictx, p); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: tap at %d,%d: %w", ErrInteraction, p.X, p.Y, err)
	}
	x.interactions++
	x.logger.Debug("tapped", "sequence", x.group.ID, "step", x.step, "x", p.X, "y", p.Y)
	return nil
}

// gesture runs an auxiliary scroll or wait. defaultDirection applies to
// scrolls that specify neither a direction nor coordinates.
func (x *execution) gesture(ctx context.Context, g *catalog.Gesture, defaultDirection string) error {
	if g == nil {
		return nil
	}
	if g.Type == catalog.GestureWait {
		x.report(StateWaiting)
		return x.sleep(ctx, g.Duration)
	}

	from, to := x.scrollPoints(g, defaultDirection)
	x.report(StateActing)

	ictx, cancel := context.WithTimeout(ctx, x.cfg.InteractionTimeout+g.Duration)
	err := x.device.Swipe(ictx, from, to, g.Duration)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: swipe: %w", ErrInteraction, err)
	}
	x.interactions++

	x.report(StateWaiting)
	return x.sleep(ctx, g.Settle)
}

// scrollPoints resolves a scroll gesture to swipe endpoints. Without explicit
// coordinates the swipe runs down the centre column between 20% and 80% of
// the screen height; "up" moves the finger upwards.
func (x *execution) scrollPoints(g *catalog.Gesture, defaultDirection string) (image.Point, image.Point) {
	if g.Start != nil && g.End != nil {
		return *g.Start, *g.End
	}
	cx := x.cfg.ScreenWidth / 2
	low := x.cfg.ScreenHeight * 8 / 10
	high := x.cfg.ScreenHeight * 2 / 10

	dir := g.Direction
	if dir == "" {
		dir = defaultDirection
	}
	if dir == "down" {
		return image.Pt(cx, high), image.Pt(cx, low)
	}
	return image.Pt(cx, low), image.Pt(cx, high)
}

// checkSuccess captures once and reports whether the group's success image
// is on screen.
func (x *execution) checkSuccess(ctx context.Context) (bool, error) {
	si := x.group.SuccessImage
	tpl, err := x.templates.Load(x.group.TemplatePath(si.Template))
	if err != nil {
		return false, err
	}
	cand := vision.Candidate{ID: si.Template, Template: tpl, Threshold: si.Threshold}
	if si.Region != nil {
		cand.Region = si.Region.Rect()
	}

	res, err := x.find(ctx, cand)
	if err != nil {
		return false, err
	}
	return res.Found, nil
}

// sleep waits for d or until ctx is done.
func (x *execution) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
