package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/autotouch-core/internal/catalog"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/autotouch-core/internal/vision"
)

// Logger defines the logging interface used by the Executor and Supervisor.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SequenceSource resolves sequence IDs. *catalog.Catalog satisfies it.
type SequenceSource interface {
	Get(id string) (catalog.TemplateGroup, error)
}

// DeviceProvider returns the device for a serial. An empty serial selects
// the default device.
type DeviceProvider interface {
	Device(serial string) Device
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// MQTTClient is the interface for publishing run state.
type MQTTClient interface {
	// Publish sends a message to the specified MQTT topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Metrics receives run and match measurements. *influxdb.Client satisfies it.
type Metrics interface {
	WriteRunMetric(sequenceID, result, reason string, steps, interactions int, duration time.Duration)
	WriteMatchMetric(sequenceID, template string, step, attempt int, confidence float64, found bool, elapsed time.Duration)
}

// Event channels broadcast by the supervisor.
const (
	EventRunStarted  = "run.started"
	EventRunState    = "run.state"
	EventRunFinished = "run.finished"
)

// archiveTimeout bounds the repository write after a run ends.
const archiveTimeout = 5 * time.Second

// defaultRecentRuns is how many finished runs are kept in memory.
const defaultRecentRuns = 100

// SupervisorDeps holds the collaborators of a Supervisor. Sequences, Devices,
// Matcher and Templates are required; the rest may be nil.
type SupervisorDeps struct {
	Sequences SequenceSource
	Devices   DeviceProvider
	Matcher   TemplateMatcher
	Templates TemplateLoader
	Executor  ExecutorConfig

	// RecentRuns bounds the in-memory history of finished runs.
	RecentRuns int

	// ArchiveLimit prunes the repository to the newest runs. 0 keeps all.
	ArchiveLimit int

	Repo    Repository
	Hub     WSHub
	MQTT    MQTTClient
	Metrics Metrics
	Logger  Logger
}

// Supervisor owns the lifecycle of runs. At most one run is non-terminal
// at any time; a start request while one is active is rejected, never queued.
//
// The supervisor is the only writer of run state. Every accessor returns a
// copy taken under the lock.
//
// Thread Safety: all methods are safe for concurrent use.
type Supervisor struct {
	deps   SupervisorDeps
	logger Logger
	topics mqtt.Topics

	mu     sync.Mutex
	active *liveRun
	recent map[string]ActionRun
	order  []string // recent IDs, oldest first
	closed bool

	wg sync.WaitGroup
}

type liveRun struct {
	run    ActionRun
	cancel context.CancelCauseFunc
	done   chan struct{}
	result ActionRun
}

// NewSupervisor creates a supervisor.
func NewSupervisor(deps SupervisorDeps) *Supervisor {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.RecentRuns <= 0 {
		deps.RecentRuns = defaultRecentRuns
	}
	return &Supervisor{
		deps:   deps,
		logger: deps.Logger,
		recent: make(map[string]ActionRun),
	}
}

// StartOption adjusts a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	device  string
	account string
}

// WithDevice runs the sequence on the device with the given serial.
func WithDevice(serial string) StartOption {
	return func(o *startOptions) {
		o.device = serial
	}
}

// WithAccount runs the account's variant of the sequence: the shared steps
// plus the steps tagged for account (see catalog.TemplateGroup.ForAccount).
func WithAccount(account string) StartOption {
	return func(o *startOptions) {
		o.account = account
	}
}

// RunHandle follows one started run.
type RunHandle struct {
	id string
	lr *liveRun
}

// ID returns the run ID.
func (h *RunHandle) ID() string {
	return h.id
}

// Done is closed once the run is terminal and archived.
func (h *RunHandle) Done() <-chan struct{} {
	return h.lr.done
}

// Result blocks until the run is terminal and returns its final snapshot.
func (h *RunHandle) Result() ActionRun {
	<-h.lr.done
	return h.lr.result.DeepCopy()
}

// Start launches a run of sequenceID.
//
// The run is not bound to ctx: it continues after the caller returns and
// ends only on completion, Cancel, or Close.
//
// Returns:
//   - *RunHandle: follows the new run
//   - error: nil on success, or:
//   - ErrUnknownSequence if the catalog has no such sequence
//   - ErrUnknownAccount if WithAccount names an account the sequence has no steps for
//   - ErrAlreadyRunning if another run is non-terminal
//   - ErrClosed after Close
func (s *Supervisor) Start(ctx context.Context, sequenceID string, origin Origin, opts ...StartOption) (*RunHandle, error) {
	var so startOptions
	for _, opt := range opts {
		opt(&so)
	}

	group, err := s.deps.Sequences.Get(sequenceID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSequence, sequenceID)
		}
		return nil, fmt.Errorf("resolving sequence %q: %w", sequenceID, err)
	}
	if so.account != "" {
		variant, err := group.ForAccount(so.account)
		if err != nil {
			return nil, fmt.Errorf("%w: %q in sequence %q", ErrUnknownAccount, so.account, sequenceID)
		}
		group = variant
	}
	if origin == "" {
		origin = OriginAPI
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.active != nil {
		activeID := s.active.run.ID
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, activeID)
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	lr := &liveRun{
		run: ActionRun{
			ID:           uuid.NewString(),
			SequenceID:   group.ID,
			SequenceName: group.Name,
			Origin:       origin,
			DeviceID:     so.device,
			Account:      so.account,
			State:        StatePending,
			StepCount:    len(group.Steps),
			StartedAt:    time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active = lr
	snap := lr.run.DeepCopy()
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("run started",
		"run_id", snap.ID,
		"sequence", snap.SequenceID,
		"origin", snap.Origin,
		"account", snap.Account,
		"steps", snap.StepCount,
	)
	s.publish(EventRunStarted, snap)

	device := s.deps.Devices.Device(so.device)
	go s.drive(runCtx, lr, group, device)

	return &RunHandle{id: snap.ID, lr: lr}, nil
}

func (s *Supervisor) drive(ctx context.Context, lr *liveRun, group catalog.TemplateGroup, device Device) {
	defer s.wg.Done()
	defer lr.cancel(nil)

	exec := NewExecutor(device, s.deps.Matcher, s.deps.Templates, s.deps.Executor, s.logger)
	out := exec.Execute(ctx, group, &runObserver{s: s, lr: lr})
	s.finish(lr, out)
}

// runObserver forwards executor progress for one run.
type runObserver struct {
	s  *Supervisor
	lr *liveRun
}

func (o *runObserver) StateChanged(p Progress) {
	if p.State.IsTerminal() {
		return
	}

	o.s.mu.Lock()
	r := &o.lr.run
	r.State = p.State
	r.StepIndex = p.StepIndex
	r.Attempt = p.Attempt
	r.LastConfidence = p.LastConfidence
	r.Interactions = p.Interactions
	snap := r.DeepCopy()
	o.s.mu.Unlock()

	o.s.publish(EventRunState, snap)
}

func (o *runObserver) Matched(step, attempt int, res vision.MatchResult, elapsed time.Duration) {
	o.s.logger.Debug("template matched",
		"run_id", o.lr.run.ID,
		"step", step,
		"attempt", attempt,
		"template", res.Template,
		"confidence", res.Confidence,
		"found", res.Found,
	)
	if o.s.deps.Metrics != nil {
		o.s.deps.Metrics.WriteMatchMetric(o.lr.run.SequenceID, res.Template, step, attempt, res.Confidence, res.Found, elapsed)
	}
}

// finish records the terminal state, archives the run and releases the slot.
func (s *Supervisor) finish(lr *liveRun, out Outcome) {
	now := time.Now().UTC()

	s.mu.Lock()
	r := &lr.run
	r.State = out.State
	r.Result = out.State
	r.Reason = out.Reason
	r.Message = out.Message()
	r.StepIndex = out.StepIndex
	r.Attempt = out.Attempt
	r.LastConfidence = out.LastConfidence
	r.Interactions = out.Interactions
	r.FinishedAt = &now
	snap := r.DeepCopy()
	lr.result = snap
	s.remember(snap)
	s.active = nil
	s.mu.Unlock()

	if s.deps.Repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		if err := s.deps.Repo.SaveRun(ctx, &snap); err != nil {
			s.logger.Error("failed to archive run", "run_id", snap.ID, "error", err)
		}
		if s.deps.ArchiveLimit > 0 {
			if _, err := s.deps.Repo.PruneRuns(ctx, s.deps.ArchiveLimit); err != nil {
				s.logger.Warn("failed to prune run archive", "error", err)
			}
		}
		cancel()
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.WriteRunMetric(snap.SequenceID, string(snap.Result), string(snap.Reason),
			snap.StepIndex+1, snap.Interactions, snap.Duration())
	}

	logArgs := []any{
		"run_id", snap.ID,
		"sequence", snap.SequenceID,
		"result", snap.Result,
		"step", snap.StepIndex,
		"interactions", snap.Interactions,
		"duration_ms", snap.Duration().Milliseconds(),
	}
	switch snap.Result {
	case StateSucceeded, StateCancelled:
		s.logger.Info("run finished", logArgs...)
	default:
		s.logger.Warn("run finished", append(logArgs, "reason", snap.Reason, "error", snap.Message)...)
	}

	s.publish(EventRunFinished, snap)
	close(lr.done)
}

// remember adds a finished run to the bounded in-memory history.
// Caller must hold s.mu.
func (s *Supervisor) remember(run ActionRun) {
	s.recent[run.ID] = run
	s.order = append(s.order, run.ID)
	for len(s.order) > s.deps.RecentRuns {
		delete(s.recent, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Supervisor) publish(event string, run ActionRun) {
	if s.deps.Hub != nil {
		s.deps.Hub.Broadcast(event, run)
	}
	if s.deps.MQTT == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"event": event,
		"run":   run,
	})
	if err != nil {
		s.logger.Error("marshalling run event", "error", err)
		return
	}
	var qos byte
	if event != EventRunState {
		qos = 1
	}
	topic := s.topics.RunState(run.ID)
	if err := s.deps.MQTT.Publish(topic, payload, qos, false); err != nil {
		s.logger.Debug("publishing run event failed", "topic", topic, "error", err)
	}
}

// Cancel requests cooperative cancellation of a run. Cancelling a run that
// already finished is a no-op.
//
// Returns ErrRunNotFound if the ID is neither live nor known.
func (s *Supervisor) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	if s.active != nil && s.active.run.ID == runID {
		s.active.cancel(ErrStopped)
		s.mu.Unlock()
		s.logger.Info("run cancel requested", "run_id", runID)
		return nil
	}
	_, known := s.recent[runID]
	s.mu.Unlock()

	if known {
		return nil
	}
	if s.deps.Repo != nil {
		if _, err := s.deps.Repo.GetRun(ctx, runID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// CancelActive cancels whatever run is active.
//
// Returns the cancelled run's ID and true, or "" and false when idle.
func (s *Supervisor) CancelActive() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	s.active.cancel(ErrStopped)
	s.logger.Info("run cancel requested", "run_id", s.active.run.ID)
	return s.active.run.ID, true
}

// Active returns a snapshot of the non-terminal run, if any.
func (s *Supervisor) Active() (ActionRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ActionRun{}, false
	}
	return s.active.run.DeepCopy(), true
}

// Status returns a snapshot of a live, recent or archived run.
func (s *Supervisor) Status(ctx context.Context, runID string) (ActionRun, error) {
	s.mu.Lock()
	if s.active != nil && s.active.run.ID == runID {
		snap := s.active.run.DeepCopy()
		s.mu.Unlock()
		return snap, nil
	}
	if run, ok := s.recent[runID]; ok {
		s.mu.Unlock()
		return run.DeepCopy(), nil
	}
	s.mu.Unlock()

	if s.deps.Repo != nil {
		run, err := s.deps.Repo.GetRun(ctx, runID)
		if err == nil {
			return *run, nil
		}
		if !errors.Is(err, ErrRunNotFound) {
			return ActionRun{}, err
		}
	}
	return ActionRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// History returns finished runs, newest first. The archive is used when
// configured, otherwise the in-memory history.
func (s *Supervisor) History(ctx context.Context, limit int) ([]ActionRun, error) {
	if s.deps.Repo != nil {
		return s.deps.Repo.ListRuns(ctx, "", limit)
	}

	s.mu.Lock()
	runs := make([]ActionRun, 0, len(s.recent))
	for _, r := range s.recent {
		runs = append(runs, r.DeepCopy())
	}
	s.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close rejects further starts, cancels the active run and waits for it to
// finish or for ctx to end.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.active != nil {
		s.active.cancel(ErrClosed)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for active run: %w", ctx.Err())
	}
}
