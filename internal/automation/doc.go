// Package automation runs template sequences against a device.
//
// A sequence is the ordered step list of a catalog.TemplateGroup. Each run
// of a sequence is an ActionRun, driven by an Executor and owned by the
// Supervisor.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│               Supervisor (supervisor.go)              │
//	│  One active run, start/cancel/status, archive, events │
//	│  ┌──────────────┐    ┌───────────────┐                │
//	│  │   Executor   │───▶│  Repository   │                │
//	│  │(executor.go) │    │(repository.go)│                │
//	│  └──────────────┘    └───────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Per step                                    │     │
//	│  │  1. capture (bounded by CaptureTimeout)      │     │
//	│  │  2. match against the step template          │     │
//	│  │  3. retry up to MaxAttempts, AttemptDelay    │     │
//	│  │  4. tap match centre + offset                │     │
//	│  │  5. wait DelayAfter (cancellable)            │     │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Run states
//
//	pending → capturing → matching → acting → waiting → next step
//	                ▲          │                  │
//	                └─ retry ──┘                  └─▶ succeeded
//
// failed is entered when a step exhausts its attempts or an interaction
// fails, error when a template cannot be loaded, and cancelled from any
// non-terminal state once the run's context ends.
//
// # Thread Safety
//
// Supervisor methods are safe for concurrent use. The supervisor is the only
// writer of run state and hands out copies.
//
// # Usage
//
//	sup := automation.NewSupervisor(automation.SupervisorDeps{
//	    Sequences: cat,
//	    Devices:   devices,
//	    Matcher:   vision.NewMatcher(vision.Options{Scale: 0.5}),
//	    Templates: vision.NewTemplateStore(),
//	    Repo:      automation.NewSQLiteRepository(db.DB),
//	    Logger:    log,
//	})
//	h, err := sup.Start(ctx, "pegar_bau", automation.OriginAPI)
//	run := h.Result()
package automation
