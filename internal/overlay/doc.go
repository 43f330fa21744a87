// Package overlay tracks the floating control surface drawn over the game.
//
// The surface has a single state machine:
//
//	permission: unknown ──request──▶ granted | denied
//	                       denied ──request──▶ granted | denied
//	activation (granted only):  inactive ⇄ active
//	menu (active only):         closed ⇄ open
//
// Activating the surface never starts a run. Trigger starts one through the
// supervisor and remembers its ID; Deactivate cancels that run so nothing
// keeps tapping the screen after the surface is gone. Losing permission
// while active deactivates.
package overlay
