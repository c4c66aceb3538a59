// Package engine converts wall-clock time into task and session state
// transitions.
//
// A single background actor sweeps the store on a fixed cadence: the
// activation sweep moves due pending tasks to active, the expiry sweep moves
// overrun active tasks to completed. All transitions go through conditional
// store updates, so a duplicate or concurrent sweep observes "0 rows
// affected" and skips. Ticks are idempotent and the engine never caches
// authoritative state between them.
package engine
