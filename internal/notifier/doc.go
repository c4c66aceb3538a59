// Package notifier dispatches lifecycle transition events to clients.
//
// One committed state transition produces one Event, addressed to exactly
// one owner. The dispatcher feeds it into two independent best-effort sinks:
//
// # Live channel
//
// The Hub fans events out to per-owner subscribers (SSE streams on the HTTP
// surface). Delivery is non-blocking; slow consumers drop events and recover
// by re-querying current task status.
//
// # Push fallback
//
// A queue + worker pool delivers a push-style payload to every delivery
// token the owner registered, through a transport.Pusher (Telegram adapter
// in this repo). Sends are rate limited and retried with backoff; invalid
// tokens are skipped silently. A push failure is logged and never surfaces
// to the caller; the state transition it announces is already committed.
package notifier
