// Package storage owns all authoritative task, session, proof, and
// push-token state.
//
// Two drivers exist: a SQLite file (the default, WAL mode, single writer)
// and an in-memory store used by tests. Both implement the same
// compare-and-swap semantics on status columns, which is what makes
// concurrent scheduler ticks and request handlers safe against each other.
package storage
