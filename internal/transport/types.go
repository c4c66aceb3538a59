// Package transport defines the push-fallback delivery contract.
//
// A delivery token is an opaque string the client registered for its
// platform channel (for the Telegram adapter it is a chat id). Tokens are
// owned by the registration API; adapters treat unknown or revoked tokens
// as a silent skip, never a failure of the surrounding state transition.
package transport

import (
	"context"
	"errors"
)

// ErrInvalidToken marks a token the channel no longer accepts. Callers drop
// the token silently.
var ErrInvalidToken = errors.New("invalid delivery token")

// PushMessage is the fallback payload: a human-readable title/body plus the
// structured data a client uses to reconcile state.
type PushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Pusher delivers a message to one registered token.
type Pusher interface {
	Push(ctx context.Context, token string, msg PushMessage) error
}
