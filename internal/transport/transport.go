// Package transport defines the chat transport boundary. The actor core
// depends on these interfaces only; internal/rumble provides the live
// implementation.
package transport

import (
	"context"

	"github.com/you/rumble-actor/internal/core"
)

// Mute severity levels understood by the platform.
const (
	MuteFiveMinutes = "5"
	MuteStream      = "stream"
	MuteForever     = "forever"
)

// Inbound yields chat events and exposes moderation side effects.
type Inbound interface {
	// NextEvent blocks until the next chat event arrives. A nil event with
	// a nil error means the session closed.
	NextEvent(ctx context.Context) (*core.ChatEvent, error)

	// Deleted reports whether the platform has removed the message.
	Deleted(id string) bool

	Delete(ctx context.Context, id string) error
	MuteUser(ctx context.Context, username, level string) error
	Pin(ctx context.Context, id string) error
	Unpin(ctx context.Context) error
}

// Outbound performs the actual network send of one message segment.
// Only the outbox dispatcher calls it.
type Outbound interface {
	Send(ctx context.Context, text string) error
}
