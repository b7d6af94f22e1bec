package actions

import (
	"time"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
)

// BlipPlayer emits the chat blip at the given volume in [0, 1].
type BlipPlayer interface {
	Blip(volume float64)
}

// ChatBlipper plays a quiet tick per chat message whose volume tracks how
// long chat has been silent: a lone message after a lull is loud, a flood
// fades itself out. The state is one timestamp, silentSince, conceptually
// "when chat last went quiet".
type ChatBlipper struct {
	player BlipPlayer
	// Regen is how long of silence restores full volume.
	Regen time.Duration
	// ReduceFraction is the share of Regen each blip pushes silentSince
	// forward, draining future volume.
	ReduceFraction float64
	// StayDead caps how far into the future silentSince may drift, which
	// bounds how long a flood mutes the blipper after it ends.
	StayDead time.Duration

	now         func() time.Time
	silentSince time.Time
}

func NewChatBlipper(player BlipPlayer, regen time.Duration, reduceFraction float64, stayDead time.Duration) *ChatBlipper {
	b := &ChatBlipper{
		player:         player,
		Regen:          regen,
		ReduceFraction: reduceFraction,
		StayDead:       stayDead,
		now:            time.Now,
	}
	b.silentSince = b.now().Add(-regen)
	return b
}

func (b *ChatBlipper) Name() string { return "chat-blipper" }

// Volume returns the current blip volume without playing.
func (b *ChatBlipper) Volume() float64 {
	return b.volumeAt(b.now())
}

func (b *ChatBlipper) volumeAt(now time.Time) float64 {
	if b.Regen <= 0 {
		return 1
	}
	v := float64(now.Sub(b.silentSince)) / float64(b.Regen)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (b *ChatBlipper) Apply(ev *core.ChatEvent, meta pipeline.Metadata, actor pipeline.Actor) (pipeline.Metadata, error) {
	now := b.now()
	b.player.Blip(b.volumeAt(now))

	// Drain. Silence beyond Regen is worth no extra volume, so clamp
	// first; then push silentSince forward by a fraction of Regen, capped
	// at StayDead past now.
	if now.Sub(b.silentSince) > b.Regen {
		b.silentSince = now.Add(-b.Regen)
	}
	b.silentSince = b.silentSince.Add(time.Duration(float64(b.Regen) * b.ReduceFraction))
	if limit := now.Add(b.StayDead); b.silentSince.After(limit) {
		b.silentSince = limit
	}
	return nil, nil
}
