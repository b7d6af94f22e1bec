package actions

import (
	"log/slog"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
)

// Speaker voices a chat line, typically through a local TTS engine.
type Speaker interface {
	Say(text string) error
}

// RantTTS reads paid messages aloud once they meet the price threshold.
// It stands down when an earlier action already claimed the audio channel
// for this event, and claims it otherwise.
type RantTTS struct {
	speaker Speaker
	// MinAmountCents is the smallest rant that gets voiced. Zero voices
	// every rant.
	MinAmountCents int
}

func NewRantTTS(speaker Speaker, minAmountCents int) *RantTTS {
	return &RantTTS{speaker: speaker, MinAmountCents: minAmountCents}
}

func (r *RantTTS) Name() string { return "rant-tts" }

func (r *RantTTS) Apply(ev *core.ChatEvent, meta pipeline.Metadata, actor pipeline.Actor) (pipeline.Metadata, error) {
	if !ev.IsRant || ev.AmountCents < r.MinAmountCents {
		return nil, nil
	}
	if claimed, ok := meta["sound"].(bool); ok && claimed {
		return nil, nil
	}
	if err := r.speaker.Say(ev.User.Username + " says " + ev.Text); err != nil {
		slog.Warn("tts failed", "user", ev.User.Username, "err", err)
		return nil, nil
	}
	return pipeline.Metadata{"sound": true}, nil
}
