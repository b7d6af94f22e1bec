// Package actions provides the built-in message actions: moderation, link
// blocking, paid-message speech, timed announcements, the chat blipper, and
// the archive writer.
package actions

import (
	"log/slog"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
)

// Classifier decides whether a chat line is acceptable.
type Classifier interface {
	// Acceptable returns false when the text should be removed. An error
	// means no verdict; the message is then left alone.
	Acceptable(text string) (bool, error)
}

// Moderator deletes messages the classifier rejects. Blank messages and
// staff messages are never inspected.
type Moderator struct {
	classifier Classifier
	// MuteLevel, when non-empty, additionally mutes the sender at that
	// severity. Requires an actor that can mute.
	MuteLevel string
}

// UserMuter is implemented by actors that can mute chat participants.
type UserMuter interface {
	MuteUser(username, level string) error
}

func NewModerator(classifier Classifier) *Moderator {
	return &Moderator{classifier: classifier}
}

func (m *Moderator) Name() string { return "moderate" }

func (m *Moderator) Apply(ev *core.ChatEvent, meta pipeline.Metadata, actor pipeline.Actor) (pipeline.Metadata, error) {
	if ev.Text == "" || ev.User.IsStaff() {
		return nil, nil
	}
	ok, err := m.classifier.Acceptable(ev.Text)
	if err != nil {
		slog.Warn("moderation verdict unavailable", "user", ev.User.Username, "err", err)
		return nil, nil
	}
	if ok {
		return nil, nil
	}
	if err := actor.DeleteMessage(ev); err != nil {
		return nil, err
	}
	slog.Info("deleted message", "user", ev.User.Username)
	if m.MuteLevel != "" {
		if muter, ok := actor.(UserMuter); ok {
			if err := muter.MuteUser(ev.User.Username, m.MuteLevel); err != nil {
				slog.Warn("mute failed", "user", ev.User.Username, "err", err)
			}
		}
	}
	return pipeline.Metadata{"deleted": true}, nil
}
