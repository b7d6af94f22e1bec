// Package thanker watches the channel's follower and subscriber feeds and
// thanks newcomers in chat.
package thanker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/you/rumble-actor/internal/rumble"
)

// Feed is the slice of the platform API the thanker polls.
type Feed interface {
	RecentFollowers(ctx context.Context) ([]rumble.Follower, error)
	RecentSubscribers(ctx context.Context) ([]rumble.Subscriber, error)
}

// Sender posts the thank-you lines.
type Sender interface {
	SendMessage(text string) error
}

type Thanker struct {
	feed   Feed
	sender Sender

	Interval       time.Duration
	FollowerText   string // %s is the username
	SubscriberText string

	seenFollowers   map[string]bool
	seenSubscribers map[string]bool
	primed          bool
}

func New(feed Feed, sender Sender) *Thanker {
	return &Thanker{
		feed:            feed,
		sender:          sender,
		Interval:        time.Minute,
		FollowerText:    "Thank you for the follow, %s!",
		SubscriberText:  "Thank you for subscribing, %s!",
		seenFollowers:   map[string]bool{},
		seenSubscribers: map[string]bool{},
	}
}

// Run polls until ctx is canceled. The first poll only seeds the seen sets
// so old followers are not thanked on startup.
func (t *Thanker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		if err := t.poll(ctx); err != nil {
			slog.Warn("thanker poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Thanker) poll(ctx context.Context) error {
	followers, err := t.feed.RecentFollowers(ctx)
	if err != nil {
		return err
	}
	subscribers, err := t.feed.RecentSubscribers(ctx)
	if err != nil {
		return err
	}

	if !t.primed {
		for _, f := range followers {
			t.seenFollowers[f.Username] = true
		}
		for _, s := range subscribers {
			t.seenSubscribers[s.Username] = true
		}
		t.primed = true
		return nil
	}

	for _, f := range followers {
		if t.seenFollowers[f.Username] {
			continue
		}
		t.seenFollowers[f.Username] = true
		if err := t.sender.SendMessage(fmt.Sprintf(t.FollowerText, f.Username)); err != nil {
			slog.Warn("follower thanks failed", "user", f.Username, "err", err)
		}
	}
	for _, s := range subscribers {
		if t.seenSubscribers[s.Username] {
			continue
		}
		t.seenSubscribers[s.Username] = true
		if err := t.sender.SendMessage(fmt.Sprintf(t.SubscriberText, s.Username)); err != nil {
			slog.Warn("subscriber thanks failed", "user", s.Username, "err", err)
		}
	}
	return nil
}
