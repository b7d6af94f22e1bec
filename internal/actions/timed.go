package actions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
)

// Sender posts a chat line. The actor satisfies it.
type Sender interface {
	SendMessage(text string) error
}

// TimedMessages rotates through a fixed list of announcements from its own
// sender loop. An announcement goes out only when BOTH gates open: at least
// InBetween chat messages arrived since the last announcement AND at least
// Delay elapsed. Dead chat stays quiet; busy chat is not flooded. Apply only
// counts traffic; Run does the sending, so announcements fire on time even
// when chat goes quiet after the counter gate opened.
type TimedMessages struct {
	messages  []string
	delay     time.Duration
	inBetween int
	sender    Sender
	now       func() time.Time
	poll      time.Duration

	mu       sync.Mutex
	next     int
	count    int
	lastSent time.Time
}

func NewTimedMessages(messages []string, delay time.Duration, inBetween int, sender Sender) *TimedMessages {
	return &TimedMessages{
		messages:  messages,
		delay:     delay,
		inBetween: inBetween,
		sender:    sender,
		now:       time.Now,
		poll:      time.Second,
	}
}

func (t *TimedMessages) Name() string { return "timed-messages" }

func (t *TimedMessages) Apply(ev *core.ChatEvent, meta pipeline.Metadata, actor pipeline.Actor) (pipeline.Metadata, error) {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
	return nil, nil
}

// Run announces until ctx is canceled. The delay clock starts when the loop
// does, so the first announcement waits a full Delay after startup.
func (t *TimedMessages) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.lastSent.IsZero() {
		t.lastSent = t.now()
	}
	t.mu.Unlock()

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		t.announce()
	}
}

func (t *TimedMessages) announce() {
	t.mu.Lock()
	if len(t.messages) == 0 || t.count < t.inBetween || t.now().Sub(t.lastSent) < t.delay {
		t.mu.Unlock()
		return
	}
	msg := t.messages[t.next]
	t.next = (t.next + 1) % len(t.messages)
	t.count = 0
	t.lastSent = t.now()
	t.mu.Unlock()

	if err := t.sender.SendMessage(msg); err != nil {
		slog.Warn("timed message send failed", "err", err)
	}
}
