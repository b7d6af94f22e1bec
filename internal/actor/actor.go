// Package actor runs one chat session: it pulls events from the transport,
// filters them, passes survivors through the action pipeline, and dispatches
// commands. Outbound messages go through the rate-limited outbox.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/you/rumble-actor/internal/command"
	"github.com/you/rumble-actor/internal/config"
	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
	"github.com/you/rumble-actor/internal/telemetry"
	"github.com/you/rumble-actor/internal/transport"
)

// historyLimit bounds the sent-text list used for self-echo detection.
const historyLimit = 256

type Actor struct {
	username string
	cfg      config.MessageConfig

	in       transport.Inbound
	outbox   *Outbox
	pipeline *pipeline.Pipeline
	registry *command.Registry

	maxInboxAge time.Duration
	ignore      map[string]bool

	// OnRaid handles raid notifications; they never reach the pipeline.
	OnRaid func(ev *core.ChatEvent)

	mu   sync.Mutex
	sent []string
}

func New(username string, cfg config.Config, in transport.Inbound, out transport.Outbound) *Actor {
	ignore := make(map[string]bool, len(cfg.Chat.IgnoreUsers))
	for _, u := range cfg.Chat.IgnoreUsers {
		ignore[u] = true
	}
	a := &Actor{
		username:    username,
		cfg:         cfg.Message,
		in:          in,
		outbox:      NewOutbox(out, cfg.Message.SendCooldown, cfg.Message.OutboxSize),
		registry:    command.NewRegistry(cfg.Message.CommandPrefix),
		maxInboxAge: cfg.Chat.MaxInboxAge,
		ignore:      ignore,
	}
	a.registry.RespondUnknown = cfg.Chat.InvalidRespond
	a.pipeline = pipeline.New(in.Deleted)
	return a
}

func (a *Actor) Username() string            { return a.username }
func (a *Actor) Pipeline() *pipeline.Pipeline { return a.pipeline }
func (a *Actor) Commands() *command.Registry  { return a.registry }
func (a *Actor) Outbox() *Outbox              { return a.outbox }

// SendMessage queues text for delivery, prefixed with the bot marker. Text
// with embedded newlines is rejected. Text longer than one message is split
// into max-length segments, up to the multi-message cap.
func (a *Actor) SendMessage(text string) error {
	full := a.cfg.BotPrefix + text
	if strings.ContainsRune(full, '\n') {
		return fmt.Errorf("message contains newline: %q", text)
	}
	runes := []rune(full)
	if len(runes) > a.cfg.MaxMultiLen {
		return fmt.Errorf("message length %d exceeds multi-message cap %d", len(runes), a.cfg.MaxMultiLen)
	}
	for start := 0; start < len(runes); start += a.cfg.MaxLen {
		end := start + a.cfg.MaxLen
		if end > len(runes) {
			end = len(runes)
		}
		segment := string(runes[start:end])
		a.recordSent(segment)
		a.outbox.Enqueue(segment)
	}
	return nil
}

// DeleteMessage removes ev from chat via the transport.
func (a *Actor) DeleteMessage(ev *core.ChatEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.in.Delete(ctx, ev.ID); err != nil {
		return err
	}
	telemetry.MessagesDeleted.Inc()
	return nil
}

// MuteUser mutes a user at the given severity via the transport.
func (a *Actor) MuteUser(username, level string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.in.MuteUser(ctx, username, level)
}

func (a *Actor) recordSent(text string) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	if len(a.sent) > historyLimit {
		a.sent = a.sent[len(a.sent)-historyLimit:]
	}
	a.mu.Unlock()
}

// consumeEcho reports whether text matches a message we sent, removing the
// matched entry so repeated identical chat lines are not all swallowed.
func (a *Actor) consumeEcho(text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.sent {
		if s == text {
			a.sent = append(a.sent[:i], a.sent[i+1:]...)
			return true
		}
	}
	return false
}

// Run processes chat until the session closes, ctx is canceled, or a
// command handler requests shutdown. The outbox dispatcher runs alongside
// and stops with the same ctx.
func (a *Actor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := a.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("outbox dispatcher exited", "err", err)
		}
	}()

	slog.Info("actor session started", "username", a.username)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, err := a.in.NextEvent(ctx)
		if err != nil {
			return err
		}
		if ev == nil {
			slog.Info("chat session closed")
			return nil
		}
		if a.handle(ev) == command.Shutdown {
			slog.Info("shutdown requested from chat")
			return nil
		}
	}
}

func (a *Actor) handle(ev *core.ChatEvent) command.Outcome {
	telemetry.EventsProcessed.Inc()

	if a.maxInboxAge > 0 && !ev.Ts.IsZero() && time.Since(ev.Ts) > a.maxInboxAge {
		telemetry.EventsDiscarded.WithLabelValues("stale").Inc()
		return command.Continue
	}

	if ev.RaidNotification {
		telemetry.EventsDiscarded.WithLabelValues("raid").Inc()
		if a.OnRaid != nil {
			a.OnRaid(ev)
		}
		return command.Continue
	}

	if ev.User.Username == a.username {
		// Any message under our own name proves a send completed by its
		// timestamp, whether or not we remember queueing it.
		a.outbox.ObserveSend(ev.Ts)
		if a.consumeEcho(ev.Text) {
			telemetry.EventsDiscarded.WithLabelValues("self-echo").Inc()
			return command.Continue
		}
	}

	if a.ignore[ev.User.Username] {
		telemetry.EventsDiscarded.WithLabelValues("ignored").Inc()
		return command.Continue
	}

	meta, ok := a.pipeline.Run(ev, a)
	if !ok {
		return command.Continue
	}

	return a.registry.Dispatch(ev, meta, a)
}
