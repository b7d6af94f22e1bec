// Package command implements the chat command registry and the per-command
// gate chain (exclusivity, cooldown, payment).
package command

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
	"github.com/you/rumble-actor/internal/telemetry"
)

// Outcome lets a handler steer the actor after it runs. Handlers that just
// reply return Continue.
type Outcome int

const (
	Continue Outcome = iota
	// Shutdown asks the run loop to stop the session cleanly.
	Shutdown
)

// Actor is the surface handlers may call back into.
type Actor interface {
	SendMessage(text string) error
	DeleteMessage(ev *core.ChatEvent) error
	Username() string
}

// Invocation carries one parsed command call, along with the metadata the
// message actions accumulated for the event.
type Invocation struct {
	Name string
	Args []string
	Ev   *core.ChatEvent
	Meta pipeline.Metadata
}

// Handler runs the command body after all gates pass.
type Handler func(inv Invocation, actor Actor) Outcome

// Command is one registered chat command. Zero values mean: no cooldown
// beyond the global send cooldown, free, open to everyone.
type Command struct {
	Name     string
	Help     string
	Cooldown time.Duration
	// AmountCents is the price gate; paid-message events at or above it pass.
	AmountCents int
	// Exclusive restricts the command to AllowedBadges holders. The admin
	// badge always passes.
	Exclusive     bool
	AllowedBadges []string
	// FreeBadges holders skip the payment gate. Staff always skip it.
	FreeBadges []string
	Handler    Handler

	lastInvocation time.Time
	now            func() time.Time
}

// Check runs the gate chain in order: exclusivity, cooldown, payment. It
// returns an empty string when the invocation may proceed, otherwise the
// feedback line to send back to chat. lastInvocation advances only when
// every gate passes.
func (c *Command) Check(ev *core.ChatEvent) (feedback string, reason string) {
	if c.Exclusive && !ev.User.HasBadge("admin") && !ev.User.HasAnyBadge(c.AllowedBadges) {
		return "That command is exclusive to: " + strings.Join(c.AllowedBadges, ", ") + ".", "exclusive"
	}

	now := time.Now()
	if c.now != nil {
		now = c.now()
	}
	if c.Cooldown > 0 && !c.lastInvocation.IsZero() {
		elapsed := now.Sub(c.lastInvocation)
		if elapsed < c.Cooldown {
			remaining := (c.Cooldown - elapsed).Seconds()
			return fmt.Sprintf("@%s That command is still on cooldown. Try again in %d seconds.",
				ev.User.Username, int(remaining+0.5)), "cooldown"
		}
	}

	if c.AmountCents > 0 && ev.AmountCents < c.AmountCents {
		if !ev.User.IsStaff() && !ev.User.HasAnyBadge(c.FreeBadges) {
			return fmt.Sprintf("That command costs $%.2f.", float64(c.AmountCents)/100), "payment"
		}
	}

	c.lastInvocation = now
	return "", ""
}

// Registry maps command names to commands. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	prefix   string
	commands map[string]*Command
	// RespondUnknown controls whether unrecognized names get a reply.
	RespondUnknown bool
}

func NewRegistry(prefix string) *Registry {
	return &Registry{prefix: prefix, commands: map[string]*Command{}}
}

// Register adds cmd under its name. Names must not contain whitespace.
// Registering an existing name overwrites it with a warning.
func (r *Registry) Register(cmd *Command) error {
	if cmd.Name == "" || strings.ContainsAny(cmd.Name, " \t\n") {
		return fmt.Errorf("invalid command name %q", cmd.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[cmd.Name]; exists {
		slog.Warn("overwriting command", "name", cmd.Name)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// RegisterFunc wraps a bare handler into an ungated Command.
func (r *Registry) RegisterFunc(name string, fn Handler) error {
	return r.Register(&Command{Name: name, Handler: fn})
}

// Lookup returns the command registered under name, if any.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the registered command names, unordered.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.commands))
	for name := range r.commands {
		out = append(out, name)
	}
	return out
}

// Parse splits a chat line into an invocation if it starts with the command
// prefix. A bare prefix or prefix followed by whitespace is not a command.
func (r *Registry) Parse(ev *core.ChatEvent) (Invocation, bool) {
	text := ev.Text
	if !strings.HasPrefix(text, r.prefix) {
		return Invocation{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, r.prefix))
	if len(fields) == 0 || !strings.HasPrefix(text, r.prefix+fields[0]) {
		return Invocation{}, false
	}
	return Invocation{Name: fields[0], Args: fields[1:], Ev: ev}, true
}

// Dispatch parses ev and, when it names a command, runs the gate chain and
// the handler. meta is whatever the pipeline accumulated for the event; the
// handler sees it on the invocation. The returned Outcome is Continue unless
// a handler says otherwise.
func (r *Registry) Dispatch(ev *core.ChatEvent, meta pipeline.Metadata, actor Actor) Outcome {
	inv, ok := r.Parse(ev)
	if !ok {
		return Continue
	}
	inv.Meta = meta
	cmd, ok := r.Lookup(inv.Name)
	if !ok {
		telemetry.CommandsRejected.WithLabelValues("unknown").Inc()
		if r.RespondUnknown {
			if err := actor.SendMessage(fmt.Sprintf("@%s Invalid command.", ev.User.Username)); err != nil {
				slog.Warn("invalid-command reply failed", "err", err)
			}
		}
		return Continue
	}
	feedback, reason := cmd.Check(ev)
	if feedback != "" {
		telemetry.CommandsRejected.WithLabelValues(reason).Inc()
		if err := actor.SendMessage(feedback); err != nil {
			slog.Warn("gate feedback send failed", "command", inv.Name, "err", err)
		}
		return Continue
	}
	telemetry.CommandsRun.Inc()
	return r.run(cmd, inv, actor)
}

func (r *Registry) run(cmd *Command, inv Invocation, actor Actor) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.ActionErrors.WithLabelValues("command:" + cmd.Name).Inc()
			slog.Error("command handler panicked", "command", cmd.Name, "panic", rec)
			out = Continue
		}
	}()
	if cmd.Handler == nil {
		return Continue
	}
	return cmd.Handler(inv, actor)
}
