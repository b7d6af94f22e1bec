// Package commands holds the stock chat commands wired in by the daemon.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/you/rumble-actor/internal/clip"
	"github.com/you/rumble-actor/internal/command"
	"github.com/you/rumble-actor/internal/core"
)

// Help lists the registered commands, or shows one command's help text.
func Help(reg *command.Registry) *command.Command {
	return &command.Command{
		Name: "help",
		Help: "List commands, or !help <command> for details.",
		Handler: func(inv command.Invocation, actor command.Actor) command.Outcome {
			if len(inv.Args) > 0 {
				name := strings.TrimPrefix(inv.Args[0], "!")
				cmd, ok := reg.Lookup(name)
				if !ok {
					reply(actor, fmt.Sprintf("No such command: %s", name))
					return command.Continue
				}
				text := cmd.Help
				if text == "" {
					text = "No help available for !" + name
				}
				reply(actor, text)
				return command.Continue
			}
			names := reg.Names()
			sort.Strings(names)
			reply(actor, "Commands: !"+strings.Join(names, ", !"))
			return command.Continue
		},
	}
}

// Lurk acknowledges a viewer settling in.
func Lurk() *command.Command {
	return &command.Command{
		Name: "lurk",
		Help: "Announce that you are lurking.",
		Handler: func(inv command.Invocation, actor command.Actor) command.Outcome {
			reply(actor, fmt.Sprintf("@%s is lurking in the shadows. Enjoy!", inv.Ev.User.Username))
			return command.Continue
		},
	}
}

// Killswitch lets staff stop the actor from chat.
func Killswitch() *command.Command {
	return &command.Command{
		Name:          "killswitch",
		Help:          "Shut the actor down (staff only).",
		Exclusive:     true,
		AllowedBadges: core.StaffBadges,
		Handler: func(inv command.Invocation, actor command.Actor) command.Outcome {
			slog.Warn("killswitch pulled", "by", inv.Ev.User.Username)
			reply(actor, "Shutting down. Goodbye!")
			return command.Shutdown
		},
	}
}

// Raffle runs a simple viewer raffle: anyone enters or leaves, staff draw.
type Raffle struct {
	mu      sync.Mutex
	entries []string
	winner  string
	rand    *rand.Rand
}

func NewRaffle() *Raffle {
	return &Raffle{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *Raffle) Command() *command.Command {
	return &command.Command{
		Name:    "raffle",
		Help:    "!raffle enter | remove [user] | count | winner | draw | reset (draw and reset are staff only).",
		Handler: r.handle,
	}
}

func (r *Raffle) handle(inv command.Invocation, actor command.Actor) command.Outcome {
	sub := "enter"
	if len(inv.Args) > 0 {
		sub = strings.ToLower(inv.Args[0])
	}
	user := inv.Ev.User.Username

	r.mu.Lock()
	defer r.mu.Unlock()
	switch sub {
	case "enter":
		for _, e := range r.entries {
			if e == user {
				reply(actor, fmt.Sprintf("@%s You are already entered.", user))
				return command.Continue
			}
		}
		r.entries = append(r.entries, user)
		reply(actor, fmt.Sprintf("@%s entered the raffle (%d entries).", user, len(r.entries)))
	case "remove":
		target := user
		if len(inv.Args) > 1 {
			// Removing someone else is a staff action.
			if !inv.Ev.User.IsStaff() {
				return command.Continue
			}
			target = strings.TrimPrefix(inv.Args[1], "@")
		}
		for i, e := range r.entries {
			if e == target {
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				if target == user {
					reply(actor, fmt.Sprintf("@%s left the raffle.", user))
				} else {
					reply(actor, fmt.Sprintf("@%s was removed from the raffle.", target))
				}
				return command.Continue
			}
		}
		if target == user {
			reply(actor, fmt.Sprintf("@%s You were not entered.", user))
		} else {
			reply(actor, fmt.Sprintf("@%s is not entered.", target))
		}
	case "count":
		reply(actor, fmt.Sprintf("The raffle has %d entries.", len(r.entries)))
	case "winner":
		if r.winner == "" {
			reply(actor, "No winner has been drawn yet.")
			return command.Continue
		}
		reply(actor, fmt.Sprintf("The raffle winner is @%s.", r.winner))
	case "draw":
		if !inv.Ev.User.IsStaff() {
			return command.Continue
		}
		if len(r.entries) < 2 {
			reply(actor, "The raffle needs at least 2 entries to draw.")
			return command.Continue
		}
		i := r.rand.Intn(len(r.entries))
		r.winner = r.entries[i]
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		reply(actor, fmt.Sprintf("The winner is @%s! Congratulations!", r.winner))
	case "reset":
		if !inv.Ev.User.IsStaff() {
			return command.Continue
		}
		r.entries = nil
		r.winner = ""
		reply(actor, "The raffle has been reset.")
	default:
		reply(actor, fmt.Sprintf("@%s Unknown raffle action %q.", user, sub))
	}
	return command.Continue
}

// Entries returns a copy of the current raffle entries.
func (r *Raffle) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

// Winner returns the last drawn winner, or "" when none has been drawn.
func (r *Raffle) Winner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.winner
}

// Speaker voices text; the TTS command uses it.
type Speaker interface {
	Say(text string) error
}

// TTS reads a paid message aloud.
func TTS(speaker Speaker, amountCents int) *command.Command {
	return &command.Command{
		Name:        "tts",
		Help:        fmt.Sprintf("Have your message read aloud ($%.2f).", float64(amountCents)/100),
		AmountCents: amountCents,
		Handler: func(inv command.Invocation, actor command.Actor) command.Outcome {
			text := strings.Join(inv.Args, " ")
			if text == "" {
				reply(actor, fmt.Sprintf("@%s Nothing to say.", inv.Ev.User.Username))
				return command.Continue
			}
			if err := speaker.Say(inv.Ev.User.Username + " says " + text); err != nil {
				slog.Warn("tts command failed", "err", err)
			}
			return command.Continue
		},
	}
}

// Clipper starts an asynchronous clip save; clip.Assembler and
// clip.RecordTrimmer satisfy it.
type Clipper interface {
	Save(ctx context.Context, name string, duration time.Duration) *clip.Job
}

// Clip cuts a clip of the recent stream: !clip [seconds] [name].
func Clip(clipper Clipper, defaultDur, maxDur, cooldown time.Duration) *command.Command {
	return &command.Command{
		Name:     "clip",
		Help:     "!clip [seconds] [name] saves the last moments of the stream.",
		Cooldown: cooldown,
		Handler: func(inv command.Invocation, actor command.Actor) command.Outcome {
			dur := defaultDur
			name := ""
			args := inv.Args
			if len(args) > 0 {
				if secs, err := strconv.Atoi(args[0]); err == nil && secs > 0 {
					dur = time.Duration(secs) * time.Second
					args = args[1:]
				}
			}
			if len(args) > 0 {
				name = strings.Join(args, "_")
			}
			if dur > maxDur {
				dur = maxDur
			}

			job := clipper.Save(context.Background(), name, dur)
			reply(actor, fmt.Sprintf("@%s Saving a %d second clip.", inv.Ev.User.Username, int(dur.Seconds())))
			go func() {
				<-job.Done
				if job.Err != nil {
					reply(actor, fmt.Sprintf("@%s Sorry, the clip failed.", inv.Ev.User.Username))
					return
				}
				if job.URL != "" {
					reply(actor, fmt.Sprintf("@%s Clip ready: %s", inv.Ev.User.Username, job.URL))
				} else {
					reply(actor, fmt.Sprintf("@%s Clip saved.", inv.Ev.User.Username))
				}
			}()
			return command.Continue
		},
	}
}

func reply(actor command.Actor, text string) {
	if err := actor.SendMessage(text); err != nil {
		slog.Warn("command reply failed", "err", err)
	}
}
