// Package pipeline runs the ordered list of message actions against each
// inbound chat event, threading a shared metadata accumulator between them.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/telemetry"
)

// Metadata accumulates free-form string-tagged values across one pipeline
// pass. Well-known keys: "deleted" (truthy stops the pass and skips command
// dispatch), "sound" (set by whichever action played audio first).
type Metadata map[string]any

// Deleted reports whether the accumulator carries a truthy "deleted" tag.
func (m Metadata) Deleted() bool {
	v, ok := m["deleted"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Merge folds a delta into the accumulator; later keys overwrite.
func (m Metadata) Merge(delta Metadata) {
	for k, v := range delta {
		m[k] = v
	}
}

// Actor is the surface actions may call back into.
type Actor interface {
	SendMessage(text string) error
	DeleteMessage(ev *core.ChatEvent) error
	Username() string
}

// Action inspects one event and returns a metadata delta. An empty (or nil)
// delta means the message survives unchanged.
type Action interface {
	Name() string
	Apply(ev *core.ChatEvent, meta Metadata, actor Actor) (Metadata, error)
}

// ActionFunc adapts a bare function into an Action.
type ActionFunc struct {
	ActionName string
	Fn         func(ev *core.ChatEvent, meta Metadata, actor Actor) (Metadata, error)
}

func (a ActionFunc) Name() string { return a.ActionName }

func (a ActionFunc) Apply(ev *core.ChatEvent, meta Metadata, actor Actor) (Metadata, error) {
	return a.Fn(ev, meta, actor)
}

// DeletedCheck reports whether the platform removed the message out-of-band.
type DeletedCheck func(id string) bool

type Pipeline struct {
	actions []Action
	deleted DeletedCheck
}

func New(deleted DeletedCheck) *Pipeline {
	if deleted == nil {
		deleted = func(string) bool { return false }
	}
	return &Pipeline{deleted: deleted}
}

// Register appends an action; actions run in registration order.
func (p *Pipeline) Register(a Action) {
	p.actions = append(p.actions, a)
}

// RegisterFunc wraps fn into an Action and registers it.
func (p *Pipeline) RegisterFunc(name string, fn func(ev *core.ChatEvent, meta Metadata, actor Actor) (Metadata, error)) {
	p.Register(ActionFunc{ActionName: name, Fn: fn})
}

// Run executes all actions against ev. It returns the accumulated metadata
// and whether the event survived (false once a deletion signal appears; no
// later action runs and command dispatch must be skipped).
//
// A failing or panicking action is logged and skipped; the remaining
// actions still run. The source behavior of letting one bad action take
// down the whole session is deliberately not reproduced.
func (p *Pipeline) Run(ev *core.ChatEvent, actor Actor) (Metadata, bool) {
	meta := Metadata{}
	for _, a := range p.actions {
		if p.deleted(ev.ID) {
			return meta, false
		}
		delta, err := p.apply(a, ev, meta, actor)
		if err != nil {
			telemetry.ActionErrors.WithLabelValues(a.Name()).Inc()
			slog.Warn("message action failed", "action", a.Name(), "event_id", ev.ID, "err", err)
			continue
		}
		meta.Merge(delta)
		if meta.Deleted() {
			return meta, false
		}
	}
	if p.deleted(ev.ID) {
		return meta, false
	}
	return meta, true
}

func (p *Pipeline) apply(a Action, ev *core.ChatEvent, meta Metadata, actor Actor) (delta Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return a.Apply(ev, meta, actor)
}
