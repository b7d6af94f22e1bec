package actor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/you/rumble-actor/internal/telemetry"
	"github.com/you/rumble-actor/internal/transport"
)

// Outbox is the bounded outbound message queue. Enqueue never blocks the
// caller; when the queue is full the oldest pending message is dropped with
// a warning. A single dispatcher goroutine drains it through the rate
// limiter and is the only writer of the last-send time, except for
// ObserveSend which folds in echoes of our own messages.
type Outbox struct {
	out     transport.Outbound
	limiter *rate.Limiter
	max     int

	mu       sync.Mutex
	pending  []string
	lastSend time.Time
	notify   chan struct{}
}

func NewOutbox(out transport.Outbound, minInterval time.Duration, size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{
		out:     out,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		max:     size,
		pending: make([]string, 0, size),
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue appends text to the queue, evicting the oldest entry when full.
func (o *Outbox) Enqueue(text string) {
	o.mu.Lock()
	if len(o.pending) >= o.max {
		dropped := o.pending[0]
		copy(o.pending, o.pending[1:])
		o.pending = o.pending[:len(o.pending)-1]
		telemetry.OutboxDropped.Inc()
		slog.Warn("outbox full, dropping oldest message", "dropped", dropped)
	}
	o.pending = append(o.pending, text)
	telemetry.OutboxDepth.Set(float64(len(o.pending)))
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Depth returns the number of queued messages.
func (o *Outbox) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// LastSend returns the time of the most recent dispatch (or observed echo).
func (o *Outbox) LastSend() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSend
}

// ObserveSend advances the last-send clock to ts if it is later. The run
// loop calls this when an echo of our own message shows up in chat, which
// proves a send completed at least that recently.
func (o *Outbox) ObserveSend(ts time.Time) {
	o.mu.Lock()
	if ts.After(o.lastSend) {
		o.lastSend = ts
	}
	o.mu.Unlock()
}

// Run dispatches queued messages until ctx is canceled. Send failures are
// logged and the message is dropped; the platform offers no redelivery.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		text, ok := o.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.notify:
				continue
			}
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := o.out.Send(ctx, text); err != nil {
			slog.Warn("outbound send failed", "err", err)
		}
		o.ObserveSend(time.Now())
	}
}

func (o *Outbox) pop() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending) == 0 {
		return "", false
	}
	text := o.pending[0]
	copy(o.pending, o.pending[1:])
	o.pending = o.pending[:len(o.pending)-1]
	telemetry.OutboxDepth.Set(float64(len(o.pending)))
	return text, true
}
