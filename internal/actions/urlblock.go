package actions

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
)

// HostResolver checks whether a hostname resolves. net.DefaultResolver
// satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// hostPattern matches dotted word sequences that could be hostnames,
// with or without a scheme.
var hostPattern = regexp.MustCompile(`(?i)(?:https?://)?([a-z0-9][a-z0-9-]*(?:\.[a-z0-9][a-z0-9-]*)+)`)

// URLBlocker deletes non-staff messages containing a link whose host
// actually resolves. Lookup results are memoized so repeated spam of the
// same host costs one DNS query.
type URLBlocker struct {
	resolver HostResolver
	timeout  time.Duration

	mu    sync.Mutex
	known map[string]bool
}

func NewURLBlocker(resolver HostResolver) *URLBlocker {
	return &URLBlocker{
		resolver: resolver,
		timeout:  5 * time.Second,
		known:    map[string]bool{},
	}
}

func (u *URLBlocker) Name() string { return "urlblock" }

func (u *URLBlocker) Apply(ev *core.ChatEvent, meta pipeline.Metadata, actor pipeline.Actor) (pipeline.Metadata, error) {
	if ev.User.IsStaff() {
		return nil, nil
	}
	for _, match := range hostPattern.FindAllStringSubmatch(ev.Text, -1) {
		host := strings.ToLower(match[1])
		if !u.resolves(host) {
			continue
		}
		if err := actor.DeleteMessage(ev); err != nil {
			return nil, err
		}
		slog.Info("deleted link message", "user", ev.User.Username, "host", host)
		return pipeline.Metadata{"deleted": true}, nil
	}
	return nil, nil
}

func (u *URLBlocker) resolves(host string) bool {
	u.mu.Lock()
	cached, ok := u.known[host]
	u.mu.Unlock()
	if ok {
		return cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()
	addrs, err := u.resolver.LookupHost(ctx, host)
	resolved := err == nil && len(addrs) > 0

	u.mu.Lock()
	u.known[host] = resolved
	u.mu.Unlock()
	return resolved
}
