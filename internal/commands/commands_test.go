package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/you/rumble-actor/internal/clip"
	"github.com/you/rumble-actor/internal/command"
	"github.com/you/rumble-actor/internal/core"
)

type fakeActor struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeActor) SendMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeActor) DeleteMessage(ev *core.ChatEvent) error { return nil }
func (f *fakeActor) Username() string                       { return "bot" }

func (f *fakeActor) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func event(user, text string, badges ...string) *core.ChatEvent {
	return &core.ChatEvent{
		ID:   "m1",
		Ts:   time.Now(),
		User: core.User{Username: user, Badges: badges},
		Text: text,
	}
}

func dispatch(t *testing.T, reg *command.Registry, a *fakeActor, ev *core.ChatEvent) command.Outcome {
	t.Helper()
	return reg.Dispatch(ev, nil, a)
}

func TestHelpListsCommands(t *testing.T) {
	reg := command.NewRegistry("!")
	reg.Register(Help(reg))
	reg.Register(Lurk())
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!help"))
	msgs := a.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent = %v", msgs)
	}
	if !strings.Contains(msgs[0], "!help") || !strings.Contains(msgs[0], "!lurk") {
		t.Fatalf("listing = %q", msgs[0])
	}

	dispatch(t, reg, a, event("alice", "!help lurk"))
	msgs = a.messages()
	if msgs[1] != "Announce that you are lurking." {
		t.Fatalf("help text = %q", msgs[1])
	}

	dispatch(t, reg, a, event("alice", "!help nosuch"))
	msgs = a.messages()
	if !strings.Contains(msgs[2], "No such command") {
		t.Fatalf("unknown help = %q", msgs[2])
	}
}

func TestLurk(t *testing.T) {
	reg := command.NewRegistry("!")
	reg.Register(Lurk())
	a := &fakeActor{}
	dispatch(t, reg, a, event("alice", "!lurk"))
	msgs := a.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "@alice") {
		t.Fatalf("sent = %v", msgs)
	}
}

func TestKillswitchStaffOnly(t *testing.T) {
	reg := command.NewRegistry("!")
	reg.Register(Killswitch())
	a := &fakeActor{}

	if out := dispatch(t, reg, a, event("viewer", "!killswitch")); out != command.Continue {
		t.Fatal("non-staff pulled the killswitch")
	}
	if out := dispatch(t, reg, a, event("mod", "!killswitch", "moderator")); out != command.Shutdown {
		t.Fatal("staff killswitch did not shut down")
	}
}

func TestRaffleScenario(t *testing.T) {
	reg := command.NewRegistry("!")
	raffle := NewRaffle()
	reg.Register(raffle.Command())
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!raffle enter"))
	dispatch(t, reg, a, event("bob", "!raffle enter"))
	if got := raffle.Entries(); len(got) != 2 {
		t.Fatalf("entries = %v", got)
	}

	// Double entry is refused.
	dispatch(t, reg, a, event("alice", "!raffle enter"))
	if got := raffle.Entries(); len(got) != 2 {
		t.Fatalf("entries after double enter = %v", got)
	}

	// Non-staff draw is a silent no-op.
	dispatch(t, reg, a, event("carol", "!raffle draw"))
	if got := raffle.Entries(); len(got) != 2 {
		t.Fatalf("entries after pleb draw = %v", got)
	}

	dispatch(t, reg, a, event("mod", "!raffle draw", "moderator"))
	msgs := a.messages()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last, "@alice") && !strings.Contains(last, "@bob") {
		t.Fatalf("winner announcement = %q", last)
	}
	if got := raffle.Entries(); len(got) != 1 {
		t.Fatalf("entries after draw = %v", got)
	}
	if raffle.Winner() == "" {
		t.Fatal("no winner recorded after draw")
	}

	// Non-staff reset is a silent no-op, staff reset clears everything.
	dispatch(t, reg, a, event("carol", "!raffle reset"))
	if got := raffle.Entries(); len(got) != 1 {
		t.Fatalf("entries after pleb reset = %v", got)
	}
	dispatch(t, reg, a, event("mod", "!raffle reset", "moderator"))
	if got := raffle.Entries(); len(got) != 0 {
		t.Fatalf("entries after reset = %v", got)
	}
	if raffle.Winner() != "" {
		t.Fatalf("winner survived reset: %q", raffle.Winner())
	}
}

func TestRaffleDrawNeedsTwoEntries(t *testing.T) {
	reg := command.NewRegistry("!")
	raffle := NewRaffle()
	reg.Register(raffle.Command())
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!raffle enter"))
	dispatch(t, reg, a, event("mod", "!raffle draw", "moderator"))
	msgs := a.messages()
	if !strings.Contains(msgs[len(msgs)-1], "at least 2 entries") {
		t.Fatalf("draw reply = %q", msgs[len(msgs)-1])
	}
	if raffle.Winner() != "" {
		t.Fatalf("winner drawn from a single entry: %q", raffle.Winner())
	}
	if got := raffle.Entries(); len(got) != 1 {
		t.Fatalf("entries = %v", got)
	}
}

func TestRaffleWinnerQuery(t *testing.T) {
	reg := command.NewRegistry("!")
	raffle := NewRaffle()
	reg.Register(raffle.Command())
	a := &fakeActor{}

	dispatch(t, reg, a, event("carol", "!raffle winner"))
	msgs := a.messages()
	if !strings.Contains(msgs[len(msgs)-1], "No winner") {
		t.Fatalf("winner reply = %q", msgs[len(msgs)-1])
	}

	dispatch(t, reg, a, event("alice", "!raffle enter"))
	dispatch(t, reg, a, event("bob", "!raffle enter"))
	dispatch(t, reg, a, event("mod", "!raffle draw", "moderator"))

	dispatch(t, reg, a, event("carol", "!raffle winner"))
	msgs = a.messages()
	if !strings.Contains(msgs[len(msgs)-1], "@"+raffle.Winner()) {
		t.Fatalf("winner reply = %q, winner = %q", msgs[len(msgs)-1], raffle.Winner())
	}
}

func TestRaffleStaffRemovesOther(t *testing.T) {
	reg := command.NewRegistry("!")
	raffle := NewRaffle()
	reg.Register(raffle.Command())
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!raffle enter"))
	dispatch(t, reg, a, event("bob", "!raffle enter"))

	// Non-staff cannot remove someone else.
	dispatch(t, reg, a, event("bob", "!raffle remove alice"))
	if got := raffle.Entries(); len(got) != 2 {
		t.Fatalf("entries after pleb remove = %v", got)
	}

	dispatch(t, reg, a, event("mod", "!raffle remove @alice", "moderator"))
	got := raffle.Entries()
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("entries after staff remove = %v", got)
	}
	msgs := a.messages()
	if !strings.Contains(msgs[len(msgs)-1], "@alice was removed") {
		t.Fatalf("remove reply = %q", msgs[len(msgs)-1])
	}
}

func TestRaffleRemoveAndCount(t *testing.T) {
	reg := command.NewRegistry("!")
	raffle := NewRaffle()
	reg.Register(raffle.Command())
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!raffle enter"))
	dispatch(t, reg, a, event("alice", "!raffle remove"))
	if got := raffle.Entries(); len(got) != 0 {
		t.Fatalf("entries = %v", got)
	}
	dispatch(t, reg, a, event("bob", "!raffle count"))
	msgs := a.messages()
	if !strings.Contains(msgs[len(msgs)-1], "0 entries") {
		t.Fatalf("count reply = %q", msgs[len(msgs)-1])
	}
}

type fakeSpeaker struct {
	spoken []string
}

func (f *fakeSpeaker) Say(text string) error {
	f.spoken = append(f.spoken, text)
	return nil
}

func TestTTSPaymentGate(t *testing.T) {
	reg := command.NewRegistry("!")
	sp := &fakeSpeaker{}
	reg.Register(TTS(sp, 200))
	a := &fakeActor{}

	dispatch(t, reg, a, event("viewer", "!tts hello chat"))
	if len(sp.spoken) != 0 {
		t.Fatalf("free tts spoke: %v", sp.spoken)
	}
	msgs := a.messages()
	if msgs[0] != "That command costs $2.00." {
		t.Fatalf("gate reply = %q", msgs[0])
	}

	ev := event("payer", "!tts hello chat")
	ev.AmountCents = 300
	dispatch(t, reg, a, ev)
	if len(sp.spoken) != 1 || sp.spoken[0] != "payer says hello chat" {
		t.Fatalf("spoken = %v", sp.spoken)
	}
}

type fakeClipper struct {
	mu    sync.Mutex
	names []string
	durs  []time.Duration
	err   error
	url   string
}

func (f *fakeClipper) Save(ctx context.Context, name string, duration time.Duration) *clip.Job {
	f.mu.Lock()
	f.names = append(f.names, name)
	f.durs = append(f.durs, duration)
	f.mu.Unlock()
	job := &clip.Job{ID: uuid.NewString(), Name: name, Duration: duration, Done: make(chan struct{})}
	job.Err = f.err
	job.URL = f.url
	close(job.Done)
	return job
}

func waitForMessages(t *testing.T, a *fakeActor, n int) []string {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		msgs := a.messages()
		if len(msgs) >= n {
			return msgs
		}
		select {
		case <-deadline:
			t.Fatalf("only %d messages: %v", len(msgs), msgs)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClipDefaults(t *testing.T) {
	reg := command.NewRegistry("!")
	cl := &fakeClipper{url: "https://clips.example/x.mp4"}
	reg.Register(Clip(cl, 60*time.Second, 120*time.Second, 0))
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!clip"))
	msgs := waitForMessages(t, a, 2)
	if !strings.Contains(msgs[0], "60 second clip") {
		t.Fatalf("ack = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "https://clips.example/x.mp4") {
		t.Fatalf("done reply = %q", msgs[1])
	}
	if cl.durs[0] != 60*time.Second || cl.names[0] != "" {
		t.Fatalf("save args = %v %v", cl.durs, cl.names)
	}
}

func TestClipParsesArgsAndCapsDuration(t *testing.T) {
	reg := command.NewRegistry("!")
	cl := &fakeClipper{}
	reg.Register(Clip(cl, 60*time.Second, 120*time.Second, 0))
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!clip 500 great moment"))
	waitForMessages(t, a, 2)
	if cl.durs[0] != 120*time.Second {
		t.Fatalf("duration = %v, want capped 120s", cl.durs[0])
	}
	if cl.names[0] != "great_moment" {
		t.Fatalf("name = %q", cl.names[0])
	}

	// Name without a leading number keeps the default duration.
	dispatch(t, reg, a, event("bob", "!clip epic"))
	waitForMessages(t, a, 4)
	if cl.durs[1] != 60*time.Second || cl.names[1] != "epic" {
		t.Fatalf("save args = %v %v", cl.durs, cl.names)
	}
}

func TestClipFailureReply(t *testing.T) {
	reg := command.NewRegistry("!")
	cl := &fakeClipper{err: context.DeadlineExceeded}
	reg.Register(Clip(cl, 60*time.Second, 120*time.Second, 0))
	a := &fakeActor{}

	dispatch(t, reg, a, event("alice", "!clip"))
	msgs := waitForMessages(t, a, 2)
	if !strings.Contains(msgs[1], "clip failed") {
		t.Fatalf("failure reply = %q", msgs[1])
	}
}
