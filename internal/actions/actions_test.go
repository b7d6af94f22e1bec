package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/you/rumble-actor/internal/core"
	"github.com/you/rumble-actor/internal/pipeline"
)

type fakeActor struct {
	sent    []string
	deleted []string
	muted   []string
}

func (f *fakeActor) SendMessage(text string) error { f.sent = append(f.sent, text); return nil }
func (f *fakeActor) DeleteMessage(ev *core.ChatEvent) error {
	f.deleted = append(f.deleted, ev.ID)
	return nil
}
func (f *fakeActor) Username() string { return "bot" }
func (f *fakeActor) MuteUser(username, level string) error {
	f.muted = append(f.muted, username+":"+level)
	return nil
}

func event(id, user, text string, badges ...string) *core.ChatEvent {
	return &core.ChatEvent{ID: id, Ts: time.Now(), User: core.User{Username: user, Badges: badges}, Text: text}
}

type fakeClassifier struct {
	verdict bool
	err     error
	asked   []string
}

func (f *fakeClassifier) Acceptable(text string) (bool, error) {
	f.asked = append(f.asked, text)
	return f.verdict, f.err
}

func TestModeratorDeletesRejected(t *testing.T) {
	cl := &fakeClassifier{verdict: false}
	m := NewModerator(cl)
	a := &fakeActor{}

	meta, err := m.Apply(event("m1", "alice", "bad words"), pipeline.Metadata{}, a)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Deleted() {
		t.Fatal("rejected message not marked deleted")
	}
	if len(a.deleted) != 1 || a.deleted[0] != "m1" {
		t.Fatalf("deleted = %v", a.deleted)
	}
}

func TestModeratorSkipsBlankAndStaff(t *testing.T) {
	cl := &fakeClassifier{verdict: false}
	m := NewModerator(cl)
	a := &fakeActor{}

	m.Apply(event("m1", "alice", ""), pipeline.Metadata{}, a)
	m.Apply(event("m2", "mod", "anything", "moderator"), pipeline.Metadata{}, a)
	if len(cl.asked) != 0 {
		t.Fatalf("classifier consulted for %v", cl.asked)
	}
	if len(a.deleted) != 0 {
		t.Fatalf("deleted = %v", a.deleted)
	}
}

func TestModeratorErrorIsSafe(t *testing.T) {
	cl := &fakeClassifier{err: errors.New("model offline")}
	m := NewModerator(cl)
	a := &fakeActor{}

	meta, err := m.Apply(event("m1", "alice", "hmm"), pipeline.Metadata{}, a)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Deleted() || len(a.deleted) != 0 {
		t.Fatal("message deleted on classifier error")
	}
}

func TestModeratorMutes(t *testing.T) {
	m := NewModerator(&fakeClassifier{verdict: false})
	m.MuteLevel = "5"
	a := &fakeActor{}
	m.Apply(event("m1", "alice", "bad"), pipeline.Metadata{}, a)
	if len(a.muted) != 1 || a.muted[0] != "alice:5" {
		t.Fatalf("muted = %v", a.muted)
	}
}

type fakeResolver struct {
	hosts   map[string]bool
	lookups int
}

func (f *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	f.lookups++
	if f.hosts[host] {
		return []string{"93.184.216.34"}, nil
	}
	return nil, errors.New("no such host")
}

func TestURLBlocker(t *testing.T) {
	r := &fakeResolver{hosts: map[string]bool{"example.com": true}}
	u := NewURLBlocker(r)

	a := &fakeActor{}
	meta, err := u.Apply(event("m1", "alice", "go to https://example.com now"), pipeline.Metadata{}, a)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Deleted() {
		t.Fatal("resolvable link not deleted")
	}

	// Non-resolvable hosts pass.
	a2 := &fakeActor{}
	meta, err = u.Apply(event("m2", "alice", "version 1.2.3 released"), pipeline.Metadata{}, a2)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Deleted() || len(a2.deleted) != 0 {
		t.Fatal("non-link message deleted")
	}
}

func TestURLBlockerStaffExempt(t *testing.T) {
	r := &fakeResolver{hosts: map[string]bool{"example.com": true}}
	u := NewURLBlocker(r)
	a := &fakeActor{}
	meta, _ := u.Apply(event("m1", "mod", "see example.com", "moderator"), pipeline.Metadata{}, a)
	if meta.Deleted() {
		t.Fatal("staff link deleted")
	}
	if r.lookups != 0 {
		t.Fatal("resolver consulted for staff")
	}
}

func TestURLBlockerMemoizes(t *testing.T) {
	r := &fakeResolver{hosts: map[string]bool{"example.com": true}}
	u := NewURLBlocker(r)
	for i := 0; i < 3; i++ {
		u.Apply(event("m", "alice", "example.com"), pipeline.Metadata{}, &fakeActor{})
	}
	if r.lookups != 1 {
		t.Fatalf("lookups = %d, want 1", r.lookups)
	}
}

type fakeSpeaker struct {
	spoken []string
	err    error
}

func (f *fakeSpeaker) Say(text string) error {
	if f.err != nil {
		return f.err
	}
	f.spoken = append(f.spoken, text)
	return nil
}

func TestRantTTS(t *testing.T) {
	sp := &fakeSpeaker{}
	r := NewRantTTS(sp, 500)

	ev := event("m1", "alice", "big fan")
	ev.IsRant = true
	ev.AmountCents = 1000
	meta, err := r.Apply(ev, pipeline.Metadata{}, &fakeActor{})
	if err != nil {
		t.Fatal(err)
	}
	if meta["sound"] != true {
		t.Fatal("sound not claimed")
	}
	if len(sp.spoken) != 1 {
		t.Fatalf("spoken = %v", sp.spoken)
	}

	// Below threshold: silent.
	cheap := event("m2", "bob", "hi")
	cheap.IsRant = true
	cheap.AmountCents = 100
	if meta, _ := r.Apply(cheap, pipeline.Metadata{}, &fakeActor{}); meta != nil {
		t.Fatal("cheap rant voiced")
	}

	// Sound already claimed: silent.
	ev2 := event("m3", "carol", "again")
	ev2.IsRant = true
	ev2.AmountCents = 1000
	if meta, _ := r.Apply(ev2, pipeline.Metadata{"sound": true}, &fakeActor{}); meta != nil {
		t.Fatal("spoke over claimed audio channel")
	}
}

func TestTimedMessagesDualGate(t *testing.T) {
	now := time.Unix(1000, 0)
	a := &fakeActor{}
	tm := NewTimedMessages([]string{"follow me", "join discord"}, time.Minute, 3, a)
	tm.now = func() time.Time { return now }
	tm.lastSent = now

	// Enough messages but not enough time.
	for i := 0; i < 5; i++ {
		tm.Apply(event("m", "u", "x"), pipeline.Metadata{}, a)
	}
	tm.announce()
	if len(a.sent) != 0 {
		t.Fatalf("announced too early: %v", a.sent)
	}

	// Both gates open.
	now = now.Add(2 * time.Minute)
	tm.announce()
	if len(a.sent) != 1 || a.sent[0] != "follow me" {
		t.Fatalf("sent = %v", a.sent)
	}

	// Time passes but only two messages arrive: stays quiet.
	now = now.Add(2 * time.Minute)
	tm.Apply(event("m", "u", "x"), pipeline.Metadata{}, a)
	tm.Apply(event("m", "u", "x"), pipeline.Metadata{}, a)
	tm.announce()
	if len(a.sent) != 1 {
		t.Fatalf("announced in quiet chat: %v", a.sent)
	}

	// Third message opens both gates; rotation advances.
	tm.Apply(event("m", "u", "x"), pipeline.Metadata{}, a)
	tm.announce()
	if len(a.sent) != 2 || a.sent[1] != "join discord" {
		t.Fatalf("sent = %v", a.sent)
	}

	// Rotation wraps.
	now = now.Add(2 * time.Minute)
	for i := 0; i < 3; i++ {
		tm.Apply(event("m", "u", "x"), pipeline.Metadata{}, a)
	}
	tm.announce()
	if len(a.sent) != 3 || a.sent[2] != "follow me" {
		t.Fatalf("sent = %v", a.sent)
	}
}

func TestTimedMessagesApplyNeverSends(t *testing.T) {
	now := time.Unix(1000, 0)
	a := &fakeActor{}
	tm := NewTimedMessages([]string{"follow me"}, time.Minute, 1, a)
	tm.now = func() time.Time { return now }
	tm.lastSent = now.Add(-2 * time.Minute)

	// Both gates are open, but inbound traffic alone must not announce.
	// Only the sender loop does.
	for i := 0; i < 3; i++ {
		tm.Apply(event("m", "u", "x"), pipeline.Metadata{}, a)
	}
	if len(a.sent) != 0 {
		t.Fatalf("Apply announced: %v", a.sent)
	}
	tm.announce()
	if len(a.sent) != 1 {
		t.Fatalf("sender pass did not announce: %v", a.sent)
	}
}

type sendFunc func(text string) error

func (f sendFunc) SendMessage(text string) error { return f(text) }

func TestTimedMessagesRunLoopSends(t *testing.T) {
	sent := make(chan string, 1)
	tm := NewTimedMessages([]string{"follow me"}, 10*time.Millisecond, 1, sendFunc(func(text string) error {
		select {
		case sent <- text:
		default:
		}
		return nil
	}))
	tm.poll = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tm.Run(ctx)

	// One chat message, then silence. The loop must still announce once
	// the delay passes, with no further inbound traffic.
	tm.Apply(event("m", "u", "x"), pipeline.Metadata{}, &fakeActor{})
	select {
	case msg := <-sent:
		if msg != "follow me" {
			t.Fatalf("announced %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("sender loop never announced")
	}
}

type fakePlayer struct {
	volumes []float64
}

func (f *fakePlayer) Blip(volume float64) { f.volumes = append(f.volumes, volume) }

func TestChatBlipperVolumes(t *testing.T) {
	now := time.Unix(10000, 0)
	p := &fakePlayer{}
	b := NewChatBlipper(p, 10*time.Second, 0.5, 5*time.Second)
	b.now = func() time.Time { return now }
	b.silentSince = now.Add(-10 * time.Second) // long silence: full volume

	ev := event("m", "u", "x")
	b.Apply(ev, pipeline.Metadata{}, &fakeActor{})
	if p.volumes[0] != 1 {
		t.Fatalf("first blip volume = %v, want 1", p.volumes[0])
	}

	// Immediate second message: the first blip drained half the regen.
	b.Apply(ev, pipeline.Metadata{}, &fakeActor{})
	if p.volumes[1] != 0.5 {
		t.Fatalf("second blip volume = %v, want 0.5", p.volumes[1])
	}

	// Third: drained to zero.
	b.Apply(ev, pipeline.Metadata{}, &fakeActor{})
	if p.volumes[2] != 0 {
		t.Fatalf("third blip volume = %v, want 0", p.volumes[2])
	}

	// Volume regenerates with silence.
	now = now.Add(20 * time.Second)
	if v := b.Volume(); v != 1 {
		t.Fatalf("regenerated volume = %v, want 1", v)
	}
}

func TestChatBlipperStayDeadCap(t *testing.T) {
	now := time.Unix(10000, 0)
	p := &fakePlayer{}
	b := NewChatBlipper(p, 10*time.Second, 1, 5*time.Second)
	b.now = func() time.Time { return now }
	b.silentSince = now.Add(-10 * time.Second)

	ev := event("m", "u", "x")
	// Flood. Each blip pushes silentSince a full regen forward but the cap
	// holds it at now+5s.
	for i := 0; i < 10; i++ {
		b.Apply(ev, pipeline.Metadata{}, &fakeActor{})
	}
	// 5s later the blipper is exactly at zero, 15s later fully back.
	now = now.Add(5 * time.Second)
	if v := b.Volume(); v != 0 {
		t.Fatalf("volume at cap = %v, want 0", v)
	}
	now = now.Add(10 * time.Second)
	if v := b.Volume(); v != 1 {
		t.Fatalf("volume after regen = %v, want 1", v)
	}
}

type fakeWriter struct {
	events []core.ChatEvent
	err    error
}

func (f *fakeWriter) Write(ev core.ChatEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestArchiver(t *testing.T) {
	w := &fakeWriter{}
	ar := NewArchiver(w)
	if _, err := ar.Apply(event("m1", "alice", "hello"), pipeline.Metadata{}, &fakeActor{}); err != nil {
		t.Fatal(err)
	}
	if len(w.events) != 1 || w.events[0].ID != "m1" {
		t.Fatalf("events = %v", w.events)
	}

	w.err = errors.New("disk full")
	if _, err := ar.Apply(event("m2", "alice", "hello"), pipeline.Metadata{}, &fakeActor{}); err == nil {
		t.Fatal("write error swallowed")
	}
}
