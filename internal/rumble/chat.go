package rumble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"github.com/you/rumble-actor/internal/core"
)

const chatStreamBase = "wss://web7.rumble.com/chat/api/chat"

// Chat is the live chat connection for one stream. It satisfies both the
// inbound and outbound transport interfaces.
type Chat struct {
	session *Session
	chatID  string
	wsBase  string

	events chan *core.ChatEvent
	closed chan struct{}

	mu      sync.Mutex
	deleted map[string]bool
	users   map[string]chatUser
	ready   bool
	readyCh chan struct{}
}

type chatUser struct {
	Username string
	Badges   []string
}

func NewChat(session *Session, chatID string) *Chat {
	return &Chat{
		session: session,
		chatID:  chatID,
		wsBase:  chatStreamBase,
		events:  make(chan *core.ChatEvent, 256),
		closed:  make(chan struct{}),
		deleted: map[string]bool{},
		users:   map[string]chatUser{},
		readyCh: make(chan struct{}),
	}
}

// wire frames

type wsFrame struct {
	Type string `json:"type"`
	Data wsData `json:"data"`
}

type wsData struct {
	Messages   []wsMessage `json:"messages"`
	Users      []wsUser    `json:"users"`
	MessageIDs []string    `json:"message_ids"`
	UserIDs    []string    `json:"user_ids"`
}

type wsMessage struct {
	ID     string `json:"id"`
	Time   string `json:"time"`
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Rant   *struct {
		PriceCents int `json:"price_cents"`
	} `json:"rant"`
	Notification *struct {
		Badge string `json:"badge"`
		Text  string `json:"text"`
	} `json:"notification"`
	GiftPurchaseNotification *struct {
		TotalGifts int `json:"total_gifts"`
	} `json:"gift_purchase_notification"`
	RaidNotification json.RawMessage `json:"raid_notification"`
}

type wsUser struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Badges   []string `json:"badges"`
}

// Run maintains the websocket connection until ctx is canceled, with
// exponential backoff between reconnects. The event channel closes when Run
// returns.
func (c *Chat) Run(ctx context.Context) error {
	defer close(c.closed)

	backoff := time.Second
	const maxBackoff = 60 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.readSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("chat stream disconnected", "err", err)
		if !sleepContext(ctx, backoff) {
			return ctx.Err()
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (c *Chat) readSession(ctx context.Context) error {
	streamURL := fmt.Sprintf("%s/%s/stream", c.wsBase, url.PathEscape(c.chatID))
	conn, _, err := websocket.Dial(ctx, streamURL, &websocket.DialOptions{
		HTTPClient: c.session.http,
	})
	if err != nil {
		return errors.Wrap(err, "dial chat stream")
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)
	slog.Info("chat stream connected", "chat_id", c.chatID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("undecodable chat frame", "err", err)
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *Chat) handleFrame(ctx context.Context, frame wsFrame) {
	switch frame.Type {
	case "init":
		c.rememberUsers(frame.Data.Users)
		c.mu.Lock()
		if !c.ready {
			c.ready = true
			close(c.readyCh)
		}
		c.mu.Unlock()
		// Backlog messages ride in the init frame too; the actor's
		// staleness gate decides what still matters.
		c.emitMessages(ctx, frame.Data.Messages)
	case "messages":
		c.rememberUsers(frame.Data.Users)
		c.emitMessages(ctx, frame.Data.Messages)
	case "delete_messages":
		c.mu.Lock()
		for _, id := range frame.Data.MessageIDs {
			c.deleted[id] = true
		}
		c.mu.Unlock()
	case "mute_users":
		slog.Info("users muted", "count", len(frame.Data.UserIDs))
	default:
		slog.Debug("unhandled chat frame", "type", frame.Type)
	}
}

func (c *Chat) rememberUsers(users []wsUser) {
	if len(users) == 0 {
		return
	}
	c.mu.Lock()
	for _, u := range users {
		c.users[u.ID] = chatUser{Username: u.Username, Badges: u.Badges}
	}
	c.mu.Unlock()
}

func (c *Chat) emitMessages(ctx context.Context, messages []wsMessage) {
	for _, msg := range messages {
		ev := c.buildEvent(msg)
		if ev == nil {
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Chat) buildEvent(msg wsMessage) *core.ChatEvent {
	if msg.ID == "" {
		return nil
	}
	c.mu.Lock()
	user := c.users[msg.UserID]
	c.mu.Unlock()

	ev := &core.ChatEvent{
		ID:   msg.ID,
		Text: msg.Text,
		User: core.User{Username: user.Username, Badges: user.Badges},
	}
	if t, err := time.Parse(time.RFC3339, msg.Time); err == nil {
		ev.Ts = t
	} else {
		ev.Ts = time.Now()
	}
	if msg.Rant != nil {
		ev.IsRant = true
		ev.AmountCents = msg.Rant.PriceCents
	}
	if msg.GiftPurchaseNotification != nil {
		ev.GiftSub = true
	}
	if len(msg.RaidNotification) > 0 && string(msg.RaidNotification) != "null" {
		ev.RaidNotification = true
	}
	return ev
}

// WaitReady blocks until the first init frame arrives.
func (c *Chat) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-c.closed:
		return errors.New("chat session closed before init")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UserBadges returns the known badges for a username.
func (c *Chat) UserBadges(username string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.users {
		if u.Username == username {
			return append([]string(nil), u.Badges...)
		}
	}
	return nil
}

// VerifyStaff confirms the session user holds a staff badge in this chat.
func (c *Chat) VerifyStaff() error {
	user := core.User{Username: c.session.Username(), Badges: c.UserBadges(c.session.Username())}
	if !user.IsStaff() {
		return errors.Wrapf(core.ErrPrivilege, "user %s", user.Username)
	}
	return nil
}

// NextEvent implements transport.Inbound.
func (c *Chat) NextEvent(ctx context.Context) (*core.ChatEvent, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		// Drain whatever arrived before the close.
		select {
		case ev := <-c.events:
			return ev, nil
		default:
			return nil, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deleted implements transport.Inbound.
func (c *Chat) Deleted(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted[id]
}

// Delete removes a message and records the deletion locally so the pipeline
// sees it immediately.
func (c *Chat) Delete(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s/chat/api/chat/%s/message/%s",
		c.session.base, url.PathEscape(c.chatID), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build delete request")
	}
	resp, err := c.session.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errors.Wrapf(core.ErrPrivilege, "delete status %s", resp.Status)
		}
		return errors.Errorf("delete status %s", resp.Status)
	}
	c.mu.Lock()
	c.deleted[id] = true
	c.mu.Unlock()
	return nil
}

// MuteUser mutes a user at the given severity.
func (c *Chat) MuteUser(ctx context.Context, username, level string) error {
	form := url.Values{}
	form.Set("user_to_mute", username)
	form.Set("duration", level)
	form.Set("chat_id", c.chatID)
	return c.session.call(ctx, "moderation.mute", form)
}

// Pin pins a message.
func (c *Chat) Pin(ctx context.Context, id string) error {
	form := url.Values{}
	form.Set("chat_id", c.chatID)
	form.Set("message_id", id)
	return c.session.call(ctx, "chat.message.pin", form)
}

// Unpin clears the pinned message.
func (c *Chat) Unpin(ctx context.Context) error {
	form := url.Values{}
	form.Set("chat_id", c.chatID)
	return c.session.call(ctx, "chat.message.unpin", form)
}

// Send implements transport.Outbound.
func (c *Chat) Send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/chat/api/chat/%s/message",
		c.session.base, url.PathEscape(c.chatID))
	payload, err := json.Marshal(map[string]any{
		"data": map[string]any{"request_id": fmt.Sprintf("%d", time.Now().UnixNano()), "message": map[string]string{"text": text}},
	})
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return errors.Wrap(err, "build send request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.session.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		return errors.Errorf("send status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
