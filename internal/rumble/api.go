// Package rumble talks to the Rumble platform: the Live Stream API for
// stream metadata and the chat service for the live session.
package rumble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/rumble-actor/internal/core"
)

const serviceBase = "https://rumble.com"

// API wraps the keyed Live Stream API endpoint.
type API struct {
	apiURL string
	http   *http.Client
}

func NewAPI(apiURL string) *API {
	return &API{
		apiURL: strings.TrimSpace(apiURL),
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Livestream is one live or recent stream on the channel.
type Livestream struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsLive    bool      `json:"is_live"`
	CreatedOn time.Time `json:"created_on"`
	ChatID    string    `json:"chat_id"`
}

type Follower struct {
	Username   string    `json:"username"`
	FollowedOn time.Time `json:"followed_on"`
}

type Subscriber struct {
	Username     string    `json:"user"`
	AmountCents  int       `json:"amount_cents"`
	SubscribedOn time.Time `json:"subscribed_on"`
}

type apiPayload struct {
	Username    string       `json:"username"`
	Livestreams []Livestream `json:"livestreams"`
	Followers   struct {
		RecentFollowers []Follower `json:"recent_followers"`
	} `json:"followers"`
	Subscribers struct {
		RecentSubscribers []Subscriber `json:"recent_subscribers"`
	} `json:"subscribers"`
}

func (a *API) fetch(ctx context.Context) (*apiPayload, error) {
	if a.apiURL == "" {
		return nil, errors.Wrap(core.ErrConfiguration, "api url not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build api request")
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "api request")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.Wrapf(core.ErrAuthentication, "api status %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("api status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read api response")
	}
	var payload apiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "decode api response")
	}
	return &payload, nil
}

// LatestLivestream returns the most recent live stream on the channel.
func (a *API) LatestLivestream(ctx context.Context) (*Livestream, error) {
	payload, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}
	var latest *Livestream
	for i := range payload.Livestreams {
		ls := &payload.Livestreams[i]
		if !ls.IsLive {
			continue
		}
		if latest == nil || ls.CreatedOn.After(latest.CreatedOn) {
			latest = ls
		}
	}
	if latest == nil {
		return nil, errors.New("no livestream is live")
	}
	return latest, nil
}

// RecentFollowers returns the newest followers, most recent first.
func (a *API) RecentFollowers(ctx context.Context) ([]Follower, error) {
	payload, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return payload.Followers.RecentFollowers, nil
}

// RecentSubscribers returns the newest subscribers, most recent first.
func (a *API) RecentSubscribers(ctx context.Context) ([]Subscriber, error) {
	payload, err := a.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return payload.Subscribers.RecentSubscribers, nil
}

// Session is an authenticated rumble.com login.
type Session struct {
	http     *http.Client
	base     string
	username string
}

// Login authenticates against the site and keeps the session cookie.
func Login(ctx context.Context, username, password string) (*Session, error) {
	return login(ctx, serviceBase, username, password)
}

func login(ctx context.Context, base, username, password string) (*Session, error) {
	if username == "" || password == "" {
		return nil, errors.Wrap(core.ErrConfiguration, "username and password required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "cookie jar")
	}
	s := &Session{
		http:     &http.Client{Timeout: 15 * time.Second, Jar: jar},
		base:     base,
		username: username,
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	resp, err := s.postForm(ctx, "user.login", form)
	if err != nil {
		return nil, errors.Wrap(err, "login request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(core.ErrAuthentication, "login status %s", resp.Status)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var result struct {
		Data struct {
			Session string `json:"session"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err == nil && result.Data.Session == "" && strings.Contains(string(body), "false") {
		return nil, errors.Wrap(core.ErrAuthentication, "login rejected")
	}
	return s, nil
}

func (s *Session) Username() string { return s.username }

func (s *Session) postForm(ctx context.Context, service string, form url.Values) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/service.php?name=%s", s.base, url.QueryEscape(service))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; rumble-actor/1.0)")
	return s.http.Do(req)
}

// call runs a service endpoint and fails on non-2xx status.
func (s *Session) call(ctx context.Context, service string, form url.Values) error {
	resp, err := s.postForm(ctx, service, form)
	if err != nil {
		return errors.Wrapf(err, "service %s", service)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errors.Wrapf(core.ErrPrivilege, "service %s status %s", service, resp.Status)
		}
		return errors.Errorf("service %s status %s", service, resp.Status)
	}
	return nil
}
