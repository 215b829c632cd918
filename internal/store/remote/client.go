// Package remote implements store.Store against a vibecheck server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/identity"
	"github.com/kiliankoe/vibecheck/internal/store"
)

// Message is one snapshot on the subscription stream.
type Message struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Value  any    `json:"value,omitempty"`
}

type Client struct {
	BaseURL string
	Token   string
	http    *http.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log.Logger,
	}
}

func (c *Client) storeURL(path string) string {
	return c.BaseURL + "/api/store/" + escapePath(path)
}

func escapePath(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, target string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusBadRequest:
		return resp.StatusCode, store.ErrInvalidPath
	case resp.StatusCode/100 != 2:
		return resp.StatusCode, fmt.Errorf("%w: %s %s: status %d", store.ErrUnavailable, method, target, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", store.ErrUnavailable, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) Read(ctx context.Context, path string) (any, bool, error) {
	var out struct {
		Value any `json:"value"`
	}
	status, err := c.do(ctx, http.MethodGet, c.storeURL(path), nil, &out)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	return out.Value, true, nil
}

func (c *Client) Write(ctx context.Context, path string, value any) error {
	if value == nil {
		return c.Delete(ctx, path)
	}
	_, err := c.do(ctx, http.MethodPut, c.storeURL(path), value, nil)
	return err
}

func (c *Client) Patch(ctx context.Context, path string, fields map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, c.storeURL(path), fields, nil)
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, c.storeURL(path), nil, nil)
	return err
}

func (c *Client) AppendChild(ctx context.Context, path string, value any) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.storeURL(path), value, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

func (c *Client) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	target := c.BaseURL + "/api/subscribe/" + escapePath(path)
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return nil, store.ErrInvalidPath
		}
		return nil, fmt.Errorf("%w: subscribe %s: %v", store.ErrUnavailable, path, err)
	}

	sub := store.NewSubscription(path, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	go func() {
		defer sub.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				select {
				case <-sub.Done():
				default:
					c.log.Warn().Err(err).Str("path", path).Msg("subscription stream ended")
				}
				return
			}
			sub.Deliver(store.Snapshot{Path: path, Value: msg.Value, Exists: msg.Exists})
		}
	}()
	return sub.Bind(ctx), nil
}

// Leaderboard fetches a ranked board through the identity-gated endpoint.
func (c *Client) Leaderboard(ctx context.Context, t game.RoomType) ([]game.LeaderboardEntry, error) {
	var out struct {
		Entries []game.LeaderboardEntry `json:"entries"`
	}
	status, err := c.do(ctx, http.MethodGet, c.BaseURL+"/api/leaderboard/"+url.PathEscape(string(t)), nil, &out)
	switch {
	case status == http.StatusUnauthorized:
		return nil, identity.ErrInvalidToken
	case err != nil:
		return nil, err
	case status == http.StatusNotFound:
		return nil, game.ErrInvalidRoomType
	}
	return out.Entries, nil
}
