package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"firespread-sim/internal/fire"
)

// CloseNormal is the close code of an orderly shutdown. It never triggers a
// reconnect.
const CloseNormal = websocket.CloseNormalClosure

// Handler receives events of one subscription. Callbacks run on the
// subscription's reader goroutine. Events arriving after the subscription
// was closed locally are dropped.
type Handler struct {
	OnMessage func(fire.Update)
	OnError   func(error)
	OnClose   func(code int, reason string)
}

type subscription struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscription) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()
}

// attach records the dialed connection. It returns false when the
// subscription was closed while dialing.
func (s *subscription) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conn = conn
	return true
}

// OpenSubscription starts watching simulation id. Any previous subscription
// is closed first. Dialing happens asynchronously; a dial failure is reported
// through h.OnError.
func (c *Client) OpenSubscription(id string, h Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{id: id, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	go c.watch(ctx, sub, h)
}

// CloseSubscription closes the current subscription, if any.
func (c *Client) CloseSubscription() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.close()
	}
}

// Subscribed returns the simulation id of the open subscription.
func (c *Client) Subscribed() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		return "", false
	}
	return c.sub.id, true
}

// SubscriptionURL derives the push endpoint for simulation id from the base URL.
func (c *Client) SubscriptionURL(id string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/simulations/" + url.PathEscape(id)
	u.RawPath = ""
	return u.String(), nil
}

// DecodeUpdate parses one push message.
func DecodeUpdate(data []byte) (fire.Update, error) {
	var u fire.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return fire.Update{}, fmt.Errorf("%w: decode update: %w", ErrProtocol, err)
	}
	if !u.Status.Valid() {
		return fire.Update{}, fmt.Errorf("%w: unknown simulation status %q", ErrProtocol, u.Status)
	}
	return u, nil
}

func (c *Client) watch(ctx context.Context, sub *subscription, h Handler) {
	defer close(sub.done)
	log := c.log.With("simulation_id", sub.id)

	wsURL, err := c.SubscriptionURL(sub.id)
	if err != nil {
		c.report(sub, h, err)
		return
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, wsURL, header)
	cancel()
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			err = &RequestError{StatusCode: resp.StatusCode, Message: "websocket handshake rejected"}
		} else {
			err = fmt.Errorf("%w: dial %s: %w", ErrTransport, wsURL, err)
		}
		log.Warn("websocket dial failed", "err", err)
		c.report(sub, h, err)
		return
	}
	if !sub.attach(conn) {
		_ = conn.Close()
		return
	}
	log.Info("websocket connected", "url", wsURL)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if sub.closed.Load() {
				return
			}
			_ = conn.Close()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				log.Info("websocket closed", "code", ce.Code, "reason", ce.Text)
				if h.OnClose != nil && !sub.closed.Load() {
					h.OnClose(ce.Code, ce.Text)
				}
				return
			}
			log.Warn("websocket read failed", "err", err)
			c.report(sub, h, fmt.Errorf("%w: read: %w", ErrTransport, err))
			return
		}
		update, err := DecodeUpdate(data)
		if err != nil {
			log.Warn("dropping push message", "err", err)
			continue
		}
		if sub.closed.Load() {
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(update)
		}
	}
}

func (c *Client) report(sub *subscription, h Handler, err error) {
	if sub.closed.Load() || h.OnError == nil {
		return
	}
	h.OnError(err)
}
