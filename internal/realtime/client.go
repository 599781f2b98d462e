package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dronesync-desktop/internal/logging"
	"dronesync-desktop/internal/services/pushcache"
)

var log = logging.Get("realtime")

// Pusher protocol events
const (
	EvtConnectionEstablished = "pusher:connection_established"
	EvtSubscribe             = "pusher:subscribe"
	EvtUnsubscribe           = "pusher:unsubscribe"
	EvtPing                  = "pusher:ping"
	EvtPong                  = "pusher:pong"
	EvtError                 = "pusher:error"
	EvtSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
)

var (
	// ErrNotConnected is returned when writing without an open socket.
	ErrNotConnected = errors.New("push channel not connected")
	// ErrNoURL is returned by Subscribe when no push URL is configured.
	ErrNoURL = errors.New("push channel url not configured")
)

// Message is one Pusher protocol frame. Data is either a JSON encoded string
// or an inline object depending on the server.
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type connectionInfo struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type progressPayload struct {
	AreaCode       string `json:"area_code"`
	Detected       int    `json:"detected_count"`
	Undetected     int    `json:"undetected_count"`
	TotalProcessed int    `json:"total_processed"`
	Timestamp      string `json:"timestamp"`
}

// Client subscribes to one channel of a Pusher-compatible websocket server
// and reconnects with backoff until its context is cancelled.
type Client struct {
	url        string
	dialer     *websocket.Dialer
	maxBackoff time.Duration
	pingEvery  time.Duration
	bufferSize int

	connected atomic.Bool
	socketID  atomic.Value // string

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Option configures a Client.
type Option func(*Client)

// WithMaxBackoff caps the reconnect delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// WithPingInterval sets how often the client pings an idle server.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingEvery = d
		}
	}
}

// NewClient creates a client for a websocket URL such as
// wss://host/app/KEY?protocol=7.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        strings.TrimSpace(url),
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		maxBackoff: 30 * time.Second,
		pingEvery:  2 * time.Minute,
		bufferSize: 64,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsConnected reports whether the server acknowledged the connection and the
// socket is still open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SocketID returns the id the server assigned to the current connection.
func (c *Client) SocketID() string {
	id, _ := c.socketID.Load().(string)
	return id
}

// Subscribe starts delivering event on channel. Dial failures are not
// returned; the client retries in the background and reports them through
// IsConnected. The returned channel closes once ctx is done.
func (c *Client) Subscribe(ctx context.Context, channel, event string) (<-chan pushcache.Event, error) {
	if c.url == "" {
		return nil, ErrNoURL
	}
	if channel == "" || event == "" {
		return nil, fmt.Errorf("channel and event are required")
	}

	out := make(chan pushcache.Event, c.bufferSize)
	go c.run(ctx, channel, event, out)
	return out, nil
}

func (c *Client) run(ctx context.Context, channel, event string, out chan<- pushcache.Event) {
	defer close(out)

	attempt := 0
	for ctx.Err() == nil {
		err := c.session(ctx, channel, event, out, func() { attempt = 0 })
		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}

		attempt++
		wait := c.backoff(attempt)
		log.Warningf("Push channel dropped (%v), reconnecting in %v", err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// backoff grows quadratically: 500ms, 2s, 4.5s ... capped at maxBackoff.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(500*attempt*attempt) * time.Millisecond
	if d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

// session runs one connection until it fails or ctx is done.
func (c *Client) session(ctx context.Context, channel, event string, out chan<- pushcache.Event, established func()) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop on cancellation.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(2 * c.pingEvery))

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("read failed: %w", err)
			}
			return err
		}

		switch msg.Event {
		case EvtConnectionEstablished:
			var info connectionInfo
			if err := decodeData(msg.Data, &info); err == nil {
				c.socketID.Store(info.SocketID)
				if info.ActivityTimeout > 0 {
					if t := time.Duration(info.ActivityTimeout) * time.Second; t < c.pingEvery {
						c.pingEvery = t
					}
				}
			}
			if err := c.send(Message{Event: EvtSubscribe, Data: mustJSON(map[string]string{"channel": channel})}); err != nil {
				return err
			}
			c.connected.Store(true)
			established()
			log.Infof("Push channel connected (socket %s), subscribed to %s", c.SocketID(), channel)
			go c.keepAlive(done, c.pingEvery)

		case EvtPing:
			if err := c.send(Message{Event: EvtPong, Data: json.RawMessage("{}")}); err != nil {
				return err
			}

		case EvtPong, EvtSubscriptionSucceeded:

		case EvtError:
			log.Warningf("Push server error: %s", string(msg.Data))

		case event:
			if msg.Channel != "" && msg.Channel != channel {
				continue
			}
			evt, err := decodeProgress(msg.Data)
			if err != nil {
				log.Warningf("Dropping malformed %s payload: %v", event, err)
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			log.Debugf("Ignoring push event %s", msg.Event)
		}
	}
}

func (c *Client) keepAlive(done <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.send(Message{Event: EvtPing, Data: json.RawMessage("{}")}); err != nil {
				return
			}
		}
	}
}

// send writes one frame. gorilla connections allow a single writer at a time.
func (c *Client) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// decodeData unmarshals a Pusher data field that may be a JSON string.
func decodeData(raw json.RawMessage, v interface{}) error {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return fmt.Errorf("empty data")
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = json.RawMessage(inner)
	}
	return json.Unmarshal(raw, v)
}

func decodeProgress(raw json.RawMessage) (pushcache.Event, error) {
	var p progressPayload
	if err := decodeData(raw, &p); err != nil {
		return pushcache.Event{}, err
	}
	if p.AreaCode == "" {
		return pushcache.Event{}, fmt.Errorf("missing area_code")
	}

	evt := pushcache.Event{
		AreaCode:       p.AreaCode,
		Detected:       p.Detected,
		Undetected:     p.Undetected,
		TotalProcessed: p.TotalProcessed,
	}
	if p.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
			evt.Timestamp = ts
		}
	}
	return evt, nil
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
