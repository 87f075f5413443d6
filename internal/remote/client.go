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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/protocol"
)

// Client is a Handle speaking the hub's REST + websocket protocol.
// All subscriptions share one stream, dialed on demand.
type Client struct {
	config     *config.Config
	dataURL    string // .../v1/{project}/data/
	keysURL    string // .../v1/{project}/keys
	streamURL  string // ws(s)://.../v1/{project}/stream
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	dialing chan struct{} // closed when an in-progress dial finishes
	subs    map[string]map[uint64]*subscription
	active  map[string]bool            // subscribe frame sent on current conn
	last    map[string]json.RawMessage // last pushed value per path
	nextID  uint64
	closed  bool

	// writeMu is held from deciding to send a frame until it is written,
	// so frames go out in the order the decisions were made.
	writeMu sync.Mutex
	// dispatchMu serializes onData deliveries.
	dispatchMu sync.Mutex
}

type subscription struct {
	id      uint64
	path    string
	onData  DataFunc
	onError ErrorFunc
	primed  bool // has received a value; guarded by mu
}

// NewClient validates the endpoint and builds a Client. No I/O happens
// until the first Subscribe or Write.
func NewClient(cfg *config.Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Remote.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse url: %w", err)
	}
	var wsScheme string
	switch base.Scheme {
	case "http":
		wsScheme = "ws"
	case "https":
		wsScheme = "wss"
	default:
		return nil, fmt.Errorf("remote: unsupported url scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("remote: url %q has no host", cfg.Remote.URL)
	}

	project := url.PathEscape(cfg.Remote.Project)
	stream := *base
	stream.Scheme = wsScheme
	stream.Path = base.Path + "/v1/" + project + "/stream"

	return &Client{
		config:     cfg,
		dataURL:    base.String() + "/v1/" + project + "/data/",
		keysURL:    base.String() + "/v1/" + project + "/keys",
		streamURL:  stream.String(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:       make(map[string]map[uint64]*subscription),
		active:     make(map[string]bool),
		last:       make(map[string]json.RawMessage),
	}, nil
}

// Subscribe registers a listener. Dialing and the subscribe frame happen
// in the background; failures arrive through onError.
func (c *Client) Subscribe(path string, onData DataFunc, onError ErrorFunc) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go onError(ErrClosed)
		return func() {}
	}
	c.nextID++
	sub := &subscription{id: c.nextID, path: path, onData: onData, onError: onError}
	if c.subs[path] == nil {
		c.subs[path] = make(map[uint64]*subscription)
	}
	c.subs[path][sub.id] = sub
	alreadyActive := c.active[path] && c.conn != nil
	c.mu.Unlock()

	c.config.Log(1, "remote: subscribe %s", path)
	if alreadyActive {
		go c.prime(sub)
	} else {
		go c.activate(path)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(path, sub.id) })
	}
}

// prime hands a late subscriber the last value pushed on its path, unless
// a push already reached it.
func (c *Client) prime(sub *subscription) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	value, ok := c.last[sub.path]
	if !ok || sub.primed || c.subs[sub.path][sub.id] != sub {
		c.mu.Unlock()
		return
	}
	sub.primed = true
	c.mu.Unlock()
	sub.onData(value)
}

// activate makes sure the stream is up and path is subscribed on it.
func (c *Client) activate(path string) {
	conn, err := c.ensureConn()
	if err != nil {
		c.fail(path, err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	if len(c.subs[path]) == 0 || c.active[path] || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.active[path] = true
	c.mu.Unlock()

	if err := c.writeFrame(conn, &protocol.Message{Type: protocol.MsgSubscribe, Path: path}); err != nil {
		c.dropConn(conn, err)
	}
}

// ensureConn returns the current stream, dialing it if needed. Concurrent
// callers share one dial.
func (c *Client) ensureConn() (*websocket.Conn, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if c.conn != nil {
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
		if wait := c.dialing; wait != nil {
			c.mu.Unlock()
			<-wait
			continue
		}
		done := make(chan struct{})
		c.dialing = done
		c.mu.Unlock()

		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.config.Remote.AccessKey)
		conn, _, err := c.dialer.Dial(c.streamURL, header)

		c.mu.Lock()
		c.dialing = nil
		close(done)
		if err != nil {
			c.mu.Unlock()
			c.config.Log(0, "remote: stream dial failed: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return nil, ErrClosed
		}
		c.conn = conn
		c.active = make(map[string]bool)
		c.mu.Unlock()

		c.config.Log(1, "remote: stream connected %s", c.streamURL)
		go c.readPump(conn)
		return conn, nil
	}
}

// readPump dispatches pushed frames to subscribers.
func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn, err)
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.config.Log(0, "remote: bad frame: %v", err)
			continue
		}
		c.config.Log(2, "remote: [IN] %s %s", msg.Type, msg.Path)

		switch msg.Type {
		case protocol.MsgValue:
			var value json.RawMessage
			if !msg.IsNull() {
				value = msg.Value
			}
			c.dispatchMu.Lock()
			c.mu.Lock()
			c.last[msg.Path] = value
			subs := c.snapshot(msg.Path)
			for _, sub := range subs {
				sub.primed = true
			}
			c.mu.Unlock()
			for _, sub := range subs {
				sub.onData(value)
			}
			c.dispatchMu.Unlock()
		case protocol.MsgError:
			if msg.Path == "" {
				c.config.Log(0, "remote: stream error: %v", msg.Err())
				continue
			}
			c.fail(msg.Path, msg.Err())
		}
	}
}

// fail ends every subscription on path with err.
func (c *Client) fail(path string, err error) {
	c.mu.Lock()
	subs := c.snapshot(path)
	delete(c.subs, path)
	delete(c.active, path)
	delete(c.last, path)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.onError(err)
	}
}

// dropConn tears down a broken stream and fails all of its subscriptions.
func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.active = make(map[string]bool)
	c.last = make(map[string]json.RawMessage)
	var subs []*subscription
	for path := range c.subs {
		subs = append(subs, c.snapshot(path)...)
	}
	c.subs = make(map[string]map[uint64]*subscription)
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	if closed {
		return
	}
	c.config.Log(0, "remote: stream lost: %v", cause)
	err := fmt.Errorf("%w: %v", ErrDisconnected, cause)
	for _, sub := range subs {
		sub.onError(err)
	}
}

// snapshot copies the subscribers of path. Caller holds mu.
func (c *Client) snapshot(path string) []*subscription {
	subs := make([]*subscription, 0, len(c.subs[path]))
	for _, sub := range c.subs[path] {
		subs = append(subs, sub)
	}
	return subs
}

// remove detaches one subscription, unsubscribing the path when it was the last.
func (c *Client) remove(path string, id uint64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	subs, ok := c.subs[path]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(subs, id)
	if len(subs) > 0 {
		c.mu.Unlock()
		return
	}
	conn, wasActive := c.detachLocked(path)
	c.mu.Unlock()
	c.sendUnsubscribe(conn, wasActive, path)
}

// Unsubscribe detaches every listener on path.
func (c *Client) Unsubscribe(path string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn, wasActive := c.detachLocked(path)
	c.mu.Unlock()
	c.sendUnsubscribe(conn, wasActive, path)
}

// detachLocked forgets path. Caller holds mu.
func (c *Client) detachLocked(path string) (*websocket.Conn, bool) {
	delete(c.subs, path)
	delete(c.last, path)
	wasActive := c.active[path]
	delete(c.active, path)
	return c.conn, wasActive
}

// sendUnsubscribe tells the hub to stop pushing path. Caller holds writeMu.
func (c *Client) sendUnsubscribe(conn *websocket.Conn, wasActive bool, path string) {
	if !wasActive || conn == nil {
		return
	}
	c.config.Log(1, "remote: unsubscribe %s", path)
	if err := c.writeFrame(conn, &protocol.Message{Type: protocol.MsgUnsubscribe, Path: path}); err != nil {
		c.dropConn(conn, err)
	}
}

// writeFrame sends one frame. Caller holds writeMu; gorilla connections
// allow a single writer.
func (c *Client) writeFrame(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Write stores value at path over REST. A nil value deletes the path.
func (c *Client) Write(ctx context.Context, path string, value json.RawMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	method := http.MethodPut
	var body io.Reader = bytes.NewReader(value)
	if value == nil {
		method = http.MethodDelete
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, method, c.dataURL+path, body)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Remote.AccessKey)
	if value != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: write %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	c.config.Log(3, "remote: wrote %s", path)
	return nil
}

// Get reads the current value at path over REST. Nil means no data.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dataURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Remote.AccessKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: get %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: get %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if strings.TrimSpace(string(data)) == "null" {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// Keys lists the stored paths starting with prefix.
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keysURL+"?prefix="+url.QueryEscape(prefix), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Remote.AccessKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Path: prefix, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("remote: keys: %w", err)
	}
	return keys, nil
}

// Close shuts the stream. Subscribers are dropped without callbacks.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.subs = make(map[string]map[uint64]*subscription)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// StatusError reports a non-2xx REST response.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s: status %d: %s", e.Path, e.Status, e.Body)
}
