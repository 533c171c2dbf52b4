// Package stream maintains the long-lived websocket connection to the upstream
// event firehose: connection lifecycle, the subscription set, keep-alive,
// bounded reconnection and delivery of normalized events.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("stream client closed")

// Config configures client behavior.
type Config struct {
	URL    string
	APIKey string // sent as the api-key query parameter when set

	// ConnectTimeout bounds the dial and websocket handshake.
	ConnectTimeout time.Duration
	// PingInterval is the keep-alive probe period.
	PingInterval time.Duration
	// ReadTimeout is how long the connection may stay silent, pongs included.
	ReadTimeout time.Duration
	// WriteTimeout bounds each outbound command.
	WriteTimeout time.Duration

	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectBase:        1 * time.Second,
		ReconnectCap:         30 * time.Second,
		MaxReconnectAttempts: 10,
		EventBuffer:          1024,
	}
}

// Options configures a Client.
type Options struct {
	Config Config
	Logger zerolog.Logger
}

// Client is the streaming ingestion client.
//
// Events are delivered on a bounded channel without ever blocking the
// connection: when the buffer is full a raw event is dropped, while a
// lifecycle event evicts the oldest buffered event to make room.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	dialer websocket.Dialer

	mu       sync.Mutex // guards state, conn, connDone, subs, attempts
	state    domain.ConnectionState
	conn     *websocket.Conn
	connDone chan struct{} // closed when the current connection ends
	subs     map[subEntry]struct{}
	attempts int

	writeMu sync.Mutex // one writer per connection

	events  chan Event
	dropped atomic.Int64

	closed     atomic.Bool
	done       chan struct{}
	lifetime   context.Context
	cancelLife context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a disconnected client.
func New(opts Options) *Client {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		cfg.ReconnectCap = cfg.ReconnectBase
	}
	if cfg.MaxReconnectAttempts < 1 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = def.EventBuffer
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:        cfg,
		log:        opts.Logger.With().Str("component", "stream").Logger(),
		dialer:     websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout, Proxy: http.ProxyFromEnvironment},
		state:      domain.StateDisconnected,
		subs:       make(map[subEntry]struct{}),
		events:     make(chan Event, cfg.EventBuffer),
		done:       make(chan struct{}),
		lifetime:   lifetime,
		cancelLife: cancel,
	}
}

// Events returns the telemetry channel. It is never closed; select on Done.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state.
func (c *Client) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dropped returns the number of raw events dropped on a full buffer.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Connect opens the connection. It is a no-op while connecting or connected.
// On success the subscription set is replayed and keep-alive starts.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	if c.state != domain.StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(domain.StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(domain.StateDisconnected)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.setStateLocked(domain.StateDisconnected)
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	done := make(chan struct{})
	c.conn = conn
	c.connDone = done
	c.attempts = 0
	c.setStateLocked(domain.StateConnected)
	// Counted before the lock is released so Close waits for both loops.
	c.wg.Add(2)
	topics := groupTopics(c.entriesLocked())
	c.mu.Unlock()

	c.log.Info().Str("url", c.cfg.URL).Int("topics", len(topics)).Msg("stream connected")
	c.emit(Event{Type: EventConnected})

	for _, t := range topics {
		if err := c.send(conn, subscribeCommand(t)); err != nil {
			c.log.Warn().Err(err).Str("topic", string(t.Name)).Msg("replay subscription failed")
		}
	}

	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err == nil {
		return conn, nil
	}

	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return nil, fmt.Errorf("%w: handshake status %d", domain.ErrAuth, resp.StatusCode)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var netErr net.Error
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil, fmt.Errorf("%w after %s", domain.ErrConnectTimeout, c.cfg.ConnectTimeout)
	}
	return nil, fmt.Errorf("%w: dial: %v", domain.ErrTransport, err)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("stream url: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("api-key", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Subscribe adds topic to the subscription set. The command is sent now when
// connected and replayed on every later connect. Already-present keys are not resent.
func (c *Client) Subscribe(topic Topic) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var added []subEntry
	c.mu.Lock()
	for _, e := range topic.entries() {
		if _, ok := c.subs[e]; !ok {
			c.subs[e] = struct{}{}
			added = append(added, e)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if len(added) == 0 || conn == nil {
		return nil
	}
	for _, t := range groupTopics(added) {
		if err := c.send(conn, subscribeCommand(t)); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes topic from the subscription set, telling the upstream when connected.
func (c *Client) Unsubscribe(topic Topic) error {
	if c.closed.Load() {
		return ErrClosed
	}

	var removed []subEntry
	c.mu.Lock()
	for _, e := range topic.entries() {
		if _, ok := c.subs[e]; ok {
			delete(c.subs, e)
			removed = append(removed, e)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if len(removed) == 0 || conn == nil {
		return nil
	}
	for _, t := range groupTopics(removed) {
		if err := c.send(conn, unsubscribeCommand(t)); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns the current subscription set, grouped by topic.
func (c *Client) Subscriptions() []Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return groupTopics(c.entriesLocked())
}

func (c *Client) entriesLocked() []subEntry {
	entries := make([]subEntry, 0, len(c.subs))
	for e := range c.subs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].name != entries[j].name {
			return entries[i].name < entries[j].name
		}
		return entries[i].key < entries[j].key
	})
	return entries
}

func (c *Client) send(conn *websocket.Conn, cmd command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", domain.ErrTransport, err)
	}
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrTransport, cmd.Method, err)
	}
	return nil
}

// Close shuts the client down without triggering reconnection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	c.cancelLife()

	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		close(c.connDone)
		c.conn = nil
	}
	c.setStateLocked(domain.StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
		c.emit(Event{Type: EventDisconnected, Reason: "closed"})
	}

	c.wg.Wait()
	c.log.Info().Int64("dropped", c.dropped.Load()).Msg("stream closed")
	return nil
}

// readLoop reads until the connection fails, then hands over to reconnection.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, done, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	if !json.Valid(message) {
		observability.RecordStreamParseError()
		c.log.Warn().Int("bytes", len(message)).Msg("skipping malformed message")
		c.emit(Event{Type: EventError, Err: fmt.Errorf("%w: invalid JSON message", domain.ErrParse)})
		return
	}
	if isControlMessage(message) {
		c.log.Debug().RawJSON("message", message).Msg("upstream notice")
		return
	}

	ev := Normalize(message, time.Now())
	observability.RecordStreamMessage(string(ev.Kind))
	c.emit(Event{Type: EventRaw, Raw: &ev})
}

// pingLoop sends keep-alive probes until the connection ends.
func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug().Err(err).Msg("ping failed, closing connection")
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, done chan struct{}, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Already torn down by Close.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(done)
	c.setStateLocked(domain.StateDisconnected)
	c.mu.Unlock()

	conn.Close()

	reason := disconnectReason(cause)
	c.log.Warn().Str("reason", reason).Msg("stream disconnected")
	c.emit(Event{Type: EventDisconnected, Reason: reason, Err: fmt.Errorf("%w: %v", domain.ErrTransport, cause)})

	if c.closed.Load() {
		return
	}
	c.wg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff until it succeeds,
// the client closes, the attempt budget is spent, or the upstream rejects auth.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if attempt > c.cfg.MaxReconnectAttempts {
			c.log.Error().Int("attempts", attempt-1).Msg("giving up on reconnection")
			c.emit(Event{Type: EventGaveUp, Reason: "max reconnect attempts exceeded", Attempt: attempt - 1})
			return
		}

		delay := Backoff(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectCap)
		c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		observability.RecordReconnectAttempt()
		err := c.Connect(c.lifetime)
		if err == nil {
			return
		}
		if errors.Is(err, ErrClosed) || c.closed.Load() {
			return
		}

		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		c.emit(Event{Type: EventError, Err: err, Attempt: attempt})
		if errors.Is(err, domain.ErrAuth) {
			c.emit(Event{Type: EventGaveUp, Reason: "authentication rejected", Err: err, Attempt: attempt})
			return
		}
	}
}

// emit delivers ev without blocking. See Client for the overflow policy.
func (c *Client) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case c.events <- ev:
		return
	default:
	}

	if ev.Type == EventRaw {
		c.recordDrop()
		return
	}

	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case old := <-c.events:
			if old.Type == EventRaw {
				c.recordDrop()
			}
		default:
		}
	}
}

func (c *Client) recordDrop() {
	if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
		c.log.Warn().Int64("dropped", n).Msg("event buffer full, dropping raw events")
	}
	observability.RecordStreamDrop()
}

func (c *Client) setStateLocked(s domain.ConnectionState) {
	c.state = s
	observability.SetStreamState(string(s))
}

func disconnectReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Sprintf("close %d %s", closeErr.Code, closeErr.Text)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "read timeout"
	}
	return err.Error()
}
