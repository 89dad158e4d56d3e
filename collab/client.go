package collab

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
)

const (
	writeQueueSize   = 256
	inboundQueueSize = 256
)

// outbound is a queued request. done is closed once the frame is written.
type outbound struct {
	req  Request
	done chan struct{}
}

// Client owns the transport connection for one room: dialing, subscriptions,
// JOIN/LEAVE announcements, publish gating and reconnects.
type Client struct {
	cfg      Config
	room     string
	username string
	clientID string
	dialer   Dialer
	clock    clock.Clock
	logger   Logger
	metrics  *Metrics
	events   chan Envelope

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu      sync.Mutex
	state   ConnectionState
	conn    Conn
	writeCh chan outbound
	cancel  context.CancelFunc
	gen     uint64
	retry   *clock.Timer
	backoff backoff.BackOff
	onState func(StateEvent)
	onError func(error)
}

// NewClient constructs a connection manager for room, announcing as username.
func NewClient(cfg Config, room, username string, dialer Dialer, clk clock.Clock) *Client {
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:        cfg,
		room:       room,
		username:   username,
		clientID:   uuid.NewString(),
		dialer:     dialer,
		clock:      clk,
		logger:     noopLogger{},
		events:     make(chan Envelope, inboundQueueSize),
		lifeCtx:    ctx,
		lifeCancel: cancel,
		backoff:    newBackOff(cfg),
	}
}

func newBackOff(cfg Config) backoff.BackOff {
	if cfg.MaxReconnectDelay > cfg.ReconnectDelay {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.ReconnectDelay
		b.MaxInterval = cfg.MaxReconnectDelay
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(cfg.ReconnectDelay)
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetMetrics attaches collectors (optional).
func (c *Client) SetMetrics(m *Metrics) { c.metrics = m }

// OnStateChanged registers callback for connection state transitions.
func (c *Client) OnStateChanged(fn func(StateEvent)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnError registers callback for transport errors.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Events is the single inbound stream of envelopes for this room. It is
// never closed; it survives reconnects. When a connection drops, a marker
// for which ConnectionLost is true follows the last envelope read from it.
func (c *Client) Events() <-chan Envelope { return c.events }

// ID identifies this client instance on the wire.
func (c *Client) ID() string { return c.clientID }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server, subscribes to the room topics and announces JOIN.
// It is a no-op while connecting or connected. On failure the error is
// returned and a reconnect is scheduled.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	ev := c.transitionLocked(StateConnecting, nil)
	c.mu.Unlock()
	c.emitState(ev)

	if err := c.attempt(ctx); err != nil {
		return WrapError(ErrorTransport, "connect", err)
	}
	return nil
}

// attempt dials once. The caller has already moved the state to Connecting.
func (c *Client) attempt(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close("room closed")
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(c.lifeCtx)
	c.gen++
	gen := c.gen
	writeCh := make(chan outbound, writeQueueSize)
	c.conn = conn
	c.cancel = cancel
	c.writeCh = writeCh
	c.backoff.Reset()
	ev := c.transitionLocked(StateConnected, nil)
	c.mu.Unlock()

	c.logger.Info("connected", map[string]any{"room": c.room, "client_id": c.clientID})
	c.emitState(ev)

	go c.readLoop(runCtx, conn, gen)
	go c.writeLoop(runCtx, conn, writeCh, gen)
	return nil
}

// dial opens the transport and sends the subscriptions and JOIN before any
// queued publish can go out.
func (c *Client) dial(ctx context.Context) (Conn, error) {
	conn, err := c.dialer.Dial(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	for _, topic := range Topics {
		req := Request{Action: ActionSubscribe, Room: c.room, Topic: topic, ClientID: c.clientID}
		if err := conn.Write(ctx, req); err != nil {
			_ = conn.Close("subscribe error")
			return nil, err
		}
	}
	join := Request{
		Action:   ActionJoin,
		Room:     c.room,
		Topic:    TopicUsers,
		ClientID: c.clientID,
		Data:     UserMessage{Type: TypeJoin, Username: c.username},
	}
	if err := conn.Write(ctx, join); err != nil {
		_ = conn.Close("join error")
		return nil, err
	}
	return conn, nil
}

// fail records a failed dial and schedules the next attempt.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	ev := c.transitionLocked(StateDisconnected, err)
	c.scheduleLocked()
	c.mu.Unlock()
	c.emitState(ev)
	c.emitError(WrapError(ErrorTransport, "connection failed", err))
}

// drop handles an unexpected loss of the connection identified by gen.
func (c *Client) drop(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.cancel()
	c.conn = nil
	c.writeCh = nil
	c.cancel = nil
	ev := c.transitionLocked(StateDisconnected, err)
	c.scheduleLocked()
	c.mu.Unlock()

	_ = conn.Close("connection lost")
	c.emitState(ev)
	c.markLost(gen)
	c.emitError(WrapError(ErrorTransport, "connection lost", err))
}

// markLost queues a marker behind the envelopes already read from
// connection gen.
func (c *Client) markLost(gen uint64) {
	select {
	case c.events <- Envelope{Room: c.room, gen: gen, lost: true}:
	case <-c.lifeCtx.Done():
	}
}

// scheduleLocked arms exactly one reconnect timer.
func (c *Client) scheduleLocked() {
	if c.retry != nil {
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = c.cfg.MaxReconnectDelay
	}
	c.logger.Warn("reconnect scheduled", map[string]any{"room": c.room, "delay": delay.String()})
	c.retry = c.clock.AfterFunc(delay, c.reconnect)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.retry = nil
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	ev := c.transitionLocked(StateConnecting, nil)
	c.mu.Unlock()
	c.emitState(ev)

	c.metrics.incReconnect()
	_ = c.attempt(c.lifeCtx)
}

// Publish queues data on topic. It never blocks: while not connected, or when
// the write queue is full, the message is dropped and an error returned.
func (c *Client) Publish(topic string, data any) error {
	_, err := c.enqueue(Request{Action: ActionPublish, Room: c.room, Topic: topic, ClientID: c.clientID, Data: data})
	return err
}

func (c *Client) enqueue(req Request) (chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		c.metrics.incDropped()
		c.logger.Debug("publish dropped", map[string]any{"topic": req.Topic, "state": c.state.String()})
		return nil, ErrNotConnected
	}
	out := outbound{req: req, done: make(chan struct{})}
	select {
	case c.writeCh <- out:
		c.metrics.incPublished(req.Topic)
		return out.done, nil
	default:
		c.metrics.incDropped()
		return nil, NewError(ErrorTransport, "write queue full")
	}
}

// Close announces LEAVE (best-effort), waits for it to be written or for
// LeaveGrace to elapse, then closes the transport. No reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	var leaveDone chan struct{}
	if c.state == StateConnected {
		leave := Request{
			Action:   ActionLeave,
			Room:     c.room,
			Topic:    TopicUsers,
			ClientID: c.clientID,
			Data:     UserMessage{Type: TypeLeave, Username: c.username},
		}
		out := outbound{req: leave, done: make(chan struct{})}
		select {
		case c.writeCh <- out:
			leaveDone = out.done
		default:
		}
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel, c.writeCh = nil, nil, nil
	ev := c.transitionLocked(StateClosed, nil)
	c.mu.Unlock()

	if leaveDone != nil {
		c.waitFlush(leaveDone)
	}
	c.lifeCancel()
	if cancel != nil {
		cancel()
	}
	c.emitState(ev)
	if conn != nil {
		return conn.Close("client close")
	}
	return nil
}

func (c *Client) waitFlush(done <-chan struct{}) {
	if c.cfg.LeaveGrace <= 0 {
		return
	}
	timer := c.clock.Timer(c.cfg.LeaveGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.logger.Debug("leave not flushed within grace", map[string]any{"grace": c.cfg.LeaveGrace.String()})
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		var env Envelope
		if err := conn.Read(ctx, &env); err != nil {
			if isExpectedDisconnect(ctx, err) {
				return
			}
			c.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			c.drop(gen, err)
			return
		}
		if env.Room != "" && env.Room != c.room {
			c.metrics.incIgnored("foreign_room")
			continue
		}
		env.gen = gen
		select {
		case c.events <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn Conn, writeCh <-chan outbound, gen uint64) {
	for {
		select {
		case out := <-writeCh:
			err := conn.Write(ctx, out.req)
			close(out.done)
			if err != nil {
				if isExpectedDisconnect(ctx, err) {
					return
				}
				c.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
				c.drop(gen, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) transitionLocked(next ConnectionState, err error) StateEvent {
	ev := StateEvent{OldState: c.state, NewState: next, Error: err}
	c.state = next
	return ev
}

func (c *Client) emitState(ev StateEvent) {
	if ev.OldState == ev.NewState {
		return
	}
	c.logger.Info("state changed", map[string]any{"from": ev.OldState.String(), "to": ev.NewState.String()})
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil && err != nil {
		fn(err)
	}
}

// NewRoomID returns a fresh room identifier.
func NewRoomID() string { return uuid.NewString() }
