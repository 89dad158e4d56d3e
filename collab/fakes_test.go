package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errSevered = errors.New("connection reset by peer")

// fakeConn is an in-memory transport session.
type fakeConn struct {
	mu        sync.Mutex
	written   []Request
	inbox     chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
	reason    string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan Envelope, 64), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context, env *Envelope) error {
	select {
	case e := <-c.inbox:
		*env = e
		return nil
	case <-c.closed:
		return errSevered
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, req Request) error {
	select {
	case <-c.closed:
		return errSevered
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, req)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// sever simulates the server dropping the connection.
func (c *fakeConn) sever() { _ = c.Close("") }

func (c *fakeConn) push(t *testing.T, topic string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	c.inbox <- Envelope{Room: testRoomID, Topic: topic, Data: raw}
}

func (c *fakeConn) pushRaw(topic string, raw string) {
	c.inbox <- Envelope{Room: testRoomID, Topic: topic, Data: json.RawMessage(raw)}
}

func (c *fakeConn) requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.written...)
}

func (c *fakeConn) published(topic string) []Request {
	var out []Request
	for _, r := range c.requests() {
		if r.Action == ActionPublish && r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}

func (c *fakeConn) count(action string) int {
	n := 0
	for _, r := range c.requests() {
		if r.Action == action {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns. The first failures dials are refused.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
}

func (d *fakeDialer) Dial(ctx context.Context, cfg Config) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type marker struct {
	pos   Position
	style MarkerStyle
}

// fakeSurface records marker operations.
type fakeSurface struct {
	mu      sync.Mutex
	markers map[string]marker
	ops     []string
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{markers: make(map[string]marker)}
}

func (s *fakeSurface) RenderMarker(id string, pos Position, style MarkerStyle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[id] = marker{pos: pos, style: style}
	s.ops = append(s.ops, "render:"+id)
}

func (s *fakeSurface) RemoveMarker(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, id)
	s.ops = append(s.ops, "remove:"+id)
}

func (s *fakeSurface) get(id string) (marker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[id]
	return m, ok
}

func (s *fakeSurface) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

func (s *fakeSurface) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// recorder collects publishes made through a PublishFunc.
type recorder struct {
	mu   sync.Mutex
	sent []Request
	err  error
}

func (r *recorder) publish(topic string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, Request{Action: ActionPublish, Topic: topic, Data: data})
	return nil
}

func (r *recorder) all() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.sent...)
}

const (
	testRoomID = "room-1"
	testUser   = "alice"
)

type testRoom struct {
	*Room
	dialer *fakeDialer
	clock  *clock.Mock
}

func newTestRoom(t *testing.T, mutate func(*Config)) *testRoom {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d := &fakeDialer{}
	mock := clock.NewMock()
	r, err := NewRoom(cfg, Session{RoomID: testRoomID, Username: testUser, RoomName: "Test"},
		WithDialer(d), WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return &testRoom{Room: r, dialer: d, clock: mock}
}

func connectedRoom(t *testing.T, mutate func(*Config)) (*testRoom, *fakeConn) {
	t.Helper()
	r := newTestRoom(t, mutate)
	require.NoError(t, r.Connect(context.Background()))
	return r, r.dialer.last()
}

// barrier pushes a chat line and waits for it, so everything pushed before
// it has been applied.
func barrier(t *testing.T, r *testRoom, c *fakeConn) {
	t.Helper()
	n := len(r.Chat())
	c.push(t, TopicChat, ChatMessage{Sender: "barrier", Content: "sync"})
	require.Eventually(t, func() bool { return len(r.Chat()) > n }, waitFor, tick)
}
