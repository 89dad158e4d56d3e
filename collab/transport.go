package collab

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/vovakirdan/vylop-sdk/vylop-sdk-go/collab/internal"
)

// Conn is one live transport session. Read is only called from one goroutine.
type Conn interface {
	Read(ctx context.Context, env *Envelope) error
	Write(ctx context.Context, req Request) error
	Close(reason string) error
}

// Dialer opens transport sessions. The default dials a WebSocket.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// WebSocketDialer dials cfg.URL with coder/websocket.
type WebSocketDialer struct{}

func (WebSocketDialer) Dial(ctx context.Context, cfg Config) (Conn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, WrapError(ErrorInvalidConfig, "parse URL", err)
	}

	dialCtx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	var opts websocket.DialOptions
	if cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + cfg.Token}}
	}
	ws, _, err := websocket.Dial(dialCtx, u.String(), &opts)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: internal.NewConn(ws, cfg.ReadTimeout, cfg.WriteTimeout)}, nil
}

type wsConn struct {
	conn *internal.Conn
}

func (c *wsConn) Read(ctx context.Context, env *Envelope) error { return c.conn.Read(ctx, env) }

func (c *wsConn) Write(ctx context.Context, req Request) error { return c.conn.Write(ctx, req) }

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// isExpectedDisconnect reports a read error caused by our own teardown. Any
// other error, including a clean close from the server, is a drop.
func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
