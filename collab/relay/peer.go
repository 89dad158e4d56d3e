package relay

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/vylop-sdk/vylop-sdk-go/collab"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

var errQueueFull = errors.New("relay: send queue full")

// request is a client frame with its payload left encoded.
type request struct {
	Action   string          `json:"action"`
	Room     string          `json:"room"`
	Topic    string          `json:"topic"`
	ClientID string          `json:"clientId"`
	Data     json.RawMessage `json:"data"`
}

type peer struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger zerolog.Logger
}

func newPeer(id string, ws *websocket.Conn, hub *Hub, logger zerolog.Logger) *peer {
	return &peer{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendQueueSize),
		hub:    hub,
		logger: logger.With().Str("peer", id).Logger(),
	}
}

func (p *peer) ID() string { return p.id }

func (p *peer) Send(data []byte) error {
	select {
	case p.send <- data:
		return nil
	default:
		return errQueueFull
	}
}

// run blocks until the connection ends, then removes the peer from the hub.
func (p *peer) run() {
	done := make(chan struct{})
	go func() {
		p.writePump(done)
	}()
	p.readPump()
	close(done)
	p.hub.Drop(p)
}

func (p *peer) readPump() {
	defer p.ws.Close()

	p.ws.SetReadLimit(maxMessageSize)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req request
		if err := p.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		p.handle(req)
	}
}

func (p *peer) handle(req request) {
	if req.Room == "" {
		p.logger.Debug().Str("action", req.Action).Msg("request without room ignored")
		return
	}
	switch req.Action {
	case collab.ActionSubscribe:
		p.hub.Subscribe(p, req.Room, req.Topic)
	case collab.ActionPublish:
		p.hub.Publish(p, req.Room, req.Topic, req.Data)
	case collab.ActionJoin:
		var msg collab.UserMessage
		if err := json.Unmarshal(req.Data, &msg); err != nil {
			p.logger.Debug().Err(err).Msg("malformed join")
			return
		}
		p.hub.Join(p, req.Room, msg.Username)
	case collab.ActionLeave:
		p.hub.Leave(p, req.Room)
	default:
		p.logger.Debug().Str("action", req.Action).Msg("unknown action ignored")
	}
}

func (p *peer) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.ws.Close()
	}()

	for {
		select {
		case message := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
