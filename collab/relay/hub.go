package relay

import (
	"encoding/json"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/vylop-sdk/vylop-sdk-go/collab"
)

// ChatTimeLayout is the chat timestamp format, hours and minutes.
const ChatTimeLayout = "15:04"

// Sender receives encoded envelopes. Send must not block.
type Sender interface {
	ID() string
	Send(data []byte) error
}

type member struct {
	peer     Sender
	username string
}

type room struct {
	topics  map[string]map[string]Sender // topic -> peer id -> peer
	members []member                     // in join order
}

func newRoom() *room {
	return &room{topics: make(map[string]map[string]Sender)}
}

func (r *room) empty() bool {
	return len(r.topics) == 0 && len(r.members) == 0
}

// activeUsers returns the distinct joined usernames in join order.
func (r *room) activeUsers() []string {
	seen := make(map[string]bool, len(r.members))
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if seen[m.username] {
			continue
		}
		seen[m.username] = true
		out = append(out, m.username)
	}
	return out
}

// Hub fans room topics out to subscribers and keeps each room's roster.
// Publishers receive their own messages.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*room
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *Metrics
}

func NewHub(clk clock.Clock, logger zerolog.Logger, metrics *Metrics) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		rooms:   make(map[string]*room),
		clock:   clk,
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Hub) roomLocked(name string) *room {
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom()
		h.rooms[name] = r
		h.metrics.setRooms(len(h.rooms))
	}
	return r
}

func (h *Hub) pruneLocked(name string) {
	if r, ok := h.rooms[name]; ok && r.empty() {
		delete(h.rooms, name)
		h.metrics.setRooms(len(h.rooms))
	}
}

// Subscribe adds p to roomName/topic.
func (h *Hub) Subscribe(p Sender, roomName, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomLocked(roomName)
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[string]Sender)
		r.topics[topic] = subs
	}
	subs[p.ID()] = p
}

// Publish delivers data to every subscriber of roomName/topic, p included.
// Chat messages without a timestamp are stamped with the relay's clock.
func (h *Hub) Publish(p Sender, roomName, topic string, data json.RawMessage) {
	if topic == collab.TopicChat {
		data = h.stampChat(data)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.incRelayed(topic)
	h.fanoutLocked(roomName, topic, data)
}

// Join adds username to the roster and broadcasts the new roster.
func (h *Hub) Join(p Sender, roomName, username string) {
	if username == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.roomLocked(roomName)
	for _, m := range r.members {
		if m.peer.ID() == p.ID() && m.username == username {
			return
		}
	}
	r.members = append(r.members, member{peer: p, username: username})
	h.logger.Info().Str("room", roomName).Str("user", username).Int("online", len(r.activeUsers())).Msg("user joined")
	h.rosterLocked(roomName, r, collab.TypeJoin, username)
}

// Leave removes p's membership in roomName and broadcasts the new roster.
func (h *Hub) Leave(p Sender, roomName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(p, roomName)
	h.pruneLocked(roomName)
}

// Drop forgets p everywhere. Rooms p had joined see a LEAVE.
func (h *Hub) Drop(p Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, r := range h.rooms {
		for _, subs := range r.topics {
			delete(subs, p.ID())
		}
		for topic, subs := range r.topics {
			if len(subs) == 0 {
				delete(r.topics, topic)
			}
		}
		h.leaveLocked(p, name)
		h.pruneLocked(name)
	}
}

func (h *Hub) leaveLocked(p Sender, roomName string) {
	r, ok := h.rooms[roomName]
	if !ok {
		return
	}
	kept := r.members[:0]
	var left []string
	for _, m := range r.members {
		if m.peer.ID() == p.ID() {
			left = append(left, m.username)
			continue
		}
		kept = append(kept, m)
	}
	r.members = kept
	for _, username := range left {
		h.logger.Info().Str("room", roomName).Str("user", username).Msg("user left")
		h.rosterLocked(roomName, r, collab.TypeLeave, username)
	}
}

// Stats returns the number of rooms and distinct online users.
func (h *Hub) Stats() (rooms, users int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		users += len(r.activeUsers())
	}
	return len(h.rooms), users
}

// Roster returns the online users of roomName in join order.
func (h *Hub) Roster(roomName string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomName]; ok {
		return r.activeUsers()
	}
	return nil
}

func (h *Hub) rosterLocked(roomName string, r *room, kind, username string) {
	data, err := json.Marshal(collab.UserMessage{Type: kind, Username: username, ActiveUsers: r.activeUsers()})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode roster")
		return
	}
	h.fanoutLocked(roomName, collab.TopicUsers, data)
}

func (h *Hub) fanoutLocked(roomName, topic string, data json.RawMessage) {
	r, ok := h.rooms[roomName]
	if !ok {
		return
	}
	frame, err := json.Marshal(collab.Envelope{Room: roomName, Topic: topic, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("encode envelope")
		return
	}
	for id, p := range r.topics[topic] {
		if err := p.Send(frame); err != nil {
			h.metrics.incDropped()
			h.logger.Warn().Err(err).Str("peer", id).Str("topic", topic).Msg("send queue full")
		}
	}
}

func (h *Hub) stampChat(data json.RawMessage) json.RawMessage {
	var msg collab.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Timestamp != "" {
		return data
	}
	msg.Timestamp = h.clock.Now().Format(ChatTimeLayout)
	stamped, err := json.Marshal(msg)
	if err != nil {
		return data
	}
	return stamped
}
