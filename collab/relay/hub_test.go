package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/vylop-sdk/vylop-sdk-go/collab"
)

type fakeSender struct {
	id     string
	mu     sync.Mutex
	frames []collab.Envelope
}

func newFakeSender(id string) *fakeSender { return &fakeSender{id: id} }

func (f *fakeSender) ID() string { return f.id }

func (f *fakeSender) Send(data []byte) error {
	var env collab.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) topic(topic string) []collab.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []collab.Envelope
	for _, env := range f.frames {
		if env.Topic == topic {
			out = append(out, env)
		}
	}
	return out
}

func subscribeAll(h *Hub, p Sender, room string) {
	for _, topic := range collab.Topics {
		h.Subscribe(p, room, topic)
	}
}

func TestHub_PublishIncludesPublisher(t *testing.T) {
	h := NewHub(nil, zerolog.Nop(), nil)
	alice, bob := newFakeSender("a"), newFakeSender("b")
	subscribeAll(h, alice, "r1")
	subscribeAll(h, bob, "r1")

	h.Publish(alice, "r1", collab.TopicCode, json.RawMessage(`{"type":"CODE","sender":"alice","content":"x"}`))

	require.Len(t, alice.topic(collab.TopicCode), 1)
	require.Len(t, bob.topic(collab.TopicCode), 1)
	assert.Equal(t, "r1", bob.topic(collab.TopicCode)[0].Room)
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	h := NewHub(nil, zerolog.Nop(), nil)
	alice, carol := newFakeSender("a"), newFakeSender("c")
	subscribeAll(h, alice, "r1")
	subscribeAll(h, carol, "r2")

	h.Publish(alice, "r1", collab.TopicChat, json.RawMessage(`{"sender":"alice","content":"hi","timestamp":"10:00"}`))

	assert.Len(t, alice.topic(collab.TopicChat), 1)
	assert.Empty(t, carol.topic(collab.TopicChat))
}

func TestHub_JoinLeaveRoster(t *testing.T) {
	h := NewHub(nil, zerolog.Nop(), nil)
	alice, bob := newFakeSender("a"), newFakeSender("b")
	subscribeAll(h, alice, "r1")
	subscribeAll(h, bob, "r1")

	h.Join(alice, "r1", "alice")
	h.Join(bob, "r1", "bob")
	assert.Equal(t, []string{"alice", "bob"}, h.Roster("r1"))

	h.Leave(bob, "r1")
	assert.Equal(t, []string{"alice"}, h.Roster("r1"))

	users := alice.topic(collab.TopicUsers)
	require.Len(t, users, 3)

	var last collab.UserMessage
	require.NoError(t, json.Unmarshal(users[2].Data, &last))
	assert.Equal(t, collab.TypeLeave, last.Type)
	assert.Equal(t, "bob", last.Username)
	assert.Equal(t, []string{"alice"}, last.ActiveUsers)
}

func TestHub_DropAnnouncesLeave(t *testing.T) {
	h := NewHub(nil, zerolog.Nop(), nil)
	alice, bob := newFakeSender("a"), newFakeSender("b")
	subscribeAll(h, alice, "r1")
	subscribeAll(h, bob, "r1")
	h.Join(alice, "r1", "alice")
	h.Join(bob, "r1", "bob")

	h.Drop(bob)

	users := alice.topic(collab.TopicUsers)
	var last collab.UserMessage
	require.NoError(t, json.Unmarshal(users[len(users)-1].Data, &last))
	assert.Equal(t, collab.TypeLeave, last.Type)
	assert.Equal(t, "bob", last.Username)

	h.Drop(alice)
	rooms, online := h.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, online)
}

func TestHub_DuplicateUsernameListedOnce(t *testing.T) {
	h := NewHub(nil, zerolog.Nop(), nil)
	tab1, tab2 := newFakeSender("1"), newFakeSender("2")
	h.Join(tab1, "r1", "alice")
	h.Join(tab2, "r1", "alice")
	assert.Equal(t, []string{"alice"}, h.Roster("r1"))

	h.Drop(tab1)
	assert.Equal(t, []string{"alice"}, h.Roster("r1"))
}

func TestHub_ChatTimestamp(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC))
	h := NewHub(mock, zerolog.Nop(), nil)
	alice := newFakeSender("a")
	subscribeAll(h, alice, "r1")

	h.Publish(alice, "r1", collab.TopicChat, json.RawMessage(`{"sender":"alice","content":"hi"}`))
	h.Publish(alice, "r1", collab.TopicChat, json.RawMessage(`{"sender":"alice","content":"hey","timestamp":"09:15"}`))

	chats := alice.topic(collab.TopicChat)
	require.Len(t, chats, 2)

	var first, second collab.ChatMessage
	require.NoError(t, json.Unmarshal(chats[0].Data, &first))
	require.NoError(t, json.Unmarshal(chats[1].Data, &second))
	assert.Equal(t, "14:30", first.Timestamp)
	assert.Equal(t, "09:15", second.Timestamp)
}
