package collab

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresence_ColorsInFirstSeenOrder(t *testing.T) {
	p := NewPresence(testUser, DefaultPalette, 4*time.Second, clock.NewMock())

	p.Update(UserMessage{Type: TypeJoin, Username: testUser, ActiveUsers: []string{testUser}})
	p.Update(UserMessage{Type: TypeJoin, Username: "bob", ActiveUsers: []string{testUser, "bob"}})

	c, ok := p.Color(testUser)
	require.True(t, ok)
	assert.Equal(t, DefaultPalette[0], c)
	c, _ = p.Color("bob")
	assert.Equal(t, DefaultPalette[1], c)

	// A user who left keeps their color when they return.
	p.Update(UserMessage{Type: TypeLeave, Username: "bob", ActiveUsers: []string{testUser}})
	p.Update(UserMessage{Type: TypeJoin, Username: "carol", ActiveUsers: []string{testUser, "carol"}})
	p.Update(UserMessage{Type: TypeJoin, Username: "bob", ActiveUsers: []string{testUser, "carol", "bob"}})
	c, _ = p.Color("bob")
	assert.Equal(t, DefaultPalette[1], c)
	c, _ = p.Color("carol")
	assert.Equal(t, DefaultPalette[2], c)
}

func TestPresence_DistinctColorsUpToPaletteSize(t *testing.T) {
	palette := []string{"#1", "#2", "#3"}
	p := NewPresence(testUser, palette, 0, clock.NewMock())

	for _, u := range []string{"a", "b", "c", "d"} {
		p.Observe(u)
	}
	seen := map[string]bool{}
	for _, u := range []string{"a", "b", "c"} {
		c, _ := p.Color(u)
		seen[c] = true
	}
	assert.Len(t, seen, 3)

	// Past the palette size colors wrap around.
	d, _ := p.Color("d")
	assert.Equal(t, "#1", d)
	assert.Equal(t, "#1", p.Observe("d"))
}

func TestPresence_OnlineReplacedByRoster(t *testing.T) {
	p := NewPresence(testUser, nil, 0, clock.NewMock())

	p.Update(UserMessage{Type: TypeJoin, Username: "bob", ActiveUsers: []string{testUser, "bob", "carol"}})
	assert.Equal(t, []string{testUser, "bob", "carol"}, p.Online())
	assert.True(t, p.IsOnline("carol"))

	p.Update(UserMessage{Type: TypeLeave, Username: "carol", ActiveUsers: []string{testUser, "bob"}})
	assert.Equal(t, []string{testUser, "bob"}, p.Online())
	assert.False(t, p.IsOnline("carol"))

	// Participants remembers everyone ever seen.
	assert.Len(t, p.Participants(), 3)
}

func TestPresence_NoticeRules(t *testing.T) {
	mock := clock.NewMock()
	p := NewPresence(testUser, nil, 4*time.Second, mock)

	_, ok := p.Update(UserMessage{Type: TypeJoin, Username: testUser, ActiveUsers: []string{testUser}})
	assert.False(t, ok, "own join is silent")

	n, ok := p.Update(UserMessage{Type: TypeJoin, Username: "bob", ActiveUsers: []string{testUser, "bob"}})
	require.True(t, ok)
	assert.Equal(t, Notice{Type: TypeJoin, Username: "bob"}, n)

	mock.Add(time.Second)
	_, ok = p.Update(UserMessage{Type: TypeJoin, Username: "bob", ActiveUsers: []string{testUser, "bob"}})
	assert.False(t, ok, "duplicate within window")

	n, ok = p.Update(UserMessage{Type: TypeLeave, Username: "bob", ActiveUsers: []string{testUser}})
	require.True(t, ok, "leave is keyed separately from join")
	assert.Equal(t, TypeLeave, n.Type)

	mock.Add(4 * time.Second)
	_, ok = p.Update(UserMessage{Type: TypeJoin, Username: "bob", ActiveUsers: []string{testUser, "bob"}})
	assert.True(t, ok, "window elapsed")
}

func TestPresence_SuppressedDuplicatesDoNotExtendWindow(t *testing.T) {
	mock := clock.NewMock()
	p := NewPresence(testUser, nil, 4*time.Second, mock)

	_, ok := p.Update(UserMessage{Type: TypeJoin, Username: "bob"})
	require.True(t, ok)
	mock.Add(3 * time.Second)
	_, ok = p.Update(UserMessage{Type: TypeJoin, Username: "bob"})
	require.False(t, ok)
	mock.Add(1500 * time.Millisecond)
	_, ok = p.Update(UserMessage{Type: TypeJoin, Username: "bob"})
	assert.True(t, ok)
}

func TestPresence_IgnoresEmptyAndUnknown(t *testing.T) {
	p := NewPresence(testUser, nil, 0, clock.NewMock())

	_, ok := p.Update(UserMessage{Type: TypeJoin, ActiveUsers: []string{"bob"}})
	assert.False(t, ok)
	_, ok = p.Update(UserMessage{Type: "KICK", Username: "bob", ActiveUsers: []string{"bob"}})
	assert.False(t, ok)
	assert.Equal(t, "", p.Observe(""))
	assert.Len(t, p.Participants(), 1)
}
