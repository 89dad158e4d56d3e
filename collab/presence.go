package collab

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Participant is a user seen in the room and the color assigned to them.
type Participant struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Notice is a join or leave announcement for the local user to see.
type Notice struct {
	Type     string // TypeJoin or TypeLeave
	Username string
}

type noticeKey struct {
	kind     string
	username string
}

// Presence tracks the room roster. Colors are handed out from the palette in
// first-seen order and are never reassigned while the registry lives, even
// after a user leaves.
type Presence struct {
	local   string
	palette []string
	window  time.Duration
	clock   clock.Clock

	seen    []string
	colors  map[string]string
	online  []string
	isOn    map[string]bool
	noticed map[noticeKey]time.Time
}

func NewPresence(local string, palette []string, window time.Duration, clk clock.Clock) *Presence {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Presence{
		local:   local,
		palette: palette,
		window:  window,
		clock:   clk,
		colors:  make(map[string]string),
		isOn:    make(map[string]bool),
		noticed: make(map[noticeKey]time.Time),
	}
}

// Observe assigns a color to username if it has none yet and returns it.
func (p *Presence) Observe(username string) string {
	if username == "" {
		return ""
	}
	if c, ok := p.colors[username]; ok {
		return c
	}
	c := p.palette[len(p.seen)%len(p.palette)]
	p.seen = append(p.seen, username)
	p.colors[username] = c
	return c
}

// Color returns the color assigned to username.
func (p *Presence) Color(username string) (string, bool) {
	c, ok := p.colors[username]
	return c, ok
}

// Update applies a roster broadcast. The online set becomes exactly
// msg.ActiveUsers. A notice is returned for another user's join or leave,
// at most once per (type, user) within the de-duplication window.
func (p *Presence) Update(msg UserMessage) (Notice, bool) {
	for _, u := range msg.ActiveUsers {
		p.Observe(u)
	}
	p.Observe(msg.Username)

	p.online = append(p.online[:0], msg.ActiveUsers...)
	p.isOn = make(map[string]bool, len(msg.ActiveUsers))
	for _, u := range msg.ActiveUsers {
		p.isOn[u] = true
	}

	if msg.Username == "" || msg.Username == p.local {
		return Notice{}, false
	}
	if msg.Type != TypeJoin && msg.Type != TypeLeave {
		return Notice{}, false
	}
	key := noticeKey{kind: msg.Type, username: msg.Username}
	now := p.clock.Now()
	if last, ok := p.noticed[key]; ok && now.Sub(last) < p.window {
		return Notice{}, false
	}
	p.noticed[key] = now
	return Notice{Type: msg.Type, Username: msg.Username}, true
}

// IsOnline reports whether username is in the current roster.
func (p *Presence) IsOnline(username string) bool { return p.isOn[username] }

// Online returns the current roster in server order.
func (p *Presence) Online() []string {
	return append([]string(nil), p.online...)
}

// Participants returns every user ever seen, in first-seen order.
func (p *Presence) Participants() []Participant {
	out := make([]Participant, 0, len(p.seen))
	for _, u := range p.seen {
		out = append(out, Participant{Username: u, Color: p.colors[u]})
	}
	return out
}
