package collab

import "sort"

// Position is a 1-based caret position.
type Position struct {
	Line   int
	Column int
}

// MarkerStyle describes how a remote cursor is drawn.
type MarkerStyle struct {
	Color string
	Label string
	// LabelBelow puts the name tag under the caret. Used on the first line,
	// where a tag above would be clipped by the top edge.
	LabelBelow bool
}

// Surface is the editing surface that draws remote cursors.
type Surface interface {
	RenderMarker(id string, pos Position, style MarkerStyle)
	RemoveMarker(id string)
}

// RemoteCursor is the last known caret of a remote participant.
type RemoteCursor struct {
	Owner    string `json:"owner"`
	FileName string `json:"fileName"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// MarkerID is the surface id of username's cursor marker.
func MarkerID(username string) string { return "cursor-" + username }

// Cursors keeps at most one marker per remote participant, only for the
// locally active file. Updates that arrive before a surface is attached are
// queued, last position wins, and replayed on Attach.
type Cursors struct {
	local   string
	colorOf func(string) string
	surface Surface
	live    map[string]RemoteCursor
	pending map[string]RemoteCursor
}

func NewCursors(local string, colorOf func(string) string) *Cursors {
	if colorOf == nil {
		colorOf = func(string) string { return DefaultPalette[0] }
	}
	return &Cursors{
		local:   local,
		colorOf: colorOf,
		live:    make(map[string]RemoteCursor),
		pending: make(map[string]RemoteCursor),
	}
}

// Update projects an inbound cursor message onto the surface.
func (c *Cursors) Update(msg CursorMessage, activeFile string) {
	if msg.Username == "" || msg.Username == c.local {
		return
	}
	if msg.FileName != activeFile {
		c.Remove(msg.Username)
		return
	}
	cur := RemoteCursor{Owner: msg.Username, FileName: msg.FileName, Line: msg.Line, Column: msg.Column}
	if c.surface == nil {
		c.pending[cur.Owner] = cur
		return
	}
	c.render(cur)
}

// Attach mounts the surface and replays queued cursors for activeFile.
func (c *Cursors) Attach(s Surface, activeFile string) {
	c.surface = s
	if s == nil {
		return
	}
	for _, owner := range sortedKeys(c.pending) {
		cur := c.pending[owner]
		if cur.FileName == activeFile {
			c.render(cur)
		}
	}
	clear(c.pending)
}

// Detach forgets the surface. Its markers go away with it.
func (c *Cursors) Detach() {
	c.surface = nil
	clear(c.live)
}

// Remove drops username's marker and any queued position.
func (c *Cursors) Remove(username string) {
	delete(c.pending, username)
	if _, ok := c.live[username]; !ok {
		return
	}
	delete(c.live, username)
	if c.surface != nil {
		c.surface.RemoveMarker(MarkerID(username))
	}
}

// Retain removes every cursor whose owner is not online.
func (c *Cursors) Retain(online func(string) bool) {
	for _, owner := range sortedKeys(c.live) {
		if !online(owner) {
			c.Remove(owner)
		}
	}
	for owner := range c.pending {
		if !online(owner) {
			delete(c.pending, owner)
		}
	}
}

// Refocus removes every cursor that is not on activeFile.
func (c *Cursors) Refocus(activeFile string) {
	for _, owner := range sortedKeys(c.live) {
		if c.live[owner].FileName != activeFile {
			c.Remove(owner)
		}
	}
	for owner, cur := range c.pending {
		if cur.FileName != activeFile {
			delete(c.pending, owner)
		}
	}
}

// Live returns the rendered cursors sorted by owner.
func (c *Cursors) Live() []RemoteCursor {
	out := make([]RemoteCursor, 0, len(c.live))
	for _, owner := range sortedKeys(c.live) {
		out = append(out, c.live[owner])
	}
	return out
}

// Pending returns the number of queued cursor updates.
func (c *Cursors) Pending() int { return len(c.pending) }

func (c *Cursors) render(cur RemoteCursor) {
	id := MarkerID(cur.Owner)
	if _, ok := c.live[cur.Owner]; ok {
		c.surface.RemoveMarker(id)
	}
	c.surface.RenderMarker(id, Position{Line: cur.Line, Column: cur.Column}, MarkerStyle{
		Color:      c.colorOf(cur.Owner),
		Label:      cur.Owner,
		LabelBelow: cur.Line <= 1,
	})
	c.live[cur.Owner] = cur
}

func sortedKeys(m map[string]RemoteCursor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
