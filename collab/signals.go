package collab

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

// Typing publishes the local typing indicator with a trailing timeout and
// tracks which remote users are typing.
type Typing struct {
	local   string
	timeout time.Duration
	clock   clock.Clock
	publish PublishFunc
	// run executes the expiry callback in the owner's serialized context.
	run func(func())

	timer  *clock.Timer
	gen    uint64
	active bool
	remote map[string]bool
}

func NewTyping(local string, timeout time.Duration, clk clock.Clock, publish PublishFunc, run func(func())) *Typing {
	if clk == nil {
		clk = clock.New()
	}
	if run == nil {
		run = func(fn func()) { fn() }
	}
	return &Typing{
		local:   local,
		timeout: timeout,
		clock:   clk,
		publish: publish,
		run:     run,
		remote:  make(map[string]bool),
	}
}

// Keystroke announces typing and restarts the expiry timer.
func (t *Typing) Keystroke() {
	_ = t.publish(TopicTyping, TypingMessage{Username: t.local, IsTyping: true})
	t.active = true
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(t.timeout, func() {
		t.run(func() {
			if t.gen == gen {
				t.Stop()
			}
		})
	})
}

// Stop cancels the timer and announces that typing ended.
func (t *Typing) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	if !t.active {
		return
	}
	t.active = false
	_ = t.publish(TopicTyping, TypingMessage{Username: t.local, IsTyping: false})
}

// Active reports whether the local user is announced as typing.
func (t *Typing) Active() bool { return t.active }

// Receive applies a remote typing message and reports whether the set changed.
func (t *Typing) Receive(msg TypingMessage) bool {
	if msg.Username == "" || msg.Username == t.local {
		return false
	}
	if msg.IsTyping {
		if t.remote[msg.Username] {
			return false
		}
		t.remote[msg.Username] = true
		return true
	}
	return t.Clear(msg.Username)
}

// Clear removes username from the typing set.
func (t *Typing) Clear(username string) bool {
	if !t.remote[username] {
		return false
	}
	delete(t.remote, username)
	return true
}

// Users returns the remote users currently typing, sorted.
func (t *Typing) Users() []string {
	out := make([]string, 0, len(t.remote))
	for u := range t.remote {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Chat is the append-only chat log. limit > 0 keeps only the newest messages.
type Chat struct {
	limit    int
	messages []ChatMessage
}

func NewChat(limit int) *Chat {
	return &Chat{limit: limit}
}

func (c *Chat) Append(msg ChatMessage) {
	c.messages = append(c.messages, msg)
	if c.limit > 0 && len(c.messages) > c.limit {
		c.messages = append([]ChatMessage(nil), c.messages[len(c.messages)-c.limit:]...)
	}
}

// Messages returns a copy of the log, oldest first.
func (c *Chat) Messages() []ChatMessage {
	return append([]ChatMessage(nil), c.messages...)
}
