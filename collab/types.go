package collab

import "encoding/json"

// Room-scoped topics.
const (
	TopicCode   = "code"
	TopicUsers  = "users"
	TopicChat   = "chat"
	TopicTyping = "typing"
	TopicCursor = "cursor"
)

// Topics lists every topic a room subscribes to after connecting.
var Topics = []string{TopicCode, TopicUsers, TopicChat, TopicTyping, TopicCursor}

// Message types carried in the "type" field of code and users payloads.
const (
	TypeCode   = "CODE"
	TypeDelete = "DELETE"
	TypeJoin   = "JOIN"
	TypeLeave  = "LEAVE"
)

// Client -> server actions.
const (
	ActionSubscribe = "subscribe"
	ActionPublish   = "publish"
	ActionJoin      = "join"
	ActionLeave     = "leave"
)

// Request is the envelope from client to server.
type Request struct {
	Action   string `json:"action"`
	Room     string `json:"room"`
	Topic    string `json:"topic,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// Envelope is the envelope server -> client.
type Envelope struct {
	Room  string          `json:"room"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`

	// gen is the connection the envelope was read from. lost marks the
	// end of that connection's stream.
	gen  uint64
	lost bool
}

// ConnectionLost reports whether env marks the end of a dropped
// connection's stream rather than carrying a message.
func (env Envelope) ConnectionLost() bool { return env.lost }

// CodeMessage carries a whole-file broadcast or a delete.
type CodeMessage struct {
	Type     string `json:"type"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// UserMessage is the full-roster notice on the users topic.
type UserMessage struct {
	Type        string   `json:"type"`
	Username    string   `json:"username"`
	ActiveUsers []string `json:"activeUsers,omitempty"`
}

// ChatMessage is one chat line.
type ChatMessage struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (m ChatMessage) complete() bool { return m.Sender != "" }

// TypingMessage toggles a user's typing indicator.
type TypingMessage struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

func (m TypingMessage) complete() bool { return m.Username != "" }

// CursorMessage is a caret position. Lines and columns are 1-based.
type CursorMessage struct {
	Username string `json:"username"`
	FileName string `json:"fileName"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

func (m CursorMessage) complete() bool { return m.Username != "" }

// UnmarshalJSON accepts the legacy lineNumber field as an alias of line.
func (m *CursorMessage) UnmarshalJSON(data []byte) error {
	type plain CursorMessage
	var aux struct {
		plain
		LineNumber *int `json:"lineNumber"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = CursorMessage(aux.plain)
	if m.Line == 0 && aux.LineNumber != nil {
		m.Line = *aux.LineNumber
	}
	return nil
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
