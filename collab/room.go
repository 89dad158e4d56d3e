package collab

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/vylop-sdk/vylop-sdk-go/collab/rest"
)

// ExecutionFailedOutput is shown in place of output when a run fails.
const ExecutionFailedOutput = "Execution failed."

// Session identifies one visit to a room.
type Session struct {
	RoomID   string
	Username string
	RoomName string
}

// Executor runs code remotely. *rest.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req rest.ExecuteRequest) (string, error)
}

// Option customizes a Room.
type Option func(*Room)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option { return func(r *Room) { r.dialer = d } }

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(r *Room) { r.clock = c } }

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Room) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics attaches metric collectors.
func WithMetrics(m *Metrics) Option { return func(r *Room) { r.metrics = m } }

type handlers struct {
	state       func(StateEvent)
	notice      func(Notice)
	roster      func([]string)
	fileChanged func(FileDocument)
	fileDeleted func(string)
	chat        func(ChatMessage)
	typing      func([]string)
	err         func(error)
}

// Room is the collaboration engine for one session: it owns the connection,
// the workspace, presence, cursors, typing and chat. Local calls and inbound
// messages are applied one at a time under a single lock. Callbacks run after
// the lock is released and may call back into the Room.
type Room struct {
	cfg     Config
	session Session
	dialer  Dialer
	clock   clock.Clock
	logger  Logger
	metrics *Metrics

	client     *Client
	dispatcher *Dispatcher

	mu        sync.Mutex
	outbox    []func()
	workspace *Workspace
	presence  *Presence
	cursors   *Cursors
	typing    *Typing
	chat      *Chat
	on        handlers
	lostGen   uint64

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewRoom builds a room for session. Nothing touches the network until Connect.
func NewRoom(cfg Config, session Session, opts ...Option) (*Room, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if session.RoomID == "" {
		return nil, NewError(ErrorValidation, "room id is empty")
	}
	if session.Username == "" {
		return nil, NewError(ErrorValidation, "username is empty")
	}

	r := &Room{
		cfg:     cfg,
		session: session,
		logger:  noopLogger{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.New()
	}

	r.client = NewClient(cfg, session.RoomID, session.Username, r.dialer, r.clock)
	r.client.SetLogger(r.logger)
	r.client.SetMetrics(r.metrics)
	r.client.OnStateChanged(r.handleState)
	r.client.OnError(r.reportError)

	r.workspace = NewWorkspace(session.Username, r.client.Publish)
	r.workspace.logger = r.logger
	r.workspace.metrics = r.metrics
	r.presence = NewPresence(session.Username, cfg.Palette, cfg.NoticeDedupWindow, r.clock)
	r.cursors = NewCursors(session.Username, r.presence.Observe)
	r.typing = NewTyping(session.Username, cfg.TypingTimeout, r.clock, r.client.Publish, r.serialize)
	r.chat = NewChat(cfg.ChatHistoryLimit)

	d := NewDispatcher(r.logger, r.metrics)
	On(d, TopicCode, TypeCode, r.handleCode)
	On(d, TopicCode, TypeDelete, r.handleDelete)
	On(d, TopicUsers, TypeJoin, r.handleRoster)
	On(d, TopicUsers, TypeLeave, r.handleRoster)
	On(d, TopicChat, "", r.handleChat)
	On(d, TopicTyping, "", r.handleTyping)
	On(d, TopicCursor, "", r.handleCursor)
	r.dispatcher = d

	return r, nil
}

// Callbacks should be registered before Connect.

func (r *Room) OnStateChanged(fn func(StateEvent)) { r.setHandler(func(h *handlers) { h.state = fn }) }
func (r *Room) OnNotice(fn func(Notice)) { r.setHandler(func(h *handlers) { h.notice = fn }) }
func (r *Room) OnRoster(fn func([]string)) { r.setHandler(func(h *handlers) { h.roster = fn }) }
func (r *Room) OnFileChanged(fn func(FileDocument)) { r.setHandler(func(h *handlers) { h.fileChanged = fn }) }
func (r *Room) OnFileDeleted(fn func(string)) { r.setHandler(func(h *handlers) { h.fileDeleted = fn }) }
func (r *Room) OnChat(fn func(ChatMessage)) { r.setHandler(func(h *handlers) { h.chat = fn }) }
func (r *Room) OnTyping(fn func([]string)) { r.setHandler(func(h *handlers) { h.typing = fn }) }
func (r *Room) OnError(fn func(error)) { r.setHandler(func(h *handlers) { h.err = fn }) }

func (r *Room) setHandler(set func(*handlers)) {
	r.mu.Lock()
	set(&r.on)
	r.mu.Unlock()
}

// Session returns the session this room was built for.
func (r *Room) Session() Session { return r.session }

// State returns the connection state.
func (r *Room) State() ConnectionState { return r.client.State() }

// Connect starts the inbound dispatcher and connects. See Client.Connect.
func (r *Room) Connect(ctx context.Context) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	r.startOnce.Do(func() { go r.run() })
	return r.client.Connect(ctx)
}

// Close stops typing, announces LEAVE and closes the connection. The room
// cannot be reused.
func (r *Room) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.lock()
		r.typing.Stop()
		r.unlock()
		err = r.client.Close()
		close(r.done)
	})
	return err
}

func (r *Room) run() {
	events := r.client.Events()
	for {
		select {
		case env := <-events:
			r.lock()
			r.deliver(env)
			r.unlock()
		case <-r.done:
			return
		}
	}
}

// deliver applies env in arrival order. Envelopes from a connection already
// marked lost are discarded.
func (r *Room) deliver(env Envelope) {
	switch {
	case env.lost:
		if env.gen > r.lostGen {
			r.lostGen = env.gen
		}
		r.workspace.DropOrphanedEchoes()
	case env.gen != 0 && env.gen <= r.lostGen:
		r.logger.Debug("envelope from lost connection dropped", map[string]any{"topic": env.Topic})
	default:
		r.dispatcher.Dispatch(env)
	}
}

func (r *Room) lock() { r.mu.Lock() }

// unlock releases the lock and then runs the callbacks queued while it was held.
func (r *Room) unlock() {
	out := r.outbox
	r.outbox = nil
	r.mu.Unlock()
	for _, fn := range out {
		fn()
	}
}

// serialize runs fn under the room lock. Used by timers.
func (r *Room) serialize(fn func()) {
	r.lock()
	defer r.unlock()
	fn()
}

func (r *Room) emit(fn func()) { r.outbox = append(r.outbox, fn) }

func (r *Room) emitFile(doc FileDocument) {
	if fn := r.on.fileChanged; fn != nil {
		r.emit(func() { fn(doc) })
	}
}

func (r *Room) emitTyping() {
	if fn := r.on.typing; fn != nil {
		users := r.typing.Users()
		r.emit(func() { fn(users) })
	}
}

// Document operations.

// ActiveFile returns the focused file.
func (r *Room) ActiveFile() FileDocument {
	r.lock()
	defer r.unlock()
	return r.workspace.Active()
}

// File returns the named file.
func (r *Room) File(name string) (FileDocument, bool) {
	r.lock()
	defer r.unlock()
	return r.workspace.File(name)
}

// Files returns every file sorted by name.
func (r *Room) Files() []FileDocument {
	r.lock()
	defer r.unlock()
	return r.workspace.Files()
}

// Snapshot returns fileName -> content for saving.
func (r *Room) Snapshot() map[string]string {
	r.lock()
	defer r.unlock()
	return r.workspace.Snapshot()
}

// Edit replaces the content of the active file.
func (r *Room) Edit(content string) error {
	r.lock()
	defer r.unlock()
	return r.workspace.ApplyLocalEdit(r.workspace.ActiveName(), content)
}

// EditFile replaces the content of the named file.
func (r *Room) EditFile(name, content string) error {
	r.lock()
	defer r.unlock()
	return r.workspace.ApplyLocalEdit(name, content)
}

// CreateFile adds and focuses a new file.
func (r *Room) CreateFile(name, language, content string) error {
	r.lock()
	defer r.unlock()
	if err := r.workspace.CreateFile(name, language, content); err != nil {
		return err
	}
	r.cursors.Refocus(name)
	return nil
}

// DeleteFile removes a file. The last file cannot be deleted.
func (r *Room) DeleteFile(name string) error {
	r.lock()
	defer r.unlock()
	if err := r.workspace.DeleteFile(name); err != nil {
		return err
	}
	r.cursors.Refocus(r.workspace.ActiveName())
	return nil
}

// ChangeLanguage resets the active file to the starter program of lang.
func (r *Room) ChangeLanguage(lang string) error {
	r.lock()
	defer r.unlock()
	return r.workspace.ChangeLanguage(lang)
}

// SwitchFile focuses another file and hides cursors on other files.
func (r *Room) SwitchFile(name string) error {
	r.lock()
	defer r.unlock()
	if err := r.workspace.Switch(name); err != nil {
		return err
	}
	r.cursors.Refocus(name)
	return nil
}

// LoadFiles replaces the workspace with a persisted snapshot and broadcasts it.
func (r *Room) LoadFiles(files map[string]string) {
	r.lock()
	defer r.unlock()
	r.workspace.Load(files, true)
	r.cursors.Refocus(r.workspace.ActiveName())
}

// Presence.

// Online returns the current roster.
func (r *Room) Online() []string {
	r.lock()
	defer r.unlock()
	return r.presence.Online()
}

// Participants returns every user seen during this visit with their color.
func (r *Room) Participants() []Participant {
	r.lock()
	defer r.unlock()
	return r.presence.Participants()
}

// ColorOf returns the color assigned to username.
func (r *Room) ColorOf(username string) (string, bool) {
	r.lock()
	defer r.unlock()
	return r.presence.Color(username)
}

// Cursors.

// AttachSurface mounts the editing surface and replays queued cursors.
func (r *Room) AttachSurface(s Surface) {
	r.lock()
	defer r.unlock()
	r.cursors.Attach(s, r.workspace.ActiveName())
}

// DetachSurface unmounts the editing surface.
func (r *Room) DetachSurface() {
	r.lock()
	defer r.unlock()
	r.cursors.Detach()
}

// MoveCursor publishes the local caret position on the active file.
func (r *Room) MoveCursor(line, column int) {
	r.lock()
	defer r.unlock()
	_ = r.client.Publish(TopicCursor, CursorMessage{
		Username: r.session.Username,
		FileName: r.workspace.ActiveName(),
		Line:     line,
		Column:   column,
	})
}

// Cursors returns the remote cursors currently drawn.
func (r *Room) Cursors() []RemoteCursor {
	r.lock()
	defer r.unlock()
	return r.cursors.Live()
}

// Signals.

// Keystroke marks the local user as typing in the chat composer.
func (r *Room) Keystroke() {
	r.lock()
	defer r.unlock()
	r.typing.Keystroke()
}

// SendChat publishes a chat message and ends the typing indicator.
func (r *Room) SendChat(text string) error {
	if text == "" {
		return NewError(ErrorValidation, "chat message is empty")
	}
	r.lock()
	defer r.unlock()
	err := r.client.Publish(TopicChat, ChatMessage{Sender: r.session.Username, Content: text})
	r.typing.Stop()
	return err
}

// Chat returns the chat log.
func (r *Room) Chat() []ChatMessage {
	r.lock()
	defer r.unlock()
	return r.chat.Messages()
}

// Typing returns the remote users currently typing.
func (r *Room) Typing() []string {
	r.lock()
	defer r.unlock()
	return r.typing.Users()
}

// Run executes the active file remotely with the whole workspace attached.
// Failures come back as ExecutionFailedOutput.
func (r *Room) Run(ctx context.Context, exec Executor, input string) string {
	r.lock()
	active := r.workspace.Active()
	req := rest.ExecuteRequest{
		Language: active.Language,
		Code:     active.Content,
		Input:    input,
		MainFile: active.Name,
		Files:    r.workspace.Snapshot(),
	}
	r.unlock()

	out, err := exec.Execute(ctx, req)
	if err != nil {
		r.logger.Warn("execution failed", map[string]any{"file": active.Name, "error": err.Error()})
		r.reportError(WrapError(ErrorExecution, "run "+active.Name, err))
		return ExecutionFailedOutput
	}
	return out
}

// Inbound handlers. Called by the dispatcher with the lock held.

func (r *Room) handleCode(msg CodeMessage) {
	r.presence.Observe(msg.Sender)
	if !r.workspace.ApplyRemoteEdit(msg) {
		return
	}
	name := msg.FileName
	if name == "" {
		name = r.workspace.ActiveName()
	}
	if doc, ok := r.workspace.File(name); ok {
		r.emitFile(doc)
	}
}

func (r *Room) handleDelete(msg CodeMessage) {
	if !r.workspace.ApplyRemoteDelete(msg) {
		return
	}
	r.cursors.Refocus(r.workspace.ActiveName())
	if fn := r.on.fileDeleted; fn != nil {
		name := msg.FileName
		r.emit(func() { fn(name) })
	}
}

func (r *Room) handleRoster(msg UserMessage) {
	notice, ok := r.presence.Update(msg)
	r.cursors.Retain(r.presence.IsOnline)
	if msg.Type == TypeLeave && r.typing.Clear(msg.Username) {
		r.emitTyping()
	}
	if fn := r.on.roster; fn != nil {
		online := r.presence.Online()
		r.emit(func() { fn(online) })
	}
	if fn := r.on.notice; ok && fn != nil {
		r.emit(func() { fn(notice) })
	}
}

func (r *Room) handleChat(msg ChatMessage) {
	r.presence.Observe(msg.Sender)
	r.chat.Append(msg)
	if r.typing.Clear(msg.Sender) {
		r.emitTyping()
	}
	if fn := r.on.chat; fn != nil {
		r.emit(func() { fn(msg) })
	}
}

func (r *Room) handleTyping(msg TypingMessage) {
	if r.typing.Receive(msg) {
		r.emitTyping()
	}
}

func (r *Room) handleCursor(msg CursorMessage) {
	r.presence.Observe(msg.Username)
	r.cursors.Update(msg, r.workspace.ActiveName())
}

func (r *Room) handleState(ev StateEvent) {
	r.lock()
	defer r.unlock()
	if ev.NewState == StateDisconnected {
		r.workspace.OrphanEchoes()
	}
	if fn := r.on.state; fn != nil {
		r.emit(func() { fn(ev) })
	}
}

func (r *Room) reportError(err error) {
	r.lock()
	defer r.unlock()
	if fn := r.on.err; fn != nil {
		r.emit(func() { fn(err) })
	}
}
