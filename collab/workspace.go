package collab

import "sort"

// FileDocument is one open file.
type FileDocument struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// EditState is the per-file edit cycle.
type EditState int

const (
	// EditIdle applies inbound CODE messages for the file.
	EditIdle EditState = iota
	// EditAwaitingEcho discards the next inbound CODE message for the file,
	// which is the transport echoing a local edit.
	EditAwaitingEcho
)

func (s EditState) String() string {
	if s == EditAwaitingEcho {
		return "awaiting_echo"
	}
	return "idle"
}

type fileEntry struct {
	doc FileDocument
	// echoes counts published local edits whose echo has not come back yet.
	echoes int
	// orphaned counts echoes owed by a lost connection. They may still be
	// queued for delivery behind the drop.
	orphaned int
}

func (f *fileEntry) state() EditState {
	if f.echoes > 0 || f.orphaned > 0 {
		return EditAwaitingEcho
	}
	return EditIdle
}

// PublishFunc sends a payload on a room topic.
type PublishFunc func(topic string, data any) error

// Workspace is the set of open files with exactly one active file. It holds
// at least one file at all times. It is not safe for concurrent use; Room
// serializes access.
type Workspace struct {
	username string
	files    map[string]*fileEntry
	active   string
	publish  PublishFunc
	logger   Logger
	metrics  *Metrics
}

// NewWorkspace returns a workspace holding the default Java file.
func NewWorkspace(username string, publish PublishFunc) *Workspace {
	if publish == nil {
		publish = func(string, any) error { return ErrNotConnected }
	}
	w := &Workspace{
		username: username,
		files:    make(map[string]*fileEntry),
		publish:  publish,
		logger:   noopLogger{},
	}
	w.files[DefaultFileName] = &fileEntry{doc: FileDocument{
		Name:     DefaultFileName,
		Language: LangJava,
		Content:  StarterContent(LangJava),
	}}
	w.active = DefaultFileName
	return w
}

// Active returns the focused file.
func (w *Workspace) Active() FileDocument {
	return w.files[w.active].doc
}

// ActiveName returns the name of the focused file.
func (w *Workspace) ActiveName() string { return w.active }

// File returns the named file.
func (w *Workspace) File(name string) (FileDocument, bool) {
	f, ok := w.files[name]
	if !ok {
		return FileDocument{}, false
	}
	return f.doc, true
}

// Files returns all files sorted by name.
func (w *Workspace) Files() []FileDocument {
	out := make([]FileDocument, 0, len(w.files))
	for _, name := range w.names() {
		out = append(out, w.files[name].doc)
	}
	return out
}

// Len returns the number of files.
func (w *Workspace) Len() int { return len(w.files) }

// Snapshot returns fileName -> content for persistence.
func (w *Workspace) Snapshot() map[string]string {
	out := make(map[string]string, len(w.files))
	for name, f := range w.files {
		out[name] = f.doc.Content
	}
	return out
}

// EditState reports where the named file is in its edit cycle.
func (w *Workspace) EditState(name string) EditState {
	if f, ok := w.files[name]; ok {
		return f.state()
	}
	return EditIdle
}

// ApplyLocalEdit stores newContent for name and broadcasts it. When the
// broadcast is accepted the file waits for exactly one echo.
func (w *Workspace) ApplyLocalEdit(name, newContent string) error {
	f, ok := w.files[name]
	if !ok {
		return ErrUnknownFile
	}
	f.doc.Content = newContent
	w.broadcast(f)
	return nil
}

// ApplyRemoteEdit applies an inbound CODE message and reports whether the
// workspace changed. An echo of a local edit is consumed without effect.
// CODE for an unknown file creates it.
func (w *Workspace) ApplyRemoteEdit(msg CodeMessage) bool {
	name := msg.FileName
	if name == "" {
		name = w.active
	}

	f, ok := w.files[name]
	if !ok {
		lang := msg.Language
		if lang == "" {
			lang = LanguageForFile(name)
		}
		w.files[name] = &fileEntry{doc: FileDocument{Name: name, Language: lang, Content: msg.Content}}
		w.logger.Debug("file created by remote edit", map[string]any{"file": name, "sender": msg.Sender})
		return true
	}

	switch {
	case f.orphaned > 0:
		f.orphaned--
		w.metrics.incSuppressed()
		return false
	case f.echoes > 0:
		f.echoes--
		w.metrics.incSuppressed()
		return false
	}
	f.doc.Content = msg.Content
	if msg.Language != "" {
		f.doc.Language = msg.Language
	}
	return true
}

// CreateFile adds a file, focuses it and broadcasts it.
func (w *Workspace) CreateFile(name, language, content string) error {
	if name == "" {
		return ErrEmptyFileName
	}
	if _, ok := w.files[name]; ok {
		return ErrFileExists
	}
	if language == "" {
		language = LanguageForFile(name)
	}
	f := &fileEntry{doc: FileDocument{Name: name, Language: language, Content: content}}
	w.files[name] = f
	w.active = name
	w.broadcast(f)
	return nil
}

// DeleteFile removes a file and broadcasts the deletion. The last file
// cannot be deleted.
func (w *Workspace) DeleteFile(name string) error {
	if _, ok := w.files[name]; !ok {
		return ErrUnknownFile
	}
	if len(w.files) == 1 {
		return ErrLastFile
	}
	w.remove(name)
	if err := w.publish(TopicCode, CodeMessage{Type: TypeDelete, Sender: w.username, FileName: name}); err != nil {
		w.logger.Debug("delete not broadcast", map[string]any{"file": name, "error": err.Error()})
	}
	return nil
}

// ApplyRemoteDelete removes a file named by an inbound DELETE and reports
// whether it was removed. Unknown files are ignored, and so is a delete that
// would empty the workspace.
func (w *Workspace) ApplyRemoteDelete(msg CodeMessage) bool {
	if _, ok := w.files[msg.FileName]; !ok {
		return false
	}
	if len(w.files) == 1 {
		w.logger.Warn("remote delete of last file ignored", map[string]any{"file": msg.FileName, "sender": msg.Sender})
		return false
	}
	w.remove(msg.FileName)
	return true
}

// ChangeLanguage resets the active file to lang's starter program and
// broadcasts it.
func (w *Workspace) ChangeLanguage(lang string) error {
	if lang == "" {
		return NewError(ErrorValidation, "language is empty")
	}
	f := w.files[w.active]
	f.doc.Language = lang
	f.doc.Content = StarterContent(lang)
	w.broadcast(f)
	return nil
}

// Switch focuses an existing file.
func (w *Workspace) Switch(name string) error {
	if _, ok := w.files[name]; !ok {
		return ErrUnknownFile
	}
	w.active = name
	return nil
}

// Load replaces the workspace with files (name -> content). An empty map
// leaves the workspace untouched. When broadcast is set every file is sent
// to the room.
func (w *Workspace) Load(files map[string]string, broadcast bool) {
	if len(files) == 0 {
		return
	}
	w.files = make(map[string]*fileEntry, len(files))
	for name, content := range files {
		w.files[name] = &fileEntry{doc: FileDocument{Name: name, Language: LanguageForFile(name), Content: content}}
	}
	if _, ok := w.files[w.active]; !ok {
		w.active = w.names()[0]
	}
	if broadcast {
		for _, name := range w.names() {
			w.broadcast(w.files[name])
		}
	}
}

// OrphanEchoes marks every pending echo as owed by the connection that just
// dropped. Echoes already read from it are still consumed; the rest never
// arrive and are forgotten by DropOrphanedEchoes.
func (w *Workspace) OrphanEchoes() {
	for _, f := range w.files {
		f.orphaned += f.echoes
		f.echoes = 0
	}
}

// DropOrphanedEchoes forgets echoes owed by a lost connection. Call it once
// everything read from that connection has been applied.
func (w *Workspace) DropOrphanedEchoes() {
	for _, f := range w.files {
		f.orphaned = 0
	}
}

func (w *Workspace) broadcast(f *fileEntry) {
	msg := CodeMessage{
		Type:     TypeCode,
		Sender:   w.username,
		Content:  f.doc.Content,
		Language: f.doc.Language,
		FileName: f.doc.Name,
	}
	if err := w.publish(TopicCode, msg); err != nil {
		w.logger.Debug("edit not broadcast", map[string]any{"file": f.doc.Name, "error": err.Error()})
		return
	}
	f.echoes++
}

func (w *Workspace) remove(name string) {
	delete(w.files, name)
	if w.active == name {
		w.active = w.names()[0]
	}
}

func (w *Workspace) names() []string {
	names := make([]string, 0, len(w.files))
	for name := range w.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
