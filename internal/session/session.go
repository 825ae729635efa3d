// Package session owns the synchronized workspace state: the file tree, the
// open-file tabs, the active selection, the per-file pending-save registry,
// and the agent chat transcript. Every other component mutates that state
// through this object, and the tree is always swapped wholesale — readers
// never see a new shape with stale content.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/lotas/werkbank/internal/applog"
	"github.com/lotas/werkbank/internal/channel"
	"github.com/lotas/werkbank/internal/tree"
	"github.com/lotas/werkbank/internal/types"
)

// Backend is the slice of the file service the session needs.
type Backend interface {
	FetchTree(ctx context.Context) ([]*tree.Node, error)
	FetchContent(ctx context.Context, path string) (string, error)
	SaveFile(ctx context.Context, path, content string) error
	CreateNode(ctx context.Context, path string, nodeType tree.NodeType) error
	DeleteNode(ctx context.Context, path string) error
}

// DefaultDebounce is the quiet period after the last edit before the
// write-back fires.
const DefaultDebounce = 500 * time.Millisecond

// pendingSave is one file's not-yet-persisted edit. The entry stays in the
// registry while the write is pending or in flight, which is what the
// refresh path consults to avoid re-fetching over a local edit.
type pendingSave struct {
	content  string
	timer    *time.Timer
	inFlight bool
}

// Session is safe for concurrent use.
type Session struct {
	backend  Backend
	debounce time.Duration

	mu         sync.Mutex
	tree       []*tree.Node
	loaded     bool
	openFiles  []string
	activeID   string
	selectedID string
	pending    map[string]*pendingSave
	chat       []types.ChatMessage
	processing bool
}

// New creates a session over the given backend. debounce <= 0 selects
// DefaultDebounce.
func New(backend Backend, debounce time.Duration) *Session {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Session{
		backend:  backend,
		debounce: debounce,
		pending:  make(map[string]*pendingSave),
	}
}

// --- State snapshots ---

// Tree returns the current tree. The tree is immutable by construction, so
// the slice can be shared with readers.
func (s *Session) Tree() []*tree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// OpenFiles returns the open tabs in insertion order.
func (s *Session) OpenFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.openFiles))
	copy(out, s.openFiles)
	return out
}

// ActiveID returns the id of the active file, or "".
func (s *Session) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SelectedID returns the id of the selected node (file or folder), or "".
func (s *Session) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// Chat returns a copy of the chat transcript.
func (s *Session) Chat() []types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// Processing reports whether an agent turn is in progress.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// HasPendingWrite reports whether a write for the file is pending or in
// flight.
func (s *Session) HasPendingWrite(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// --- Refresh protocol ---

// RefreshResult reports what a refresh discovered. FetchWanted is the file
// whose content should be fetched next (the re-activated file on first
// load, or the most recently discovered new file afterwards); it is already
// committed as the active tab when set by a non-first refresh.
type RefreshResult struct {
	NewFiles    []string
	FetchWanted string
}

// Refresh pulls the authoritative shape, grafts held content onto it, and
// commits the merged tree atomically. Open tabs whose ids vanished from the
// shape are dropped (backend deletion confirmation). Content fetching for
// the returned FetchWanted id is deliberately left to the caller so it is
// sequenced after the commit.
func (s *Session) Refresh(ctx context.Context) (*RefreshResult, error) {
	shape, err := s.backend.FetchTree(ctx)
	if err != nil {
		applog.Error("refresh.fetch", err)
		return nil, err
	}
	tree.Sort(shape)

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &RefreshResult{}
	firstLoad := !s.loaded

	if firstLoad {
		s.tree = tree.Merge(nil, shape)
		s.loaded = true
		if s.activeID != "" {
			if n := tree.FindByID(s.tree, s.activeID); n != nil && n.IsFile() {
				result.FetchWanted = s.activeID
			}
		}
		applog.Info("refresh.initial", "nodes", tree.CountNodes(s.tree))
		return result, nil
	}

	oldIndex := tree.Flatten(s.tree)
	newIndex := tree.Flatten(shape)
	s.tree = tree.Merge(s.tree, shape)

	result.NewFiles = tree.NewFileIDs(oldIndex, s.tree)
	for _, id := range result.NewFiles {
		s.openLocked(id)
		s.activeID = id
		s.selectedID = id
	}
	if len(result.NewFiles) > 0 {
		result.FetchWanted = result.NewFiles[len(result.NewFiles)-1]
	}

	s.pruneClosedLocked(newIndex)
	applog.Info("refresh.merged", "nodes", tree.CountNodes(s.tree), "new", len(result.NewFiles))
	return result, nil
}

// pruneClosedLocked drops open tabs whose ids no longer exist.
func (s *Session) pruneClosedLocked(index map[string]*tree.Node) {
	kept := s.openFiles[:0]
	for _, id := range s.openFiles {
		if _, ok := index[id]; ok {
			kept = append(kept, id)
		}
	}
	s.openFiles = kept
	if s.activeID != "" {
		if _, ok := index[s.activeID]; !ok {
			s.activeID = ""
			if len(s.openFiles) > 0 {
				s.activeID = s.openFiles[len(s.openFiles)-1]
			}
		}
	}
	if s.selectedID != "" {
		if _, ok := index[s.selectedID]; !ok {
			s.selectedID = ""
		}
	}
}

// FetchContent fetches one file's content and grafts it into the tree. The
// fetch is skipped when the file has a pending or in-flight write, so a
// server read can never clobber an unsaved local edit.
func (s *Session) FetchContent(ctx context.Context, id string) error {
	if s.HasPendingWrite(id) {
		applog.Info("fetch.skipped", "path", id)
		return nil
	}
	content, err := s.backend.FetchContent(ctx, id)
	if err != nil {
		applog.Error("fetch.content", err, "path", id)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: an edit may have landed while the fetch was on the wire.
	if _, dirty := s.pending[id]; dirty {
		return nil
	}
	s.tree = tree.UpdateContent(s.tree, id, content)
	return nil
}

// RefetchOpen re-fetches content for every open file except those with a
// pending write. Used after a file_change notification to pick up
// out-of-band modifications. Individual failures are logged and skipped.
func (s *Session) RefetchOpen(ctx context.Context) {
	for _, id := range s.OpenFiles() {
		s.FetchContent(ctx, id)
	}
}

// --- Editing and write-back ---

// Edit applies a local content change optimistically and schedules the
// debounced write-back. Rapid edits to the same file within the window
// coalesce into one write carrying the latest content; edits to different
// files are independent, each file id has its own pending slot.
func (s *Session) Edit(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = tree.UpdateContent(s.tree, id, content)

	if p, ok := s.pending[id]; ok && !p.inFlight {
		p.content = content
		p.timer.Reset(s.debounce)
		return
	}
	p := &pendingSave{content: content}
	p.timer = time.AfterFunc(s.debounce, func() { s.writeBack(id, p) })
	s.pending[id] = p
}

// writeBack persists one pending save. A failed write is logged and the
// pending marker cleared regardless; the next edit is the retry.
func (s *Session) writeBack(id string, p *pendingSave) {
	s.mu.Lock()
	if s.pending[id] != p {
		s.mu.Unlock()
		return // superseded while the timer was pending
	}
	p.inFlight = true
	content := p.content
	s.mu.Unlock()

	if err := s.backend.SaveFile(context.Background(), id, content); err != nil {
		applog.Error("save.failed", err, "path", id)
	} else {
		applog.Info("save.ok", "path", id, "bytes", len(content))
	}

	s.mu.Lock()
	if s.pending[id] == p {
		delete(s.pending, id)
	}
	s.mu.Unlock()
}

// Flush writes every pending save immediately. Called on shutdown so a
// quick quit cannot lose the last edit.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	drained := make(map[string]string)
	for id, p := range s.pending {
		if p.inFlight {
			continue
		}
		p.timer.Stop()
		drained[id] = p.content
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for id, content := range drained {
		if err := s.backend.SaveFile(ctx, id, content); err != nil {
			applog.Error("save.flush", err, "path", id)
		}
	}
}

// --- Selection and tabs ---

// Select records the node as selected. For files it also opens a tab and
// makes it active; the returned flag tells the caller to fetch content.
func (s *Session) Select(id string) (fetchWanted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := tree.FindByID(s.tree, id)
	if n == nil {
		return false
	}
	s.selectedID = id
	if n.Type != tree.File {
		return false
	}
	s.openLocked(id)
	s.activeID = id
	return true
}

func (s *Session) openLocked(id string) {
	for _, open := range s.openFiles {
		if open == id {
			return
		}
	}
	s.openFiles = append(s.openFiles, id)
}

// Activate makes an already-open tab the active file.
func (s *Session) Activate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, open := range s.openFiles {
		if open == id {
			s.activeID = id
			return
		}
	}
}

// CloseTab removes a tab. If it was active, the last remaining tab becomes
// active, or none if the set is now empty.
func (s *Session) CloseTab(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, open := range s.openFiles {
		if open == id {
			s.openFiles = append(s.openFiles[:i], s.openFiles[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = ""
		if len(s.openFiles) > 0 {
			s.activeID = s.openFiles[len(s.openFiles)-1]
		}
	}
}

// Create makes a new file or folder under the given parent (the selected
// folder, usually) and returns its path. The tree itself is updated by the
// next backend-driven refresh.
func (s *Session) Create(ctx context.Context, parentID, name string, nodeType tree.NodeType) (string, error) {
	path := tree.ChildPath(parentID, name)
	if err := s.backend.CreateNode(ctx, path, nodeType); err != nil {
		applog.Error("create.failed", err, "path", path)
		return "", err
	}
	applog.Info("create.ok", "path", path, "type", string(nodeType))
	return path, nil
}

// DeleteSelected deletes the selected node on the backend, then clears its
// tab and the selection locally.
func (s *Session) DeleteSelected(ctx context.Context) error {
	s.mu.Lock()
	id := s.selectedID
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	if err := s.backend.DeleteNode(ctx, id); err != nil {
		applog.Error("delete.failed", err, "path", id)
		return err
	}
	applog.Info("delete.ok", "path", id)

	s.CloseTab(id)
	s.mu.Lock()
	s.selectedID = ""
	s.mu.Unlock()
	return nil
}

// --- Chat ---

// AppendUser records an outgoing chat message and marks the turn as
// processing.
func (s *Session) AppendUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, types.ChatMessage{
		Role: types.RoleUser, Text: text, Done: true, At: time.Now(),
	})
	s.processing = true
}

// ApplyAgentEvent folds an inbound agent event into the transcript. A chunk
// appends to the trailing in-progress agent message or starts one; a full
// response or error appends a finalized message and ends the turn.
func (s *Session) ApplyAgentEvent(ev channel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case channel.KindAgentChunk:
		if n := len(s.chat); n > 0 && s.chat[n-1].Role == types.RoleThinking && !s.chat[n-1].Done {
			s.chat[n-1].Text += ev.Text
			return
		}
		s.chat = append(s.chat, types.ChatMessage{
			Role: types.RoleThinking, Text: ev.Text, At: time.Now(),
		})
	case channel.KindAgentResponse:
		s.finishThinkingLocked()
		s.chat = append(s.chat, types.ChatMessage{
			Role: types.RoleAgent, Text: ev.Text, Done: true, At: time.Now(),
		})
		s.processing = false
	case channel.KindAgentError:
		s.finishThinkingLocked()
		s.chat = append(s.chat, types.ChatMessage{
			Role: types.RoleError, Text: ev.Text, Done: true, At: time.Now(),
		})
		s.processing = false
	}
}

func (s *Session) finishThinkingLocked() {
	if n := len(s.chat); n > 0 && !s.chat[n-1].Done {
		s.chat[n-1].Done = true
	}
}
