package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lotas/werkbank/internal/channel"
	"github.com/lotas/werkbank/internal/tree"
	"github.com/lotas/werkbank/internal/types"
)

type save struct {
	path, content string
}

// fakeBackend records calls and serves a programmable shape.
type fakeBackend struct {
	mu       sync.Mutex
	shape    func() []*tree.Node
	contents map[string]string
	fetchErr error
	saves    []save
	fetched  []string
	created  []string
	deleted  []string
}

func newFakeBackend(shape func() []*tree.Node) *fakeBackend {
	return &fakeBackend{shape: shape, contents: make(map[string]string)}
}

func (f *fakeBackend) FetchTree(ctx context.Context) ([]*tree.Node, error) {
	return f.shape(), nil
}

func (f *fakeBackend) FetchContent(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	f.fetched = append(f.fetched, path)
	return f.contents[path], nil
}

func (f *fakeBackend) SaveFile(ctx context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, save{path, content})
	return nil
}

func (f *fakeBackend) CreateNode(ctx context.Context, path string, nodeType tree.NodeType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, path)
	return nil
}

func (f *fakeBackend) DeleteNode(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeBackend) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeBackend) lastSave() save {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

func (f *fakeBackend) fetchedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fetched))
	copy(out, f.fetched)
	return out
}

// twoFiles is the baseline shape: /p with /p/a.go and /p/b.go.
func twoFiles() []*tree.Node {
	return []*tree.Node{
		{ID: "/p", Name: "p", Type: tree.Folder, Children: []*tree.Node{
			{ID: "/p/a.go", Name: "a.go", Type: tree.File},
			{ID: "/p/b.go", Name: "b.go", Type: tree.File},
		}},
	}
}

func threeFiles() []*tree.Node {
	shape := twoFiles()
	shape[0].Children = append(shape[0].Children,
		&tree.Node{ID: "/p/c.go", Name: "c.go", Type: tree.File})
	return shape
}

func TestRefreshFirstLoad(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)

	result, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if result.FetchWanted != "" || len(result.NewFiles) != 0 {
		t.Errorf("first load must not report new files: %+v", result)
	}
	if tree.CountNodes(s.Tree()) != 3 {
		t.Errorf("tree not committed, %d nodes", tree.CountNodes(s.Tree()))
	}
}

func TestRefreshDetectsNewFiles(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	fb.shape = threeFiles
	result, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if len(result.NewFiles) != 1 || result.NewFiles[0] != "/p/c.go" {
		t.Fatalf("NewFiles = %v, want [/p/c.go]", result.NewFiles)
	}
	if result.FetchWanted != "/p/c.go" {
		t.Errorf("FetchWanted = %q", result.FetchWanted)
	}
	if open := s.OpenFiles(); len(open) != 1 || open[0] != "/p/c.go" {
		t.Errorf("open tabs = %v, want only the new file", open)
	}
	if s.ActiveID() != "/p/c.go" {
		t.Errorf("active = %q", s.ActiveID())
	}
}

func TestRefreshPreservesLocalEdit(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, time.Hour) // debounce never fires during the test
	s.Refresh(context.Background())

	s.Edit("/p/a.go", "edited locally")
	s.Refresh(context.Background())

	n := tree.FindByID(s.Tree(), "/p/a.go")
	if n.Content == nil || *n.Content != "edited locally" {
		t.Fatalf("edit lost across refresh: %v", n.Content)
	}
}

func TestRefreshPrunesDeletedTabs(t *testing.T) {
	fb := newFakeBackend(threeFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	s.Select("/p/b.go")
	s.Select("/p/c.go")

	fb.shape = twoFiles // /p/c.go disappears
	s.Refresh(context.Background())

	if open := s.OpenFiles(); len(open) != 1 || open[0] != "/p/b.go" {
		t.Errorf("open tabs = %v, want [/p/b.go]", open)
	}
	if s.ActiveID() != "/p/b.go" {
		t.Errorf("active = %q, want fallback to last remaining tab", s.ActiveID())
	}
}

func TestDebounceCoalescing(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 30*time.Millisecond)
	s.Refresh(context.Background())

	for i := 1; i <= 5; i++ {
		s.Edit("/p/a.go", fmt.Sprintf("rev %d", i))
	}

	time.Sleep(200 * time.Millisecond)

	if got := fb.saveCount(); got != 1 {
		t.Fatalf("saves = %d, want exactly 1", got)
	}
	if last := fb.lastSave(); last.path != "/p/a.go" || last.content != "rev 5" {
		t.Errorf("saved %+v, want latest content", last)
	}
	if s.HasPendingWrite("/p/a.go") {
		t.Errorf("pending marker not cleared after write")
	}
}

func TestEditsToDifferentFilesAreIndependent(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 30*time.Millisecond)
	s.Refresh(context.Background())

	s.Edit("/p/a.go", "aaa")
	s.Edit("/p/b.go", "bbb")

	time.Sleep(200 * time.Millisecond)

	if got := fb.saveCount(); got != 2 {
		t.Fatalf("saves = %d, want one per file", got)
	}
}

func TestRefetchOpenSkipsPendingWrite(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	fb.contents["/p/a.go"] = "server a"
	fb.contents["/p/b.go"] = "server b"
	s := New(fb, time.Hour)
	s.Refresh(context.Background())

	s.Select("/p/a.go")
	s.Select("/p/b.go")
	fb.mu.Lock()
	fb.fetched = nil // reset; only the post-event re-fetches count
	fb.mu.Unlock()

	s.Edit("/p/a.go", "unsaved edit")
	s.RefetchOpen(context.Background())

	fetched := fb.fetchedPaths()
	if len(fetched) != 1 || fetched[0] != "/p/b.go" {
		t.Fatalf("fetched = %v, want only /p/b.go", fetched)
	}
	n := tree.FindByID(s.Tree(), "/p/a.go")
	if n.Content == nil || *n.Content != "unsaved edit" {
		t.Errorf("pending edit was clobbered: %v", n.Content)
	}
	if b := tree.FindByID(s.Tree(), "/p/b.go"); b.Content == nil || *b.Content != "server b" {
		t.Errorf("open file without pending write was not refreshed: %v", b.Content)
	}
}

func TestSelectFolderDoesNotOpenTab(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	if fetch := s.Select("/p"); fetch {
		t.Errorf("folder selection must not request a fetch")
	}
	if len(s.OpenFiles()) != 0 {
		t.Errorf("folder selection opened a tab")
	}
	if s.SelectedID() != "/p" {
		t.Errorf("selected = %q", s.SelectedID())
	}
}

func TestSelectFileOpensAndActivates(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	if fetch := s.Select("/p/a.go"); !fetch {
		t.Errorf("file selection should request a fetch")
	}
	s.Select("/p/a.go") // selecting again must not duplicate the tab
	if open := s.OpenFiles(); len(open) != 1 || open[0] != "/p/a.go" {
		t.Errorf("open tabs = %v", open)
	}
	if s.ActiveID() != "/p/a.go" {
		t.Errorf("active = %q", s.ActiveID())
	}
}

func TestCloseTabActivation(t *testing.T) {
	fb := newFakeBackend(threeFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	s.Select("/p/a.go")
	s.Select("/p/b.go")
	s.Select("/p/c.go")

	s.CloseTab("/p/c.go")
	if s.ActiveID() != "/p/b.go" {
		t.Errorf("active after closing active tab = %q, want /p/b.go", s.ActiveID())
	}

	s.CloseTab("/p/a.go") // closing an inactive tab keeps the active one
	if s.ActiveID() != "/p/b.go" {
		t.Errorf("active = %q, want /p/b.go", s.ActiveID())
	}

	s.CloseTab("/p/b.go")
	if s.ActiveID() != "" {
		t.Errorf("active = %q, want none", s.ActiveID())
	}
}

func TestDeleteSelected(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	s.Select("/p/a.go")
	if err := s.DeleteSelected(context.Background()); err != nil {
		t.Fatalf("DeleteSelected: %v", err)
	}
	if len(fb.deleted) != 1 || fb.deleted[0] != "/p/a.go" {
		t.Errorf("backend deletes = %v", fb.deleted)
	}
	if len(s.OpenFiles()) != 0 || s.ActiveID() != "" || s.SelectedID() != "" {
		t.Errorf("local state not cleared: open=%v active=%q selected=%q",
			s.OpenFiles(), s.ActiveID(), s.SelectedID())
	}
}

func TestDeleteWithNothingSelected(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	if err := s.DeleteSelected(context.Background()); err != nil {
		t.Fatalf("DeleteSelected: %v", err)
	}
	if len(fb.deleted) != 0 {
		t.Errorf("delete issued with nothing selected")
	}
}

func TestCreateUsesParentSeparator(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)
	s.Refresh(context.Background())

	path, err := s.Create(context.Background(), "/p", "new.go", tree.File)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if path != "/p/new.go" {
		t.Errorf("path = %q", path)
	}

	winPath, _ := s.Create(context.Background(), `C:\proj`, "new.go", tree.File)
	if winPath != `C:\proj\new.go` {
		t.Errorf("windows path = %q", winPath)
	}
}

func TestFlushWritesPendingImmediately(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, time.Hour)
	s.Refresh(context.Background())

	s.Edit("/p/a.go", "final words")
	s.Flush(context.Background())

	if got := fb.saveCount(); got != 1 {
		t.Fatalf("saves = %d, want 1", got)
	}
	if last := fb.lastSave(); last.content != "final words" {
		t.Errorf("flushed %+v", last)
	}
	if s.HasPendingWrite("/p/a.go") {
		t.Errorf("pending marker survived flush")
	}
}

func TestChatChunkFolding(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)

	s.AppendUser("do the thing")
	if !s.Processing() {
		t.Fatal("processing flag not set")
	}

	s.ApplyAgentEvent(channel.Event{Kind: channel.KindAgentChunk, Text: "step 1"})
	s.ApplyAgentEvent(channel.Event{Kind: channel.KindAgentChunk, Text: " step 2"})
	s.ApplyAgentEvent(channel.Event{Kind: channel.KindAgentResponse, Text: "all done"})

	chat := s.Chat()
	if len(chat) != 3 {
		t.Fatalf("chat length = %d, want user+thinking+agent", len(chat))
	}
	if chat[1].Role != types.RoleThinking || chat[1].Text != "step 1 step 2" || !chat[1].Done {
		t.Errorf("thinking message = %+v", chat[1])
	}
	if chat[2].Role != types.RoleAgent || chat[2].Text != "all done" {
		t.Errorf("agent message = %+v", chat[2])
	}
	if s.Processing() {
		t.Errorf("processing flag not cleared")
	}
}

func TestChatErrorEndsTurn(t *testing.T) {
	fb := newFakeBackend(twoFiles)
	s := New(fb, 0)

	s.AppendUser("do the thing")
	s.ApplyAgentEvent(channel.Event{Kind: channel.KindAgentError, Text: "Stopped by user."})

	chat := s.Chat()
	if chat[len(chat)-1].Role != types.RoleError {
		t.Errorf("last message = %+v", chat[len(chat)-1])
	}
	if s.Processing() {
		t.Errorf("processing flag not cleared on error")
	}
}
