// Package tui is the interactive workspace front end: tree pane, tabbed
// editor, and agent chat over the live channel.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/werkbank/internal/channel"
	"github.com/lotas/werkbank/internal/session"
	"github.com/lotas/werkbank/internal/tree"
	"github.com/lotas/werkbank/internal/types"
)

// --- Messages ---

type refreshedMsg struct {
	result *session.RefreshResult
	err    error
}

type contentFetchedMsg struct {
	id  string
	err error
}

type refetchedMsg struct{}

type channelEventMsg struct {
	ev channel.Event
	ok bool
}

type createdMsg struct {
	path string
	err  error
}

type deletedMsg struct{ err error }

// --- Focus and prompts ---

type focusArea int

const (
	focusTree focusArea = iota
	focusEditor
	focusChat
)

type promptKind int

const (
	promptNone promptKind = iota
	promptNewFile
	promptNewFolder
	promptDelete
)

// --- Model ---

type Model struct {
	sess     *session.Session
	ch       *channel.Client
	server   string
	chatOpts types.ChatOptions

	tree        TreeModel
	editor      textarea.Model
	chat        ChatModel
	filterInput textinput.Model
	promptInput textinput.Model

	focus      focusArea
	prompt     promptKind
	filtering  bool
	editorFile string // file id loaded in the editor
	loading    bool
	err        error
	width      int
	height     int
}

func NewModel(sess *session.Session, ch *channel.Client, server string, opts types.ChatOptions) Model {
	editor := textarea.New()
	editor.Placeholder = "Select a file to edit"
	editor.CharLimit = 0

	filterInput := textinput.New()
	filterInput.Prompt = "/ "

	promptInput := textinput.New()
	promptInput.Prompt = "> "

	return Model{
		sess:        sess,
		ch:          ch,
		server:      server,
		chatOpts:    opts,
		tree:        NewTreeModel(nil),
		editor:      editor,
		chat:        NewChatModel(),
		filterInput: filterInput,
		promptInput: promptInput,
		loading:     true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.listenChannel())
}

// --- Commands ---

func (m Model) refreshCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		result, err := sess.Refresh(context.Background())
		return refreshedMsg{result: result, err: err}
	}
}

func (m Model) fetchContentCmd(id string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		err := sess.FetchContent(context.Background(), id)
		return contentFetchedMsg{id: id, err: err}
	}
}

func (m Model) refetchOpenCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		sess.RefetchOpen(context.Background())
		return refetchedMsg{}
	}
}

func (m Model) listenChannel() tea.Cmd {
	ch := m.ch
	return func() tea.Msg {
		ev, ok := <-ch.Events()
		return channelEventMsg{ev: ev, ok: ok}
	}
}

func (m Model) createCmd(parentID, name string, nodeType tree.NodeType) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		p, err := sess.Create(context.Background(), parentID, name, nodeType)
		return createdMsg{path: p, err: err}
	}
}

func (m Model) deleteCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return deletedMsg{err: sess.DeleteSelected(context.Background())}
	}
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)

	case refreshedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.tree.SetRoots(m.sess.Tree())
		m.syncEditor()
		if msg.result != nil && msg.result.FetchWanted != "" {
			return m, m.fetchContentCmd(msg.result.FetchWanted)
		}
		return m, nil

	case contentFetchedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.syncEditor()
		return m, nil

	case refetchedMsg:
		m.syncEditor()
		return m, nil

	case createdMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		// The backend broadcasts a file_change which triggers the refresh;
		// refresh here as well so offline creates still show up.
		return m, m.refreshCmd()

	case deletedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.syncEditor()
		return m, m.refreshCmd()

	case channelEventMsg:
		if !msg.ok {
			return m, nil
		}
		switch msg.ev.Kind {
		case channel.KindConnected:
			return m, tea.Batch(m.listenChannel(), m.refreshCmd(), m.refetchOpenCmd())
		case channel.KindFileChange:
			return m, tea.Batch(m.listenChannel(), m.refreshCmd(), m.refetchOpenCmd())
		case channel.KindAgentChunk, channel.KindAgentResponse, channel.KindAgentError:
			m.sess.ApplyAgentEvent(msg.ev)
			return m, m.listenChannel()
		default:
			return m, m.listenChannel()
		}
	}

	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.sess.Flush(context.Background())
		return m, tea.Quit
	}

	if m.prompt != promptNone {
		return m.updatePrompt(msg)
	}
	if m.filtering {
		return m.updateFilter(msg)
	}

	if msg.String() == "tab" {
		m.setFocus(m.nextFocus())
		return m, nil
	}

	switch m.focus {
	case focusEditor:
		return m.updateEditor(msg)
	case focusChat:
		return m.updateChat(msg)
	default:
		return m.updateTree(msg)
	}
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.prompt = promptNone
		m.promptInput.Blur()
		return m, nil
	case "enter":
		prompt := m.prompt
		m.prompt = promptNone
		m.promptInput.Blur()
		switch prompt {
		case promptDelete:
			if strings.EqualFold(m.promptInput.Value(), "y") {
				return m, m.deleteCmd()
			}
			return m, nil
		case promptNewFile, promptNewFolder:
			name := strings.TrimSpace(m.promptInput.Value())
			if name == "" {
				return m, nil
			}
			nodeType := tree.File
			if prompt == promptNewFolder {
				nodeType = tree.Folder
			}
			return m, m.createCmd(m.createParent(), name, nodeType)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.promptInput, cmd = m.promptInput.Update(msg)
	return m, cmd
}

// createParent resolves where a new node goes: the selected folder, the
// parent of the selected file, or the tree root.
func (m Model) createParent() string {
	id := m.sess.SelectedID()
	if id == "" {
		if roots := m.sess.Tree(); len(roots) > 0 {
			return roots[0].ID
		}
		return ""
	}
	n := tree.FindByID(m.sess.Tree(), id)
	if n != nil && n.Type == tree.Folder {
		return id
	}
	if i := strings.LastIndexAny(id, "/\\"); i > 0 {
		return id[:i]
	}
	return id
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.filtering = false
		m.filterInput.Blur()
		m.filterInput.SetValue("")
		m.tree.SetFilter("")
		return m, nil
	case "enter":
		m.filtering = false
		m.filterInput.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.tree.SetFilter(m.filterInput.Value())
	return m, cmd
}

func (m Model) updateTree(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.sess.Flush(context.Background())
		return m, tea.Quit
	case "up", "k":
		m.tree.MoveUp()
	case "down", "j":
		m.tree.MoveDown()
	case "h":
		m.tree.CollapseOrParent()
	case "l":
		m.tree.Expand()
	case "enter":
		n := m.tree.SelectedNode()
		if n == nil {
			return m, nil
		}
		fetchWanted := m.sess.Select(n.ID)
		if n.Type == tree.Folder {
			m.tree.Toggle()
			return m, nil
		}
		m.syncEditor()
		if fetchWanted {
			return m, m.fetchContentCmd(n.ID)
		}
		return m, nil
	case "/":
		m.filtering = true
		m.filterInput.SetValue(m.tree.Filter)
		return m, m.filterInput.Focus()
	case "r":
		m.loading = m.sess.Tree() == nil
		return m, m.refreshCmd()
	case "n", "N":
		m.prompt = promptNewFile
		if msg.String() == "N" {
			m.prompt = promptNewFolder
		}
		m.promptInput.SetValue("")
		return m, m.promptInput.Focus()
	case "d":
		if m.sess.SelectedID() == "" {
			return m, nil
		}
		m.prompt = promptDelete
		m.promptInput.SetValue("")
		return m, m.promptInput.Focus()
	case "w":
		m.sess.CloseTab(m.sess.ActiveID())
		m.syncEditor()
	case "]":
		m.cycleTab(1)
	case "[":
		m.cycleTab(-1)
	}
	return m, nil
}

func (m *Model) cycleTab(dir int) {
	open := m.sess.OpenFiles()
	if len(open) == 0 {
		return
	}
	active := m.sess.ActiveID()
	idx := 0
	for i, id := range open {
		if id == active {
			idx = i
			break
		}
	}
	next := (idx + dir + len(open)) % len(open)
	m.sess.Activate(open[next])
	m.syncEditor()
}

func (m Model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.setFocus(focusTree)
		return m, nil
	case "ctrl+w":
		m.sess.CloseTab(m.sess.ActiveID())
		m.syncEditor()
		return m, nil
	}

	if m.editorFile == "" {
		return m, nil
	}
	before := m.editor.Value()
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	if after := m.editor.Value(); after != before {
		m.sess.Edit(m.editorFile, after)
	}
	return m, cmd
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.setFocus(focusTree)
		return m, nil
	case "ctrl+x":
		if err := m.ch.Stop(); err != nil {
			m.err = err
		}
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.chat.Input.Value())
		if text == "" || m.sess.Processing() {
			return m, nil
		}
		m.sess.AppendUser(text)
		m.chat.Input.SetValue("")
		if err := m.ch.Chat(text, m.chatOpts); err != nil {
			// The message never left; end the turn so the pane does not
			// sit in "processing" waiting for a reply.
			m.sess.ApplyAgentEvent(channel.Event{
				Kind: channel.KindAgentError,
				Text: fmt.Sprintf("send failed: %v", err),
			})
			m.err = err
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.chat.Input, cmd = m.chat.Input.Update(msg)
	return m, cmd
}

func (m *Model) setFocus(f focusArea) {
	m.focus = f
	m.editor.Blur()
	m.chat.Input.Blur()
	switch f {
	case focusEditor:
		m.editor.Focus()
	case focusChat:
		m.chat.Input.Focus()
	}
}

func (m Model) nextFocus() focusArea {
	switch m.focus {
	case focusTree:
		return focusEditor
	case focusEditor:
		return focusChat
	default:
		return focusTree
	}
}

// syncEditor loads the active file's content into the editor. A file with
// an unsaved edit is never overwritten from the tree.
func (m *Model) syncEditor() {
	active := m.sess.ActiveID()
	if active == "" {
		m.editorFile = ""
		m.editor.SetValue("")
		return
	}
	n := tree.FindByID(m.sess.Tree(), active)
	if n == nil {
		return
	}
	content := ""
	if n.Content != nil {
		content = *n.Content
	}
	switch {
	case m.editorFile != active:
		m.editorFile = active
		m.editor.SetValue(content)
	case !m.sess.HasPendingWrite(active) && m.editor.Value() != content:
		m.editor.SetValue(content)
	}
}

// --- Layout and View ---

func (m *Model) layout() {
	treeWidth := m.width * 35 / 100
	rightWidth := m.width - treeWidth - 4 // borders
	chatHeight := m.height / 3
	if chatHeight < 5 {
		chatHeight = 5
	}
	paneHeight := m.height - 4 // top bar + bottom bar + tabs row
	editorHeight := paneHeight - chatHeight - 2

	m.tree.Width = treeWidth
	m.tree.Height = paneHeight
	m.editor.SetWidth(rightWidth)
	if editorHeight > 0 {
		m.editor.SetHeight(editorHeight)
	}
	m.chat.Resize(rightWidth, chatHeight)
}

// baseName is the last path segment for either separator style.
func baseName(id string) string {
	if i := strings.LastIndexAny(id, "/\\"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func (m Model) tabsBar() string {
	open := m.sess.OpenFiles()
	if len(open) == 0 {
		return " "
	}
	active := m.sess.ActiveID()
	activeStyle := lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	parts := make([]string, 0, len(open))
	for _, id := range open {
		name := baseName(id)
		if m.sess.HasPendingWrite(id) {
			name += " ●"
		}
		if id == active {
			parts = append(parts, activeStyle.Render(name))
		} else {
			parts = append(parts, dimStyle.Render(name))
		}
	}
	return " " + strings.Join(parts, " │ ")
}

func (m Model) View() string {
	if m.loading {
		return "\n  Loading workspace...\n"
	}

	if m.prompt != promptNone {
		label := map[promptKind]string{
			promptNewFile:   "New file name:",
			promptNewFolder: "New folder name:",
			promptDelete:    fmt.Sprintf("Delete %s? (y/n)", m.sess.SelectedID()),
		}[m.prompt]
		box := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Render(label + "\n" + m.promptInput.View())
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}

	// Top bar
	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	var dot string
	switch m.ch.State() {
	case channel.Connected:
		dot = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●") + " connected"
	case channel.Connecting:
		dot = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("◌") + " connecting..."
	default:
		dot = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("○") + " offline"
	}
	pending := 0
	for _, id := range m.sess.OpenFiles() {
		if m.sess.HasPendingWrite(id) {
			pending++
		}
	}
	top := fmt.Sprintf("werkbank  %s  %s", m.server, dot)
	if pending > 0 {
		top += fmt.Sprintf("  ● %d unsaved", pending)
	}
	if m.err != nil {
		top += lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(fmt.Sprintf("  error: %v", m.err))
	}
	topBar := topBarStyle.Render(top)

	// Panes
	treeBorderColor, editorBorderColor, chatBorderColor := "240", "240", "240"
	switch m.focus {
	case focusTree:
		treeBorderColor = "62"
	case focusEditor:
		editorBorderColor = "62"
	case focusChat:
		chatBorderColor = "62"
	}

	treeContent := m.tree.View(m.sess.ActiveID(), m.sess.SelectedID(), m.sess.HasPendingWrite)
	if m.filtering {
		treeContent = m.filterInput.View() + "\n" + treeContent
	}
	left := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(treeBorderColor)).
		Width(m.tree.Width).
		Height(m.tree.Height).
		Render(treeContent)

	editorPane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(editorBorderColor)).
		Render(m.editor.View())

	chatPane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(chatBorderColor)).
		Width(m.chat.Width).
		Render(m.chat.View(m.sess.Chat(), m.sess.Processing()))

	right := lipgloss.JoinVertical(lipgloss.Left, m.tabsBar(), editorPane, chatPane)
	panes := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	// Bottom bar
	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	var help string
	switch m.focus {
	case focusEditor:
		help = "esc tree · ctrl+w close tab · tab chat"
	case focusChat:
		help = "enter send · ctrl+x stop · esc tree · tab tree"
	default:
		help = "↑↓/jk move · enter open · h/l fold · / filter · n/N new · d delete · [/] tabs · w close · r refresh · tab editor · q quit"
	}
	bottomBar := bottomBarStyle.Render(help)

	return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, bottomBar)
}
