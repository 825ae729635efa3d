package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/werkbank/internal/tree"
)

// TreeRow is a visible row in the tree pane.
type TreeRow struct {
	Node  *tree.Node
	Depth int
}

// TreeModel manages the collapsible workspace tree view.
type TreeModel struct {
	Roots    []*tree.Node
	Expanded map[string]bool // folder id -> expanded
	Cursor   int
	Offset   int // scroll offset
	Width    int
	Height   int
	Filter   string
}

func NewTreeModel(roots []*tree.Node) TreeModel {
	m := TreeModel{Expanded: make(map[string]bool)}
	m.SetRoots(roots)
	return m
}

// SetRoots swaps in a new tree, keeping cursor and expanded state.
// Top-level folders start expanded the first time they appear.
func (m *TreeModel) SetRoots(roots []*tree.Node) {
	for _, n := range roots {
		if n.Type == tree.Folder {
			if _, seen := m.Expanded[n.ID]; !seen {
				m.Expanded[n.ID] = true
			}
		}
	}
	m.Roots = roots
	m.clampCursor()
}

// displayRoots returns the tree to render: the filtered tree when a filter
// is active, the live tree otherwise.
func (m TreeModel) displayRoots() []*tree.Node {
	if m.Filter == "" {
		return m.Roots
	}
	return tree.Filter(m.Roots, m.Filter)
}

// VisibleRows returns the flat list of currently visible rows.
func (m TreeModel) VisibleRows() []TreeRow {
	var rows []TreeRow
	filtering := m.Filter != ""
	var walk func(nodes []*tree.Node, depth int)
	walk = func(nodes []*tree.Node, depth int) {
		for _, n := range nodes {
			rows = append(rows, TreeRow{Node: n, Depth: depth})
			if n.Type != tree.Folder {
				continue
			}
			// Filtered trees come back with every folder forced open.
			if filtering || m.Expanded[n.ID] {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(m.displayRoots(), 0)
	return rows
}

// SelectedNode returns the node under the cursor, or nil.
func (m TreeModel) SelectedNode() *tree.Node {
	rows := m.VisibleRows()
	if m.Cursor >= 0 && m.Cursor < len(rows) {
		return rows[m.Cursor].Node
	}
	return nil
}

func (m *TreeModel) clampCursor() {
	rows := m.VisibleRows()
	if m.Cursor >= len(rows) {
		m.Cursor = len(rows) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
}

// SetFilter changes the filter term and resets scroll position.
func (m *TreeModel) SetFilter(term string) {
	m.Filter = term
	m.Cursor = 0
	m.Offset = 0
}

// MoveUp moves the cursor up.
func (m *TreeModel) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
}

// MoveDown moves the cursor down.
func (m *TreeModel) MoveDown() {
	rows := m.VisibleRows()
	if m.Cursor < len(rows)-1 {
		m.Cursor++
	}
	visibleRows := m.Height
	if visibleRows < 1 {
		visibleRows = 1
	}
	if m.Cursor >= m.Offset+visibleRows {
		m.Offset = m.Cursor - visibleRows + 1
	}
}

// Toggle expands/collapses the selected folder.
func (m *TreeModel) Toggle() {
	n := m.SelectedNode()
	if n == nil || n.Type != tree.Folder {
		return
	}
	m.Expanded[n.ID] = !m.Expanded[n.ID]
	m.clampCursor()
}

// CollapseOrParent collapses the selected folder if expanded, or jumps to
// the parent folder row otherwise.
func (m *TreeModel) CollapseOrParent() {
	rows := m.VisibleRows()
	if m.Cursor >= len(rows) {
		return
	}
	row := rows[m.Cursor]
	if row.Node.Type == tree.Folder && m.Expanded[row.Node.ID] && m.Filter == "" {
		m.Expanded[row.Node.ID] = false
		return
	}
	for i := m.Cursor - 1; i >= 0; i-- {
		if rows[i].Depth < row.Depth {
			m.Cursor = i
			if m.Cursor < m.Offset {
				m.Offset = m.Cursor
			}
			return
		}
	}
}

// Expand opens the selected folder.
func (m *TreeModel) Expand() {
	n := m.SelectedNode()
	if n == nil || n.Type != tree.Folder {
		return
	}
	m.Expanded[n.ID] = true
}

// View renders the tree pane.
func (m TreeModel) View(active, selected string, hasPending func(string) bool) string {
	rows := m.VisibleRows()
	if len(rows) == 0 {
		if m.Filter != "" {
			return "No matches."
		}
		return "No files."
	}

	visibleRows := m.Height
	if visibleRows < 1 {
		visibleRows = 20
	}
	end := m.Offset + visibleRows
	if end > len(rows) {
		end = len(rows)
	}

	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	folderStyle := lipgloss.NewStyle().Bold(true)
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	var b strings.Builder
	for i := m.Offset; i < end; i++ {
		row := rows[i]
		indent := strings.Repeat("  ", row.Depth)

		var line string
		if row.Node.Type == tree.Folder {
			icon := "▶"
			if m.Filter != "" || m.Expanded[row.Node.ID] {
				icon = "▼"
			}
			line = indent + folderStyle.Render(icon+" "+row.Node.Name)
		} else {
			name := row.Node.Name
			switch {
			case hasPending != nil && hasPending(row.Node.ID):
				name = pendingStyle.Render(name + " ●")
			case row.Node.ID == active:
				name = activeStyle.Render(name)
			}
			line = indent + "  " + name
		}

		if i == m.Cursor {
			for lipgloss.Width(line) < m.Width {
				line += " "
			}
			line = cursorStyle.Render(line)
		} else if row.Node.ID == selected {
			line += " ·"
		}

		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
