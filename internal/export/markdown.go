// Package export renders a workspace tree as Markdown, JSON, or plain text.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/werkbank/internal/tree"
)

// Markdown formats a workspace tree as a markdown document.
func Markdown(server string, nodes []*tree.Node) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Workspace — %s\n", server)
	fmt.Fprintf(&b, "> Exported %s\n\n", time.Now().Format("2006-01-02 15:04"))

	files, folders := countByType(nodes)
	fmt.Fprintf(&b, "%d files, %d folders\n", files, folders)

	for _, n := range nodes {
		writeMarkdownNode(&b, n, 0)
	}

	return b.String()
}

func writeMarkdownNode(b *strings.Builder, n *tree.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Type == tree.Folder {
		fmt.Fprintf(b, "%s- **%s/**\n", indent, n.Name)
		for _, child := range n.Children {
			writeMarkdownNode(b, child, depth+1)
		}
		return
	}
	fmt.Fprintf(b, "%s- %s\n", indent, n.Name)
}

// Text renders the tree with box-drawing connectors, like tree(1).
func Text(nodes []*tree.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.Name)
		if n.Type == tree.Folder {
			b.WriteString("/")
		}
		b.WriteString("\n")
		writeTextChildren(&b, n.Children, "")
	}
	return b.String()
}

func writeTextChildren(b *strings.Builder, children []*tree.Node, prefix string) {
	for i, child := range children {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(children)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		b.WriteString(prefix + connector + child.Name)
		if child.Type == tree.Folder {
			b.WriteString("/")
		}
		b.WriteString("\n")
		writeTextChildren(b, child.Children, childPrefix)
	}
}

func countByType(nodes []*tree.Node) (files, folders int) {
	for _, n := range tree.Flatten(nodes) {
		if n.Type == tree.Folder {
			folders++
		} else {
			files++
		}
	}
	return files, folders
}
