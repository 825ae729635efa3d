// Package tree holds the workspace file-tree model and the pure structural
// operations over it. A tree is an ordered slice of root nodes; every
// operation returns a new tree and leaves its input untouched, so the
// session can swap whole trees atomically.
package tree

import (
	"sort"
	"strings"
)

// NodeType distinguishes files from folders.
type NodeType string

const (
	File   NodeType = "file"
	Folder NodeType = "folder"
)

// Node is a single entry in the workspace tree. ID is the backend path and
// doubles as the resource key; it is unique across the whole tree.
// Content is nil until the file has been fetched (or edited locally).
type Node struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     NodeType `json:"type"`
	Children []*Node  `json:"children,omitempty"`
	Content  *string  `json:"content,omitempty"`
	IsOpen   bool     `json:"isOpen,omitempty"`
}

// IsFile reports whether the node is a file.
func (n *Node) IsFile() bool { return n.Type == File }

// FindByID returns the node with the given id, depth-first, children before
// later siblings. Ids are unique so the first match is the only match.
func FindByID(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
		if found := FindByID(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// UpdateContent returns a new tree in which the node with the given id
// carries the new content. Nodes on the path to the match are shallow-copied;
// everything else is shared with the input. No match returns an equivalent
// tree.
func UpdateContent(nodes []*Node, id, content string) []*Node {
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		if n.ID == id {
			c := *n
			c.Content = &content
			out[i] = &c
			continue
		}
		if len(n.Children) > 0 {
			c := *n
			c.Children = UpdateContent(n.Children, id, content)
			out[i] = &c
			continue
		}
		out[i] = n
	}
	return out
}

// Filter returns a new tree restricted to files whose name contains term
// (case-insensitive) and folders that match by name or contain a matching
// descendant. Matching folders come back expanded so results are visible.
// An empty term matches every node.
func Filter(nodes []*Node, term string) []*Node {
	term = strings.ToLower(term)
	var out []*Node
	for _, n := range nodes {
		nameMatch := strings.Contains(strings.ToLower(n.Name), term)
		if n.Type == Folder {
			kept := Filter(n.Children, term)
			if nameMatch || len(kept) > 0 {
				c := *n
				c.Children = kept
				c.IsOpen = true
				out = append(out, &c)
			}
			continue
		}
		if nameMatch {
			out = append(out, n)
		}
	}
	return out
}

// Flatten returns an id → node index over the whole tree, files and folders
// both. The index is a diffing aid; it is never kept alive across tree
// swaps because it would go stale.
func Flatten(nodes []*Node) map[string]*Node {
	index := make(map[string]*Node)
	flattenInto(nodes, index)
	return index
}

func flattenInto(nodes []*Node, index map[string]*Node) {
	for _, n := range nodes {
		index[n.ID] = n
		flattenInto(n.Children, index)
	}
}

// Merge grafts content already loaded in the old tree onto the new shape.
// The new shape is authoritative for which ids exist and where; content
// survives by id only, so a rename (delete+create on the backend) comes
// back with nil content and is re-fetched lazily.
func Merge(old, shape []*Node) []*Node {
	contents := make(map[string]*string)
	collectContent(old, contents)
	return graft(shape, contents)
}

func collectContent(nodes []*Node, contents map[string]*string) {
	for _, n := range nodes {
		if n.Type == File && n.Content != nil {
			contents[n.ID] = n.Content
		}
		collectContent(n.Children, contents)
	}
}

func graft(shape []*Node, contents map[string]*string) []*Node {
	out := make([]*Node, len(shape))
	for i, n := range shape {
		c := *n
		if n.Type == File {
			if content, ok := contents[n.ID]; ok {
				c.Content = content
			}
		} else {
			c.Children = graft(n.Children, contents)
		}
		out[i] = &c
	}
	return out
}

// NewFileIDs returns the ids of file nodes present in shape but not in the
// old index, in traversal order.
func NewFileIDs(oldIndex map[string]*Node, shape []*Node) []string {
	var ids []string
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			if n.IsFile() {
				if _, ok := oldIndex[n.ID]; !ok {
					ids = append(ids, n.ID)
				}
			}
			walk(n.Children)
		}
	}
	walk(shape)
	return ids
}

// ChildPath joins a child name onto a parent path using the separator style
// the parent already uses. Backend paths may be POSIX or Windows style; the
// separator is detected per path, never assumed globally.
func ChildPath(parentID, name string) string {
	sep := "/"
	if strings.Contains(parentID, "\\") && !strings.Contains(parentID, "/") {
		sep = "\\"
	}
	if strings.HasSuffix(parentID, sep) {
		return parentID + name
	}
	return parentID + sep + name
}

// Sort orders each level folders-first, then by name, matching the backend's
// listing order. It mutates the given slices in place and is applied before
// a tree is committed, never to a committed tree.
func Sort(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == Folder
		}
		return nodes[i].Name < nodes[j].Name
	})
	for _, n := range nodes {
		Sort(n.Children)
	}
}

// CountNodes returns the total number of nodes in the tree.
func CountNodes(nodes []*Node) int {
	count := 0
	for _, n := range nodes {
		count += 1 + CountNodes(n.Children)
	}
	return count
}
