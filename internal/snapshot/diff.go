package snapshot

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lotas/werkbank/internal/storage"
	"github.com/lotas/werkbank/internal/tree"
)

// DiffEntry is a single file in a diff result.
type DiffEntry struct {
	ID   string // full path
	Name string
}

// DiffResult holds the result of comparing a snapshot against the current
// workspace tree.
type DiffResult struct {
	Rev     int
	Added   []DiffEntry // in current but not in snapshot
	Removed []DiffEntry // in snapshot but not in current
}

// fileEntries collects the file nodes of a tree keyed by id. Folders are
// shape, not content, so they are excluded from diffs.
func fileEntries(nodes []*tree.Node) map[string]DiffEntry {
	out := make(map[string]DiffEntry)
	for id, n := range tree.Flatten(nodes) {
		if n.Type == tree.File {
			out[id] = DiffEntry{ID: id, Name: n.Name}
		}
	}
	return out
}

// Diff compares a stored snapshot against the current workspace tree.
// Comparison is by file id.
func Diff(db *sql.DB, server string, rev int, current []*tree.Node) (*DiffResult, error) {
	snap, err := storage.GetSnapshot(db, server, rev)
	if err != nil {
		return nil, err
	}
	return diffTrees(snap.Rev, snap.Tree, current), nil
}

func diffTrees(rev int, old, current []*tree.Node) *DiffResult {
	oldFiles := fileEntries(old)
	curFiles := fileEntries(current)

	result := &DiffResult{Rev: rev}
	for id, entry := range curFiles {
		if _, ok := oldFiles[id]; !ok {
			result.Added = append(result.Added, entry)
		}
	}
	for id, entry := range oldFiles {
		if _, ok := curFiles[id]; !ok {
			result.Removed = append(result.Removed, entry)
		}
	}

	sort.Slice(result.Added, func(i, j int) bool { return result.Added[i].ID < result.Added[j].ID })
	sort.Slice(result.Removed, func(i, j int) bool { return result.Removed[i].ID < result.Removed[j].ID })
	return result
}

// FormatDiff returns a human-readable string representation of a DiffResult.
func FormatDiff(d *DiffResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Diff against snapshot #%d\n", d.Rev)
	fmt.Fprintf(&sb, "Added: %d  Removed: %d\n", len(d.Added), len(d.Removed))

	if len(d.Added) > 0 {
		sb.WriteString("\n+ Added:\n")
		for _, e := range d.Added {
			fmt.Fprintf(&sb, "  + %s\n", e.ID)
		}
	}

	if len(d.Removed) > 0 {
		sb.WriteString("\n- Removed:\n")
		for _, e := range d.Removed {
			fmt.Fprintf(&sb, "  - %s\n", e.ID)
		}
	}

	if len(d.Added) == 0 && len(d.Removed) == 0 {
		sb.WriteString("\nNo changes.\n")
	}

	return sb.String()
}
