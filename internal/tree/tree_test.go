package tree

import "testing"

func str(s string) *string { return &s }

// sample returns /a (folder) with /a/x.js and /a/y.go, plus /readme.md.
func sample() []*Node {
	return []*Node{
		{
			ID: "/a", Name: "a", Type: Folder,
			Children: []*Node{
				{ID: "/a/x.js", Name: "x.js", Type: File},
				{ID: "/a/y.go", Name: "y.go", Type: File},
			},
		},
		{ID: "/readme.md", Name: "readme.md", Type: File},
	}
}

func TestFindByID(t *testing.T) {
	tr := sample()
	if n := FindByID(tr, "/a/y.go"); n == nil || n.Name != "y.go" {
		t.Fatalf("FindByID(/a/y.go) = %v", n)
	}
	if n := FindByID(tr, "/missing"); n != nil {
		t.Errorf("expected nil for missing id, got %v", n)
	}
}

func TestUpdateContentSharesUntouchedNodes(t *testing.T) {
	tr := sample()
	out := UpdateContent(tr, "/a/x.js", "hello")

	got := FindByID(out, "/a/x.js")
	if got == nil || got.Content == nil || *got.Content != "hello" {
		t.Fatalf("content not updated: %v", got)
	}
	// Input tree is untouched.
	if orig := FindByID(tr, "/a/x.js"); orig.Content != nil {
		t.Errorf("input tree was mutated")
	}
	// Sibling outside the updated path is shared, ancestors are copies.
	if out[1] != tr[1] {
		t.Errorf("untouched root should be shared")
	}
	if out[0] == tr[0] {
		t.Errorf("ancestor of updated node should be a copy")
	}
}

func TestUpdateContentNoMatchIsNoOp(t *testing.T) {
	tr := sample()
	out := UpdateContent(tr, "/nope", "x")
	if CountNodes(out) != CountNodes(tr) {
		t.Fatalf("tree shape changed on no-op update")
	}
	if FindByID(out, "/a/x.js").Content != nil {
		t.Errorf("unexpected content set")
	}
}

func TestFilterKeepsMatchingFolderExpanded(t *testing.T) {
	tr := sample()
	out := Filter(tr, "x")

	if len(out) != 1 {
		t.Fatalf("expected 1 root, got %d", len(out))
	}
	folder := out[0]
	if folder.ID != "/a" || !folder.IsOpen {
		t.Errorf("matching folder should be kept and expanded: %+v", folder)
	}
	if len(folder.Children) != 1 || folder.Children[0].ID != "/a/x.js" {
		t.Errorf("expected only /a/x.js, got %v", folder.Children)
	}
	// Input folder's expansion flag is untouched.
	if tr[0].IsOpen {
		t.Errorf("input tree was mutated")
	}
}

func TestFilterCaseInsensitive(t *testing.T) {
	out := Filter(sample(), "README")
	if len(out) != 1 || out[0].ID != "/readme.md" {
		t.Fatalf("case-insensitive match failed: %v", out)
	}
}

func TestFilterEmptyTermMatchesEverything(t *testing.T) {
	tr := sample()
	out := Filter(tr, "")
	if CountNodes(out) != CountNodes(tr) {
		t.Errorf("empty term should keep all %d nodes, got %d",
			CountNodes(tr), CountNodes(out))
	}
}

func TestFlatten(t *testing.T) {
	index := Flatten(sample())
	if len(index) != 4 {
		t.Fatalf("expected 4 indexed nodes, got %d", len(index))
	}
	for _, id := range []string{"/a", "/a/x.js", "/a/y.go", "/readme.md"} {
		if _, ok := index[id]; !ok {
			t.Errorf("missing %s in index", id)
		}
	}
}

func TestMergePreservesContent(t *testing.T) {
	old := UpdateContent(sample(), "/a/x.js", "const x = 1")
	shape := sample() // fresh shape, no content

	merged := Merge(old, shape)
	got := FindByID(merged, "/a/x.js")
	if got.Content == nil || *got.Content != "const x = 1" {
		t.Fatalf("content lost across merge: %v", got.Content)
	}
	if FindByID(merged, "/a/y.go").Content != nil {
		t.Errorf("never-loaded file should stay unloaded")
	}
	// Shape input is untouched.
	if FindByID(shape, "/a/x.js").Content != nil {
		t.Errorf("shape input was mutated")
	}
}

func TestMergeDropsRemovedIDs(t *testing.T) {
	old := UpdateContent(sample(), "/a/x.js", "gone soon")
	shape := []*Node{
		{ID: "/a", Name: "a", Type: Folder, Children: []*Node{
			{ID: "/a/y.go", Name: "y.go", Type: File},
		}},
	}

	merged := Merge(old, shape)
	if FindByID(merged, "/a/x.js") != nil {
		t.Fatalf("removed id survived the merge")
	}
	index := Flatten(merged)
	for id, n := range index {
		if n.Content != nil {
			t.Errorf("unexpected content on %s", id)
		}
	}
}

func TestNewFileIDs(t *testing.T) {
	oldIndex := Flatten(sample())
	withNew := sample()
	withNew[0].Children = append(withNew[0].Children,
		&Node{ID: "/a/new.txt", Name: "new.txt", Type: File})
	withNew = append(withNew,
		&Node{ID: "/b", Name: "b", Type: Folder})

	ids := NewFileIDs(oldIndex, withNew)
	if len(ids) != 1 || ids[0] != "/a/new.txt" {
		t.Fatalf("expected [/a/new.txt], got %v", ids)
	}

	// No additions → nil.
	if ids := NewFileIDs(oldIndex, sample()); len(ids) != 0 {
		t.Errorf("expected no new ids, got %v", ids)
	}
}

func TestNewFileIDsTraversalOrder(t *testing.T) {
	oldIndex := Flatten(sample())
	withNew := sample()
	// Two new files whose sorted order ("/ZZZ.txt" first) is the reverse
	// of their position in the tree.
	withNew[0].Children = append(withNew[0].Children,
		&Node{ID: "/a/zz.txt", Name: "zz.txt", Type: File})
	withNew = append(withNew,
		&Node{ID: "/ZZZ.txt", Name: "ZZZ.txt", Type: File})

	ids := NewFileIDs(oldIndex, withNew)
	want := []string{"/a/zz.txt", "/ZZZ.txt"}
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Fatalf("expected %v (tree order), got %v", want, ids)
	}
}

func TestChildPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"/home/user/project", "main.go", "/home/user/project/main.go"},
		{"/", "etc", "/etc"},
		{`C:\Users\dev\proj`, "main.go", `C:\Users\dev\proj\main.go`},
		{`C:\`, "tmp", `C:\tmp`},
	}
	for _, tt := range tests {
		if got := ChildPath(tt.parent, tt.name); got != tt.want {
			t.Errorf("ChildPath(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.want)
		}
	}
}

func TestSortFoldersFirst(t *testing.T) {
	tr := []*Node{
		{ID: "/z.txt", Name: "z.txt", Type: File},
		{ID: "/b", Name: "b", Type: Folder, Children: []*Node{
			{ID: "/b/f.txt", Name: "f.txt", Type: File},
			{ID: "/b/a", Name: "a", Type: Folder},
		}},
		{ID: "/a.txt", Name: "a.txt", Type: File},
	}
	Sort(tr)
	if tr[0].ID != "/b" || tr[1].ID != "/a.txt" || tr[2].ID != "/z.txt" {
		t.Fatalf("bad root order: %s %s %s", tr[0].ID, tr[1].ID, tr[2].ID)
	}
	if tr[0].Children[0].ID != "/b/a" {
		t.Errorf("folder should sort before file within a level")
	}
}
