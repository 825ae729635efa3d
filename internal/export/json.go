package export

import (
	"encoding/json"
	"time"

	"github.com/lotas/werkbank/internal/tree"
)

type jsonExport struct {
	Server     string       `json:"server"`
	ExportedAt time.Time    `json:"exported_at"`
	FileCount  int          `json:"file_count"`
	Tree       []*tree.Node `json:"tree"`
}

// JSON formats a workspace tree as an indented JSON document.
func JSON(server string, nodes []*tree.Node) (string, error) {
	files, _ := countByType(nodes)
	out := jsonExport{
		Server:     server,
		ExportedAt: time.Now(),
		FileCount:  files,
		Tree:       nodes,
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
