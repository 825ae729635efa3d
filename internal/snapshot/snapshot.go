// Package snapshot persists point-in-time copies of the workspace tree and
// compares them against each other or the live workspace.
package snapshot

import (
	"database/sql"
	"fmt"

	"github.com/lotas/werkbank/internal/applog"
	"github.com/lotas/werkbank/internal/storage"
	"github.com/lotas/werkbank/internal/tree"
)

// Create persists a snapshot of the workspace tree for the given server.
// It first checks the latest snapshot and skips saving if the file-id sets
// are identical. Returns the rev number, whether a new snapshot was created,
// and the diff against the previous snapshot (nil if first).
func Create(db *sql.DB, server string, nodes []*tree.Node, label string) (rev int, created bool, diff *DiffResult, err error) {
	latest, err := storage.GetLatestSnapshot(db, server)
	if err != nil {
		return 0, false, nil, fmt.Errorf("get latest snapshot: %w", err)
	}

	if latest != nil {
		d := diffTrees(latest.Rev, latest.Tree, nodes)
		if len(d.Added) == 0 && len(d.Removed) == 0 {
			applog.Info("snapshot.skipped", "server", server, "rev", latest.Rev)
			return latest.Rev, false, nil, nil
		}
		diff = d
	}

	newRev, err := storage.CreateSnapshot(db, server, nodes, label)
	if err != nil {
		return 0, false, nil, err
	}

	applog.Info("snapshot.created", "rev", newRev, "files", tree.CountNodes(nodes), "server", server)
	return newRev, true, diff, nil
}
