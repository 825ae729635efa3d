package storage

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	_ "modernc.org/sqlite"

	"github.com/lotas/werkbank/internal/tree"
)

// SnapshotSummary holds the metadata for a stored workspace snapshot.
type SnapshotSummary struct {
	ID        int64
	Rev       int
	Label     string // optional
	Server    string
	CreatedAt time.Time
	FileCount int
}

// SnapshotFull is a snapshot with its decoded workspace tree.
type SnapshotFull struct {
	SnapshotSummary
	Tree []*tree.Node
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS snapshots (
    id          INTEGER PRIMARY KEY,
    rev         INTEGER NOT NULL,
    server      TEXT NOT NULL,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    file_count  INTEGER NOT NULL,
    shape       BLOB NOT NULL,
    UNIQUE(server, rev)
);`,
	},
	{
		Version:     2,
		Description: "add optional label to snapshots",
		SQL:         `ALTER TABLE snapshots ADD COLUMN label TEXT;`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables foreign keys and WAL mode,
// and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// WAL mode for better concurrency.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists, detects which
// migrations have already been applied, and runs any pending ones.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/werkbank/werkbank.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "werkbank", "werkbank.db"), nil
}

// encodeShape serializes a workspace tree to an lz4-framed JSON blob with a
// 4-byte little-endian uncompressed-size prefix.
func encodeShape(nodes []*tree.Node) ([]byte, error) {
	raw, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("marshal tree: %w", err)
	}

	var buf bytes.Buffer
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(raw)))
	buf.Write(size[:])

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress tree: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flush compressed tree: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeShape reverses encodeShape.
func decodeShape(blob []byte) ([]*tree.Node, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("shape blob too short: %d bytes", len(blob))
	}
	size := binary.LittleEndian.Uint32(blob[:4])

	zr := lz4.NewReader(bytes.NewReader(blob[4:]))
	raw := make([]byte, size)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("decompress tree: %w", err)
	}

	var nodes []*tree.Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("unmarshal tree: %w", err)
	}
	return nodes, nil
}

// CreateSnapshot stores a workspace tree for the given server. The rev number
// is auto-assigned per server. Label is optional (empty string = no label).
// Returns the assigned rev number.
func CreateSnapshot(db *sql.DB, server string, nodes []*tree.Node, label string) (int, error) {
	blob, err := encodeShape(nodes)
	if err != nil {
		return 0, err
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int
	err = tx.QueryRow("SELECT COALESCE(MAX(rev), 0) + 1 FROM snapshots WHERE server = ?", server).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("compute next rev: %w", err)
	}

	// Empty label becomes NULL.
	var labelVal interface{}
	if label != "" {
		labelVal = label
	}

	_, err = tx.Exec(
		"INSERT INTO snapshots (rev, server, file_count, shape, label) VALUES (?, ?, ?, ?, ?)",
		rev, server, tree.CountNodes(nodes), blob, labelVal,
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

// ListSnapshots returns all snapshots ordered by creation time descending.
func ListSnapshots(db *sql.DB) ([]SnapshotSummary, error) {
	return listSnapshots(db,
		"SELECT id, rev, label, server, created_at, file_count FROM snapshots ORDER BY created_at DESC, id DESC")
}

// ListSnapshotsByServer returns snapshots for a specific server, ordered by
// creation time descending.
func ListSnapshotsByServer(db *sql.DB, server string) ([]SnapshotSummary, error) {
	return listSnapshots(db,
		"SELECT id, rev, label, server, created_at, file_count FROM snapshots WHERE server = ? ORDER BY created_at DESC, id DESC",
		server)
}

func listSnapshots(db *sql.DB, query string, args ...interface{}) ([]SnapshotSummary, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var result []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		var label sql.NullString
		if err := rows.Scan(&s.ID, &s.Rev, &label, &s.Server, &s.CreatedAt, &s.FileCount); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if label.Valid {
			s.Label = label.String
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}

// GetSnapshot loads a full snapshot by server and rev number.
func GetSnapshot(db *sql.DB, server string, rev int) (*SnapshotFull, error) {
	snap := &SnapshotFull{}

	var label sql.NullString
	var blob []byte
	err := db.QueryRow(
		"SELECT id, rev, label, server, created_at, file_count, shape FROM snapshots WHERE server = ? AND rev = ?",
		server, rev,
	).Scan(&snap.ID, &snap.Rev, &label, &snap.Server, &snap.CreatedAt, &snap.FileCount, &blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot rev %d not found for server %q", rev, server)
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	if label.Valid {
		snap.Label = label.String
	}

	snap.Tree, err = decodeShape(blob)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetLatestSnapshot returns the most recent snapshot for a server.
// Returns nil, nil if no snapshots exist for the server.
func GetLatestSnapshot(db *sql.DB, server string) (*SnapshotFull, error) {
	var rev int
	err := db.QueryRow(
		"SELECT rev FROM snapshots WHERE server = ? ORDER BY rev DESC LIMIT 1",
		server,
	).Scan(&rev)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest rev: %w", err)
	}
	return GetSnapshot(db, server, rev)
}

// DeleteSnapshot removes a snapshot by server and rev.
// Returns an error if the snapshot does not exist.
func DeleteSnapshot(db *sql.DB, server string, rev int) error {
	res, err := db.Exec("DELETE FROM snapshots WHERE server = ? AND rev = ?", server, rev)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("snapshot rev %d not found for server %q", rev, server)
	}
	return nil
}
