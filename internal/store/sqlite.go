// Package store persists built entity graphs to SQLite snapshots so a batch
// can be inspected, diffed, or reloaded without re-running ingest.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/openjustice/entitygraph/internal/entity"
	_ "modernc.org/sqlite"
)

// Writer streams entity graphs into a SQLite snapshot. Inserts run inside
// batched transactions with prepared statements; Close commits the tail
// batch.
type Writer struct {
	db           *sql.DB
	tx           *sql.Tx
	stmtEntity   *sql.Stmt
	stmtEdge     *sql.Stmt
	stmtConflict *sql.Stmt
	stmtProv     *sql.Stmt
	batchSize    int
	count        int
	mu           sync.Mutex
}

// NewWriter opens (or creates) the snapshot database and initializes its
// schema.
func NewWriter(dbPath string) (*Writer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Performance tuning for bulk insert
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}

	ddl := `
	CREATE TABLE IF NOT EXISTS entities (
		uid          TEXT PRIMARY KEY,
		source       TEXT NOT NULL,
		top_key      TEXT NOT NULL,
		type         TEXT NOT NULL,
		identity_key TEXT,
		is_root      INTEGER NOT NULL DEFAULT 0,
		attrs        JSON
	);
	CREATE INDEX IF NOT EXISTS idx_entities_identity ON entities(type, identity_key);

	CREATE TABLE IF NOT EXISTS edges (
		parent_uid TEXT NOT NULL,
		edge       TEXT NOT NULL,
		position   INTEGER NOT NULL,
		child_uid  TEXT NOT NULL,
		PRIMARY KEY (parent_uid, edge, position)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS conflicts (
		source       TEXT NOT NULL,
		top_key      TEXT NOT NULL,
		entity_type  TEXT NOT NULL,
		identity_key TEXT,
		attribute    TEXT NOT NULL,
		existing     TEXT,
		incoming     TEXT
	);

	CREATE TABLE IF NOT EXISTS provenance (
		uid     TEXT PRIMARY KEY,
		records BLOB NOT NULL
	);
	`
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}

	w := &Writer{
		db:        db,
		batchSize: 10000,
	}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmtEntity, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO entities (uid, source, top_key, type, identity_key, is_root, attrs)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	w.stmtEdge, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO edges (parent_uid, edge, position, child_uid)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	w.stmtConflict, err = w.tx.Prepare(`
		INSERT INTO conflicts (source, top_key, entity_type, identity_key, attribute, existing, incoming)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	w.stmtProv, err = w.tx.Prepare(`INSERT OR REPLACE INTO provenance (uid, records) VALUES (?, ?)`)
	return err
}

func (w *Writer) commitTx() error {
	for _, s := range []*sql.Stmt{w.stmtEntity, w.stmtEdge, w.stmtConflict, w.stmtProv} {
		if s != nil {
			_ = s.Close()
		}
	}
	return w.tx.Commit()
}

func (w *Writer) bump() {
	w.count++
	if w.count < w.batchSize {
		return
	}
	if err := w.commitTx(); err != nil {
		log.Printf("store: commit failed: %v", err)
	}
	if err := w.beginTx(); err != nil {
		log.Printf("store: begin failed: %v", err)
	}
	w.count = 0
}

// WriteGraph persists one top-level entity's graph under (source, topKey):
// every reachable instance, its edges in child order, and its record
// provenance.
func (w *Writer) WriteGraph(source, topKey string, g *entity.Graph) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	position := make(map[string]int)
	g.Walk(func(parent *entity.Instance, edge string, in *entity.Instance) {
		var key any
		if in.Keyed() {
			key = in.Key()
		}
		var attrs []byte
		if m := in.Attrs(); len(m) > 0 {
			attrs, _ = json.Marshal(m)
		}
		isRoot := 0
		if parent == nil {
			isRoot = 1
		}
		if _, err := w.stmtEntity.Exec(in.UID(), source, topKey, in.Type(), key, isRoot, attrs); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("insert entity %s: %w", in.UID(), err)
		}
		w.bump()

		if parent != nil {
			slot := parent.UID() + "\x00" + edge
			pos := position[slot]
			position[slot] = pos + 1
			if _, err := w.stmtEdge.Exec(parent.UID(), edge, pos, in.UID()); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("insert edge %s/%s: %w", parent.UID(), edge, err)
			}
			w.bump()
		}

		if bm := g.Provenance().Bitmap(in.UID()); bm != nil && !bm.IsEmpty() {
			blob, err := bm.ToBytes()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("serialize provenance %s: %w", in.UID(), err)
				}
				return
			}
			if _, err := w.stmtProv.Exec(in.UID(), blob); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("insert provenance %s: %w", in.UID(), err)
			}
			w.bump()
		}
	})
	return firstErr
}

// WriteConflicts records the merge conflicts observed while building one
// top-level entity's graph.
func (w *Writer) WriteConflicts(source, topKey string, conflicts []entity.MergeConflict) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range conflicts {
		if _, err := w.stmtConflict.Exec(source, topKey, c.EntityType, c.Key, c.Attribute, c.Existing, c.Incoming); err != nil {
			return fmt.Errorf("insert conflict: %w", err)
		}
		w.bump()
	}
	return nil
}

// Close commits any pending batch and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	return w.db.Close()
}
