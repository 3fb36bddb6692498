package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/openjustice/entitygraph/internal/entity"
	_ "modernc.org/sqlite"
)

// GraphKey identifies one persisted graph within a snapshot.
type GraphKey struct {
	Source string
	TopKey string
}

// ListGraphs returns the graphs stored in a snapshot, ordered by
// (source, top-level key).
func ListGraphs(dbPath string) ([]GraphKey, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query(`
		SELECT DISTINCT source, top_key FROM entities
		WHERE is_root = 1
		ORDER BY source, top_key
	`)
	if err != nil {
		return nil, fmt.Errorf("query graphs: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var keys []GraphKey
	for rows.Next() {
		var k GraphKey
		if err := rows.Scan(&k.Source, &k.TopKey); err != nil {
			return nil, fmt.Errorf("scan graph key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// LoadGraph reconstructs the persisted graph for one (source, top-level key):
// instances with their attributes and identity, the child edges in original
// order, and record provenance.
func LoadGraph(dbPath, source, topKey string) (*entity.Graph, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	g := entity.NewGraph()
	instances := make(map[string]*entity.Instance)

	// Entities come back in insertion order, which is the writer's walk
	// order: parents before children, roots first within their graph.
	rows, err := db.Query(`
		SELECT uid, type, identity_key, is_root, attrs FROM entities
		WHERE source = ? AND top_key = ?
		ORDER BY rowid
	`, source, topKey)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var uid, typ string
		var key sql.NullString
		var isRoot int
		var rawAttrs []byte
		if err := rows.Scan(&uid, &typ, &key, &isRoot, &rawAttrs); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		var attrs map[string]string
		if len(rawAttrs) > 0 {
			if err := json.Unmarshal(rawAttrs, &attrs); err != nil {
				return nil, fmt.Errorf("parse attrs for %s: %w", uid, err)
			}
		}
		in := entity.Rehydrate(typ, uid, key.String, key.Valid, attrs)
		instances[uid] = in
		g.Reindex(in)
		if isRoot == 1 {
			g.AddRoot(in)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}

	edges, err := db.Query(`
		SELECT parent_uid, edge, child_uid FROM edges
		ORDER BY parent_uid, edge, position
	`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer func() { _ = edges.Close() }() // safe to ignore

	for edges.Next() {
		var parentUID, edge, childUID string
		if err := edges.Scan(&parentUID, &edge, &childUID); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		parent, ok := instances[parentUID]
		if !ok {
			continue // edge belongs to another graph
		}
		child, ok := instances[childUID]
		if !ok {
			return nil, fmt.Errorf("edge %s/%s references missing child %s", parentUID, edge, childUID)
		}
		parent.Attach(edge, child)
	}
	if err := edges.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}

	prov, err := db.Query(`SELECT uid, records FROM provenance`)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer func() { _ = prov.Close() }() // safe to ignore

	for prov.Next() {
		var uid string
		var blob []byte
		if err := prov.Scan(&uid, &blob); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		if _, ok := instances[uid]; !ok {
			continue
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(blob); err != nil {
			return nil, fmt.Errorf("parse provenance for %s: %w", uid, err)
		}
		g.Provenance().Adopt(uid, bm)
	}
	return g, prov.Err()
}

// LoadConflicts returns the merge conflicts persisted for one graph, in
// write order.
func LoadConflicts(dbPath, source, topKey string) ([]entity.MergeConflict, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query(`
		SELECT entity_type, identity_key, attribute, existing, incoming FROM conflicts
		WHERE source = ? AND top_key = ?
		ORDER BY rowid
	`, source, topKey)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var conflicts []entity.MergeConflict
	for rows.Next() {
		var c entity.MergeConflict
		if err := rows.Scan(&c.EntityType, &c.Key, &c.Attribute, &c.Existing, &c.Incoming); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
