package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"

	"codegraph/internal/model"
)

// SQLiteStore is the embedded relational Repository backend.
type SQLiteStore struct {
	db    *sql.DB
	locks *lockTable
}

// NewSQLiteStore creates or opens a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, locks: newLockTable()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS graphs (
			id TEXT PRIMARY KEY,
			repository_path TEXT NOT NULL,
			version TEXT,
			content_hash TEXT,
			created_at TIMESTAMP,
			node_count INTEGER,
			edge_count INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS nodes (
			graph_id TEXT NOT NULL,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT,
			file_path TEXT,
			start_line INTEGER,
			end_line INTEGER,
			fqn TEXT,
			signature TEXT,
			is_async INTEGER,
			is_private INTEGER,
			docstring TEXT,
			snippet TEXT,
			PRIMARY KEY (graph_id, id),
			UNIQUE (graph_id, kind, fqn)
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			graph_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			line INTEGER,
			resolved INTEGER NOT NULL,
			PRIMARY KEY (graph_id, source_id, target_id, kind)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_graphs_repo ON graphs(repository_path);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes(graph_id, file_path);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(graph_id, source_id);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(graph_id, target_id);`,
		`CREATE INDEX IF NOT EXISTS idx_edges_kind ON edges(graph_id, kind);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, g *model.Graph) (string, error) {
	id := g.ID
	if id == "" {
		id = uuid.NewString()
	}
	unlock := s.locks.acquire(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &model.StorageTransactionError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	// A save replaces the graph wholesale; the transaction keeps the swap
	// invisible until commit.
	for _, q := range []string{
		"DELETE FROM edges WHERE graph_id = ?",
		"DELETE FROM nodes WHERE graph_id = ?",
		"DELETE FROM graphs WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return "", &model.StorageTransactionError{Op: "clear", Err: err}
		}
	}

	createdAt := g.GeneratedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO graphs (id, repository_path, version, content_hash, created_at, node_count, edge_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, g.RepositoryPath, g.Version, g.ContentHash, createdAt, len(g.Nodes), len(g.Edges))
	if err != nil {
		return "", &model.StorageTransactionError{Op: "insert graph", Err: err}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (graph_id, id, kind, name, file_path, start_line, end_line, fqn, signature, is_async, is_private, docstring, snippet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", &model.StorageTransactionError{Op: "prepare nodes", Err: err}
	}
	defer nodeStmt.Close()
	for _, n := range g.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, id, n.ID, n.Kind, n.Name, n.FilePath,
			n.StartLine, n.EndLine, n.FQN, n.Signature, n.IsAsync, n.IsPrivate, n.Docstring, n.Snippet); err != nil {
			return "", &model.StorageTransactionError{Op: "insert node", Err: err}
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (graph_id, source_id, target_id, kind, line, resolved)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(graph_id, source_id, target_id, kind) DO NOTHING
	`)
	if err != nil {
		return "", &model.StorageTransactionError{Op: "prepare edges", Err: err}
	}
	defer edgeStmt.Close()
	for _, e := range g.Edges {
		if _, err := edgeStmt.ExecContext(ctx, id, e.SourceID, e.TargetID, e.Kind, e.Line, e.Resolved); err != nil {
			return "", &model.StorageTransactionError{Op: "insert edge", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", &model.StorageTransactionError{Op: "commit", Err: err}
	}
	return id, nil
}

func (s *SQLiteStore) Load(ctx context.Context, graphID string) (*model.Graph, error) {
	g := &model.Graph{}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository_path, version, content_hash, created_at
		FROM graphs WHERE id = ?
	`, graphID)
	if err := row.Scan(&g.ID, &g.RepositoryPath, &g.Version, &g.ContentHash, &g.GeneratedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &model.NotFoundError{Kind: "graph", ID: graphID}
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, nodeColumns+` FROM nodes WHERE graph_id = ? ORDER BY id`, graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, kind, line, resolved
		FROM edges WHERE graph_id = ? ORDER BY source_id, kind, target_id
	`, graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e model.Edge
		if err := edgeRows.Scan(&e.SourceID, &e.TargetID, &e.Kind, &e.Line, &e.Resolved); err != nil {
			return nil, err
		}
		g.Edges = append(g.Edges, e)
	}
	return g, edgeRows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, repositoryPath string) ([]model.GraphMeta, error) {
	query := `
		SELECT id, repository_path, created_at, node_count, edge_count
		FROM graphs
	`
	var args []any
	if repositoryPath != "" {
		query += " WHERE repository_path = ?"
		args = append(args, repositoryPath)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []model.GraphMeta
	for rows.Next() {
		var m model.GraphMeta
		if err := rows.Scan(&m.ID, &m.RepositoryPath, &m.CreatedAt, &m.NodeCount, &m.EdgeCount); err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, graphID string) (bool, error) {
	unlock := s.locks.acquire(graphID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &model.StorageTransactionError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM graphs WHERE id = ?", graphID)
	if err != nil {
		return false, &model.StorageTransactionError{Op: "delete graph", Err: err}
	}
	for _, q := range []string{
		"DELETE FROM nodes WHERE graph_id = ?",
		"DELETE FROM edges WHERE graph_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, graphID); err != nil {
			return false, &model.StorageTransactionError{Op: "delete graph", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return false, &model.StorageTransactionError{Op: "commit", Err: err}
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

const nodeColumns = `SELECT id, kind, name, file_path, start_line, end_line, fqn, signature, is_async, is_private, docstring, snippet`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (model.Node, error) {
	var n model.Node
	err := r.Scan(&n.ID, &n.Kind, &n.Name, &n.FilePath, &n.StartLine, &n.EndLine,
		&n.FQN, &n.Signature, &n.IsAsync, &n.IsPrivate, &n.Docstring, &n.Snippet)
	return n, err
}

func (s *SQLiteStore) GetNode(ctx context.Context, graphID, nodeID string) (*model.Node, error) {
	row := s.db.QueryRowContext(ctx, nodeColumns+` FROM nodes WHERE graph_id = ? AND id = ?`, graphID, nodeID)
	n, err := scanNode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &model.NotFoundError{Kind: "node", ID: nodeID}
		}
		return nil, err
	}
	return &n, nil
}

func (s *SQLiteStore) FindNodes(ctx context.Context, graphID string, filter FindFilter) ([]model.Node, error) {
	query := nodeColumns + ` FROM nodes WHERE graph_id = ?`
	args := []any{graphID}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.NamePattern != "" {
		query += " AND name LIKE ? COLLATE NOCASE"
		args = append(args, "%"+filter.NamePattern+"%")
	}
	if filter.PathPrefix != "" {
		query += " AND file_path LIKE ?"
		args = append(args, filter.PathPrefix+"%")
	}
	query += " ORDER BY file_path, start_line, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *SQLiteStore) EdgesFrom(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error) {
	return s.queryEdges(ctx, graphID, "source_id", nodeID, kinds)
}

func (s *SQLiteStore) EdgesTo(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error) {
	return s.queryEdges(ctx, graphID, "target_id", nodeID, kinds)
}

func (s *SQLiteStore) queryEdges(ctx context.Context, graphID, column, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error) {
	query := fmt.Sprintf(`
		SELECT source_id, target_id, kind, line, resolved
		FROM edges WHERE graph_id = ? AND %s = ?`, column)
	args := []any{graphID, nodeID}
	if len(kinds) > 0 {
		query += " AND kind IN (?" + strings.Repeat(",?", len(kinds)-1) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += " ORDER BY source_id, kind, target_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Kind, &e.Line, &e.Resolved); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *SQLiteStore) Traverse(ctx context.Context, graphID, startID string, dir Direction, maxDepth int, kinds []model.EdgeKind) ([]model.Node, error) {
	return traverseBFS(ctx, s, graphID, startID, dir, maxDepth, kinds)
}
