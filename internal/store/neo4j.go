package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"codegraph/internal/model"
)

// Neo4jStore is the graph-native Repository backend. Each analysis run is
// stored under a (:Graph) header node; entities are (:Entity) nodes carrying
// a graph_id property, resolved edges are [:REL] relationships, and
// unresolved edges are kept as (:Dangling) records so loads round-trip the
// full edge set.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	locks    *lockTable
}

// NewNeo4jStore connects to a Neo4j instance and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &Neo4jStore{driver: driver, database: database, locks: newLockTable()}, nil
}

func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func recStr(rec *db.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func recInt(rec *db.Record, key string) int {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return int(n)
}

func recBool(rec *db.Record, key string) bool {
	v, _ := rec.Get(key)
	b, _ := v.(bool)
	return b
}

func recTime(rec *db.Record, key string) time.Time {
	v, _ := rec.Get(key)
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func nodeProps(graphID string, n model.Node) map[string]any {
	return map[string]any{
		"graph_id":   graphID,
		"id":         n.ID,
		"kind":       string(n.Kind),
		"name":       n.Name,
		"file_path":  n.FilePath,
		"start_line": n.StartLine,
		"end_line":   n.EndLine,
		"fqn":        n.FQN,
		"signature":  n.Signature,
		"is_async":   n.IsAsync,
		"is_private": n.IsPrivate,
		"docstring":  n.Docstring,
		"snippet":    n.Snippet,
	}
}

func nodeFromProps(props map[string]any) model.Node {
	str := func(k string) string {
		v, _ := props[k].(string)
		return v
	}
	num := func(k string) int {
		v, _ := props[k].(int64)
		return int(v)
	}
	boolean := func(k string) bool {
		v, _ := props[k].(bool)
		return v
	}
	return model.Node{
		ID:        str("id"),
		Kind:      model.NodeKind(str("kind")),
		Name:      str("name"),
		FilePath:  str("file_path"),
		StartLine: num("start_line"),
		EndLine:   num("end_line"),
		FQN:       str("fqn"),
		Signature: str("signature"),
		IsAsync:   boolean("is_async"),
		IsPrivate: boolean("is_private"),
		Docstring: str("docstring"),
		Snippet:   str("snippet"),
	}
}

func edgeFromRecord(rec *db.Record) model.Edge {
	return model.Edge{
		SourceID: recStr(rec, "source_id"),
		TargetID: recStr(rec, "target_id"),
		Kind:     model.EdgeKind(recStr(rec, "kind")),
		Line:     recInt(rec, "line"),
		Resolved: recBool(rec, "resolved"),
	}
}

func (s *Neo4jStore) Save(ctx context.Context, g *model.Graph) (string, error) {
	id := g.ID
	if id == "" {
		id = uuid.NewString()
	}
	unlock := s.locks.acquire(id)
	defer unlock()

	createdAt := g.GeneratedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	nodes := make([]map[string]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, nodeProps(id, n))
	}
	var resolved, dangling []map[string]any
	for _, e := range g.Edges {
		props := map[string]any{
			"graph_id":  id,
			"source_id": e.SourceID,
			"target_id": e.TargetID,
			"kind":      string(e.Kind),
			"line":      e.Line,
		}
		if e.Resolved {
			resolved = append(resolved, props)
		} else {
			dangling = append(dangling, props)
		}
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	// One write transaction covers the delete and the rebuild; a failed save
	// leaves any prior version of the graph untouched.
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range []string{
			`MATCH (e:Entity {graph_id: $id}) DETACH DELETE e`,
			`MATCH (d:Dangling {graph_id: $id}) DELETE d`,
			`MATCH (g:Graph {id: $id}) DELETE g`,
		} {
			if _, err := tx.Run(ctx, q, map[string]any{"id": id}); err != nil {
				return nil, err
			}
		}

		_, err := tx.Run(ctx, `
			CREATE (g:Graph {id: $id, repository_path: $repo, version: $version,
			                 content_hash: $hash, created_at: $created_at,
			                 node_count: $nodes, edge_count: $edges})
		`, map[string]any{
			"id": id, "repo": g.RepositoryPath, "version": g.Version,
			"hash": g.ContentHash, "created_at": createdAt,
			"nodes": len(g.Nodes), "edges": len(g.Edges),
		})
		if err != nil {
			return nil, err
		}

		if _, err := tx.Run(ctx, `
			UNWIND $nodes AS props
			CREATE (e:Entity) SET e = props
		`, map[string]any{"nodes": nodes}); err != nil {
			return nil, err
		}

		if _, err := tx.Run(ctx, `
			UNWIND $edges AS props
			MATCH (a:Entity {graph_id: props.graph_id, id: props.source_id})
			MATCH (b:Entity {graph_id: props.graph_id, id: props.target_id})
			MERGE (a)-[r:REL {kind: props.kind}]->(b)
			SET r.line = props.line
		`, map[string]any{"edges": resolved}); err != nil {
			return nil, err
		}

		if _, err := tx.Run(ctx, `
			UNWIND $edges AS props
			CREATE (d:Dangling) SET d = props
		`, map[string]any{"edges": dangling}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return "", &model.StorageTransactionError{Op: "save graph", Err: err}
	}
	return id, nil
}

func (s *Neo4jStore) Load(ctx context.Context, graphID string) (*model.Graph, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rec, err := runSingle(ctx, tx, `
			MATCH (g:Graph {id: $id})
			RETURN g.id AS id, g.repository_path AS repo, g.version AS version,
			       g.content_hash AS hash, g.created_at AS created_at
		`, map[string]any{"id": graphID})
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, &model.NotFoundError{Kind: "graph", ID: graphID}
		}
		g := &model.Graph{
			ID:             graphID,
			RepositoryPath: recStr(rec, "repo"),
			Version:        recStr(rec, "version"),
			ContentHash:    recStr(rec, "hash"),
			GeneratedAt:    recTime(rec, "created_at"),
		}

		nodeRes, err := tx.Run(ctx, `
			MATCH (e:Entity {graph_id: $id})
			RETURN properties(e) AS props ORDER BY e.id
		`, map[string]any{"id": graphID})
		if err != nil {
			return nil, err
		}
		for nodeRes.Next(ctx) {
			props, _ := nodeRes.Record().Get("props")
			g.Nodes = append(g.Nodes, nodeFromProps(props.(map[string]any)))
		}
		if err := nodeRes.Err(); err != nil {
			return nil, err
		}

		edgeRes, err := tx.Run(ctx, `
			MATCH (a:Entity {graph_id: $id})-[r:REL]->(b:Entity)
			RETURN a.id AS source_id, b.id AS target_id, r.kind AS kind, r.line AS line, true AS resolved
			UNION ALL
			MATCH (d:Dangling {graph_id: $id})
			RETURN d.source_id AS source_id, d.target_id AS target_id, d.kind AS kind, d.line AS line, false AS resolved
		`, map[string]any{"id": graphID})
		if err != nil {
			return nil, err
		}
		for edgeRes.Next(ctx) {
			g.Edges = append(g.Edges, edgeFromRecord(edgeRes.Record()))
		}
		if err := edgeRes.Err(); err != nil {
			return nil, err
		}
		sortEdges(g.Edges)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*model.Graph), nil
}

func sortEdges(edges []model.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.TargetID < b.TargetID
	})
}

func (s *Neo4jStore) List(ctx context.Context, repositoryPath string) ([]model.GraphMeta, error) {
	query := `MATCH (g:Graph)`
	params := map[string]any{}
	if repositoryPath != "" {
		query += ` WHERE g.repository_path = $repo`
		params["repo"] = repositoryPath
	}
	query += `
		RETURN g.id AS id, g.repository_path AS repo, g.created_at AS created_at,
		       g.node_count AS nodes, g.edge_count AS edges
		ORDER BY g.created_at DESC, g.id
	`

	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var metas []model.GraphMeta
		for result.Next(ctx) {
			rec := result.Record()
			metas = append(metas, model.GraphMeta{
				ID:             recStr(rec, "id"),
				RepositoryPath: recStr(rec, "repo"),
				CreatedAt:      recTime(rec, "created_at"),
				NodeCount:      recInt(rec, "nodes"),
				EdgeCount:      recInt(rec, "edges"),
			})
		}
		return metas, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.GraphMeta), nil
}

func (s *Neo4jStore) Delete(ctx context.Context, graphID string) (bool, error) {
	unlock := s.locks.acquire(graphID)
	defer unlock()

	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rec, err := runSingle(ctx, tx, `
			MATCH (g:Graph {id: $id})
			WITH g, count(g) AS found
			DELETE g
			RETURN found
		`, map[string]any{"id": graphID})
		if err != nil {
			return nil, err
		}
		for _, q := range []string{
			`MATCH (e:Entity {graph_id: $id}) DETACH DELETE e`,
			`MATCH (d:Dangling {graph_id: $id}) DELETE d`,
		} {
			if _, err := tx.Run(ctx, q, map[string]any{"id": graphID}); err != nil {
				return nil, err
			}
		}
		return rec != nil, nil
	})
	if err != nil {
		return false, &model.StorageTransactionError{Op: "delete graph", Err: err}
	}
	return res.(bool), nil
}

func (s *Neo4jStore) GetNode(ctx context.Context, graphID, nodeID string) (*model.Node, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rec, err := runSingle(ctx, tx, `
			MATCH (e:Entity {graph_id: $graph, id: $id})
			RETURN properties(e) AS props
		`, map[string]any{"graph": graphID, "id": nodeID})
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, &model.NotFoundError{Kind: "node", ID: nodeID}
		}
		props, _ := rec.Get("props")
		n := nodeFromProps(props.(map[string]any))
		return &n, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*model.Node), nil
}

func (s *Neo4jStore) FindNodes(ctx context.Context, graphID string, filter FindFilter) ([]model.Node, error) {
	query := `MATCH (e:Entity {graph_id: $graph})`
	params := map[string]any{"graph": graphID}
	var conds []string
	if filter.Kind != "" {
		conds = append(conds, "e.kind = $kind")
		params["kind"] = string(filter.Kind)
	}
	if filter.NamePattern != "" {
		conds = append(conds, "toLower(e.name) CONTAINS toLower($name)")
		params["name"] = filter.NamePattern
	}
	if filter.PathPrefix != "" {
		conds = append(conds, "e.file_path STARTS WITH $prefix")
		params["prefix"] = filter.PathPrefix
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` RETURN properties(e) AS props ORDER BY e.file_path, e.start_line, e.id`

	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var nodes []model.Node
		for result.Next(ctx) {
			props, _ := result.Record().Get("props")
			nodes = append(nodes, nodeFromProps(props.(map[string]any)))
		}
		return nodes, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.Node), nil
}

func (s *Neo4jStore) EdgesFrom(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error) {
	return s.queryEdges(ctx, graphID, nodeID, kinds, true)
}

func (s *Neo4jStore) EdgesTo(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind) ([]model.Edge, error) {
	return s.queryEdges(ctx, graphID, nodeID, kinds, false)
}

func (s *Neo4jStore) queryEdges(ctx context.Context, graphID, nodeID string, kinds []model.EdgeKind, outgoing bool) ([]model.Edge, error) {
	params := map[string]any{"graph": graphID, "id": nodeID}
	relCond := ""
	danglingCond := ""
	if len(kinds) > 0 {
		relCond = " AND r.kind IN $kinds"
		danglingCond = " AND d.kind IN $kinds"
		params["kinds"] = kindStrings(kinds)
	}

	var query string
	if outgoing {
		query = `
			MATCH (a:Entity {graph_id: $graph, id: $id})-[r:REL]->(b:Entity)
			WHERE true` + relCond + `
			RETURN a.id AS source_id, b.id AS target_id, r.kind AS kind, r.line AS line, true AS resolved
			UNION ALL
			MATCH (d:Dangling {graph_id: $graph})
			WHERE d.source_id = $id` + danglingCond + `
			RETURN d.source_id AS source_id, d.target_id AS target_id, d.kind AS kind, d.line AS line, false AS resolved
		`
	} else {
		query = `
			MATCH (a:Entity)-[r:REL]->(b:Entity {graph_id: $graph, id: $id})
			WHERE true` + relCond + `
			RETURN a.id AS source_id, b.id AS target_id, r.kind AS kind, r.line AS line, true AS resolved
			UNION ALL
			MATCH (d:Dangling {graph_id: $graph})
			WHERE d.target_id = $id` + danglingCond + `
			RETURN d.source_id AS source_id, d.target_id AS target_id, d.kind AS kind, d.line AS line, false AS resolved
		`
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var edges []model.Edge
		for result.Next(ctx) {
			edges = append(edges, edgeFromRecord(result.Record()))
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		sortEdges(edges)
		return edges, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.Edge), nil
}

func (s *Neo4jStore) Traverse(ctx context.Context, graphID, startID string, dir Direction, maxDepth int, kinds []model.EdgeKind) ([]model.Node, error) {
	return traverseBFS(ctx, s, graphID, startID, dir, maxDepth, kinds)
}

// runSingle returns the first record of a query, or nil when the query
// matched nothing.
func runSingle(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) (*db.Record, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, result.Err()
	}
	return result.Record(), nil
}
