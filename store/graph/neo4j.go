package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
)

// Neo4jBackend implements Backend over the bolt protocol.
type Neo4jBackend struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jBackend connects to a Neo4j instance.
func NewNeo4jBackend(uri, username, password string) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create neo4j driver")
	}
	return &Neo4jBackend{driver: driver}, nil
}

// EnsureSchema creates the unique constraints and indexes the adapter relies
// on.
func (b *Neo4jBackend) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`,
		`CREATE CONSTRAINT character_key IF NOT EXISTS FOR (c:Character) REQUIRE (c.user_id, c.name) IS UNIQUE`,
		`CREATE INDEX memory_user_ts IF NOT EXISTS FOR (m:Memory) ON (m.user_id, m.timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := b.Write(ctx, stmt, nil); err != nil {
			return errors.Wrap(err, "failed to ensure graph schema")
		}
	}
	return nil
}

func (b *Neo4jBackend) Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return b.run(ctx, query, params, neo4j.AccessModeRead)
}

func (b *Neo4jBackend) Write(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return b.run(ctx, query, params, neo4j.AccessModeWrite)
}

func (b *Neo4jBackend) run(ctx context.Context, query string, params map[string]any, mode neo4j.AccessMode) ([]map[string]any, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, errors.Wrap(err, "graph statement failed")
	}

	var rows []map[string]any
	for result.Next(ctx) {
		record := result.Record()
		row := make(map[string]any, len(record.Keys))
		for _, key := range record.Keys {
			value, _ := record.Get(key)
			row[key] = value
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, errors.Wrap(err, "graph result iteration failed")
	}
	return rows, nil
}

func (b *Neo4jBackend) HealthCheck(ctx context.Context) error {
	_, err := b.Read(ctx, `RETURN 1 AS ok`, nil)
	return errors.Wrap(err, "graph store unreachable")
}

// Close releases the driver.
func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

var _ Backend = (*Neo4jBackend)(nil)
