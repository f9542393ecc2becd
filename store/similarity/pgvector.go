package similarity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// PostgresBackend implements VectorBackend over Postgres with the pgvector
// extension.
type PostgresBackend struct {
	db         *sql.DB
	dimensions int
}

// NewPostgresBackend opens a Postgres-backed vector store.
func NewPostgresBackend(dsn string, dimensions int) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	return &PostgresBackend{db: db, dimensions: dimensions}, nil
}

// NewPostgresBackendWithDB wraps an existing connection pool.
func NewPostgresBackendWithDB(db *sql.DB, dimensions int) *PostgresBackend {
	return &PostgresBackend{db: db, dimensions: dimensions}
}

// EnsureSchema creates the vector extension, table, and indexes.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_vector (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			document_ids TEXT[] NOT NULL DEFAULT '{}',
			created_ts BIGINT NOT NULL
		)`, b.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_memory_vector_user ON memory_vector (user_id, created_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_vector_embedding ON memory_vector
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to ensure vector schema")
		}
	}
	return nil
}

func (b *PostgresBackend) Upsert(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	if len(ids) != len(embeddings) || len(ids) != len(documents) || len(ids) != len(metadatas) {
		return errors.New("upsert input lengths do not match")
	}

	stmt := `
		INSERT INTO memory_vector (id, user_id, content, embedding, metadata, document_ids, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			document_ids = EXCLUDED.document_ids,
			created_ts = EXCLUDED.created_ts
	`

	for i, id := range ids {
		meta := metadatas[i]
		payload, err := json.Marshal(meta)
		if err != nil {
			return errors.Wrap(err, "failed to marshal vector metadata")
		}
		userID, _ := meta[metaUserID].(string)
		createdTs, _ := meta[metaTimestamp].(int64)
		docIDs := stringSliceFromMeta(meta[metaDocumentIDs])

		_, err = b.db.ExecContext(ctx, stmt,
			id,
			userID,
			documents[i],
			pgvector.NewVector(embeddings[i]),
			payload,
			pq.Array(docIDs),
			createdTs,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to upsert vector %s", id)
		}
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM memory_vector WHERE id = ANY($1)`, pq.Array(ids))
	return errors.Wrap(err, "failed to delete vectors")
}

func (b *PostgresBackend) Query(ctx context.Context, embedding []float32, k int, filter QueryFilter) ([]QueryHit, error) {
	where, args := []string{"1 = 1"}, []any{}
	next := func() int { return len(args) + 1 }

	if filter.UserID != "" {
		where, args = append(where, fmt.Sprintf("user_id = $%d", next())), append(args, filter.UserID)
	}
	if filter.DocumentID != "" {
		where, args = append(where, fmt.Sprintf("$%d = ANY(document_ids)", next())), append(args, filter.DocumentID)
	}
	if filter.MemoryType != "" {
		where, args = append(where, fmt.Sprintf("metadata->>'memory_type' = $%d", next())), append(args, filter.MemoryType)
	}
	if filter.StartTs > 0 {
		where, args = append(where, fmt.Sprintf("created_ts >= $%d", next())), append(args, filter.StartTs)
	}
	if filter.EndTs > 0 {
		where, args = append(where, fmt.Sprintf("created_ts <= $%d", next())), append(args, filter.EndTs)
	}

	args = append(args, pgvector.NewVector(embedding))
	vectorArg := len(args)
	args = append(args, k)
	limitArg := len(args)

	query := fmt.Sprintf(`
		SELECT id, content, metadata, embedding <=> $%d AS distance
		FROM memory_vector
		WHERE %s
		ORDER BY distance ASC
		LIMIT $%d
	`, vectorArg, strings.Join(where, " AND "), limitArg)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query vectors")
	}
	defer rows.Close()

	var hits []QueryHit
	for rows.Next() {
		var hit QueryHit
		var payload []byte
		if err := rows.Scan(&hit.ID, &hit.Document, &payload, &hit.Distance); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector hit")
		}
		if err := json.Unmarshal(payload, &hit.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal vector metadata")
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (b *PostgresBackend) HealthCheck(ctx context.Context) error {
	return errors.Wrap(b.db.PingContext(ctx), "similarity store unreachable")
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

func stringSliceFromMeta(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

var _ VectorBackend = (*PostgresBackend)(nil)
