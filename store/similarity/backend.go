// Package similarity adapts a vector-embedding similarity backend to the
// chronicle memory model.
package similarity

import "context"

// Metadata keys stored alongside each vector document.
const (
	metaUserID      = "user_id"
	metaMemoryType  = "memory_type"
	metaTimestamp   = "timestamp"
	metaDocumentIDs = "document_ids"
	metaPrivacy     = "privacy_level"
	metaEncrypted   = "encryption_required"
	metaTone        = "emotional_tone"
	metaCharacters  = "characters"
	metaTheme       = "theme"
	metaSetting     = "setting"
)

// QueryFilter narrows a backend query. Zero values mean unfiltered.
type QueryFilter struct {
	UserID     string
	DocumentID string
	MemoryType string
	// StartTs/EndTs bound the stored timestamp (unix seconds).
	StartTs int64
	EndTs   int64
}

// QueryHit is one backend result. Distance follows the backend convention:
// lower is more similar.
type QueryHit struct {
	ID       string
	Document string
	Metadata map[string]any
	Distance float64
}

// VectorBackend is the similarity search backend boundary: an upsert/delete/
// query store over embedded documents.
type VectorBackend interface {
	Upsert(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error
	Delete(ctx context.Context, ids []string) error
	Query(ctx context.Context, embedding []float32, k int, filter QueryFilter) ([]QueryHit, error)
	HealthCheck(ctx context.Context) error
}
