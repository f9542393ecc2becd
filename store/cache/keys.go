package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/lifeink/chronicle/store"
)

// MemoryKey is the cache key for a single memory by id.
func MemoryKey(id string) string {
	return "memory:" + id
}

// SearchKey derives a deterministic key for a search result set. Two queries
// that compare equal field-by-field always hash to the same key.
func SearchKey(userID string, query *store.ContextQuery) string {
	digest := sha256.Sum256([]byte(canonicalQuery(query)))
	return fmt.Sprintf("search:%s:%s", userID, hex.EncodeToString(digest[:])[:16])
}

// userSearchIndexKey tracks the search keys cached for a user so they can be
// invalidated as a group.
func userSearchIndexKey(userID string) string {
	return "idx:user:" + userID + ":search"
}

// userMemoryIndexKey tracks the memory keys cached for a user.
func userMemoryIndexKey(userID string) string {
	return "idx:user:" + userID + ":memories"
}

// userDocumentIndexKey tracks the memory keys cached for one document of a
// user, enabling targeted invalidation when a document is reorganized.
func userDocumentIndexKey(userID, documentID string) string {
	return "idx:user:" + userID + ":doc:" + documentID
}

func canonicalQuery(query *store.ContextQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "q=%s|u=%s|d=%s|n=%d|v=%t|g=%t",
		strings.TrimSpace(query.Query),
		query.UserID,
		query.DocumentID,
		query.Normalize(),
		query.IncludeVector,
		query.IncludeGraph,
	)
	if query.TimeRange != nil {
		fmt.Fprintf(&b, "|ts=%d:%d", query.TimeRange.Start.Unix(), query.TimeRange.End.Unix())
	}
	if len(query.Filters) > 0 {
		parts := make([]string, 0, len(query.Filters))
		for _, filter := range query.Filters {
			parts = append(parts, fmt.Sprintf("%s:%s:%v", filter.Field, filter.Operator, filter.Value))
		}
		sort.Strings(parts)
		fmt.Fprintf(&b, "|f=%s", strings.Join(parts, ","))
	}
	return b.String()
}
