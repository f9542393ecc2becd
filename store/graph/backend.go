// Package graph adapts a labeled-graph database to the chronicle memory
// model: memory nodes linked to documents, characters, themes, and settings.
package graph

import "context"

// Node labels.
const (
	LabelMemory    = "Memory"
	LabelDocument  = "Document"
	LabelCharacter = "Character"
	LabelTheme     = "Theme"
	LabelSetting   = "Setting"
)

// Edge types from a memory node to its structural attributes.
const (
	EdgeBelongsTo    = "BELONGS_TO"
	EdgeMentions     = "MENTIONS"
	EdgeExplores     = "EXPLORES"
	EdgeTakesPlaceIn = "TAKES_PLACE_IN"
)

// Backend executes parameterized pattern-match/write statements against a
// labeled-graph database and returns rows as key/value records.
type Backend interface {
	// Read runs a read statement.
	Read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	// Write runs a write statement.
	Write(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	// HealthCheck probes the database.
	HealthCheck(ctx context.Context) error
}
