// Package profile holds the engine configuration.
package profile

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration for the chronicle engine and its backends.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string

	// Postgres is the DSN of the pgvector-enabled similarity store.
	Postgres string
	// EmbeddingDimensions is the configured vector space dimension.
	EmbeddingDimensions int
	// MinSimilarity is the floor below which search hits are dropped.
	MinSimilarity float64

	// Neo4jURI is the bolt URI of the relationship store.
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// RedisAddr enables the Redis cache backend when non-empty; otherwise the
	// in-memory backend is used.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// CacheTTL is the memory-entry TTL; search entries use the lesser of this
	// and SearchCacheTTL.
	CacheTTL       time.Duration
	SearchCacheTTL time.Duration

	// AIBaseURL / AIAPIKey configure the OpenAI-compatible semantic service.
	AIBaseURL        string
	AIAPIKey         string
	AIEmbeddingModel string
	AIChatModel      string
	AIMaxRetries     int

	// SimilarCandidates caps how many prior memories contradiction detection
	// compares against.
	SimilarCandidates int
	// ContradictionThreshold is the minimum similarity for a prior memory to
	// be considered a contradiction candidate.
	ContradictionThreshold float64
	// MinContradictionConfidence filters low-confidence findings.
	MinContradictionConfidence float64
	// TimelineWindow is how far apart two temporally-anchored memories must be
	// before a timeline contradiction is raised.
	TimelineWindow time.Duration
}

// Load reads configuration from CHRONICLE_* environment variables and, if
// present, a chronicle.yaml config file in the working directory.
func Load() (*Profile, error) {
	v := viper.New()
	v.SetEnvPrefix("chronicle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("postgres", "")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("min.similarity", 0.3)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("search.cache.ttl", "5m")
	v.SetDefault("ai.base.url", "https://api.openai.com/v1")
	v.SetDefault("ai.api.key", "")
	v.SetDefault("ai.embedding.model", "text-embedding-3-small")
	v.SetDefault("ai.chat.model", "gpt-4o-mini")
	v.SetDefault("ai.max.retries", 3)
	v.SetDefault("similar.candidates", 5)
	v.SetDefault("contradiction.threshold", 0.75)
	v.SetDefault("min.contradiction.confidence", 0.5)
	v.SetDefault("timeline.window", "24h")

	v.SetConfigName("chronicle")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	p := &Profile{
		Mode:                       v.GetString("mode"),
		Postgres:                   v.GetString("postgres"),
		EmbeddingDimensions:        v.GetInt("embedding.dimensions"),
		MinSimilarity:              v.GetFloat64("min.similarity"),
		Neo4jURI:                   v.GetString("neo4j.uri"),
		Neo4jUser:                  v.GetString("neo4j.user"),
		Neo4jPassword:              v.GetString("neo4j.password"),
		RedisAddr:                  v.GetString("redis.addr"),
		RedisPassword:              v.GetString("redis.password"),
		RedisDB:                    v.GetInt("redis.db"),
		CacheTTL:                   v.GetDuration("cache.ttl"),
		SearchCacheTTL:             v.GetDuration("search.cache.ttl"),
		AIBaseURL:                  v.GetString("ai.base.url"),
		AIAPIKey:                   v.GetString("ai.api.key"),
		AIEmbeddingModel:           v.GetString("ai.embedding.model"),
		AIChatModel:                v.GetString("ai.chat.model"),
		AIMaxRetries:               v.GetInt("ai.max.retries"),
		SimilarCandidates:          v.GetInt("similar.candidates"),
		ContradictionThreshold:     v.GetFloat64("contradiction.threshold"),
		MinContradictionConfidence: v.GetFloat64("min.contradiction.confidence"),
		TimelineWindow:             v.GetDuration("timeline.window"),
	}
	return p, p.Validate()
}

// IsDev reports whether the profile runs in development mode.
func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// Validate checks configuration consistency.
func (p *Profile) Validate() error {
	if p.EmbeddingDimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if p.MinSimilarity < 0 || p.MinSimilarity > 1 {
		return errors.New("min similarity must be in [0,1]")
	}
	if p.MinContradictionConfidence < 0 || p.MinContradictionConfidence > 1 {
		return errors.New("min contradiction confidence must be in [0,1]")
	}
	return nil
}
