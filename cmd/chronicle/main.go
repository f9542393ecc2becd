package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lifeink/chronicle/internal/profile"
	"github.com/lifeink/chronicle/plugin/ai"
	"github.com/lifeink/chronicle/server/contradiction"
	"github.com/lifeink/chronicle/server/orchestrator"
	"github.com/lifeink/chronicle/server/queryengine"
	"github.com/lifeink/chronicle/store"
	"github.com/lifeink/chronicle/store/cache"
	"github.com/lifeink/chronicle/store/graph"
	"github.com/lifeink/chronicle/store/similarity"
)

var rootCmd = &cobra.Command{
	Use:          "chronicle",
	Short:        "Hybrid memory retrieval and contradiction engine for personal memoirs",
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(healthCmd(), storeCmd(), searchCmd(), statsCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine wires the full stack from the profile.
func buildEngine(ctx context.Context) (*orchestrator.Orchestrator, func(), error) {
	p, err := profile.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	aiConfig := ai.NewConfigFromProfile(p)
	if err := aiConfig.Validate(); err != nil {
		return nil, nil, err
	}
	embedder, err := ai.NewEmbeddingService(aiConfig)
	if err != nil {
		return nil, nil, err
	}
	llm, err := ai.NewLLMService(aiConfig)
	if err != nil {
		return nil, nil, err
	}

	vectorBackend, err := similarity.NewPostgresBackend(p.Postgres, p.EmbeddingDimensions)
	if err != nil {
		return nil, nil, err
	}
	if err := vectorBackend.EnsureSchema(ctx); err != nil {
		_ = vectorBackend.Close()
		return nil, nil, err
	}
	vector := similarity.NewService(vectorBackend, embedder, similarity.Config{MinSimilarity: p.MinSimilarity})

	graphBackend, err := graph.NewNeo4jBackend(p.Neo4jURI, p.Neo4jUser, p.Neo4jPassword)
	if err != nil {
		_ = vectorBackend.Close()
		return nil, nil, err
	}
	if err := graphBackend.EnsureSchema(ctx); err != nil {
		_ = vectorBackend.Close()
		_ = graphBackend.Close(ctx)
		return nil, nil, err
	}
	graphStore := graph.NewService(graphBackend)

	var cacheBackend cache.Backend
	if p.RedisAddr != "" {
		cacheBackend, err = cache.NewRedisBackend(ctx, p.RedisAddr, p.RedisPassword, p.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache", slog.String("error", err.Error()))
			cacheBackend = cache.NewMemoryBackend(0)
		}
	} else {
		cacheBackend = cache.NewMemoryBackend(0)
	}
	cacheService := cache.NewService(cacheBackend, p.CacheTTL, p.SearchCacheTTL, logger)

	detector := contradiction.NewEngine(vector, llm, contradiction.Config{
		SimilarCandidates:   p.SimilarCandidates,
		SimilarityThreshold: p.ContradictionThreshold,
		MinConfidence:       p.MinContradictionConfidence,
		TimelineWindow:      p.TimelineWindow,
	}, logger)

	router := queryengine.NewRouter(queryengine.DefaultKeywords())
	engine := orchestrator.New(vector, graphStore, cacheService, router, detector, logger,
		orchestrator.WithSemanticProbe(func(ctx context.Context) error {
			_, err := embedder.Embed(ctx, "ping")
			return err
		}))

	cleanup := func() {
		_ = vectorBackend.Close()
		_ = graphBackend.Close(context.Background())
		_ = cacheBackend.Close()
	}
	return engine, cleanup, nil
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, cleanup, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			report := engine.HealthCheck(cmd.Context())
			printProbe("similarity", report.Vector)
			printProbe("graph", report.Graph)
			printProbe("cache", report.Cache)
			printProbe("semantic", report.Semantic)
			if !report.Healthy() {
				return fmt.Errorf("one or more backends unhealthy")
			}
			return nil
		},
	}
}

func printProbe(name string, err error) {
	if err != nil {
		fmt.Printf("%-12s unhealthy: %v\n", name, err)
		return
	}
	fmt.Printf("%-12s ok\n", name)
}

func storeCmd() *cobra.Command {
	var (
		userID        string
		memoryType    string
		documents     []string
		emotionalTone string
		characters    []string
		theme         string
		setting       string
	)
	cmd := &cobra.Command{
		Use:   "store <content>",
		Short: "Store a new memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			memory, detection, err := engine.StoreMemory(cmd.Context(), orchestrator.StoreRequest{
				UserID:        userID,
				Content:       args[0],
				Type:          store.MemoryType(memoryType),
				DocumentIDs:   documents,
				EmotionalTone: emotionalTone,
				NarrativeElements: store.NarrativeElements{
					Characters: characters,
					Theme:      theme,
					Setting:    setting,
				},
				PrivacyLevel: store.PrivacyPrivate,
			})
			if err != nil {
				return err
			}

			fmt.Printf("stored memory %s\n", memory.ID)
			if detection != nil && len(detection.Contradictions) > 0 {
				fmt.Printf("detected %d contradiction(s), overall confidence %.2f\n",
					len(detection.Contradictions), detection.OverallConfidence)
				for _, finding := range detection.Contradictions {
					fmt.Printf("  [%s/%s] %s\n", finding.Type, finding.Severity, finding.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringVar(&memoryType, "type", string(store.MemoryTypeEvent), "memory type: event, emotion, or reflection")
	cmd.Flags().StringSliceVar(&documents, "document", nil, "containing document ids")
	cmd.Flags().StringVar(&emotionalTone, "tone", "", "emotional tone tag")
	cmd.Flags().StringSliceVar(&characters, "character", nil, "mentioned characters")
	cmd.Flags().StringVar(&theme, "theme", "", "narrative theme")
	cmd.Flags().StringVar(&setting, "setting", "", "narrative setting")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		userID     string
		maxResults int
		useVector  bool
		useGraph   bool
		strategy   string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			query := &store.ContextQuery{
				Query:         args[0],
				UserID:        userID,
				MaxResults:    maxResults,
				IncludeVector: useVector,
				IncludeGraph:  useGraph,
			}
			var opts []orchestrator.SearchOption
			if strategy != "" {
				opts = append(opts, orchestrator.WithStrategy(store.RoutingStrategy(strategy)))
			}

			result, err := engine.SearchMemories(cmd.Context(), query, opts...)
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(result)
			}
			fmt.Printf("%d result(s) from %s in %s\n", result.TotalCount, result.Source, result.QueryTime)
			for _, scored := range result.Memories {
				content, _ := scored.Memory.ActiveContent()
				fmt.Printf("  %.2f  %s  %s\n", scored.Relevance, scored.Memory.ID, truncate(content, 80))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().IntVar(&maxResults, "limit", 0, "maximum results")
	cmd.Flags().BoolVar(&useVector, "vector", false, "force the similarity backend")
	cmd.Flags().BoolVar(&useGraph, "graph", false, "force the relationship backend")
	cmd.Flags().StringVar(&strategy, "strategy", "", "override routing strategy")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func statsCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show contradiction stats and engine metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, cleanup, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if userID != "" {
				if err := encoder.Encode(engine.GetContradictionStats(userID)); err != nil {
					return err
				}
			}
			return encoder.Encode(engine.Metrics())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id for contradiction stats")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
