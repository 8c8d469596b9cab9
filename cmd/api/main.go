package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/kurihiro0119/ci-api/internal/access"
	"github.com/kurihiro0119/ci-api/internal/api"
	"github.com/kurihiro0119/ci-api/internal/config"
	"github.com/kurihiro0119/ci-api/internal/pagination"
	"github.com/kurihiro0119/ci-api/internal/service"
	"github.com/kurihiro0119/ci-api/internal/storage"
	"github.com/kurihiro0119/ci-api/internal/storage/postgres"
	"github.com/kurihiro0119/ci-api/internal/storage/sqlite"
	"github.com/kurihiro0119/ci-api/internal/upstream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	defer store.Close()

	// Initialize upstream branch checker
	checker, closeChecker := newChecker(cfg)
	defer closeChecker()

	// Initialize services
	oracle := access.NewOracle(store)
	svc := service.NewService(store, oracle, checker)
	policy := pagination.Policy{DefaultLimit: cfg.DefaultLimit, MaxLimit: cfg.MaxLimit}

	// Setup routes
	handler := api.NewHandler(svc, policy)
	router := api.SetupRoutes(handler, cfg.AuthSecret, store)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	fmt.Printf("Starting API server on %s\n", addr)
	fmt.Printf("Storage type: %s\n", cfg.StorageType)

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}

// newChecker picks the live GitHub checker when a token is configured and
// falls back to the stored exists_on_github flag otherwise. Answers are
// cached in redis when REDIS_ADDR is set, in memory otherwise.
func newChecker(cfg *config.Config) (upstream.Checker, func()) {
	if cfg.GitHubToken == "" {
		log.Printf("GITHUB_TOKEN not set, branch existence uses stored flags")
		return upstream.NewStoredChecker(), func() {}
	}

	checker, err := upstream.NewGitHubChecker(cfg.GitHubToken, cfg.GitHubAPIURL)
	if err != nil {
		log.Fatalf("Failed to initialize GitHub client: %v", err)
	}

	if cfg.RedisAddr != "" {
		cache, err := upstream.NewRedisCache(context.Background(), cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Printf("Redis unavailable, caching upstream checks in memory: %v", err)
		} else {
			return upstream.NewCachedChecker(checker, cache, cfg.UpstreamCacheTTL), func() { cache.Close() }
		}
	}
	return upstream.NewCachedChecker(checker, upstream.NewMemoryCache(), cfg.UpstreamCacheTTL), func() {}
}
