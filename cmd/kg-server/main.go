// kg-server boots the query side of the knowledge graph: it connects
// the graph backend, wires the analytics cache tiers, and runs the
// analytics scheduler until interrupted. An HTTP transport, when one is
// added, mounts on top of the query.Service this process constructs.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kgraph/kgraph/internal/cache"
	"github.com/kgraph/kgraph/internal/config"
	"github.com/kgraph/kgraph/internal/graph"
	"github.com/kgraph/kgraph/internal/logging"
	"github.com/kgraph/kgraph/internal/query"
)

func main() {
	ctx := context.Background()

	logger := logrus.New()

	// 1. Load configuration (.env chain + yaml + env overrides)
	cfg, err := config.Load(os.Getenv("KGRAPH_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if result := cfg.Validate(config.ValidationContextServer); result.HasErrors() {
		log.Fatalf("%s", result.Error())
	}
	if err := logging.Initialize(logging.ProductionConfig(filepath.Join(cfg.Cache.Directory, "kg-server.log"))); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// 2. Connect to Neo4j
	backend, err := graph.NewNeo4jBackend(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		log.Fatalf("Failed to connect to Neo4j at %s: %v", cfg.Graph.URI, err)
	}
	defer backend.Close(ctx)
	log.Println("✅ Connected to Neo4j")

	// 3. Optional shared cache tier
	var redisClient *cache.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("✅ Connected to Redis")
	}

	// 4. Analytics result cache
	results := cache.NewManager(cache.Options{
		Directory:  cfg.Cache.Directory,
		DefaultTTL: cfg.Cache.DefaultTTL,
		TTLByKind:  cfg.Cache.TTLByKind,
		Redis:      redisClient,
	}, logger)

	// 5. Query service + analytics engine; the HTTP transport, when
	// added, mounts on the service.
	service := query.NewService(backend, logger)
	engine := query.NewEngine(backend, logger)
	if stats, err := service.Stats(ctx, ""); err == nil {
		log.Printf("Graph holds %d nodes, %d edges", stats.TotalNodes, stats.TotalEdges)
	}

	// 6. Analytics scheduler with persistent job history
	historyPath := filepath.Join(cfg.Cache.Directory, "jobs.db")
	scheduler, err := query.NewScheduler(engine, results, cfg.Analytics, historyPath, logger)
	if err != nil {
		log.Fatalf("Failed to open job history store: %v", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()
	log.Println("✅ Analytics scheduler started")

	// 7. Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("🚀 kg-server ready")
	<-sigChan
	log.Println("Shutting down gracefully...")
}
