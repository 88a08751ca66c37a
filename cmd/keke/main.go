package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/api"
	"github.com/kekehq/keke/internal/calendar"
	"github.com/kekehq/keke/internal/command"
	"github.com/kekehq/keke/internal/config"
	"github.com/kekehq/keke/internal/embedding"
	"github.com/kekehq/keke/internal/gateway"
	"github.com/kekehq/keke/internal/graph"
	"github.com/kekehq/keke/internal/index"
	"github.com/kekehq/keke/internal/orchestrator"
	"github.com/kekehq/keke/internal/provider"
	"github.com/kekehq/keke/internal/reflect"
	"github.com/kekehq/keke/internal/retrieve"
	pgstore "github.com/kekehq/keke/internal/store"
	"github.com/kekehq/keke/internal/tools"
	"github.com/kekehq/keke/internal/vault"
	"github.com/kekehq/keke/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Keke...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/keke.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the vault
	v, err := vault.Open(cfg.Vault.Path, logger)
	if err != nil {
		logger.Fatal("failed to open vault", zap.String("path", cfg.Vault.Path), zap.Error(err))
	}
	go func() {
		if wErr := v.Watch(ctx); wErr != nil {
			logger.Warn("vault watcher failed, external edits will not reindex", zap.Error(wErr))
		}
	}()

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Initialize PostgreSQL store
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Initialize vector index
	embedder := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})

	var indexer *index.Indexer
	var retriever *retrieve.Retriever
	qdrant, qErr := vectorstore.NewClient(vectorstore.QdrantConfig{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if qErr != nil {
		logger.Warn("Qdrant unavailable, running without semantic search", zap.Error(qErr))
	} else {
		var meta index.MetaStore = index.NewMemoryMeta()
		if pgStore != nil {
			meta = pgStore
		}
		indexer = index.New(v, embedder, qdrant, meta, index.SplitterConfig{
			WindowSize: cfg.Indexing.WindowSize,
			Overlap:    cfg.Indexing.Overlap,
		}, logger)
		if err := indexer.Init(ctx); err != nil {
			logger.Warn("index init failed, running without semantic search", zap.Error(err))
			indexer = nil
		} else {
			go indexer.Run(ctx)
			retriever = retrieve.New(embedder, qdrant, meta, cfg.Retrieval.MinScore, logger)
		}
	}

	// Initialize relationship graph
	var relGraph *graph.Graph
	if cfg.Database.Neo4j.URI != "" {
		driver, nErr := neo4j.NewDriverWithContext(cfg.Database.Neo4j.URI,
			neo4j.BasicAuth(cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, ""))
		if nErr != nil {
			logger.Warn("Neo4j unavailable, running without relationship graph", zap.Error(nErr))
		} else if nErr = driver.VerifyConnectivity(ctx); nErr != nil {
			logger.Warn("Neo4j unreachable, running without relationship graph", zap.Error(nErr))
			driver.Close(ctx)
		} else {
			relGraph = graph.New(driver, nil, logger)
		}
	}

	// Initialize agent directory
	catalog := agent.NewToolRegistry()
	tools.Register(catalog, v, retriever, relGraph, logger)
	directory := agent.NewDirectory(catalog, logger)
	if pgStore != nil {
		directory.SetPersister(pgStore)
		agents, loadErr := pgStore.ListAgents(ctx)
		if loadErr != nil {
			logger.Warn("failed to load agents from DB", zap.Error(loadErr))
		} else {
			for _, a := range agents {
				directory.Restore(a)
			}
			logger.Info("Loaded agents from DB", zap.Int("count", len(agents)))
		}
	}

	// Initialize the room
	runner := orchestrator.NewProviderRunner(directory, router, retriever, cfg.Orchestration.Model, logger)
	var history orchestrator.HistorySink = orchestrator.NewMemoryHistory()
	if pgStore != nil {
		history = pgStore
	}
	room := orchestrator.NewRoom(directory, runner, history, logger)
	if err := room.JoinHuman(cfg.Orchestration.HumanHandle); err != nil {
		logger.Fatal("failed to seat human participant", zap.Error(err))
	}

	feed, fErr := orchestrator.NewRedisFeed(cfg.Database.Redis.URL, logger)
	if fErr != nil {
		logger.Warn("Redis unavailable, running without live feed", zap.Error(fErr))
	} else {
		room.SetFeed(feed)
	}

	if pgStore != nil {
		room.SetScheduleSink(pgStore)
		rows, sErr := pgStore.ListScheduled(ctx)
		if sErr != nil {
			logger.Warn("failed to load scheduled messages", zap.Error(sErr))
		} else {
			for _, row := range rows {
				room.RestoreScheduled(row)
			}
			logger.Info("Restored scheduled messages", zap.Int("count", len(rows)))
		}
	}
	go room.RunTriggers(ctx, time.Duration(cfg.Orchestration.TriggerPollSecs)*time.Second)

	// Initialize nightly reflection
	var reflector *reflect.Scheduler
	if pgStore != nil {
		summarizer := reflect.NewProviderSummarizer(router, cfg.Reflection.Model, logger)
		reflector = reflect.New(v, summarizer, pgStore, logger)
		if err := reflector.Start(cfg.Reflection.Cron); err != nil {
			logger.Warn("reflection schedule invalid, running without reflection", zap.Error(err))
			reflector = nil
		}
	} else {
		logger.Warn("PostgreSQL unavailable, running without reflection")
	}

	// Calendar bridge watches sync documents written by the external sync job
	var cal *calendar.Bridge
	if cfg.Vault.CalendarDir != "" {
		cal = calendar.NewBridge(cfg.Vault.CalendarDir, logger)
		go cal.RunReminders(ctx, time.Minute, func(l calendar.EventLink) {
			content := fmt.Sprintf("@all reminder: %s at %s", l.Title, l.StartsAt.Format(time.Kitchen))
			if _, err := room.Post(ctx, cfg.Orchestration.HumanHandle, content); err != nil {
				logger.Warn("reminder post failed", zap.String("event", l.EventID), zap.Error(err))
			}
		})
	}

	// Initialize gateway
	gw := gateway.NewGateway(logger)
	broadcaster := gateway.NewBroadcaster(gw, logger)

	// Wire the bridge BEFORE registering adapters (Register captures handler)
	bridge := gateway.NewBridge(room, gw, broadcaster, directory, cfg.Orchestration.HumanHandle, logger)

	commands := command.NewRegistry()
	var searcher command.Searcher
	if retriever != nil {
		searcher = retriever
	}
	command.RegisterBuiltins(commands, directory, room, v, searcher, cfg.Orchestration.HumanHandle)
	bridge.SetCommands(commands)

	restAdapter := gateway.NewRESTAdapter(logger)
	gw.Register(restAdapter)

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		slackAdapter := gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger)
		gw.Register(slackAdapter)
	}

	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		discordAdapter := gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger)
		gw.Register(discordAdapter)
	}

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	go bridge.Run(ctx)

	// Build HTTP handler
	handler := api.NewHandler(v, retriever, directory, room, relGraph, indexer,
		reflector, cal, restAdapter, cfg.Orchestration.HumanHandle, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Keke listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Keke...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	if reflector != nil {
		reflector.Stop()
	}
	if feed != nil {
		feed.Close()
	}
	if relGraph != nil {
		relGraph.Close(shutdownCtx)
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
	gw.Close()
}
