package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"gopherai-legal/internal/ai"
	appsvc "gopherai-legal/internal/app"
	"gopherai-legal/internal/cache"
	"gopherai-legal/internal/config"
	"gopherai-legal/internal/model"
	mysqlClient "gopherai-legal/internal/platform/mysql"
	rabbitmqClient "gopherai-legal/internal/platform/rabbitmq"
	redisClient "gopherai-legal/internal/platform/redis"
	"gopherai-legal/internal/rag"
	"gopherai-legal/internal/repository"
	"gopherai-legal/internal/risk"
	"gopherai-legal/internal/session"
	"gopherai-legal/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger

	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Store      *session.Store
	RAGService *appsvc.RAGService

	publisher    *rabbitmqClient.IngestPublisher
	ledgerWorker *worker.DocumentLedgerWorker
	reaper       *worker.SessionReaper

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := newLogger(cfg.App)
	slog.SetDefault(logger)

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	deps := appsvc.RAGServiceDeps{Logger: a.Logger}

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, mysqlClient.Options{
			DSN:     cfg.MySQLDSN(),
			Migrate: []any{&model.RAGSession{}, &model.RAGDocument{}},
			Logger:  a.Logger,
		})
		if err != nil {
			return err
		}
		a.MySQL = db
		deps.Sessions = repository.NewRAGSessionRepository(db)
		deps.Documents = repository.NewRAGDocumentRepository(db)
	}

	snapshots, err := a.snapshotStore(ctx)
	if err != nil {
		return err
	}

	store, err := session.NewStore(newEmbedder(cfg), snapshots, session.Config{
		Chunk:                 rag.ChunkConfig{Size: cfg.RAG.ChunkSize, Overlap: cfg.RAG.ChunkOverlap},
		MaxQueryRunes:         cfg.RAG.MaxQueryRunes,
		SnapshotTouchInterval: cfg.RAG.SnapshotTouch,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("create session store failed: %w", err)
	}
	a.Store = store

	restored, err := store.Restore(ctx)
	if err != nil {
		a.Logger.Warn("some sessions could not be restored", "error", err)
	}
	a.Logger.Info("sessions restored", "count", restored, "backend", cfg.RAG.SnapshotBackend)

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
		a.publisher = rabbitmqClient.NewIngestPublisher(conn, cfg.RabbitMQ.IngestQueue)
		deps.Publisher = a.publisher

		a.ledgerWorker = worker.NewDocumentLedgerWorker(conn, repository.NewRAGDocumentRepository(a.MySQL), cfg.RabbitMQ.IngestQueue, a.Logger)
		if err := a.ledgerWorker.Start(ctx); err != nil {
			return fmt.Errorf("start document ledger worker failed: %w", err)
		}
	}

	if cfg.Risk.RulesFile != "" {
		rules, err := risk.LoadRules(cfg.Risk.RulesFile)
		if err != nil {
			return fmt.Errorf("load risk rules failed: %w", err)
		}
		deps.Risks = risk.NewEngine(rules)
	}

	if strings.TrimSpace(cfg.LLM.APIKey) != "" {
		client := ai.NewOpenAICompatibleClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.GenerationTimeout)
		gen := ai.NewOpenAIGenerator(client, ai.ChatConfig{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		})
		deps.Generator = ai.NewBoundedGenerator(gen, cfg.LLM.GenerationTimeout)
	} else {
		a.Logger.Warn("llm.api_key is empty, ask/translate/questions are unavailable")
	}

	a.RAGService = appsvc.NewRAGService(store, deps, appsvc.RAGServiceConfig{
		TopK:     cfg.RAG.TopK,
		RetryMax: cfg.LLM.RetryMax,
	})

	a.reaper = worker.NewSessionReaper(a.RAGService, cfg.RAG.EvictionInterval, cfg.RAG.SessionIdleTimeout, a.Logger)
	a.reaper.Start(context.WithoutCancel(ctx))
	return nil
}

// snapshotStore returns nil for memory-only sessions.
func (a *App) snapshotStore(ctx context.Context) (session.SnapshotStore, error) {
	cfg := a.Config
	switch cfg.RAG.SnapshotBackend {
	case config.SnapshotFile:
		repo, err := repository.NewFileSnapshotRepository(cfg.RAG.DataDir)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.SnapshotRedis:
		client, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.Redis = client
		return cache.NewSnapshotCache(client, cfg.RAG.SessionIdleTimeout), nil
	default:
		return nil, nil
	}
}

func newEmbedder(cfg *config.Config) ai.Embedder {
	var emb ai.Embedder
	switch cfg.RAG.Embedder {
	case config.EmbedderHashing:
		emb = ai.NewHashingEmbedder(cfg.RAG.EmbeddingDimension)
	default:
		client := ai.NewOpenAICompatibleClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.EmbeddingTimeout)
		emb = ai.NewOpenAIEmbedder(client, ai.EmbeddingConfig{
			Model:       cfg.LLM.EmbeddingModel,
			Dimension:   cfg.RAG.EmbeddingDimension,
			BatchSize:   cfg.RAG.EmbeddingBatchSize,
			Concurrency: cfg.RAG.EmbeddingConcurrency,
		})
	}
	return ai.NewBoundedEmbedder(emb, cfg.LLM.EmbeddingTimeout)
}

func newLogger(cfg config.AppConfig) *slog.Logger {
	level := new(slog.LevelVar)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Env == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler).With("app", cfg.Name)
}

func (a *App) Close() error {
	var errs []error
	if a.reaper != nil {
		a.reaper.Close()
	}
	if a.ledgerWorker != nil {
		a.ledgerWorker.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
