package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/agent"
	"github.com/fyrsmithlabs/docqa/internal/chunking"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/conversation"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/extract"
	"github.com/fyrsmithlabs/docqa/internal/index"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/reranker"
	"github.com/fyrsmithlabs/docqa/internal/retrieval"
	"github.com/fyrsmithlabs/docqa/internal/session"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
	"github.com/fyrsmithlabs/docqa/internal/tools"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// app holds the shared pipeline. The question side is only built on demand
// so ingest works without model credentials.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	store     vectorstore.Store
	ingest    *ingest.Service

	conversation *conversation.Service
}

// newApp loads configuration and builds logging, telemetry, the embedder,
// the index and the upload pipeline.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logCfg.Fields["service.version"] = version
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel
	if degraded, cause := tel.Degraded(); degraded {
		a.logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(cause))
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	a.embedder, err = embeddings.NewProvider(embeddings.ConfigFromSettings(cfg.Embeddings), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize embeddings: %w", err)
	}

	a.store, err = vectorstore.NewStore(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	chunker, err := chunking.New(chunking.Config{Size: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap})
	if err != nil {
		return err
	}
	writer := index.NewWriter(a.embedder, a.store,
		index.WithBatchSize(cfg.Embeddings.BatchSize),
		index.WithLogger(zl))

	a.ingest = ingest.NewService(cfg.Storage.UploadDir, extract.NewPDFExtractor(zl), chunker, writer, zl)

	a.logger.Info(ctx, "pipeline initialized",
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("embedding_model", cfg.Embeddings.Model),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("upload_dir", cfg.Storage.UploadDir))
	return nil
}

// initConversation builds the retriever, model, tools, agent and session memory.
func (a *app) initConversation() error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	var opts []retrieval.Option
	if cfg.Retrieval.Rerank {
		opts = append(opts, retrieval.WithReranker(reranker.NewSimpleReranker()))
	}
	opts = append(opts, retrieval.WithLogger(zl))
	retriever := retrieval.New(a.embedder, a.store, retrieval.Config{
		TopK:       cfg.Retrieval.TopK,
		MinScore:   float32(cfg.Retrieval.MinScore),
		Candidates: cfg.Retrieval.Candidates,
	}, opts...)

	model, err := llm.New(cfg.LLM, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize language model: %w", err)
	}

	set := tools.NewDefaultSet(retriever, model)
	runner := agent.New(model, set, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		Timeout:       cfg.Agent.Timeout,
	}, zl)

	sessions := session.NewStore(session.Config{
		MaxSessions: cfg.Sessions.MaxSessions,
		TTL:         cfg.Sessions.TTL,
		MaxTurns:    cfg.Sessions.MaxTurns,
	}, zl)

	a.conversation = conversation.NewService(runner, sessions, zl, conversation.Config{
		DefaultSessionID: cfg.Sessions.DefaultID,
	})

	a.logger.Info(context.Background(), "agent initialized",
		zap.String("llm", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.Strings("tools", set.Names()),
		zap.Int("max_iterations", cfg.Agent.MaxIterations),
		zap.Duration("timeout", cfg.Agent.Timeout))
	return nil
}

// Close releases the index, the embedder and telemetry, then flushes logs.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing index: %w", err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embedder: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
