package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"cryptolaw-rag/internal/chromemdb"
	"cryptolaw-rag/internal/db"
	"cryptolaw-rag/internal/embedding"
	"cryptolaw-rag/internal/indexer"
	"cryptolaw-rag/internal/llmservice"
	"cryptolaw-rag/internal/persona"
	"cryptolaw-rag/internal/rag"
	"cryptolaw-rag/internal/suggest"
)

// indexStore is what both index backends provide.
type indexStore interface {
	indexer.Store
	rag.Retriever
	Load(ctx context.Context) error
}

// app holds the wired components shared by the commands.
type app struct {
	llm       llms.Model
	responder *rag.RAG
	composer  *suggest.Composer
	store     indexStore
	builder   *indexer.Builder
	personas  *persona.Registry
	closers   []func() error
}

// newApp wires the index, and the chat model when withChat is set.
func newApp(ctx context.Context, withChat bool) (*app, error) {
	a := &app{personas: persona.NewRegistry(cfg.Personas)}

	embedder, err := embedding.NewEmbedder(ctx, &cfg.EmbedLLM, cfg.RAG.EmbedBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := store.Load(ctx); err != nil && !errors.Is(err, chromemdb.ErrNoIndex) {
		a.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	a.store = store
	a.builder = indexer.New(&cfg.RAG, &cfg.EmbedLLM, embedder, store)

	if withChat {
		a.llm, err = llmservice.NewModel(ctx, &cfg.LLM)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		a.responder = rag.NewRAG(a.llm, embedder, store, a.personas, &cfg.RAG)
		a.composer = suggest.NewComposer(a.llm, cfg.RAG.SuggestTemp)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (indexStore, error) {
	switch cfg.Index.Backend {
	case "chromem":
		m, err := chromemdb.NewVectorDBManager(cfg.Index.Dir, cfg.Index.Collection, cfg.Index.Compress, cfg.Index.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
		return m, nil
	case "pgvector":
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		a.closers = append(a.closers, bunDB.Close)
		if err := db.InitDB(ctx, bunDB); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return db.NewPGVectorIndex(bunDB, cfg.Index.Collection), nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.Index.Backend)
	}
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}
