package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/singleflight"

	"cryptolaw-rag/internal/config"
	"cryptolaw-rag/internal/embedding"
	"cryptolaw-rag/internal/models"
	"cryptolaw-rag/internal/parser"
)

// Store is the persisted similarity index the builder writes to.
type Store interface {
	Version() string
	Count() int
	Rebuild(ctx context.Context, version string, docs []models.ChunkEmbedding) error
}

type Result struct {
	Version  string
	Chunks   int
	Skipped  bool
	Duration time.Duration
}

// Builder turns the transcript into a similarity index.
// The index version is derived from the corpus text, chunking parameters and embedding model,
// so an unchanged transcript never triggers a second round of embedding calls.
type Builder struct {
	transcriptPath string
	chunkSize      int
	chunkOverlap   int
	embedModel     string
	embedder       embeddings.Embedder
	store          Store
	group          singleflight.Group
}

func New(cfg *config.RAGConfig, embedCfg *config.LLMConfig, embedder embeddings.Embedder, store Store) *Builder {
	return &Builder{
		transcriptPath: cfg.TranscriptPath,
		chunkSize:      cfg.ChunkSize,
		chunkOverlap:   cfg.ChunkOverlap,
		embedModel:     embedCfg.Provider + "/" + embedCfg.Model,
		embedder:       embedder,
		store:          store,
	}
}

// EnsureFresh rebuilds the index only when the transcript changed since the last build.
func (b *Builder) EnsureFresh(ctx context.Context) (Result, error) {
	return b.build(ctx, false)
}

// Rebuild re-embeds the corpus even when the version is unchanged.
func (b *Builder) Rebuild(ctx context.Context) (Result, error) {
	return b.build(ctx, true)
}

func (b *Builder) build(ctx context.Context, force bool) (Result, error) {
	text := b.corpusText()
	version := b.version(text)
	if !force && b.store.Version() == version {
		return Result{Version: version, Chunks: b.store.Count(), Skipped: true}, nil
	}

	key := version
	if force {
		key = "force:" + version
	}
	// concurrent callers share one build; it must outlive any single request
	shared := context.WithoutCancel(ctx)
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		if !force && b.store.Version() == version {
			return Result{Version: version, Chunks: b.store.Count(), Skipped: true}, nil
		}
		return b.rebuild(shared, text, version)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (b *Builder) rebuild(ctx context.Context, text, version string) (Result, error) {
	start := time.Now()
	chunks, err := parser.SplitText(text, b.chunkSize, b.chunkOverlap)
	if err != nil {
		return Result{}, err
	}
	log.Info().Int("chunks", len(chunks)).Str("version", version).Msg("Embedding corpus chunks")

	docs, err := embedding.GenerateEmbedding(ctx, b.embedder, chunks)
	if err != nil {
		return Result{}, err
	}
	if err := b.store.Rebuild(ctx, version, docs); err != nil {
		return Result{}, fmt.Errorf("failed to persist index: %w", err)
	}
	return Result{Version: version, Chunks: len(docs), Duration: time.Since(start)}, nil
}

// corpusText never fails: an unreadable or invalid transcript is an empty corpus
func (b *Builder) corpusText() string {
	data, err := os.ReadFile(b.transcriptPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", b.transcriptPath).Msg("Transcript file not found, using empty corpus")
		} else {
			log.Warn().Err(err).Str("path", b.transcriptPath).Msg("Could not read transcript, using empty corpus")
		}
		return ""
	}
	text, err := parser.CorpusText(data)
	if err != nil {
		log.Warn().Err(err).Str("path", b.transcriptPath).Msg("Transcript is invalid, using empty corpus")
		return ""
	}
	return text
}

func (b *Builder) version(text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:%d:", b.embedModel, b.chunkSize, b.chunkOverlap)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
