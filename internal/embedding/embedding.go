package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"cryptolaw-rag/internal/config"
	"cryptolaw-rag/internal/llmservice"
	"cryptolaw-rag/internal/models"
)

// NewEmbedder creates a new embedder backed by the hosted embedding model
func NewEmbedder(ctx context.Context, embedConfig *config.LLMConfig, batchSize int) (*embeddings.EmbedderImpl, error) {
	client, err := llmservice.NewEmbeddingClient(ctx, embedConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	return embeddings.NewEmbedder(client, opts...)
}

// GenerateEmbedding embeds every chunk in one batched call
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, len(chunks))
	for i, chunk := range chunks {
		chunkEmbeddings[i] = models.ChunkEmbedding{
			Content:   chunk.Content,
			Embedding: vectors[i],
			ChunkID:   chunk.ChunkID,
		}
	}
	return chunkEmbeddings, nil
}
