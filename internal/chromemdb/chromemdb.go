package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"cryptolaw-rag/internal/helper"
	"cryptolaw-rag/internal/models"
)

// ErrNoIndex is returned by Search and Load when no index has been built or persisted yet.
var ErrNoIndex = errors.New("vector index has not been built")

var errNoEmbeddingFunc = errors.New("collection queries must supply an embedding")

// VectorDBManager owns the single on-disk similarity index.
//
// Rebuild creates a fresh in-memory database, exports it to disk and only then swaps it in,
// so concurrent readers see either the old or the new index, never a partial one.
type VectorDBManager struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	version    string

	writeMu        sync.Mutex
	dir            string
	collectionName string
	compress       bool
	encryptionKey  string
	filePath       string
	versionPath    string
}

// NewVectorDBManager initializes a new vector database manager rooted at dir
func NewVectorDBManager(dir, collectionName string, compress bool, encryptionKey string) (*VectorDBManager, error) {
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if encryptionKey != "" && len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(encryptionKey))
	}
	if err := helper.CreateFolder(dir); err != nil {
		return nil, fmt.Errorf("failed to create index folder: %w", err)
	}

	ext := ".chromem"
	if compress {
		ext += ".gz"
	}
	if encryptionKey != "" {
		ext += ".enc"
	}

	return &VectorDBManager{
		dir:            dir,
		collectionName: collectionName,
		compress:       compress,
		encryptionKey:  encryptionKey,
		filePath:       filepath.Join(dir, collectionName+ext),
		versionPath:    filepath.Join(dir, collectionName+".version"),
	}, nil
}

// Version is the corpus version of the index currently being served, "" when none.
func (m *VectorDBManager) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Count is the number of chunks in the index being served.
func (m *VectorDBManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// Load imports a previously exported index from disk
func (m *VectorDBManager) Load(ctx context.Context) error {
	versionData, err := os.ReadFile(m.versionPath)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoIndex
	}
	if err != nil {
		return fmt.Errorf("failed to read index version: %w", err)
	}
	if _, err := os.Stat(m.filePath); errors.Is(err, os.ErrNotExist) {
		return ErrNoIndex
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := db.GetCollection(m.collectionName, noEmbedding)
	if c == nil {
		return fmt.Errorf("collection %s missing from %s", m.collectionName, m.filePath)
	}

	version := strings.TrimSpace(string(versionData))
	m.swap(db, c, version)
	log.Debug().Str("file", m.filePath).Str("version", version).Int("chunks", c.Count()).Msg("Loaded vector index")
	return nil
}

// Rebuild replaces the index with docs, tagged with version, and persists it
func (m *VectorDBManager) Rebuild(ctx context.Context, version string, docs []models.ChunkEmbedding) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	db := chromem.NewDB()
	c, err := db.CreateCollection(m.collectionName, map[string]string{"version": version}, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if len(docs) > 0 {
		chromemDocs := make([]chromem.Document, len(docs))
		for i, doc := range docs {
			chromemDocs[i] = chromem.Document{
				ID:      chunkDocID(doc.ChunkID),
				Content: doc.Content,
				Metadata: map[string]string{
					"chunk_id": strconv.Itoa(doc.ChunkID),
					"version":  version,
				},
				Embedding: normalize(doc.Embedding),
			}
		}
		if err := c.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add documents: %w", err)
		}
	}

	if err := m.export(db); err != nil {
		return err
	}
	if err := helper.WriteFileAtomic(m.versionPath, []byte(version+"\n")); err != nil {
		return fmt.Errorf("failed to write index version: %w", err)
	}

	m.swap(db, c, version)
	log.Info().Str("version", version).Int("chunks", len(docs)).Str("file", m.filePath).Msg("Vector index rebuilt")
	return nil
}

// Search returns the k most similar chunks to embedding, most similar first
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, k int) ([]models.RetrievedChunk, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	m.mu.RLock()
	c := m.collection
	m.mu.RUnlock()
	if c == nil {
		return nil, ErrNoIndex
	}

	n := c.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	k = min(k, n)

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: normalize(embedding),
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	chunks := make([]models.RetrievedChunk, len(results))
	for i, r := range results {
		chunks[i] = models.RetrievedChunk{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
			Rank:       i + 1,
		}
	}
	return chunks, nil
}

// export writes db to a temporary file and renames it over the previous index
func (m *VectorDBManager) export(db *chromem.DB) error {
	tmp := m.filePath + ".tmp"
	if err := db.ExportToFile(tmp, m.compress, m.encryptionKey, m.collectionName); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to export database: %w", err)
	}
	if err := os.Rename(tmp, m.filePath); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}

func (m *VectorDBManager) swap(db *chromem.DB, c *chromem.Collection, version string) {
	m.mu.Lock()
	m.db = db
	m.collection = c
	m.version = version
	m.mu.Unlock()
}

func chunkDocID(chunkID int) string {
	return "chunk-" + strconv.Itoa(chunkID)
}

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// normalize returns a unit-length copy of v; chromem scores with a plain dot product
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
