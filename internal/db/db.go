package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"cryptolaw-rag/internal/config"
	"cryptolaw-rag/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64           `bun:"id,pk,autoincrement"`
	Collection    string          `bun:"collection,notnull"`
	ChunkID       int             `bun:"chunk_id,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Distance      float64         `bun:"distance,scanonly"`
}

// IndexMeta records which corpus version each collection was built from
type IndexMeta struct {
	bun.BaseModel `bun:"table:index_meta"`
	Name          string `bun:"name,pk"`
	Version       string `bun:"version,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required for the pgvector backend")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateTable().Model((*IndexMeta)(nil)).IfNotExists().Exec(ctx)
	return err
}

// PGVectorIndex serves the similarity index from Postgres. Rebuilds run in one transaction.
type PGVectorIndex struct {
	db   *bun.DB
	name string

	mu      sync.RWMutex
	version string
	count   int
}

func NewPGVectorIndex(db *bun.DB, collection string) *PGVectorIndex {
	return &PGVectorIndex{db: db, name: collection}
}

func (p *PGVectorIndex) Version() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

func (p *PGVectorIndex) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// Load reads the stored version and row count
func (p *PGVectorIndex) Load(ctx context.Context) error {
	var meta IndexMeta
	err := p.db.NewSelect().Model(&meta).Where("name = ?", p.name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index version: %w", err)
	}
	count, err := p.db.NewSelect().Model((*Document)(nil)).Where("collection = ?", p.name).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	p.set(meta.Version, count)
	return nil
}

func (p *PGVectorIndex) Rebuild(ctx context.Context, version string, docs []models.ChunkEmbedding) error {
	rows := make([]Document, len(docs))
	for i, doc := range docs {
		rows[i] = Document{
			Collection: p.name,
			ChunkID:    doc.ChunkID,
			Content:    doc.Content,
			Embedding:  pgvector.NewVector(doc.Embedding),
		}
	}

	err := p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Document)(nil)).Where("collection = ?", p.name).Exec(ctx); err != nil {
			return err
		}
		if len(rows) > 0 {
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return err
			}
		}
		meta := IndexMeta{Name: p.name, Version: version}
		_, err := tx.NewInsert().Model(&meta).
			On("CONFLICT (name) DO UPDATE").
			Set("version = EXCLUDED.version").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild pgvector index: %w", err)
	}

	p.set(version, len(rows))
	log.Info().Str("version", version).Int("chunks", len(rows)).Str("collection", p.name).Msg("pgvector index rebuilt")
	return nil
}

// Search orders by cosine distance; similarity is reported as 1 - distance
func (p *PGVectorIndex) Search(ctx context.Context, embedding []float32, k int) ([]models.RetrievedChunk, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if k <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(embedding)

	var docs []Document
	err := p.db.NewSelect().
		Model(&docs).
		Column("d.id", "d.chunk_id", "d.content").
		ColumnExpr("d.embedding <=> ? AS distance", vec).
		Where("d.collection = ?", p.name).
		OrderExpr("d.embedding <=> ?", vec).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	chunks := make([]models.RetrievedChunk, len(docs))
	for i, doc := range docs {
		chunks[i] = models.RetrievedChunk{
			ID:         fmt.Sprintf("chunk-%d", doc.ChunkID),
			Content:    doc.Content,
			Similarity: float32(1 - doc.Distance),
			Rank:       i + 1,
		}
	}
	return chunks, nil
}

func (p *PGVectorIndex) set(version string, count int) {
	p.mu.Lock()
	p.version = version
	p.count = count
	p.mu.Unlock()
}
