package pgvector

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations creates the pgvector extension, the vectors table and its indexes.
func runMigrations(db *gorm.DB, dimensions int) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},

		// Migration 002: namespaced vectors table
		{
			ID: "002_sentiment_vectors",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS sentiment_vectors (
						namespace  TEXT        NOT NULL,
						id         TEXT        NOT NULL,
						embedding  vector(%d)  NOT NULL,
						metadata   JSONB       NOT NULL DEFAULT '{}'::jsonb,
						updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						PRIMARY KEY (namespace, id)
					)`, dimensions)).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sentiment_vectors")
			},
		},

		// Migration 003: similarity and metadata indexes
		{
			ID: "003_sentiment_vectors_indexes",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`CREATE INDEX IF NOT EXISTS idx_sentiment_vectors_embedding
						ON sentiment_vectors USING hnsw (embedding vector_cosine_ops)`,
					`CREATE INDEX IF NOT EXISTS idx_sentiment_vectors_metadata
						ON sentiment_vectors USING gin (metadata jsonb_path_ops)`,
					`CREATE INDEX IF NOT EXISTS idx_sentiment_vectors_ns_id
						ON sentiment_vectors (namespace, id text_pattern_ops)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				sqls := []string{
					"DROP INDEX IF EXISTS idx_sentiment_vectors_embedding",
					"DROP INDEX IF EXISTS idx_sentiment_vectors_metadata",
					"DROP INDEX IF EXISTS idx_sentiment_vectors_ns_id",
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	})
	return m.Migrate()
}
