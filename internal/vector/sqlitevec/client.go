// Package sqlitevec provides a pure-Go SQLite vector store for local
// development and single-node deployments. Similarity search is a
// brute-force cosine scan per namespace.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/silverstream/sentiment-checker/internal/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	namespace  TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	embedding  BLOB,
	metadata   TEXT    NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, id)
)`

// Config holds configuration for the client.
type Config struct {
	// Path is the database file; ":memory:" keeps everything in process.
	Path       string
	Dimensions int
}

// Client provides vector operations on SQLite.
type Client struct {
	db         *sql.DB
	dimensions int
}

// Compile-time check: Client must satisfy vector.Store.
var _ vector.Store = (*Client)(nil)

// NewClient opens the database and creates the vectors table.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil && cfg.Path != ":memory:" {
		log.Warn().Err(err).Msg("sqlitevec: WAL mode unavailable")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create vectors table: %w", err)
	}
	return &Client{db: db, dimensions: cfg.Dimensions}, nil
}

// Close releases the database handle.
func (c *Client) Close() error { return c.db.Close() }

// Upsert inserts or replaces records in one transaction.
func (c *Client) Upsert(ctx context.Context, namespace string, records []vector.Record) (vector.UpsertResult, error) {
	if namespace == "" {
		return vector.UpsertResult{}, vector.ErrEmptyNamespace
	}
	if len(records) == 0 {
		return vector.UpsertResult{}, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return vector.UpsertResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (namespace, id, embedding, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`)
	if err != nil {
		return vector.UpsertResult{}, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	upserted := 0
	for _, rec := range records {
		if rec.ID == "" {
			return vector.UpsertResult{}, fmt.Errorf("upsert: record without id")
		}
		if c.dimensions > 0 && len(rec.Values) != c.dimensions {
			return vector.UpsertResult{}, fmt.Errorf("upsert %s: %d dimensions, want %d", rec.ID, len(rec.Values), c.dimensions)
		}
		meta, err := json.Marshal(nonNil(rec.Metadata))
		if err != nil {
			return vector.UpsertResult{}, fmt.Errorf("marshal metadata for %s: %w", rec.ID, err)
		}
		res, err := stmt.ExecContext(ctx, namespace, rec.ID, encodeVector(rec.Values), string(meta), now)
		if err != nil {
			return vector.UpsertResult{}, fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			upserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return vector.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	log.Debug().Str("namespace", namespace).Int("count", upserted).Msg("Upserted vectors to sqlite")
	return vector.UpsertResult{UpsertedCount: upserted}, nil
}

// Fetch loads one record.
func (c *Client) Fetch(ctx context.Context, namespace, id string) vector.FetchResult {
	if namespace == "" {
		return vector.Transient(vector.ErrEmptyNamespace)
	}
	var (
		blob []byte
		meta string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT embedding, metadata FROM vectors WHERE namespace = ? AND id = ?`,
		namespace, id,
	).Scan(&blob, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return vector.NotFound()
	}
	if err != nil {
		return vector.Transient(fmt.Errorf("fetch %s: %w", id, err))
	}
	rec, err := decodeRecord(id, blob, meta)
	if err != nil {
		return vector.Transient(err)
	}
	return vector.Found(rec)
}

// FetchMany loads records in batches of vector.MaxFetchBatch.
func (c *Client) FetchMany(ctx context.Context, namespace string, ids []string) (map[string]vector.Record, error) {
	if namespace == "" {
		return nil, vector.ErrEmptyNamespace
	}
	out := make(map[string]vector.Record, len(ids))
	for start := 0; start < len(ids); start += vector.MaxFetchBatch {
		end := min(start+vector.MaxFetchBatch, len(ids))
		batch := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, 0, len(batch)+1)
		args = append(args, namespace)
		for _, id := range batch {
			args = append(args, id)
		}

		// #nosec G201 -- placeholders are "?" strings, values are parameterized
		rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT id, embedding, metadata FROM vectors WHERE namespace = ? AND id IN (%s)`, placeholders),
			args...)
		if err != nil {
			return nil, fmt.Errorf("fetch batch: %w", err)
		}
		for rows.Next() {
			var (
				id   string
				blob []byte
				meta string
			)
			if err := rows.Scan(&id, &blob, &meta); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan row: %w", err)
			}
			rec, err := decodeRecord(id, blob, meta)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = rec
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Query scans the namespace and returns the TopK most similar records.
func (c *Client) Query(ctx context.Context, namespace string, req vector.QueryRequest) ([]vector.Match, error) {
	if namespace == "" {
		return nil, vector.ErrEmptyNamespace
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	if topK > vector.MaxTopK {
		topK = vector.MaxTopK
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, embedding, metadata FROM vectors WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var (
			id   string
			blob []byte
			meta string
		)
		if err := rows.Scan(&id, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec, err := decodeRecord(id, blob, meta)
		if err != nil {
			return nil, err
		}
		if len(req.Filter) > 0 && !vector.MetadataMatches(rec.Metadata, req.Filter) {
			continue
		}
		m := vector.Match{ID: id, Score: vector.CosineSimilarity(req.Vector, rec.Values)}
		if req.IncludeMetadata {
			m.Metadata = rec.Metadata
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// ListByPrefix pages through IDs in lexical order. The pagination token is
// the last ID of the previous page.
func (c *Client) ListByPrefix(ctx context.Context, namespace string, req vector.ListRequest) (vector.ListPage, error) {
	if namespace == "" {
		return vector.ListPage{}, vector.ErrEmptyNamespace
	}
	limit := req.Limit
	if limit <= 0 || limit > vector.MaxListPage {
		limit = vector.MaxListPage
	}

	// Fetch one extra row to know whether another page exists.
	rows, err := c.db.QueryContext(ctx, `
		SELECT id FROM vectors
		WHERE namespace = ? AND instr(id, ?) = 1 AND id > ?
		ORDER BY id
		LIMIT ?`,
		namespace, req.Prefix, req.PaginationToken, limit+1)
	if err != nil {
		return vector.ListPage{}, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return vector.ListPage{}, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return vector.ListPage{}, err
	}

	page := vector.ListPage{IDs: ids}
	if len(ids) > limit {
		page.IDs = ids[:limit]
		page.NextToken = ids[limit-1]
	}
	return page, nil
}

// Delete removes records by ID.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	if namespace == "" {
		return vector.ErrEmptyNamespace
	}
	for start := 0; start < len(ids); start += vector.MaxFetchBatch {
		end := min(start+vector.MaxFetchBatch, len(ids))
		batch := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, 0, len(batch)+1)
		args = append(args, namespace)
		for _, id := range batch {
			args = append(args, id)
		}
		// #nosec G201 -- placeholders are "?" strings, values are parameterized
		if _, err := c.db.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM vectors WHERE namespace = ? AND id IN (%s)`, placeholders), args...); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}
	return nil
}

// DescribeIndexStats counts vectors per namespace.
func (c *Client) DescribeIndexStats(ctx context.Context) (vector.IndexStats, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT namespace, COUNT(*) FROM vectors GROUP BY namespace`)
	if err != nil {
		return vector.IndexStats{}, fmt.Errorf("describe index: %w", err)
	}
	defer rows.Close()

	stats := vector.IndexStats{Dimension: c.dimensions, Namespaces: make(map[string]vector.NamespaceStats)}
	for rows.Next() {
		var (
			ns    string
			count int64
		)
		if err := rows.Scan(&ns, &count); err != nil {
			return vector.IndexStats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Namespaces[ns] = vector.NamespaceStats{VectorCount: count}
	}
	return stats, rows.Err()
}

// Health pings the database.
func (c *Client) Health(ctx context.Context) (vector.HealthStatus, error) {
	if err := c.db.PingContext(ctx); err != nil {
		return vector.HealthStatus{}, fmt.Errorf("ping sqlite: %w", err)
	}
	return vector.HealthStatus{Ready: true}, nil
}

func decodeRecord(id string, blob []byte, meta string) (vector.Record, error) {
	rec := vector.Record{ID: id, Values: decodeVector(blob)}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return vector.Record{}, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return rec, nil
}

// encodeVector stores float32 values little-endian, four bytes each.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

func nonNil(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
