// Package embedcache persists embeddings in SQLite so repeated builds over
// the same paragraphs skip the embedding service.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/dgallion1/topictree/internal/metrics"

	_ "modernc.org/sqlite"
)

// Embedder is the service the cache fronts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Cache wraps an Embedder. Only texts missing from the store are sent to
// the wrapped service, in their original relative order.
type Cache struct {
	db      *sql.DB
	next    Embedder
	model   string
	metrics *metrics.Metrics
}

// Open opens (or creates) the cache database at path.
func Open(path, model string, next Embedder, m *metrics.Metrics) (*Cache, error) {
	if next == nil {
		return nil, fmt.Errorf("embedcache: embedder must not be nil")
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Cache{db: db, next: next, model: model, metrics: m}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS embeddings (
		model     TEXT NOT NULL,
		text_hash TEXT NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (model, text_hash)
	)`)
	return err
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Embed returns one vector per text, serving hits from the store.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = textHash(t)
	}

	found, err := c.lookup(ctx, hashes)
	if err != nil {
		return nil, err
	}

	var missTexts []string
	var missIdx []int
	for i, h := range hashes {
		if v, ok := found[h]; ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	c.metrics.CacheLookups(len(texts)-len(missIdx), len(missIdx))
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}
	if err := c.store(ctx, missIdx, hashes, out); err != nil {
		return nil, err
	}
	return out, nil
}

// lookupChunk bounds the number of bound parameters per query.
const lookupChunk = 500

func (c *Cache) lookup(ctx context.Context, hashes []string) (map[string][]float64, error) {
	found := make(map[string][]float64, len(hashes))
	for start := 0; start < len(hashes); start += lookupChunk {
		end := min(start+lookupChunk, len(hashes))
		if err := c.lookupInto(ctx, hashes[start:end], found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (c *Cache) lookupInto(ctx context.Context, hashes []string, found map[string][]float64) error {
	args := make([]any, 0, len(hashes)+1)
	args = append(args, c.model)
	for _, h := range hashes {
		args = append(args, h)
	}
	q := `SELECT text_hash, embedding FROM embeddings WHERE model = ? AND text_hash IN (?` +
		strings.Repeat(",?", len(hashes)-1) + `)`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		var blob []byte
		if err := rows.Scan(&h, &blob); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		found[h] = blobToEmbedding(blob)
	}
	return rows.Err()
}

func (c *Cache) store(ctx context.Context, idx []int, hashes []string, vecs [][]float64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (model, text_hash, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, i := range idx {
		if _, err := stmt.ExecContext(ctx, c.model, hashes[i], embeddingToBlob(vecs[i])); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
	}
	return tx.Commit()
}

// Len returns the number of cached vectors for the cache's model.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, c.model).Scan(&n)
	return n, err
}

func textHash(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

// embeddingToBlob serializes a float64 slice little-endian.
func embeddingToBlob(emb []float64) []byte {
	buf := make([]byte, len(emb)*8)
	for i, v := range emb {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func blobToEmbedding(blob []byte) []float64 {
	emb := make([]float64, len(blob)/8)
	for i := range emb {
		emb[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return emb
}
