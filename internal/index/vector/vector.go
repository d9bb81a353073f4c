// Package vector implements an approximate vector index: nearest-neighbor
// search over record embeddings backed by sqlite-vec's vec0 virtual
// table, reached through database/sql via ncruces/go-sqlite3. A "lite"
// mode disables the vec0 extension entirely for deployments that only
// need exact recall paths.
package vector

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/kittclouds/memoryd/internal/kerrors"
)

// Index is the vec0-backed approximate nearest-neighbor index.
type Index struct {
	db   *sql.DB
	dim  int
	lite bool
}

// Open creates (or reopens) a vector index at path with the given
// embedding dimensionality. If lite is true, the vec0 virtual table is
// never created and every Search call returns a kerrors.ProviderUnavailable
// error; callers that
// only exercise exact retrieval paths can run with vector search disabled.
func Open(path string, dim int, lite bool) (*Index, error) {
	if lite {
		return &Index{dim: dim, lite: true}, nil
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, kerrors.New(kerrors.Corruption, "vector.Open", err)
	}
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
		record_id TEXT PRIMARY KEY,
		embedding FLOAT[%d]
	)`, dim)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, kerrors.New(kerrors.Corruption, "vector.Open", err)
	}
	return &Index{db: db, dim: dim}, nil
}

// Upsert stores (or replaces) the embedding for id. Returns
// kerrors.DimensionMismatch if the vector's length doesn't match the
// index's configured dimensionality.
func (idx *Index) Upsert(id string, embedding []float32) error {
	if idx.lite {
		return nil
	}
	if len(embedding) != idx.dim {
		return kerrors.Newf(kerrors.DimensionMismatch, "vector.Upsert", "embedding has %d dims, index wants %d", len(embedding), idx.dim)
	}
	blob, err := json.Marshal(embedding)
	if err != nil {
		return kerrors.New(kerrors.Corruption, "vector.Upsert", err)
	}
	if _, err := idx.db.Exec(`DELETE FROM vec_records WHERE record_id = ?`, id); err != nil {
		return kerrors.New(kerrors.Corruption, "vector.Upsert", err)
	}
	if _, err := idx.db.Exec(`INSERT INTO vec_records(record_id, embedding) VALUES (?, ?)`, id, string(blob)); err != nil {
		return kerrors.New(kerrors.Corruption, "vector.Upsert", err)
	}
	return nil
}

// Remove deletes the embedding registered for id, if any.
func (idx *Index) Remove(id string) error {
	if idx.lite {
		return nil
	}
	_, err := idx.db.Exec(`DELETE FROM vec_records WHERE record_id = ?`, id)
	if err != nil {
		return kerrors.New(kerrors.Corruption, "vector.Remove", err)
	}
	return nil
}

// Hit is one nearest-neighbor match.
type Hit struct {
	ID       string
	Distance float64
}

// Search returns up to k nearest neighbors of query by L2 distance over
// vec0's approximate KNN operator.
func (idx *Index) Search(query []float32, k int) ([]Hit, error) {
	if idx.lite {
		return nil, kerrors.New(kerrors.ProviderUnavailable, "vector.Search", errLiteMode)
	}
	if len(query) != idx.dim {
		return nil, kerrors.Newf(kerrors.DimensionMismatch, "vector.Search", "query has %d dims, index wants %d", len(query), idx.dim)
	}
	blob, err := json.Marshal(query)
	if err != nil {
		return nil, kerrors.New(kerrors.Corruption, "vector.Search", err)
	}

	rows, err := idx.db.Query(`
		SELECT record_id, distance
		FROM vec_records
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, string(blob), k)
	if err != nil {
		return nil, kerrors.New(kerrors.Corruption, "vector.Search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Distance); err != nil {
			return nil, kerrors.New(kerrors.Corruption, "vector.Search", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Lite reports whether the index is running with vec0 disabled.
func (idx *Index) Lite() bool { return idx.lite }

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	if idx.lite {
		return nil
	}
	return idx.db.Close()
}

type liteModeErr struct{}

func (liteModeErr) Error() string { return "vector index opened in lite mode, search disabled" }

var errLiteMode = liteModeErr{}
