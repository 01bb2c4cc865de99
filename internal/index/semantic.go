package index

import (
	"errors"
	"math"
	"sort"
	"time"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// fixed dimensionality of its (tenant, model) namespace.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrZeroVector is returned for vectors with no magnitude, which have no
// defined cosine similarity.
var ErrZeroVector = errors.New("embedding vector has zero magnitude")

// Match is one semantic search result.
type Match struct {
	EntryID    string
	Similarity float64
}

type spaceKey struct {
	tenant string
	model  string
}

type vectorRow struct {
	id        string
	vec       []float64 // L2-normalized copy
	createdAt time.Time
}

type space struct {
	dim  int
	rows []vectorRow
}

// Semantic is a per-(tenant, model) flat cosine-similarity index. Vectors
// are L2-normalized on insert so similarity reduces to a dot product.
type Semantic struct {
	spaces map[spaceKey]*space
}

// NewSemantic creates an empty semantic index.
func NewSemantic() *Semantic {
	return &Semantic{spaces: make(map[spaceKey]*space)}
}

// Insert adds a vector under the (tenant, model) namespace. The first vector
// fixes the namespace dimensionality; later vectors must match it.
func (s *Semantic) Insert(tenant, model, entryID string, vec []float64, createdAt time.Time) error {
	normalized, err := normalize(vec)
	if err != nil {
		return err
	}
	key := spaceKey{tenant: tenant, model: model}
	sp, ok := s.spaces[key]
	if !ok {
		sp = &space{dim: len(vec)}
		s.spaces[key] = sp
	}
	if len(vec) != sp.dim {
		return ErrDimensionMismatch
	}
	sp.rows = append(sp.rows, vectorRow{id: entryID, vec: normalized, createdAt: createdAt})
	return nil
}

// Remove deletes the vector stored for entryID in the namespace. Removing an
// absent ID is a no-op.
func (s *Semantic) Remove(tenant, model, entryID string) {
	key := spaceKey{tenant: tenant, model: model}
	sp, ok := s.spaces[key]
	if !ok {
		return
	}
	for i, row := range sp.rows {
		if row.id == entryID {
			sp.rows = append(sp.rows[:i], sp.rows[i+1:]...)
			break
		}
	}
	if len(sp.rows) == 0 {
		delete(s.spaces, key)
	}
}

// Search returns up to topK matches in the namespace, sorted by similarity
// descending; ties break toward the most recently created entry. Vectors of
// mismatched dimensionality are never compared.
func (s *Semantic) Search(tenant, model string, vec []float64, topK int) []Match {
	if topK <= 0 {
		return nil
	}
	sp, ok := s.spaces[spaceKey{tenant: tenant, model: model}]
	if !ok || len(vec) != sp.dim {
		return nil
	}
	q, err := normalize(vec)
	if err != nil {
		return nil
	}

	type scored struct {
		Match
		createdAt time.Time
	}
	results := make([]scored, 0, len(sp.rows))
	for _, row := range sp.rows {
		results = append(results, scored{
			Match:     Match{EntryID: row.id, Similarity: dot(q, row.vec)},
			createdAt: row.createdAt,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].createdAt.After(results[j].createdAt)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]Match, len(results))
	for i, r := range results {
		out[i] = r.Match
	}
	return out
}

// Len returns the number of vectors across all namespaces.
func (s *Semantic) Len() int {
	n := 0
	for _, sp := range s.spaces {
		n += len(sp.rows)
	}
	return n
}

func normalize(vec []float64) ([]float64, error) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
