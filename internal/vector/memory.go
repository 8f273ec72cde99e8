package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/hyperjump/neurobot/pkg/utils"
)

var _ Index = (*MemoryIndex)(nil)

var fileMagic = [4]byte{'N', 'B', 'V', 'I'}

const fileVersion uint16 = 1

// MemoryIndex is an in-memory vector index using brute-force search.
// A knowledge base holds at most a few thousand entries, so exhaustive search is exact and fast enough.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	ids        []int64
	vectors    [][]float32
	pos        map[int64]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricL2
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		ids:        make([]int64, 0),
		vectors:    make([][]float32, 0),
		pos:        make(map[int64]int),
	}, nil
}

// Upsert stores vectors under ids, replacing any vector already stored for an id.
// The call is all-or-nothing: a dimension mismatch leaves the index unchanged.
func (m *MemoryIndex) Upsert(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if p, ok := m.pos[id]; ok {
			m.vectors[p] = vec
			continue
		}
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the k nearest vectors to query under the index metric.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	results := make([]Result, len(m.ids))
	for i, vec := range m.vectors {
		results[i] = m.score(m.ids[i], query, vec)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func (m *MemoryIndex) score(id int64, query, vec []float32) Result {
	if m.metric == MetricInnerProduct {
		dot := InnerProduct(query, vec)
		return Result{ID: id, Distance: -dot, Score: dot}
	}
	d := SquaredL2(query, vec)
	return Result{ID: id, Distance: d, Score: DistanceToSimilarity(d)}
}

// Remove deletes vectors by id and returns how many were present.
func (m *MemoryIndex) Remove(ctx context.Context, ids []int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range ids {
		p, ok := m.pos[id]
		if !ok {
			continue
		}
		last := len(m.ids) - 1
		if p != last {
			m.ids[p] = m.ids[last]
			m.vectors[p] = m.vectors[last]
			m.pos[m.ids[p]] = p
		}
		m.ids = m.ids[:last]
		m.vectors = m.vectors[:last]
		delete(m.pos, id)
		removed++
	}
	return removed, nil
}

// Contains reports whether id has a vector.
func (m *MemoryIndex) Contains(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pos[id]
	return ok
}

// IDs returns the stored ids in ascending order.
func (m *MemoryIndex) IDs() []int64 {
	m.mu.RLock()
	out := make([]int64, len(m.ids))
	copy(out, m.ids)
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy. Stored vectors are never mutated in place,
// so the copy shares their backing arrays.
func (m *MemoryIndex) Clone() Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &MemoryIndex{
		dimensions: m.dimensions,
		metric:     m.metric,
		ids:        make([]int64, len(m.ids)),
		vectors:    make([][]float32, len(m.vectors)),
		pos:        make(map[int64]int, len(m.pos)),
	}
	copy(c.ids, m.ids)
	copy(c.vectors, m.vectors)
	for id, p := range m.pos {
		c.pos[id] = p
	}
	return c
}

// Save persists the index atomically. Format (little endian): magic "NBVI", version (2),
// metric length (1) + metric, dimension (4), n (4), then per vector: id (8), vector (dimension*4).
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	var buf bytes.Buffer
	buf.Write(fileMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, fileVersion)
	buf.WriteByte(byte(len(m.metric)))
	buf.WriteString(string(m.metric))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(m.dimensions))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(m.ids)))
	for i, id := range m.ids {
		_ = binary.Write(&buf, binary.LittleEndian, id)
		buf.Write(float32SliceToBytes(m.vectors[i]))
	}
	m.mu.RUnlock()

	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// A missing file returns an error wrapping os.ErrNotExist; any structural problem
// (bad header, dimension or metric mismatch, duplicate ids, truncation) wraps ErrCorrupt
// and leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ids, vectors, err := m.decode(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	pos := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrCorrupt, id)
		}
		pos[id] = i
	}

	m.mu.Lock()
	m.ids, m.vectors, m.pos = ids, vectors, pos
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) decode(r io.Reader) ([]int64, [][]float32, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != fileMagic {
		return nil, nil, errors.New("bad magic")
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, nil, fmt.Errorf("read version: %w", err)
	}
	if version != fileVersion {
		return nil, nil, fmt.Errorf("unsupported version %d", version)
	}
	var metricLen [1]byte
	if _, err := io.ReadFull(r, metricLen[:]); err != nil {
		return nil, nil, fmt.Errorf("read metric: %w", err)
	}
	metric := make([]byte, metricLen[0])
	if _, err := io.ReadFull(r, metric); err != nil {
		return nil, nil, fmt.Errorf("read metric: %w", err)
	}
	if Metric(metric) != m.metric {
		return nil, nil, fmt.Errorf("metric mismatch: file has %q, index expects %q", metric, m.metric)
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, nil, fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return nil, nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("read count: %w", err)
	}

	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, nil, fmt.Errorf("read id %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	var extra [1]byte
	if k, _ := r.Read(extra[:]); k != 0 {
		return nil, nil, errors.New("trailing data")
	}
	return ids, vectors, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Dimensions returns the vector length the index accepts.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
