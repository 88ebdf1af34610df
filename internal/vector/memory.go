package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// memoryMagic prefixes persisted memory indexes; the trailing byte is the format version.
var memoryMagic = [4]byte{'K', 'V', 'X', 1}

// MemoryIndex is a brute-force inner product index kept in memory and persisted to a
// single file. Insertion order breaks score ties.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	payloads   []map[string]string
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Add appends vectors; an existing ID is replaced in place.
func (m *MemoryIndex) Add(_ context.Context, ids []string, vectors [][]float32, payloads []map[string]string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if payloads != nil && len(payloads) != len(ids) {
		return fmt.Errorf("ids and payloads length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := make(map[string]int, len(m.ids))
	for i, id := range m.ids {
		pos[id] = i
	}
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		var payload map[string]string
		if payloads != nil && len(payloads[i]) > 0 {
			payload = make(map[string]string, len(payloads[i]))
			for k, v := range payloads[i] {
				payload[k] = v
			}
		}
		if j, ok := pos[id]; ok {
			m.vectors[j] = vec
			m.payloads[j] = payload
			continue
		}
		pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
		m.payloads = append(m.payloads, payload)
	}
	return nil
}

// Search returns the top-k vectors matching filter by inner product.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		return nil, nil
	}
	results := make([]*VectorResult, 0, len(m.ids))
	for i, vec := range m.vectors {
		if !filter.Matches(m.payloads[i]) {
			continue
		}
		results = append(results, &VectorResult{ID: m.ids[i], Score: InnerProduct(query, vec), HasScore: true})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Remove deletes vectors by ID.
func (m *MemoryIndex) Remove(_ context.Context, ids []string) error {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i, id := range m.ids {
		if _, ok := drop[id]; ok {
			continue
		}
		m.ids[n], m.vectors[n], m.payloads[n] = id, m.vectors[i], m.payloads[i]
		n++
	}
	m.ids, m.vectors, m.payloads = m.ids[:n], m.vectors[:n], m.payloads[:n]
	return nil
}

// Save persists the index to path, creating parent directories. Layout (little endian):
// magic, dimension u32, count u32, then per entry: id, vector (dimension float32),
// payload count u32 and key/value strings. Strings are u32 length plus bytes.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.write(w); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryIndex) write(w io.Writer) error {
	if _, err := w.Write(memoryMagic[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writeUint32(w, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := writeUint32(w, uint32(len(m.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	buf := make([]byte, m.dimensions*4)
	for i, id := range m.ids {
		if err := writeString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		for j, v := range m.vectors[i] {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		keys := make([]string, 0, len(m.payloads[i]))
		for k := range m.payloads[i] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := writeUint32(w, uint32(len(keys))); err != nil {
			return fmt.Errorf("write payload size: %w", err)
		}
		for _, k := range keys {
			if err := writeString(w, k); err != nil {
				return fmt.Errorf("write payload key: %w", err)
			}
			if err := writeString(w, m.payloads[i][k]); err != nil {
				return fmt.Errorf("write payload value: %w", err)
			}
		}
	}
	return nil
}

// Load replaces the index contents with the file at path. A missing file leaves the index
// unchanged. Dimensions must match.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if magic != memoryMagic {
		return fmt.Errorf("not a vector index file (header %q)", magic[:])
	}
	dim, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	n, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	payloads := make([]map[string]string, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read id %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		vec := make([]float32, m.dimensions)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		np, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read payload size %d: %w", i, err)
		}
		var payload map[string]string
		if np > 0 {
			payload = make(map[string]string, np)
		}
		for j := uint32(0); j < np; j++ {
			k, err := readString(r)
			if err != nil {
				return fmt.Errorf("read payload key: %w", err)
			}
			v, err := readString(r)
			if err != nil {
				return fmt.Errorf("read payload value: %w", err)
			}
			payload[k] = v
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
		payloads = append(payloads, payload)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids, m.vectors, m.payloads = ids, vectors, payloads
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// maxStringLen bounds a single persisted string so a corrupt length cannot exhaust memory.
const maxStringLen = 1 << 20

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", errors.New("string length out of range")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
