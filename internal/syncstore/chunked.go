package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

const (
	// MetaKey holds the Meta record
	MetaKey = "sync_meta"
	// ChunkPrefix is followed by the chunk index
	ChunkPrefix = "sync_chunk_"
	// ChunkSize is the largest chunk in bytes, leaving headroom under
	// MaxItemBytes for the key
	ChunkSize = 7000

	metaVersion = 1
)

var (
	// ErrNoSnapshot means the remote holds no usable snapshot
	ErrNoSnapshot = errors.New("no sync snapshot")
	// ErrMissingChunk means the meta record names a chunk that isn't stored.
	// It satisfies errors.Is(err, ErrNoSnapshot).
	ErrMissingChunk = fmt.Errorf("%w: missing chunk", ErrNoSnapshot)
)

// Meta describes the stored snapshot
type Meta struct {
	Version    int       `json:"version"`
	UpdatedAt  time.Time `json:"updatedAt"`
	ChunkCount int       `json:"chunkCount"`
}

// ObjectStore stores one opaque payload
type ObjectStore interface {
	Put(ctx context.Context, data []byte) error
	// Get returns ErrNoSnapshot when nothing usable is stored
	Get(ctx context.Context) ([]byte, error)
	Meta(ctx context.Context) (Meta, error)
}

// ChunkedStore is an ObjectStore over a size-limited KV
type ChunkedStore struct {
	kv  KV
	now func() time.Time
}

// NewChunkedStore creates a chunked store over kv
func NewChunkedStore(kv KV) *ChunkedStore {
	return &ChunkedStore{kv: kv, now: time.Now}
}

// ChunkKey returns the key of chunk i
func ChunkKey(i int) string {
	return ChunkPrefix + strconv.Itoa(i)
}

// Put writes data as chunks plus the meta record, then removes chunk keys
// left over from a larger previous snapshot.
func (s *ChunkedStore) Put(ctx context.Context, data []byte) error {
	previous := 0
	if meta, err := s.Meta(ctx); err == nil {
		previous = meta.ChunkCount
	}

	chunks := split(string(data), ChunkSize)
	meta := Meta{Version: metaVersion, UpdatedAt: s.now().UTC(), ChunkCount: len(chunks)}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	items := make(map[string]string, len(chunks)+1)
	for i, c := range chunks {
		items[ChunkKey(i)] = c
	}
	items[MetaKey] = string(raw)
	if err := s.kv.Set(ctx, items); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if previous > len(chunks) {
		var orphans []string
		for i := len(chunks); i < previous; i++ {
			orphans = append(orphans, ChunkKey(i))
		}
		if err := s.kv.Remove(ctx, orphans); err != nil {
			return fmt.Errorf("failed to remove orphaned chunks: %w", err)
		}
	}
	return nil
}

// Get reassembles the stored payload
func (s *ChunkedStore) Get(ctx context.Context) ([]byte, error) {
	meta, err := s.Meta(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, meta.ChunkCount)
	for i := range keys {
		keys[i] = ChunkKey(i)
	}
	values, err := s.kv.Get(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var size int
	for _, v := range values {
		size += len(v)
	}
	out := make([]byte, 0, size)
	for i, k := range keys {
		v, ok := values[k]
		if !ok {
			return nil, fmt.Errorf("%w %d of %d", ErrMissingChunk, i, meta.ChunkCount)
		}
		out = append(out, v...)
	}
	return out, nil
}

// Meta reads the meta record. An absent or unreadable record is
// ErrNoSnapshot.
func (s *ChunkedStore) Meta(ctx context.Context) (Meta, error) {
	values, err := s.kv.Get(ctx, []string{MetaKey})
	if err != nil {
		return Meta{}, fmt.Errorf("failed to read sync meta: %w", err)
	}
	raw, ok := values[MetaKey]
	if !ok {
		return Meta{}, ErrNoSnapshot
	}
	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil || meta.ChunkCount < 0 {
		return Meta{}, ErrNoSnapshot
	}
	return meta, nil
}

// split cuts s into pieces of at most size bytes without breaking a UTF-8
// sequence. An empty s yields no pieces.
func split(s string, size int) []string {
	var out []string
	for len(s) > 0 {
		n := min(size, len(s))
		for n < len(s) && n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		if n == 0 {
			n = min(size, len(s))
		}
		out = append(out, s[:n])
		s = s[n:]
	}
	return out
}
