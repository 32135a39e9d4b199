package cachestore

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// memFS is an in-memory object map keyed by URI. Only the contract
// methods the store uses are implemented.
type memFS struct {
	types.FileSystem

	mu      sync.Mutex
	objects map[string][]byte
	writes  int
}

func newMemFS() *memFS {
	return &memFS{objects: make(map[string][]byte)}
}

func (f *memFS) NewInputStream(ctx context.Context, p stagepath.Path) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[p.URI()]
	if !ok {
		return nil, perrors.New(perrors.ErrCodeNotFound, "object not found").WithPath(p.String())
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *memFS) NewOutputStream(ctx context.Context, p stagepath.Path) (io.WriteCloser, error) {
	return &memWriter{fs: f, uri: p.URI()}, nil
}

func (f *memFS) Exists(ctx context.Context, p stagepath.Path) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[p.URI()]
	return ok
}

func (f *memFS) Delete(ctx context.Context, p stagepath.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, p.URI())
	return nil
}

func (f *memFS) get(uri string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[uri]
	return data, ok
}

func (f *memFS) set(uri string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[uri] = data
}

func (f *memFS) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type memWriter struct {
	fs  *memFS
	uri string
	buf bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.objects[w.uri] = append([]byte(nil), w.buf.Bytes()...)
	w.fs.writes++
	return nil
}

func newTestStore(t *testing.T, fs types.FileSystem, compression string) *Store {
	t.Helper()
	base, err := stagepath.Parse("snowflake://stages/nxf_work")
	require.NoError(t, err)

	store, err := New(fs, base, config.CacheConfig{Compression: compression}, nil, nil)
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	fs := newMemFS()
	store := newTestStore(t, fs, "zstd")
	ctx := context.Background()

	value := bytes.Repeat([]byte("workflow state "), 200)
	digest, err := store.Put(ctx, "runs/9/state", value)
	require.NoError(t, err)
	assert.Len(t, digest, 64, "hex digest of a 32-byte hash")

	assert.True(t, store.Has(ctx, "runs/9/state"))

	got, err := store.Get(ctx, "runs/9/state")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	objURI := "snowflake://stages/nxf_work/cache/objects/" + digest[:2] + "/" + digest
	body, ok := fs.get(objURI)
	require.True(t, ok, "object stored under its digest")
	assert.Equal(t, byte(tagZstd), body[0])
	assert.Less(t, len(body), len(value), "text payload should compress")

	_, ok = fs.get("snowflake://stages/nxf_work/cache/index/" + fnvName("runs/9/state"))
	assert.True(t, ok, "index record stored under the key's slot")
}

func TestStoreRoundTripCodecs(t *testing.T) {
	compressible := bytes.Repeat([]byte("0123456789abcdef"), 64)
	random := make([]byte, 1024)
	rand.New(rand.NewSource(7)).Read(random)

	for _, codec := range []string{"none", "lz4", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			store := newTestStore(t, newMemFS(), codec)
			ctx := context.Background()

			for name, value := range map[string][]byte{"text": compressible, "random": random} {
				_, err := store.Put(ctx, name, value)
				require.NoError(t, err)

				got, err := store.Get(ctx, name)
				require.NoError(t, err)
				assert.Equal(t, value, got, "value %q under codec %q", name, codec)
			}
		})
	}
}

func TestStorePutSharesIdenticalValues(t *testing.T) {
	fs := newMemFS()
	store := newTestStore(t, fs, "zstd")
	ctx := context.Background()

	value := bytes.Repeat([]byte("shared "), 100)
	first, err := store.Put(ctx, "task/1/out", value)
	require.NoError(t, err)
	require.Equal(t, 2, fs.writeCount(), "object plus index")

	second, err := store.Put(ctx, "task/2/out", value)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, fs.writeCount(), "second put writes only its index record")

	for _, key := range []string{"task/1/out", "task/2/out"} {
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t, newMemFS(), "zstd")

	_, err := store.Get(context.Background(), "never/stored")
	assert.True(t, perrors.IsNotFound(err), "err = %v", err)
	assert.False(t, store.Has(context.Background(), "never/stored"))
}

func TestStoreDetectsTamperedPayload(t *testing.T) {
	fs := newMemFS()
	store := newTestStore(t, fs, "none")
	ctx := context.Background()

	digest, err := store.Put(ctx, "k", []byte("original payload bytes"))
	require.NoError(t, err)

	objURI := "snowflake://stages/nxf_work/cache/objects/" + digest[:2] + "/" + digest
	body, ok := fs.get(objURI)
	require.True(t, ok)
	body = append([]byte(nil), body...)
	body[5] ^= 0xFF
	fs.set(objURI, body)

	_, err = store.Get(ctx, "k")
	assert.Equal(t, perrors.ErrCodeDigestMismatch, perrors.CodeOf(err), "err = %v", err)
}

func TestStoreDetectsTruncatedPayload(t *testing.T) {
	fs := newMemFS()
	store := newTestStore(t, fs, "none")
	ctx := context.Background()

	digest, err := store.Put(ctx, "k", []byte("original payload bytes"))
	require.NoError(t, err)

	objURI := "snowflake://stages/nxf_work/cache/objects/" + digest[:2] + "/" + digest
	body, ok := fs.get(objURI)
	require.True(t, ok)
	fs.set(objURI, body[:len(body)-3])

	_, err = store.Get(ctx, "k")
	assert.True(t, perrors.IsRemoteIO(err), "err = %v", err)
}

func TestStoreDelete(t *testing.T) {
	fs := newMemFS()
	store := newTestStore(t, fs, "zstd")
	ctx := context.Background()

	digest, err := store.Put(ctx, "k", []byte("value"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "k"))
	assert.False(t, store.Has(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.True(t, perrors.IsNotFound(err))

	// Content objects outlive their index records: another key may
	// still map to the same digest.
	objURI := "snowflake://stages/nxf_work/cache/objects/" + digest[:2] + "/" + digest
	_, ok := fs.get(objURI)
	assert.True(t, ok)

	assert.NoError(t, store.Delete(ctx, "k"), "delete is idempotent")
}

func TestStoreCollidingSlotReadsAsMiss(t *testing.T) {
	fs := newMemFS()
	store := newTestStore(t, fs, "zstd")
	ctx := context.Background()

	// Plant a record for a different key in this key's index slot, as
	// a 64-bit hash collision would.
	rec := indexRecord{Key: "someone/else", Digest: strings.Repeat("ab", 32), RawSize: 1}
	data, err := encMode.Marshal(rec)
	require.NoError(t, err)
	fs.set("snowflake://stages/nxf_work/cache/index/"+fnvName("my/key"), data)

	_, err = store.Get(ctx, "my/key")
	assert.True(t, perrors.IsNotFound(err), "foreign record must not serve this key")
	assert.False(t, store.Has(ctx, "my/key"))
}

func TestStoreEmptyValue(t *testing.T) {
	store := newTestStore(t, newMemFS(), "zstd")
	ctx := context.Background()

	digest, err := store.Put(ctx, "empty", nil)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	got, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreValidation(t *testing.T) {
	base, err := stagepath.Parse("snowflake://stages/nxf_work")
	require.NoError(t, err)

	t.Run("relative base", func(t *testing.T) {
		rel, err := stagepath.NewRelative("cache")
		require.NoError(t, err)
		_, err = New(newMemFS(), rel, config.CacheConfig{}, nil, nil)
		assert.Equal(t, perrors.ErrCodeIllegalArgument, perrors.CodeOf(err))
	})

	t.Run("unknown codec", func(t *testing.T) {
		_, err := New(newMemFS(), base, config.CacheConfig{Compression: "gzip"}, nil, nil)
		assert.Equal(t, perrors.ErrCodeConfigInvalid, perrors.CodeOf(err))
	})

	t.Run("empty key", func(t *testing.T) {
		store := newTestStore(t, newMemFS(), "zstd")
		_, err := store.Put(context.Background(), "", []byte("v"))
		assert.Equal(t, perrors.ErrCodeIllegalArgument, perrors.CodeOf(err))
		_, err = store.Get(context.Background(), "")
		assert.Equal(t, perrors.ErrCodeIllegalArgument, perrors.CodeOf(err))
		assert.False(t, store.Has(context.Background(), ""))
		assert.Error(t, store.Delete(context.Background(), ""))
	})
}
