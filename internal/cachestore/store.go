package cachestore

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/Snowflake-Labs/nf-snowflake/internal/config"
	"github.com/Snowflake-Labs/nf-snowflake/internal/metrics"
	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// CBOR modes use Core Deterministic Encoding so the same record always
// produces identical bytes on the stage.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cachestore: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cachestore: cbor decoder initialization failed: " + err.Error())
	}
}

// indexRecord maps one cache key to its stored object. The record keeps
// the full key because index slots are addressed by a 64-bit hash of the
// key; on read, a key mismatch means the slot belongs to someone else.
type indexRecord struct {
	Key        string `cbor:"key"`
	Digest     string `cbor:"digest"`
	RawSize    int64  `cbor:"raw_size"`
	StoredSize int64  `cbor:"stored_size"`
	Codec      string `cbor:"codec"`
}

// Store is a content-addressed key/value store over a stage, used to
// persist run state between workflow executions. Values live under
// objects/<d[0:2]>/<digest>; key-to-digest mappings live under
// index/<hash-of-key>. Identical values share one object.
type Store struct {
	fs   types.FileSystem
	base stagepath.Path
	tag  compressionTag

	logger    *slog.Logger
	collector *metrics.Collector
}

var _ types.CacheStore = (*Store)(nil)

// New builds a Store rooted at base (an absolute stage path) plus the
// configured prefix. Zero config fields fall back to package defaults.
func New(fs types.FileSystem, base stagepath.Path, cfg config.CacheConfig, logger *slog.Logger, collector *metrics.Collector) (*Store, error) {
	if !base.IsAbsolute() {
		return nil, perrors.New(perrors.ErrCodeIllegalArgument, "cache base must be an absolute stage path").
			WithComponent("cachestore")
	}

	defaults := config.NewDefault().Cache
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaults.Prefix
	}
	name := cfg.Compression
	if name == "" {
		name = defaults.Compression
	}
	tag, err := parseCompression(name)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeConfigInvalid, "cache compression codec", err).
			WithComponent("cachestore")
	}
	root, err := base.ResolveKey(prefix)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		fs:        fs,
		base:      root,
		tag:       tag,
		logger:    logger.With("component", "cachestore"),
		collector: collector,
	}, nil
}

// Put stores value under key and returns the value's content digest.
// Re-putting an identical value skips the object upload and only
// rewrites the index record.
func (s *Store) Put(ctx context.Context, key string, value []byte) (string, error) {
	start := time.Now()
	digest, used, err := s.put(ctx, key, value)
	s.collector.RecordOperation("cache_put", time.Since(start), int64(len(value)), err)
	if err != nil {
		return "", err
	}

	s.logger.Debug("cache entry stored",
		"key", key,
		"digest", digest,
		"codec", used.String(),
		"raw_bytes", len(value))
	return digest, nil
}

func (s *Store) put(ctx context.Context, key string, value []byte) (string, compressionTag, error) {
	if key == "" {
		return "", 0, errEmptyKey()
	}

	sum := blake3.Sum256(value)
	digest := hex.EncodeToString(sum[:])

	payload, used := compress(value, s.tag)
	body := make([]byte, 0, 1+len(payload))
	body = append(body, byte(used))
	body = append(body, payload...)

	objPath, err := s.objectPath(digest)
	if err != nil {
		return "", 0, err
	}
	if !s.fs.Exists(ctx, objPath) {
		if err := s.writeObject(ctx, objPath, body); err != nil {
			return "", 0, err
		}
	}

	rec := indexRecord{
		Key:        key,
		Digest:     digest,
		RawSize:    int64(len(value)),
		StoredSize: int64(len(payload)),
		Codec:      used.String(),
	}
	data, err := encMode.Marshal(rec)
	if err != nil {
		return "", 0, perrors.Wrap(perrors.ErrCodeIllegalState, "cache index record encoding", err).
			WithComponent("cachestore").
			WithDetail("key", key)
	}
	idxPath, err := s.indexPath(key)
	if err != nil {
		return "", 0, err
	}
	if err := s.writeObject(ctx, idxPath, data); err != nil {
		return "", 0, err
	}
	return digest, used, nil
}

// Get returns the value stored under key. The decoded payload is
// verified against the index record's digest before it is returned.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.get(ctx, key)
	s.collector.RecordOperation("cache_get", time.Since(start), int64(len(value)), err)
	if err != nil {
		if perrors.IsNotFound(err) {
			s.collector.RecordCacheMiss()
		}
		return nil, err
	}
	s.collector.RecordCacheHit()
	return value, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyKey()
	}

	rec, err := s.readIndex(ctx, key)
	if err != nil {
		return nil, err
	}

	objPath, err := s.objectPath(rec.Digest)
	if err != nil {
		return nil, err
	}
	body, err := s.readAll(ctx, objPath)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, perrors.New(perrors.ErrCodeRemoteIO, "cache object has no compression tag").
			WithComponent("cachestore").
			WithPath(objPath.String())
	}

	raw, err := decompress(compressionTag(body[0]), body[1:], rec.RawSize)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeRemoteIO, "cache payload corrupted", err).
			WithComponent("cachestore").
			WithDetail("key", key)
	}

	sum := blake3.Sum256(raw)
	if actual := hex.EncodeToString(sum[:]); actual != rec.Digest {
		return nil, perrors.New(perrors.ErrCodeDigestMismatch, "cache payload digest mismatch").
			WithComponent("cachestore").
			WithDetail("key", key).
			WithDetail("expected", rec.Digest).
			WithDetail("actual", actual)
	}
	return raw, nil
}

// Has reports whether Get for key would find both the index record and
// its object. Every failure reads as absence.
func (s *Store) Has(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	rec, err := s.readIndex(ctx, key)
	if err != nil {
		return false
	}
	objPath, err := s.objectPath(rec.Digest)
	if err != nil {
		return false
	}
	return s.fs.Exists(ctx, objPath)
}

// Delete unmaps key. The content object stays behind: other keys may
// map to the same digest, and orphans are reclaimed with the run
// directory. Deleting an absent key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errEmptyKey()
	}
	p, err := s.indexPath(key)
	if err != nil {
		return err
	}
	return s.fs.Delete(ctx, p)
}

func (s *Store) readIndex(ctx context.Context, key string) (indexRecord, error) {
	p, err := s.indexPath(key)
	if err != nil {
		return indexRecord{}, err
	}
	data, err := s.readAll(ctx, p)
	if err != nil {
		if perrors.IsNotFound(err) {
			return indexRecord{}, s.missing(key)
		}
		return indexRecord{}, err
	}

	var rec indexRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return indexRecord{}, perrors.Wrap(perrors.ErrCodeRemoteIO, "cache index record corrupted", err).
			WithComponent("cachestore").
			WithDetail("key", key)
	}
	if rec.Key != key {
		// Hash collision: the slot belongs to another key.
		return indexRecord{}, s.missing(key)
	}
	return rec, nil
}

func (s *Store) missing(key string) error {
	return perrors.New(perrors.ErrCodeNotFound, "cache key not found").
		WithComponent("cachestore").
		WithDetail("key", key)
}

func errEmptyKey() error {
	return perrors.New(perrors.ErrCodeIllegalArgument, "cache key cannot be empty").
		WithComponent("cachestore")
}

func (s *Store) objectPath(digest string) (stagepath.Path, error) {
	if len(digest) < 2 {
		return stagepath.Path{}, perrors.Newf(perrors.ErrCodeIllegalArgument, "malformed cache digest %q", digest).
			WithComponent("cachestore")
	}
	return s.base.ResolveKey("objects/" + digest[:2] + "/" + digest)
}

func (s *Store) indexPath(key string) (stagepath.Path, error) {
	return s.base.ResolveKey("index/" + fnvName(key))
}

// fnvName derives the index slot name for a key. Collision safety comes
// from the Key field stored in the record, not from the hash width.
func fnvName(key string) string {
	h := fnv.New64a()
	_, _ = io.WriteString(h, key)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (s *Store) readAll(ctx context.Context, p stagepath.Path) ([]byte, error) {
	in, err := s.fs.NewInputStream(ctx, p)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in)
	closeErr := in.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return data, nil
}

func (s *Store) writeObject(ctx context.Context, p stagepath.Path, data []byte) error {
	out, err := s.fs.NewOutputStream(ctx, p)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
