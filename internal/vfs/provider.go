package vfs

import (
	"log/slog"
	"strings"
	"sync"

	perrors "github.com/Snowflake-Labs/nf-snowflake/pkg/errors"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/stagepath"
	"github.com/Snowflake-Labs/nf-snowflake/pkg/types"
)

// FileSystemFactory builds the filesystem instance for a scheme+authority
// key the first time the Provider needs it.
type FileSystemFactory func(scheme, authority string) (types.FileSystem, error)

// Provider is the filesystem registry: one FileSystem instance per
// scheme+authority key, created on first use and reused. Deserialized
// paths re-bind to a live instance here instead of carrying one across
// process boundaries. Registry state is explicit and injected, never a
// package global.
type Provider struct {
	mu      sync.Mutex
	systems map[string]types.FileSystem
	factory FileSystemFactory

	logger *slog.Logger
}

var _ types.Provider = (*Provider)(nil)

// NewProvider builds an empty registry around factory.
func NewProvider(factory FileSystemFactory, logger *slog.Logger) (*Provider, error) {
	if factory == nil {
		return nil, perrors.New(perrors.ErrCodeIllegalArgument, "filesystem factory cannot be nil").
			WithComponent("provider")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		systems: make(map[string]types.FileSystem),
		factory: factory,
		logger:  logger.With("component", "provider"),
	}, nil
}

// FileSystem returns the instance registered for the scheme+authority
// pair, creating it on first use. Keys are case-insensitive. Creation
// failures are not cached; the next call retries the factory.
func (pr *Provider) FileSystem(scheme, authority string) (types.FileSystem, error) {
	key := strings.ToLower(scheme) + "://" + strings.ToLower(authority)

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if fs, ok := pr.systems[key]; ok {
		return fs, nil
	}

	fs, err := pr.factory(scheme, authority)
	if err != nil {
		return nil, err
	}
	pr.systems[key] = fs
	pr.logger.Debug("filesystem registered", "key", key)
	return fs, nil
}

// GetPath parses a stage URI, making sure its filesystem exists first so
// the returned path is immediately usable.
func (pr *Provider) GetPath(uri string) (stagepath.Path, error) {
	p, err := stagepath.Parse(uri)
	if err != nil {
		return stagepath.Path{}, err
	}
	if _, err := pr.FileSystem(stagepath.Scheme, stagepath.Authority); err != nil {
		return stagepath.Path{}, err
	}
	return p, nil
}

// FileSystemFor returns the filesystem owning p. Every stage path,
// absolute or relative, binds to the fixed stage scheme.
func (pr *Provider) FileSystemFor(p stagepath.Path) (types.FileSystem, error) {
	return pr.FileSystem(stagepath.Scheme, stagepath.Authority)
}
