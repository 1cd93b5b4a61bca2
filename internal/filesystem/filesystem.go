package filesystem

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"drivegate/internal/cache"
	"drivegate/internal/metrics"
	"drivegate/internal/storage"
	"drivegate/pkg/types"
)

// RemoteFS implements Client over a path-addressed Backend. It issues stable
// integer ids and pickcodes for every path it sees and keeps them in the
// persistent index.
type RemoteFS struct {
	backend Backend
	index   *storage.IndexStore
	paths   *cache.PathCache // nil unless the path cache is enabled
}

type Option func(*RemoteFS)

// WithPathCache makes RemoteFS consult c before the index for path to id
// lookups.
func WithPathCache(c *cache.PathCache) Option {
	return func(fs *RemoteFS) {
		fs.paths = c
	}
}

// Login checks that the backend root is reachable with the configured
// credentials and returns a ready client.
func Login(ctx context.Context, backend Backend, index *storage.IndexStore, opts ...Option) (*RemoteFS, error) {
	fs := &RemoteFS{
		backend: backend,
		index:   index,
	}
	for _, opt := range opts {
		opt(fs)
	}

	root, err := fs.stat(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s root: %w", backend.Type(), err)
	}
	if !root.IsDirectory {
		return nil, fmt.Errorf("%s root is not a directory", backend.Type())
	}

	log.Infof("Logged in to %s backend", backend.Type())
	return fs, nil
}

func (fs *RemoteFS) Attr(ctx context.Context, ref Ref) (*types.Entity, error) {
	p, err := fs.resolve(ref)
	if err != nil {
		return nil, err
	}

	entity, err := fs.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := fs.decorate(entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func (fs *RemoteFS) ListDir(ctx context.Context, ref Ref) ([]*types.Entity, error) {
	p, err := fs.resolve(ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	children, err := fs.backend.ReadDir(ctx, p)
	metrics.RecordBackendOperation("readdir", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}

	for _, child := range children {
		if err := fs.decorate(child); err != nil {
			return nil, err
		}
	}
	return children, nil
}

func (fs *RemoteFS) IDFromPickcode(ctx context.Context, pickcode string) (int64, error) {
	rec, err := fs.index.LookupPickcode(pickcode)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, fmt.Errorf("pickcode %q: %w", pickcode, ErrNotFound)
	}
	return rec.ID, nil
}

// DownloadURL asks the backend for a download link to the file behind
// pickcode. Any failure past the pickcode lookup is an ErrLinkGeneration.
func (fs *RemoteFS) DownloadURL(ctx context.Context, pickcode string, header http.Header) (string, error) {
	rec, err := fs.index.LookupPickcode(pickcode)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("pickcode %q: %w", pickcode, ErrNotFound)
	}

	entity, err := fs.stat(ctx, rec.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLinkGeneration, err)
	}
	if entity.IsDirectory {
		return "", fmt.Errorf("%w: %s is a directory", ErrLinkGeneration, rec.Path)
	}

	start := time.Now()
	link, err := fs.backend.SignURL(ctx, rec.Path, header)
	metrics.RecordBackendOperation("sign_url", time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLinkGeneration, err)
	}
	return link, nil
}

// Ancestors returns the chain from the root down to and including id.
func (fs *RemoteFS) Ancestors(ctx context.Context, id int64) ([]types.Ancestor, error) {
	p, err := fs.resolve(ByID(id))
	if err != nil {
		return nil, err
	}

	chain := []types.Ancestor{{ID: types.RootID, Name: ""}}
	if p == "/" {
		return chain, nil
	}

	current := ""
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		current += "/" + part
		partID, err := fs.idForPath(current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, types.Ancestor{ID: partID, Name: part})
	}
	return chain, nil
}

func (fs *RemoteFS) Desc(ctx context.Context, ref Ref) (string, error) {
	p, err := fs.resolve(ref)
	if err != nil {
		return "", err
	}

	start := time.Now()
	desc, err := fs.backend.Description(ctx, p)
	metrics.RecordBackendOperation("description", time.Since(start), err == nil)
	return desc, err
}

func (fs *RemoteFS) stat(ctx context.Context, p string) (*types.Entity, error) {
	start := time.Now()
	entity, err := fs.backend.Stat(ctx, p)
	metrics.RecordBackendOperation("stat", time.Since(start), err == nil)
	if errors.Is(err, ErrNotFound) && fs.paths != nil {
		fs.paths.Delete(p)
	}
	return entity, err
}

// resolve turns a reference into a backend path
func (fs *RemoteFS) resolve(ref Ref) (string, error) {
	if !ref.HasID {
		return CleanPath(ref.Path), nil
	}
	if ref.ID == types.RootID {
		return "/", nil
	}

	rec, err := fs.index.LookupID(ref.ID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("id %d: %w", ref.ID, ErrNotFound)
	}
	return rec.Path, nil
}

func (fs *RemoteFS) idForPath(p string) (int64, error) {
	if p == "/" {
		return types.RootID, nil
	}

	if fs.paths != nil {
		if id, ok := fs.paths.Get(p); ok {
			metrics.RecordPathCacheLookup(true)
			return id, nil
		}
		metrics.RecordPathCacheLookup(false)
	}

	// read-only lookup first; registering takes a write transaction
	rec, err := fs.index.LookupPath(p)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		if rec, err = fs.index.Register(p); err != nil {
			return 0, err
		}
	}

	if fs.paths != nil {
		fs.paths.Set(p, rec.ID)
	}
	return rec.ID, nil
}

// decorate fills in the registry-derived identity of a backend entity
func (fs *RemoteFS) decorate(e *types.Entity) error {
	e.Path = CleanPath(e.Path)
	if e.Name == "" && e.Path != "/" {
		e.Name = path.Base(e.Path)
	}

	id, err := fs.idForPath(e.Path)
	if err != nil {
		return err
	}
	e.ID = id

	if e.Path == "/" {
		e.ParentID = types.RootID
		e.Pickcode = ""
		return nil
	}

	parentID, err := fs.idForPath(path.Dir(e.Path))
	if err != nil {
		return err
	}
	e.ParentID = parentID
	e.Pickcode = storage.Pickcode(e.Path)
	return nil
}
