package filesystem

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"drivegate/pkg/types"
)

var (
	// ErrNotFound is returned when a reference does not resolve to an entity
	ErrNotFound = errors.New("no such file or directory")
	// ErrNotADirectory is returned when a directory-only operation targets a file
	ErrNotADirectory = errors.New("not a directory")
	// ErrLinkGeneration is returned when no download link can be produced
	ErrLinkGeneration = errors.New("cannot generate download link")
)

// Ref addresses an entity either by id or by path
type Ref struct {
	ID    int64
	Path  string
	HasID bool
}

// ByID returns a reference to the entity with the given id
func ByID(id int64) Ref {
	return Ref{ID: id, HasID: true}
}

// ByPath returns a reference to the entity at the given path
func ByPath(p string) Ref {
	return Ref{Path: CleanPath(p)}
}

// Client is the remote storage client the gateway dispatches against.
// Implementations report missing entities with ErrNotFound and listings of
// files with ErrNotADirectory.
type Client interface {
	Attr(ctx context.Context, ref Ref) (*types.Entity, error)
	ListDir(ctx context.Context, ref Ref) ([]*types.Entity, error)
	IDFromPickcode(ctx context.Context, pickcode string) (int64, error)
	DownloadURL(ctx context.Context, pickcode string, header http.Header) (string, error)
	Ancestors(ctx context.Context, id int64) ([]types.Ancestor, error)
	Desc(ctx context.Context, ref Ref) (string, error)
}

// Backend is a path-addressed remote store. Entities it returns carry no
// id, parent id or pickcode; RemoteFS assigns those.
type Backend interface {
	Stat(ctx context.Context, p string) (*types.Entity, error)
	ReadDir(ctx context.Context, p string) ([]*types.Entity, error)
	Description(ctx context.Context, p string) (string, error)
	SignURL(ctx context.Context, p string, header http.Header) (string, error)

	// Type returns the backend type identifier ("s3", "webdav").
	Type() string
	Close() error
}

// CleanPath normalizes p to an absolute slash-separated path
func CleanPath(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}
