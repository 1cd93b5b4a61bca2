// Package resolver decides which entity a gateway request refers to and
// assembles the payload for the requested method.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"drivegate/internal/filesystem"
	"drivegate/pkg/types"
)

// RootLabel names the storage root in breadcrumbs
const RootLabel = "Home"

// Resolver maps queries onto filesystem client calls. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	fs filesystem.Client
}

func New(fs filesystem.Client) *Resolver {
	return &Resolver{fs: fs}
}

// Crumb is one breadcrumb link
type Crumb struct {
	Name string
	URL  string
}

// Row is a child entry of a rendered directory
type Row struct {
	*types.Entity
	DisplaySize string
	IsMedia     bool
}

// Listing is the data behind a directory page
type Listing struct {
	Origin     string
	Dir        *types.Entity
	Breadcrumb []Crumb
	Rows       []Row
}

// Result is the outcome of the url method: either a redirect target for a
// file or a listing for a directory.
type Result struct {
	Redirect string
	Listing  *Listing
}

// Reference applies the precedence pickcode > id > path.
func (r *Resolver) Reference(ctx context.Context, q Query) (filesystem.Ref, error) {
	if q.Pickcode != "" {
		id, err := r.fs.IDFromPickcode(ctx, q.Pickcode)
		if err != nil {
			return filesystem.Ref{}, err
		}
		return filesystem.ByID(id), nil
	}
	if q.HasID {
		return filesystem.ByID(q.ID), nil
	}
	return filesystem.ByPath(q.Path), nil
}

// Attr resolves a single entity and derives its URL.
func (r *Resolver) Attr(ctx context.Context, q Query, origin string) (*types.Entity, error) {
	ref, err := r.Reference(ctx, q)
	if err != nil {
		return nil, err
	}

	entity, err := r.fs.Attr(ctx, ref)
	if err != nil {
		return nil, err
	}
	AppendURL(origin, entity)
	return entity, nil
}

// List resolves a directory and returns its children in client order.
func (r *Resolver) List(ctx context.Context, q Query, origin string) ([]*types.Entity, error) {
	ref, err := r.Reference(ctx, q)
	if err != nil {
		return nil, err
	}

	children, err := r.fs.ListDir(ctx, ref)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		AppendURL(origin, child)
	}
	return children, nil
}

// Desc returns the description of an entity as stored.
func (r *Resolver) Desc(ctx context.Context, q Query) (string, error) {
	ref, err := r.Reference(ctx, q)
	if err != nil {
		return "", err
	}
	return r.fs.Desc(ctx, ref)
}

// Open answers the url method. Files resolve to a download link generated
// with the caller's User-Agent; directories resolve to a listing.
func (r *Resolver) Open(ctx context.Context, q Query, origin string, header http.Header) (*Result, error) {
	entity, err := r.Attr(ctx, q, origin)
	if err != nil {
		return nil, err
	}

	if !entity.IsDirectory {
		link, err := r.fs.DownloadURL(ctx, entity.Pickcode, forwardHeaders(header))
		if err != nil {
			if !errors.Is(err, filesystem.ErrNotFound) && !errors.Is(err, filesystem.ErrLinkGeneration) {
				err = fmt.Errorf("%w: %v", filesystem.ErrLinkGeneration, err)
			}
			return nil, err
		}
		return &Result{Redirect: link}, nil
	}

	listing, err := r.listing(ctx, entity, origin)
	if err != nil {
		return nil, err
	}
	return &Result{Listing: listing}, nil
}

func (r *Resolver) listing(ctx context.Context, dir *types.Entity, origin string) (*Listing, error) {
	children, err := r.fs.ListDir(ctx, filesystem.ByID(dir.ID))
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(children))
	for _, child := range children {
		child.PathURL = origin + QuotePath(child.Path)
		AppendURL(origin, child)
		rows = append(rows, Row{
			Entity:      child,
			DisplaySize: DisplaySize(child),
			IsMedia:     !child.IsDirectory && IsMedia(child.Name),
		})
	}

	crumbs, err := r.breadcrumb(ctx, dir, origin)
	if err != nil {
		return nil, err
	}

	log.Debugf("Rendering directory %s with %d entries", dir.Path, len(rows))
	return &Listing{
		Origin:     origin,
		Dir:        dir,
		Breadcrumb: crumbs,
		Rows:       rows,
	}, nil
}

// breadcrumb links the root, every ancestor strictly between the root and
// dir, and finally dir itself in list view.
func (r *Resolver) breadcrumb(ctx context.Context, dir *types.Entity, origin string) ([]Crumb, error) {
	crumbs := []Crumb{{Name: RootLabel, URL: fmt.Sprintf("%s?id=%d", origin, types.RootID)}}
	if dir.ID == types.RootID {
		return crumbs, nil
	}

	ancestors, err := r.fs.Ancestors(ctx, dir.ID)
	if err != nil {
		return nil, err
	}

	target := types.Ancestor{ID: dir.ID, Name: dir.Name}
	if n := len(ancestors); n > 0 {
		target = ancestors[n-1]
		if n > 2 {
			for _, a := range ancestors[1 : n-1] {
				crumbs = append(crumbs, Crumb{Name: a.Name, URL: fmt.Sprintf("%s?id=%d", origin, a.ID)})
			}
		}
	}

	crumbs = append(crumbs, Crumb{
		Name: target.Name,
		URL:  fmt.Sprintf("%s?id=%d&method=%s", origin, target.ID, MethodList),
	})
	return crumbs, nil
}
