// Package webdav exposes a WebDAV collection as a filesystem.Backend.
package webdav

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/studio-b12/gowebdav"

	"drivegate/internal/filesystem"
	"drivegate/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Config locates the WebDAV collection exposed as the storage root.
type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// Backend implements filesystem.Backend on top of a WebDAV server.
type Backend struct {
	client *gowebdav.Client
	base   *url.URL
}

func New(cfg Config) (*Backend, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid webdav url %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := gowebdav.NewClient(base.String(), cfg.User, cfg.Password)
	client.SetTimeout(timeout)

	log.WithFields(log.Fields{
		"url":  base.Redacted(),
		"user": cfg.User,
	}).Info("WebDAV backend configured")

	return &Backend{client: client, base: base}, nil
}

func (b *Backend) Type() string { return "webdav" }

func (b *Backend) Close() error { return nil }

// translate maps gowebdav errors onto the filesystem sentinels
func translate(op, p string, err error) error {
	if gowebdav.IsErrNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, p, filesystem.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

func (b *Backend) Stat(ctx context.Context, p string) (*types.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = filesystem.CleanPath(p)

	info, err := b.client.Stat(p)
	if err != nil {
		return nil, translate("stat", p, err)
	}
	e := toEntity(path.Dir(p), info)
	e.Path = p
	if p == "/" {
		e.Name = ""
		e.IsDirectory = true
	} else {
		e.Name = path.Base(p)
	}
	return e, nil
}

func (b *Backend) ReadDir(ctx context.Context, p string) ([]*types.Entity, error) {
	dir, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !dir.IsDirectory {
		return nil, fmt.Errorf("readdir %s: %w", dir.Path, filesystem.ErrNotADirectory)
	}

	infos, err := b.client.ReadDir(dir.Path)
	if err != nil {
		return nil, translate("readdir", dir.Path, err)
	}

	children := make([]*types.Entity, 0, len(infos))
	for _, info := range infos {
		children = append(children, toEntity(dir.Path, info))
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Name < children[j].Name
	})
	return children, nil
}

// Description always reports an empty description; WebDAV has no such property.
func (b *Backend) Description(ctx context.Context, p string) (string, error) {
	if _, err := b.Stat(ctx, p); err != nil {
		return "", err
	}
	return "", nil
}

// SignURL returns the direct resource URL. Credentials are never embedded.
func (b *Backend) SignURL(ctx context.Context, p string, header http.Header) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u := *b.base
	u.User = nil
	u.Path = strings.TrimSuffix(u.Path, "/") + filesystem.CleanPath(p)
	u.RawPath = ""
	return u.String(), nil
}

func toEntity(parent string, info os.FileInfo) *types.Entity {
	name := strings.TrimSuffix(info.Name(), "/")
	mtime := info.ModTime()
	e := &types.Entity{
		Name:        name,
		Path:        path.Join(parent, name),
		IsDirectory: info.IsDir(),
		CTime:       mtime,
		MTime:       mtime,
		ATime:       mtime,
	}
	if !e.IsDirectory {
		e.Size = info.Size()
	}
	return e
}
