// Package fstest provides an in-memory filesystem Backend for tests.
package fstest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"drivegate/internal/filesystem"
	"drivegate/pkg/types"
)

// ErrSignFailed is returned by SignURL while FailSigning is set
var ErrSignFailed = errors.New("remote i/o error")

// MemBackend is a filesystem.Backend holding its tree in memory.
type MemBackend struct {
	mu      sync.RWMutex
	entries map[string]*types.Entity
	descs   map[string]string

	// FailSigning makes SignURL fail, simulating a remote I/O error
	FailSigning bool
	// Calls counts backend calls by operation
	Calls map[string]int
}

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func NewMemBackend() *MemBackend {
	return &MemBackend{
		entries: map[string]*types.Entity{
			"/": {Path: "/", IsDirectory: true, CTime: epoch, MTime: epoch, ATime: epoch},
		},
		descs: make(map[string]string),
		Calls: make(map[string]int),
	}
}

// AddDir adds a directory and any missing parents
func (b *MemBackend) AddDir(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addDir(filesystem.CleanPath(p))
}

// AddFile adds a file and any missing parent directories
func (b *MemBackend) AddFile(p string, size int64, sha1 string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p = filesystem.CleanPath(p)
	b.addDir(path.Dir(p))
	b.entries[p] = &types.Entity{
		Name:  path.Base(p),
		Path:  p,
		SHA1:  sha1,
		Size:  size,
		CTime: epoch,
		MTime: epoch,
		ATime: epoch,
	}
}

// SetDescription sets the description of an existing entry
func (b *MemBackend) SetDescription(p, desc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.descs[filesystem.CleanPath(p)] = desc
}

// Remove deletes an entry. Children of a removed directory are left alone.
func (b *MemBackend) Remove(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p = filesystem.CleanPath(p)
	delete(b.entries, p)
	delete(b.descs, p)
}

func (b *MemBackend) addDir(p string) {
	for p != "/" {
		if _, ok := b.entries[p]; ok {
			return
		}
		b.entries[p] = &types.Entity{
			Name:        path.Base(p),
			Path:        p,
			IsDirectory: true,
			CTime:       epoch,
			MTime:       epoch,
			ATime:       epoch,
		}
		p = path.Dir(p)
	}
}

func (b *MemBackend) count(op string) {
	b.Calls[op]++
}

func (b *MemBackend) Stat(ctx context.Context, p string) (*types.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("stat")

	entry, ok := b.entries[p]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", p, filesystem.ErrNotFound)
	}
	clone := *entry
	clone.Described = b.descs[p] != ""
	return &clone, nil
}

func (b *MemBackend) ReadDir(ctx context.Context, p string) ([]*types.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("readdir")

	dir, ok := b.entries[p]
	if !ok {
		return nil, fmt.Errorf("readdir %s: %w", p, filesystem.ErrNotFound)
	}
	if !dir.IsDirectory {
		return nil, fmt.Errorf("readdir %s: %w", p, filesystem.ErrNotADirectory)
	}

	var children []*types.Entity
	for entryPath, entry := range b.entries {
		if entryPath != "/" && path.Dir(entryPath) == p {
			clone := *entry
			children = append(children, &clone)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Name < children[j].Name
	})
	return children, nil
}

func (b *MemBackend) Description(ctx context.Context, p string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("description")

	if _, ok := b.entries[p]; !ok {
		return "", fmt.Errorf("description %s: %w", p, filesystem.ErrNotFound)
	}
	return b.descs[p], nil
}

// SignURL returns a fake download link that echoes the forwarded User-Agent
func (b *MemBackend) SignURL(ctx context.Context, p string, header http.Header) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count("sign_url")

	if b.FailSigning {
		return "", ErrSignFailed
	}

	link := "https://download.example.com" + strings.ReplaceAll(url.PathEscape(p), "%2F", "/")
	if ua := header.Get("User-Agent"); ua != "" {
		link += "?ua=" + url.QueryEscape(ua)
	}
	return link, nil
}

func (b *MemBackend) Type() string { return "memory" }

func (b *MemBackend) Close() error { return nil }
