package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileGateway stores each document as a file under baseDir, one directory
// per campaign. Writes are atomic per document; there is no compare-and-swap,
// so concurrent writers across processes get last-writer-wins.
type FileGateway struct {
	baseDir string
}

// NewFileGateway creates a FileGateway rooted at baseDir.
func NewFileGateway(baseDir string) *FileGateway {
	return &FileGateway{baseDir: baseDir}
}

// DefaultFileGateway returns a FileGateway at ~/.campaignflow/documents,
// creating the directory if needed.
func DefaultFileGateway() (*FileGateway, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".campaignflow", "documents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &FileGateway{baseDir: dir}, nil
}

// BaseDir returns the gateway's root directory.
func (g *FileGateway) BaseDir() string {
	return g.baseDir
}

// path maps a key onto the filesystem, refusing keys that escape baseDir.
func (g *FileGateway) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, tempPrefix) {
			return "", fmt.Errorf("invalid key %q", key)
		}
	}
	return filepath.Join(g.baseDir, filepath.FromSlash(key)), nil
}

// Put writes doc under key atomically.
func (g *FileGateway) Put(ctx context.Context, key string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := g.path(key)
	if err != nil {
		return err
	}
	return WriteAtomic(p, doc)
}

// Get reads the document stored under key.
func (g *FileGateway) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := g.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Exists reports whether a document is stored under key.
func (g *FileGateway) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := g.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return !info.IsDir(), nil
}

// List returns all keys starting with prefix, sorted.
func (g *FileGateway) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(g.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == g.baseDir {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(g.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", g.baseDir, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes every document of a campaign.
func (g *FileGateway) Delete(ctx context.Context, campaign string) error {
	if err := ValidateCampaignID(campaign); err != nil {
		return err
	}
	dir := filepath.Join(g.baseDir, campaign)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("campaign %s not found", campaign)
	}
	return os.RemoveAll(dir)
}
