package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-redis/redis/v8"
)

// ErrNotExist is returned by a Backend when a key has never been written.
var ErrNotExist = errors.New("blob not found")

// Backend persists whole documents by key.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// DirBackend keeps each document as <key>.json inside Dir.
type DirBackend struct {
	Dir string
}

func NewDirBackend(dir string) *DirBackend { return &DirBackend{Dir: dir} }

func (d *DirBackend) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(d.Dir, key+".json"), nil
}

func (d *DirBackend) Read(_ context.Context, key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	return b, err
}

// Write replaces the document atomically via a temp file and rename.
func (d *DirBackend) Write(_ context.Context, key string, data []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(d.Dir, "."+key+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// RedisBackend stores documents as plain string values under Prefix+key.
type RedisBackend struct {
	c      *redis.Client
	prefix string
}

func NewRedisBackend(c *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{c: c, prefix: prefix}
}

func (r *RedisBackend) Read(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return b, nil
}

func (r *RedisBackend) Write(ctx context.Context, key string, data []byte) error {
	return r.c.Set(ctx, r.prefix+key, data, 0).Err()
}
