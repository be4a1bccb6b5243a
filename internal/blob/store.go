// Package blob stores output artifacts behind a small S3-like interface so
// the same pipeline can write to a local directory, memory or a bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Driver identifies a concrete storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small, flat key-value
}

// Info describes a stored artifact.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is implemented by every backend.
type Store interface {
	// Put writes the contents of r at key, replacing anything already there.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the artifact's metadata and contents.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// List returns artifacts whose key has prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Config selects and configures a backend.
type Config struct {
	Driver     Driver
	Root       string // fs root directory
	CreateRoot bool   // fs: create missing directories on write
	S3         S3Config
}

// Open returns the Store described by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		var opts []FilesystemOption
		if cfg.CreateRoot {
			opts = append(opts, CreateDirs())
		}
		return NewFilesystem(cfg.Root, opts...)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
