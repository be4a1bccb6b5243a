package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultRoot is the directory used when no root is configured.
const DefaultRoot = "outputs"

// Filesystem stores artifacts as plain files under a root directory. Writes
// truncate the target in place; a crash mid-write can leave a partial file.
// A missing root makes Put fail unless CreateDirs is set.
type Filesystem struct {
	root       string
	createDirs bool
}

// FilesystemOption customizes a Filesystem.
type FilesystemOption func(*Filesystem)

// CreateDirs makes Put create the root and any parent directory of a key.
func CreateDirs() FilesystemOption {
	return func(f *Filesystem) { f.createDirs = true }
}

// NewFilesystem returns a store rooted at root. Nothing is touched on disk
// until the first Put.
func NewFilesystem(root string, opts ...FilesystemOption) (*Filesystem, error) {
	if root == "" {
		root = DefaultRoot
	}
	f := &Filesystem{root: root}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the directory artifacts are written under.
func (f *Filesystem) Root() string { return f.root }

// sanitizeKey forbids path traversal and absolute keys.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key contains '..'")
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return "", fmt.Errorf("invalid absolute key")
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (f *Filesystem) pathFor(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(k)), nil
}

func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	path, err := f.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if f.createDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Info{}, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return Info{}, err
	}
	size, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		return Info{}, copyErr
	}
	if closeErr != nil {
		return Info{}, closeErr
	}
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	ct := opts.ContentType
	if ct == "" {
		ct = contentTypeFor(key)
	}
	return Info{Key: key, Size: size, ContentType: ct, Metadata: cloneMetadata(opts.Metadata), LastModified: st.ModTime().UTC()}, nil
}

func (f *Filesystem) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	path, err := f.pathFor(key)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Info{}, nil, err
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return Info{}, nil, err
	}
	return Info{Key: key, Size: st.Size(), ContentType: contentTypeFor(key), LastModified: st.ModTime().UTC()}, file, nil
}

func (f *Filesystem) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, Info{Key: key, Size: st.Size(), ContentType: contentTypeFor(key), LastModified: st.ModTime().UTC()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
