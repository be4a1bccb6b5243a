// Package persist writes pipeline values as pretty-printed JSON artifacts.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"statepop/internal/blob"
)

const contentType = "application/json"

// IOError reports a failed artifact read or write.
type IOError struct {
	Op  string // "write" or "read"
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Persister serializes values into a blob.Store.
type Persister struct {
	store blob.Store
	runID string
}

// New returns a Persister writing to store. runID is attached to every
// artifact as metadata when the backend keeps metadata.
func New(store blob.Store, runID string) *Persister {
	return &Persister{store: store, runID: runID}
}

// Store returns the backend artifacts are written to.
func (p *Persister) Store() blob.Store { return p.store }

// Persist encodes value as JSON indented by two spaces and writes it under
// key, replacing previous contents.
func (p *Persister) Persist(ctx context.Context, key string, value any) (blob.Info, error) {
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode %s: %w", key, err)
	}
	opts := blob.PutOptions{ContentType: contentType}
	if p.runID != "" {
		opts.Metadata = map[string]string{"run-id": p.runID}
	}
	info, err := p.store.Put(ctx, key, bytes.NewReader(b), opts)
	if err != nil {
		return blob.Info{}, &IOError{Op: "write", Key: key, Err: err}
	}
	return info, nil
}

// Load reads the artifact at key and decodes it into v.
func (p *Persister) Load(ctx context.Context, key string, v any) error {
	_, rc, err := p.store.Get(ctx, key)
	if err != nil {
		return &IOError{Op: "read", Key: key, Err: err}
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
