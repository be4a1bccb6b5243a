package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
)

// GroupedView maps a group key to the records sharing it. Keys keep the
// order in which they were first appended, records keep append order within
// a key. The zero value is ready to use.
type GroupedView struct {
	keys   []string
	groups map[string][]Record
}

// NewGroupedView returns an empty view.
func NewGroupedView() *GroupedView {
	return &GroupedView{groups: make(map[string][]Record)}
}

// Append adds rec to the bucket for key, creating the bucket on first use.
func (g *GroupedView) Append(key string, rec Record) {
	if g.groups == nil {
		g.groups = make(map[string][]Record)
	}
	bucket, ok := g.groups[key]
	if !ok {
		g.keys = append(g.keys, key)
	}
	g.groups[key] = append(bucket, rec)
}

// Keys returns a copy of the keys in first-appearance order.
func (g *GroupedView) Keys() []string {
	out := make([]string, len(g.keys))
	copy(out, g.keys)
	return out
}

// Get returns the records stored under key.
func (g *GroupedView) Get(key string) ([]Record, bool) {
	recs, ok := g.groups[key]
	return recs, ok
}

// Len returns the number of keys.
func (g *GroupedView) Len() int { return len(g.keys) }

// Count returns the number of records across all buckets.
func (g *GroupedView) Count() int {
	n := 0
	for _, recs := range g.groups {
		n += len(recs)
	}
	return n
}

// All iterates the buckets in key order.
func (g *GroupedView) All() iter.Seq2[string, []Record] {
	return func(yield func(string, []Record) bool) {
		for _, k := range g.keys {
			if !yield(k, g.groups[k]) {
				return
			}
		}
	}
}

// MarshalJSON encodes the view as an object whose members follow key order.
func (g *GroupedView) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range g.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(g.groups[k])
		if err != nil {
			return nil, fmt.Errorf("marshal group %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of record arrays, keeping document order.
func (g *GroupedView) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("grouped view: expected object, got %v", tok)
	}
	view := NewGroupedView()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("grouped view: expected key, got %v", tok)
		}
		var recs []Record
		if err := dec.Decode(&recs); err != nil {
			return fmt.Errorf("grouped view: group %q: %w", key, err)
		}
		if _, dup := view.groups[key]; !dup {
			view.keys = append(view.keys, key)
		}
		view.groups[key] = append(view.groups[key], recs...)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*g = *view
	return nil
}
