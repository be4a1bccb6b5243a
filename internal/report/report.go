// Package report renders grouped population records as text lines.
package report

import (
	"fmt"
	"io"
	"iter"

	"statepop/internal/types"
)

// Line formats one record under its group key, e.g.
// "Alabama - 2019 - 4903185".
func Line(key string, r types.Record) string {
	return fmt.Sprintf("%s - %s - %d", key, r.Year, r.Population)
}

// Lines yields one formatted line per record, walking keys in view order and
// records in bucket order. Nothing is formatted until the sequence is ranged.
func Lines(view *types.GroupedView) iter.Seq[string] {
	return func(yield func(string) bool) {
		for key, recs := range view.All() {
			for _, r := range recs {
				if !yield(Line(key, r)) {
					return
				}
			}
		}
	}
}

// Write prints every line of view to w and returns how many lines reached w
// in full, also when it fails part way.
func Write(w io.Writer, view *types.GroupedView) (int, error) {
	n := 0
	for line := range Lines(view) {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
