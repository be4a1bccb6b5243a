// Package transform holds the pure reshaping steps applied to fetched
// population records.
package transform

import "statepop/internal/types"

// FilterByField returns the records whose field equals want, in input order.
// The result is never nil so an empty match encodes as [].
func FilterByField(records []types.Record, field types.Field, want string) []types.Record {
	results := []types.Record{}
	for _, r := range records {
		if r.Value(field) == want {
			results = append(results, r)
		}
	}
	return results
}

// GroupByField partitions records by the value of field in a single pass.
// Keys follow first appearance and each bucket keeps input order. Records
// with an empty value land under the "" key.
func GroupByField(records []types.Record, field types.Field) *types.GroupedView {
	view := types.NewGroupedView()
	for _, r := range records {
		view.Append(r.Value(field), r)
	}
	return view
}
