package types

import "fmt"

// SchemaError reports a payload that is valid JSON but does not have the
// expected shape. Index is the offending record's position in "data", or -1
// when the problem is with the payload itself.
type SchemaError struct {
	Index  int
	Field  Field
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	switch {
	case e.Index < 0 && e.Field == "":
		return fmt.Sprintf("schema: %s", e.Reason)
	case e.Field == "":
		return fmt.Sprintf("schema: record %d: %s", e.Index, e.Reason)
	case e.Index < 0:
		return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("schema: record %d: field %q: %s", e.Index, e.Field, e.Reason)
	}
}

func (e *SchemaError) Unwrap() error { return e.Err }
