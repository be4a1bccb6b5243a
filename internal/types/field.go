package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Field names one attribute of a Record by its wire (JSON) name.
type Field string

const (
	FieldStateID    Field = "ID State"
	FieldState      Field = "State"
	FieldYearID     Field = "ID Year"
	FieldYear       Field = "Year"
	FieldPopulation Field = "Population"
	FieldStateSlug  Field = "Slug State"
)

// Fields lists every known field in wire order.
var Fields = []Field{FieldStateID, FieldState, FieldYearID, FieldYear, FieldPopulation, FieldStateSlug}

// ParseField resolves a field by wire name, ignoring case and surrounding
// whitespace. Underscores are accepted in place of spaces ("id_state").
func ParseField(name string) (Field, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(name), "_", " ")
	for _, f := range Fields {
		if strings.EqualFold(norm, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown field %q", name)
}

// Value returns the canonical text of the field on r. Integers are rendered
// in base 10; an unset optional integer renders as "".
func (r Record) Value(f Field) string {
	switch f {
	case FieldStateID:
		return r.StateID
	case FieldState:
		return r.State
	case FieldYearID:
		if r.YearID == 0 {
			return ""
		}
		return strconv.Itoa(r.YearID)
	case FieldYear:
		return r.Year
	case FieldPopulation:
		return strconv.FormatInt(r.Population, 10)
	case FieldStateSlug:
		return r.StateSlug
	default:
		return ""
	}
}
