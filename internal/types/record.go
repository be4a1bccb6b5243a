package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one state/year population observation as returned by the
// DataUSA API. Year keeps the decimal text of the year because the API sends
// it as a string while "ID Year" is a number.
type Record struct {
	StateID    string `json:"ID State,omitempty"`
	State      string `json:"State"`
	YearID     int    `json:"ID Year,omitempty"`
	Year       string `json:"Year"`
	Population int64  `json:"Population"`
	StateSlug  string `json:"Slug State,omitempty"`
}

// rawRecord mirrors Record with pointers so missing keys can be told apart
// from zero values during validation.
type rawRecord struct {
	StateID    *string      `json:"ID State"`
	State      *string      `json:"State"`
	YearID     *json.Number `json:"ID Year"`
	Year       *json.Number `json:"Year"`
	Population *json.Number `json:"Population"`
	StateSlug  *string      `json:"Slug State"`
}

// UnmarshalJSON decodes and validates a single record.
func (r *Record) UnmarshalJSON(b []byte) error {
	rec, err := decodeRecord(b, -1)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func decodeRecord(b []byte, index int) (Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(b, &raw); err != nil {
		return Record{}, &SchemaError{Index: index, Reason: err.Error(), Err: err}
	}

	var rec Record
	if raw.State == nil || strings.TrimSpace(*raw.State) == "" {
		return Record{}, &SchemaError{Index: index, Field: FieldState, Reason: "missing or empty"}
	}
	rec.State = *raw.State

	if raw.Year == nil || raw.Year.String() == "" {
		return Record{}, &SchemaError{Index: index, Field: FieldYear, Reason: "missing"}
	}
	if _, err := raw.Year.Int64(); err != nil {
		return Record{}, &SchemaError{Index: index, Field: FieldYear, Reason: "not an integer", Err: err}
	}
	rec.Year = raw.Year.String()

	if raw.Population == nil {
		return Record{}, &SchemaError{Index: index, Field: FieldPopulation, Reason: "missing"}
	}
	pop, err := raw.Population.Int64()
	if err != nil {
		return Record{}, &SchemaError{Index: index, Field: FieldPopulation, Reason: "not an integer", Err: err}
	}
	rec.Population = pop

	if raw.YearID != nil {
		id, err := raw.YearID.Int64()
		if err != nil {
			return Record{}, &SchemaError{Index: index, Field: FieldYearID, Reason: "not an integer", Err: err}
		}
		rec.YearID = int(id)
	}
	if raw.StateID != nil {
		rec.StateID = *raw.StateID
	}
	if raw.StateSlug != nil {
		rec.StateSlug = *raw.StateSlug
	}
	return rec, nil
}

// Payload is the top-level API response. Only Data is consumed; every other
// key (for example "source") is kept verbatim in Meta. Raw holds the decoded
// document byte for byte and is what MarshalJSON writes when set, so unknown
// record keys and number-typed years survive the raw dump.
type Payload struct {
	Data []Record
	Meta map[string]json.RawMessage
	Raw  json.RawMessage
}

const dataKey = "data"

// UnmarshalJSON decodes the payload, validating every record against the
// Record schema.
func (p *Payload) UnmarshalJSON(b []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return &SchemaError{Index: -1, Reason: "payload is not a JSON object", Err: err}
	}
	rawData, ok := top[dataKey]
	if !ok || bytes.Equal(bytes.TrimSpace(rawData), []byte("null")) {
		return &SchemaError{Index: -1, Reason: `missing "data" array`}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawData, &items); err != nil {
		return &SchemaError{Index: -1, Reason: `"data" is not an array`, Err: err}
	}

	data := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item, i)
		if err != nil {
			return err
		}
		data = append(data, rec)
	}
	delete(top, dataKey)

	p.Data = data
	p.Meta = nil
	if len(top) > 0 {
		p.Meta = top
	}
	p.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON writes Raw when set. Otherwise it writes Data under "data" next
// to the preserved Meta keys.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	out := make(map[string]json.RawMessage, len(p.Meta)+1)
	for k, v := range p.Meta {
		out[k] = v
	}
	data := p.Data
	if data == nil {
		data = []Record{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	out[dataKey] = b
	return json.Marshal(out)
}
