// Package shapefile exports population records as an attribute-only ESRI
// shapefile (NULL geometry) that GIS tools can join onto a state boundary
// layer by STATE_ID or STATE.
package shapefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"

	"statepop/internal/types"
)

// DBF column names, limited to 10 characters by the format.
const (
	ColStateID = "STATE_ID"
	ColState   = "STATE"
	ColYearID  = "YEAR_ID"
	ColYear    = "YEAR"
	ColPop     = "POP"
	ColSlug    = "SLUG"
)

var fields = []shp.Field{
	shp.StringField(ColStateID, 32),
	shp.StringField(ColState, 64),
	shp.NumberField(ColYearID, 10),
	shp.StringField(ColYear, 16),
	shp.NumberField(ColPop, 18),
	shp.StringField(ColSlug, 64),
}

// Path returns p with a .shp extension.
func Path(p string) string {
	if strings.EqualFold(filepath.Ext(p), ".shp") {
		return p
	}
	return p + ".shp"
}

// Export writes records to the shapefile at path (.shp, .shx and .dbf),
// replacing any existing files.
func Export(path string, records []types.Record) error {
	path = Path(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shapefile directory: %w", err)
	}
	w, err := shp.Create(path, shp.NULL)
	if err != nil {
		return fmt.Errorf("create shapefile %s: %w", path, err)
	}
	err = writeRecords(w, records)
	w.Close()
	if err != nil {
		return err
	}

	// go-shp names the attribute table base+"dbf" without the dot.
	base := path[:len(path)-len(".shp")]
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("rename attribute table: %w", err)
	}
	return nil
}

func writeRecords(w *shp.Writer, records []types.Record) error {
	if err := w.SetFields(fields); err != nil {
		return fmt.Errorf("set shapefile fields: %w", err)
	}
	for _, r := range records {
		row := int(w.Write(&shp.Null{}))
		values := []any{
			clip(r.StateID, 32),
			clip(r.State, 64),
			r.YearID,
			clip(r.Year, 16),
			int(r.Population),
			clip(r.StateSlug, 64),
		}
		for i, v := range values {
			if err := w.WriteAttribute(row, i, v); err != nil {
				return fmt.Errorf("write %s for row %d: %w", fields[i].String(), row, err)
			}
		}
	}
	return nil
}

// Read loads the attribute rows written by Export. An empty YEAR_ID reads
// back as 0.
func Read(path string) ([]types.Record, error) {
	r, err := shp.Open(Path(path))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	col := make(map[string]int)
	for i, f := range r.Fields() {
		col[f.String()] = i
	}
	for _, f := range fields {
		if _, ok := col[f.String()]; !ok {
			return nil, fmt.Errorf("shapefile %s: missing field %s", path, f.String())
		}
	}

	records := []types.Record{}
	for r.Next() {
		idx, _ := r.Shape()
		attr := func(name string) string { return strings.Trim(r.ReadAttribute(idx, col[name]), " \x00") }

		rec := types.Record{
			StateID:   attr(ColStateID),
			State:     attr(ColState),
			Year:      attr(ColYear),
			StateSlug: attr(ColSlug),
		}
		if s := attr(ColYearID); s != "" && s != "0" {
			if rec.YearID, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", idx, ColYearID, err)
			}
		}
		if rec.Population, err = strconv.ParseInt(attr(ColPop), 10, 64); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", idx, ColPop, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
