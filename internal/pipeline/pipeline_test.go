package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"statepop/internal/blob"
	"statepop/internal/database"
	"statepop/internal/fetch"
	"statepop/internal/metrics"
	"statepop/internal/persist"
	"statepop/internal/shapefile"
	"statepop/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

const samplePayload = `{
  "data": [
    {"ID State":"04000US51","State":"Virginia","ID Year":2019,"Year":"2019","Population":100,"Slug State":"virginia"},
    {"ID State":"04000US39","State":"Ohio","ID Year":2019,"Year":"2019","Population":200,"Slug State":"ohio"},
    {"ID State":"04000US51","State":"Virginia","ID Year":2020,"Year":"2020","Population":110,"Slug State":"virginia"}
  ],
  "source": [{"name":"acs_yg_total_population_1"}]
}`

type staticFetcher struct {
	payload *types.Payload
	err     error
}

func (f staticFetcher) Fetch(context.Context, string, url.Values) (*types.Payload, error) {
	return f.payload, f.err
}

// failingStore fails the nth Put and every Put after it.
type failingStore struct {
	*blob.Memory
	n     int
	calls int
}

func (s *failingStore) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	s.calls++
	if s.calls >= s.n {
		return blob.Info{}, os.ErrPermission
	}
	return s.Memory.Put(ctx, key, r, opts)
}

type recordingMirror struct{ calls int }

func (m *recordingMirror) ReplaceRecords(context.Context, []types.Record) error {
	m.calls++
	return nil
}

type failingMirror struct{}

func (failingMirror) ReplaceRecords(context.Context, []types.Record) error {
	return errors.New("mirror offline")
}

func newServer(t *testing.T, status int, body string) *fetch.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return fetch.New(ts.URL, fetch.WithHTTPClient(ts.Client()))
}

func defaultOptions() Options {
	return Options{
		Path:        "data",
		FilterField: types.FieldState,
		FilterValue: "Virginia",
		GroupField:  types.FieldState,
	}
}

func TestRun_WritesArtifactsAndReport(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := blob.NewFilesystem(root)
	require.NoError(t, err)
	rec := metrics.New()
	var out bytes.Buffer

	p := New(newServer(t, http.StatusOK, samplePayload), persist.New(store, "run-1"), defaultOptions(),
		WithOutput(&out), WithMetrics(rec))
	res, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 2, res.Filtered)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 3, res.Lines)
	require.Len(t, res.Artifacts, 3)
	assert.Equal(t, RawKey, res.Artifacts[0].Key)
	assert.Equal(t, "filtered-virginia.json", res.Artifacts[1].Key)
	assert.Equal(t, NestedKey, res.Artifacts[2].Key)

	assert.Equal(t, "Virginia - 2019 - 100\nVirginia - 2020 - 110\nOhio - 2019 - 200\n", out.String())

	filtered, err := os.ReadFile(filepath.Join(root, "filtered-virginia.json"))
	require.NoError(t, err)
	var kept []types.Record
	require.NoError(t, persist.New(store, "").Load(ctx, "filtered-virginia.json", &kept))
	assert.Len(t, kept, 2)
	assert.True(t, strings.HasPrefix(string(filtered), "[\n  {\n"))

	var nested types.GroupedView
	require.NoError(t, persist.New(store, "").Load(ctx, NestedKey, &nested))
	assert.Equal(t, []string{"Virginia", "Ohio"}, nested.Keys())

	var raw types.Payload
	require.NoError(t, persist.New(store, "").Load(ctx, RawKey, &raw))
	assert.Len(t, raw.Data, 3)
	assert.Contains(t, raw.Meta, "source")

	expected := `
# HELP statepop_artifacts_written_total Artifacts persisted by the run.
# TYPE statepop_artifacts_written_total counter
statepop_artifacts_written_total 3
# HELP statepop_last_run_success 1 if the last run completed, 0 otherwise.
# TYPE statepop_last_run_success gauge
statepop_last_run_success 1
# HELP statepop_records_fetched Records in the fetched payload.
# TYPE statepop_records_fetched gauge
statepop_records_fetched 3
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected),
		"statepop_artifacts_written_total", "statepop_last_run_success", "statepop_records_fetched"))
}

func TestRun_RawArtifactIsDocumentAsReceived(t *testing.T) {
	ctx := context.Background()
	doc := `{"data":[{"ID Nation":"01000US","State":"Virginia","ID Year":2019,"Year":2019,"Population":100}],"source":[]}`
	mem := blob.NewMemory()

	_, err := New(newServer(t, http.StatusOK, doc), persist.New(mem, ""), defaultOptions()).Run(ctx)
	require.NoError(t, err)

	_, rc, err := mem.Get(ctx, RawKey)
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.JSONEq(t, doc, string(raw))
	assert.Contains(t, string(raw), `"Year": 2019`)
}

func TestRun_StageLabels(t *testing.T) {
	rec := metrics.New()
	_, err := New(newServer(t, http.StatusOK, samplePayload), persist.New(blob.NewMemory(), ""), defaultOptions(),
		WithMetrics(rec)).Run(context.Background())
	require.NoError(t, err)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	var stages []string
	for _, mf := range families {
		if mf.GetName() != "statepop_stage_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				stages = append(stages, l.GetValue())
			}
		}
	}
	assert.ElementsMatch(t, []string{
		"fetch", "persist_raw", "filter", "persist_filtered", "group", "persist_grouped", "report",
	}, stages)
}

func TestRun_MissingOutputDirIsIOError(t *testing.T) {
	root := filepath.Join(t.TempDir(), "outputs")
	store, err := blob.NewFilesystem(root)
	require.NoError(t, err)
	var out bytes.Buffer

	res, err := New(newServer(t, http.StatusOK, samplePayload), persist.New(store, ""), defaultOptions(),
		WithOutput(&out)).Run(context.Background())
	var ioErr *persist.IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, RawKey, ioErr.Key)
	assert.Empty(t, res.Artifacts)
	assert.Empty(t, out.String())
	assert.NoDirExists(t, root)
}

func TestRun_LaterPersistFailureKeepsEarlierArtifacts(t *testing.T) {
	tests := []struct {
		name      string
		failOn    int
		wantKey   string
		wantKept  []string
		wantGroup int
	}{
		{"filtered", 2, "filtered-virginia.json", []string{RawKey}, 0},
		{"grouped", 3, NestedKey, []string{RawKey, "filtered-virginia.json"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &failingStore{Memory: blob.NewMemory(), n: tt.failOn}
			mirror := &recordingMirror{}
			var out bytes.Buffer

			res, err := New(newServer(t, http.StatusOK, samplePayload), persist.New(store, ""), defaultOptions(),
				WithMirror(mirror), WithOutput(&out)).Run(ctx)
			var ioErr *persist.IOError
			require.True(t, errors.As(err, &ioErr))
			assert.Equal(t, tt.wantKey, ioErr.Key)
			assert.ErrorIs(t, err, os.ErrPermission)

			infos, err := store.List(ctx, "")
			require.NoError(t, err)
			var kept []string
			for _, info := range infos {
				kept = append(kept, info.Key)
			}
			assert.ElementsMatch(t, tt.wantKept, kept)
			assert.Len(t, res.Artifacts, len(tt.wantKept))
			assert.Equal(t, tt.wantGroup, res.Groups)
			assert.Zero(t, mirror.calls)
			assert.Empty(t, out.String())
		})
	}
}

func TestRun_NonSuccessStatusWritesNothing(t *testing.T) {
	mem := blob.NewMemory()
	var out bytes.Buffer
	p := New(newServer(t, http.StatusInternalServerError, "boom"), persist.New(mem, ""), defaultOptions(), WithOutput(&out))

	_, err := p.Run(context.Background())
	var netErr *fetch.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
	assert.Zero(t, mem.Puts())
	assert.Empty(t, out.String())
}

func TestRun_SchemaErrorWritesNothing(t *testing.T) {
	mem := blob.NewMemory()
	p := New(newServer(t, http.StatusOK, `{"data":[{"Year":"2019","Population":1}]}`), persist.New(mem, ""), defaultOptions())

	_, err := p.Run(context.Background())
	var schemaErr *types.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Zero(t, mem.Puts())
}

func TestRun_EmptyPayload(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	p := New(staticFetcher{payload: &types.Payload{}}, persist.New(mem, ""), defaultOptions())

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Lines)
	assert.Equal(t, 3, mem.Puts())

	_, rc, err := mem.Get(ctx, "filtered-virginia.json")
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(rc)
	assert.Equal(t, "[]", buf.String())

	_, rc2, err := mem.Get(ctx, NestedKey)
	require.NoError(t, err)
	defer rc2.Close()
	buf.Reset()
	_, _ = buf.ReadFrom(rc2)
	assert.Equal(t, "{}", buf.String())
}

func TestRun_Sinks(t *testing.T) {
	ctx := context.Background()
	var payload types.Payload
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &payload))

	db, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer db.Close()

	opts := defaultOptions()
	opts.ShapefilePath = filepath.Join(t.TempDir(), "virginia")
	p := New(staticFetcher{payload: &payload}, persist.New(blob.NewMemory(), ""), opts, WithMirror(db))
	_, err = p.Run(ctx)
	require.NoError(t, err)

	got, err := db.QueryState(ctx, "Ohio")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	shp, err := shapefile.Read(opts.ShapefilePath)
	require.NoError(t, err)
	assert.Len(t, shp, 2)
}

func TestRun_MirrorFailureStopsBeforeReport(t *testing.T) {
	var payload types.Payload
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &payload))
	mem := blob.NewMemory()
	rec := metrics.New()
	var out bytes.Buffer

	p := New(staticFetcher{payload: &payload}, persist.New(mem, ""), defaultOptions(),
		WithMirror(failingMirror{}), WithOutput(&out), WithMetrics(rec))
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror offline")
	assert.Equal(t, 3, mem.Puts())
	assert.Empty(t, out.String())
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Virginia", "virginia"},
		{"New York", "new-york"},
		{"District of  Columbia", "district-of-columbia"},
		{"  --Puerto Rico!! ", "puerto-rico"},
		{"04000US51", "04000us51"},
		{"", "empty"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
	assert.Equal(t, "filtered-virginia.json", FilteredKey("Virginia"))
}
