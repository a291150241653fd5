package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeDay(t *testing.T, root, feed, date string, files map[string][]byte) {
	t.Helper()
	dir := filepath.Join(root, feed, date)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	m := Manifest{Feed: feed, Date: date, Format: "jsonl"}
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	i := 0
	for _, name := range []string{"0000.jsonl.gz", "0100.jsonl.gz", "0200.jsonl.gz"} {
		data, ok := files[name]
		if !ok {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
		m.Files = append(m.Files, FileEntry{Name: name, Start: start.Add(time.Duration(i) * time.Hour), Bytes: uint64(len(data))})
		i++
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644))
}

func TestDates(t *testing.T) {
	dates, err := Dates("2026-01-30", "2026-02-02")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-30", "2026-01-31", "2026-02-01", "2026-02-02"}, dates)

	dates, err = Dates("2026-01-30", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-30"}, dates)

	_, err = Dates("2026-02-02", "2026-01-30")
	assert.Error(t, err)
	_, err = Dates("yesterday", "")
	assert.Error(t, err)
}

func TestManifestOrdered(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	m := Manifest{Files: []FileEntry{
		{Name: "b.jsonl.gz", Start: t0.Add(time.Hour), Records: 2},
		{Name: "a.jsonl.gz", Start: t0, Records: 3},
		{Name: "c.jsonl", Start: t0.Add(time.Hour), Records: 1},
	}}
	ordered := m.Ordered()
	assert.Equal(t, "a.jsonl.gz", ordered[0].Name)
	assert.Equal(t, "b.jsonl.gz", ordered[1].Name)
	assert.Equal(t, "c.jsonl", ordered[2].Name)
	assert.False(t, ordered[2].Compressed())
	assert.Equal(t, uint64(6), m.TotalRecords())
	assert.Equal(t, "b.jsonl.gz", m.Files[0].Name, "original order untouched")
}

func TestLocalStoreNotFound(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	_, err := store.Manifest(context.Background(), "kalshi", "2026-01-02")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.Open(context.Background(), "kalshi", "2026-01-02", "x.jsonl.gz")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLinesSkipsBlankAndReadsLastLine(t *testing.T) {
	root := t.TempDir()
	writeDay(t, root, "kalshi", "2026-01-02", map[string][]byte{
		"0000.jsonl.gz": gzipped(t, `{"a":1}`, "", "  ", `{"a":2}`, `{"a":3}`),
	})
	store := NewLocalStore(root)
	rc, err := store.Open(context.Background(), "kalshi", "2026-01-02", "0000.jsonl.gz")
	require.NoError(t, err)
	lines, err := NewLines(rc, true)
	require.NoError(t, err)
	defer lines.Close()

	var got []string
	for lines.Next() {
		got = append(got, string(lines.Bytes()))
	}
	require.NoError(t, lines.Err())
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}, got)
	assert.Equal(t, 3, lines.Count())
}

func TestLinesRejectsCorruptGzip(t *testing.T) {
	_, err := NewLines(io.NopCloser(strings.NewReader("not gzip")), true)
	assert.Error(t, err)
}

func TestHTTPStoreCachesObjects(t *testing.T) {
	origin := t.TempDir()
	writeDay(t, origin, "kalshi", "2026-01-02", map[string][]byte{
		"0000.jsonl.gz": gzipped(t, `{"a":1}`),
	})
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeFile(w, r, filepath.Join(origin, filepath.FromSlash(r.URL.Path)))
	}))
	defer server.Close()

	cache := NewLocalStore(t.TempDir())
	store := NewHTTPStore(zerolog.Nop(), server.URL, cache, WithHTTPClient(server.Client()), WithRateLimit(1000, 10))
	ctx := context.Background()

	m, err := store.Manifest(ctx, "kalshi", "2026-01-02")
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	_, err = store.Manifest(ctx, "kalshi", "2026-01-02")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second manifest read comes from cache")

	rc, err := store.Open(ctx, "kalshi", "2026-01-02", "0000.jsonl.gz")
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.True(t, cache.Has("kalshi", "2026-01-02", "0000.jsonl.gz"))

	_, err = store.Manifest(ctx, "kalshi", "2026-01-03")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHTTPStoreBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewHTTPStore(zerolog.Nop(), server.URL, NewLocalStore(t.TempDir()), WithHTTPClient(server.Client()), WithRateLimit(1000, 10))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.Manifest(ctx, "kalshi", "2026-01-02")
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	_, err := store.Manifest(ctx, "kalshi", "2026-01-02")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestPrefetchReportsMissingDates(t *testing.T) {
	origin := t.TempDir()
	writeDay(t, origin, "kalshi", "2026-01-02", map[string][]byte{
		"0000.jsonl.gz": gzipped(t, `{"a":1}`),
		"0100.jsonl.gz": gzipped(t, `{"a":2}`),
	})
	server := httptest.NewServer(http.FileServer(http.Dir(origin)))
	defer server.Close()

	cache := NewLocalStore(t.TempDir())
	store := NewHTTPStore(zerolog.Nop(), server.URL, cache, WithHTTPClient(server.Client()), WithRateLimit(1000, 10))
	res, err := Prefetch(context.Background(), store, "kalshi", []string{"2026-01-02", "2026-01-03"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dates)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, []string{"2026-01-03"}, res.Missing)
	assert.True(t, cache.Has("kalshi", "2026-01-02", "0100.jsonl.gz"))
}
