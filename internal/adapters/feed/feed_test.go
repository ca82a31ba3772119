package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/tradevalue/internal/domain/pricing"
	"github.com/okian/tradevalue/pkg/logger"
)

func init() {
	_ = logger.Init()
}

const payload = `[
	{"asset_id":"p1","raw_value":5000,"as_of":"2025-09-01T00:00:00Z"},
	{"asset_id":"p1","raw_value":5400,"as_of":"2025-10-01T00:00:00Z"},
	{"asset_id":"p2","raw_value":3100,"as_of":"2025-10-01T00:00:00Z"}
]`

type failing struct{ err error }

func (f failing) Fetch(context.Context) ([]pricing.RawValue, error) { return nil, f.err }

func TestRefresherSwapsBook(t *testing.T) {
	pricer := pricing.NewPricer()
	r := NewRefresher(Static{
		{AssetID: "p1", RawValue: 100, AsOf: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)},
		{AssetID: "p2", RawValue: 200, AsOf: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)},
	}, pricer)

	n, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, pricer.Book().Assets())

	last, lastErr := r.Status()
	assert.False(t, last.IsZero())
	assert.NoError(t, lastErr)
}

func TestRefresherKeepsBookOnFailure(t *testing.T) {
	pricer := pricing.NewPricer()
	good := pricing.NewValueBook([]pricing.RawValue{{AssetID: "p1", RawValue: 10}})
	pricer.SwapBook(good)

	boom := errors.New("upstream down")
	r := NewRefresher(failing{err: boom}, pricer)
	_, err := r.Refresh(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Same(t, good, pricer.Book())

	_, lastErr := r.Status()
	assert.ErrorIs(t, lastErr, boom)

	_, err = NewRefresher(Static{}, pricer).Refresh(context.Background())
	assert.ErrorIs(t, err, ErrEmptyFeed)
	assert.Same(t, good, pricer.Book())
}

func TestHTTPSource(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{URL: srv.URL, APIKey: "secret", RPS: 100, Burst: 10}, srv.Client())
	values, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, "p1", values[0].AssetID)
	assert.Equal(t, 5400.0, values[1].RawValue)
	assert.Equal(t, "Bearer secret", auth.Load())

	book := pricing.NewValueBook(values)
	v, ok := book.Lookup("p1", time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, 5000.0, v)
}

func TestHTTPSourceBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{URL: srv.URL, RPS: 1000, Burst: 10}, srv.Client())
	for i := 0; i < 3; i++ {
		_, err := src.Fetch(context.Background())
		require.Error(t, err)
	}
	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSourceRespectsContext(t *testing.T) {
	src := NewHTTPSource(HTTPConfig{URL: "http://127.0.0.1:1", RPS: 0.001, Burst: 1}, nil)
	// drain the single token
	src.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.Fetch(ctx)
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "values.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	values, err := FileSource{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, values, 3)

	_, err = FileSource{Path: filepath.Join(dir, "missing.json")}.Fetch(context.Background())
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = FileSource{Path: path}.Fetch(context.Background())
	assert.Error(t, err)
}
