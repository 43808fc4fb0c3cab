package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(attempts uint) *Fetcher {
	return New(nil, Options{
		Timeout:   2 * time.Second,
		Attempts:  attempts,
		Delay:     time.Millisecond,
		UserAgent: "test-agent",
	}, zerolog.Nop())
}

func TestFetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<a href="https://gleam.io/x/y">x</a>`)
	}))
	defer srv.Close()

	body, err := newTestFetcher(1).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gleam.io/x/y")
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(3).Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, srv.URL, fe.Source)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetch_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	body, err := newTestFetcher(3).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(1).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.True(t, IsFetchError(err))
}

func TestExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Win a console</h1><p>Enter now</p><script>var s="expired";</script></body></html>`)
	})
	mux.HandleFunc("/over", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div>This giveaway has ended.</div></body></html>`)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(1)
	ctx := context.Background()

	live, err := f.Expired(ctx, srv.URL+"/live")
	require.NoError(t, err)
	assert.False(t, live)

	over, err := f.Expired(ctx, srv.URL+"/over")
	require.NoError(t, err)
	assert.True(t, over)

	gone, err := f.Expired(ctx, srv.URL+"/gone")
	require.NoError(t, err)
	assert.True(t, gone)
}

func TestExpired_TransientStatusKeepsPost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(1)
	ctx := context.Background()

	missing, err := f.Expired(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	assert.True(t, missing)

	for _, path := range []string{"/busy", "/down"} {
		expired, err := f.Expired(ctx, srv.URL+path)
		require.Error(t, err, path)
		assert.True(t, IsFetchError(err), path)
		assert.False(t, expired, path)
	}
}
