package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResponseCacheServesHits(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newResponseCache(time.Minute)
	wrapped := c.wrap(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"n":1}`))
	})

	first := httptest.NewRecorder()
	wrapped(first, httptest.NewRequest("GET", "/api/tickers", nil))
	second := httptest.NewRecorder()
	wrapped(second, httptest.NewRequest("GET", "/api/tickers", nil))

	if calls != 1 {
		t.Fatalf("handler rendered %d times, want 1", calls)
	}
	if second.Header().Get("X-Cache") != "HIT" {
		t.Error("second response missing X-Cache header")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("bodies differ: %q vs %q", first.Body.String(), second.Body.String())
	}
}

func TestResponseCacheKeysIncludeQuery(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newResponseCache(time.Minute)
	wrapped := c.wrap(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[]`))
	})

	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/tickers?tokens=A", nil))
	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/tickers?tokens=B", nil))

	if calls != 2 {
		t.Fatalf("distinct query strings rendered %d times, want 2", calls)
	}
}

func TestResponseCacheExpiryAndSweep(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newResponseCache(10 * time.Millisecond)
	wrapped := c.wrap(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	})

	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/a", nil))
	time.Sleep(20 * time.Millisecond)

	// An expired entry is a miss, and the next write sweeps it out.
	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/b", nil))
	if calls != 2 {
		t.Fatalf("handler rendered %d times, want 2 after expiry", calls)
	}
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	if n != 1 {
		t.Fatalf("cache holds %d entries after sweep, want 1", n)
	}
}

func TestResponseCacheSkipsErrorResponses(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newResponseCache(time.Minute)
	wrapped := c.wrap(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/tickers", nil))
	rec := httptest.NewRecorder()
	wrapped(rec, httptest.NewRequest("GET", "/api/tickers", nil))

	if calls != 2 {
		t.Fatalf("error response was cached: %d renders, want 2", calls)
	}
	if rec.Header().Get("X-Cache") == "HIT" {
		t.Error("error response served from cache")
	}
}

func TestResponseCacheDisabledWithZeroTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newResponseCache(0)
	wrapped := c.wrap(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	})

	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/tickers", nil))
	wrapped(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/tickers", nil))

	if calls != 2 {
		t.Fatalf("zero TTL must disable caching: %d renders, want 2", calls)
	}
}
