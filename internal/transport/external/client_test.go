package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(&Config{
		BaseURL:    srv.URL + "/api/",
		APIKey:     "ext-key",
		SourceName: "news",
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestKeywordSearch_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "tax rules" || r.URL.Query().Get("limit") != "20" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer ext-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documents":[
			{"id":"a1","content":"first","source":"wiki","title":"First","metadata":{"lang":"en"}},
			{"id":7,"content":"second"},
			{"content":"third"},
			{"id":"blank","content":"   "}
		]}`))
	})

	docs, err := c.KeywordSearch(context.Background(), "tax rules", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs (blank content dropped), got %d", len(docs))
	}
	if docs[0].ID != "a1" || docs[0].SourceName != "wiki" || docs[0].Title != "First" || docs[0].Metadata["lang"] != "en" {
		t.Errorf("doc[0] = %+v", docs[0])
	}
	if docs[1].ID != "7" || docs[1].SourceName != "news" {
		t.Errorf("doc[1] = %+v", docs[1])
	}
	if docs[2].ID == "" {
		t.Error("doc without id should get a derived id")
	}
}

func TestKeywordSearch_DerivedIDIsDeterministic(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"documents":[{"content":"same body"}]}`))
	})

	first, err := c.KeywordSearch(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.KeywordSearch(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first[0].ID != second[0].ID {
		t.Errorf("ids differ: %q vs %q", first[0].ID, second[0].ID)
	}
}

func TestKeywordSearch_TruncatesToLimit(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"documents":[{"id":"1","content":"a"},{"id":"2","content":"b"},{"id":"3","content":"c"}]}`))
	})
	docs, err := c.KeywordSearch(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 docs, got %d", len(docs))
	}
}

func TestKeywordSearch_ZeroLimitSkipsRequest(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	docs, err := c.KeywordSearch(context.Background(), "q", 0)
	if err != nil || docs != nil {
		t.Fatalf("expected nil, nil; got %v, %v", docs, err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no request expected")
	}
}

func TestKeywordSearch_Non2xx(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	_, err := c.KeywordSearch(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrExternalClient) {
		t.Fatalf("expected ErrExternalClient, got %v", err)
	}
}

func TestKeywordSearch_MalformedBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"documents":`))
	})
	_, err := c.KeywordSearch(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrExternalClient) {
		t.Fatalf("expected ErrExternalClient, got %v", err)
	}
}

func TestKeywordSearch_RateLimitedBacksOff(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.KeywordSearch(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrRateLimited) || !errors.Is(err, domain.ErrExternalClient) {
		t.Fatalf("expected rate limited external error, got %v", err)
	}

	// second call fails fast inside the Retry-After window
	_, err = c.KeywordSearch(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected backoff error, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestKeywordSearch_ContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.KeywordSearch(ctx, "q", 5)
	if !errors.Is(err, domain.ErrExternalClient) {
		t.Fatalf("expected ErrExternalClient, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("4xx means reachable, got %v", err)
	}

	down, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := down.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for 503")
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(&Config{BaseURL: "not a url"}); err == nil {
		t.Fatal("expected error")
	}
}
