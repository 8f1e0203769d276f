// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package jwks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meetmesh/pkg/cache"
)

// fakeSecondary is an in-memory stand-in for the Redis-backed cache.Cache
// used as the JWKS L2 tier.
type fakeSecondary struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeSecondary() *fakeSecondary {
	return &fakeSecondary{data: make(map[string][]byte)}
}

func (f *fakeSecondary) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	raw, ok := f.data[key]
	f.mu.Unlock()
	if !ok {
		return errNotFound
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeSecondary) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.data[key] = raw
	f.mu.Unlock()
	return nil
}

func (f *fakeSecondary) Delete(ctx context.Context, keys ...string) error { return nil }
func (f *fakeSecondary) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	_, ok := f.data[key]
	f.mu.Unlock()
	return ok, nil
}
func (f *fakeSecondary) IsEnabled() bool { return true }

var errNotFound = errors.New("not found")

func jwksServer(t *testing.T, kid string) (*httptest.Server, *int32) {
	t.Helper()
	var fetches int32
	x := base64.RawURLEncoding.EncodeToString(make([]byte, 32))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[{"kid":"` + kid + `","kty":"OKP","alg":"EdDSA","x":"` + x + `"}]}`))
	}))
	return srv, &fetches
}

func TestGet_FetchesAndCaches(t *testing.T) {
	srv, fetches := jwksServer(t, "key-1")
	defer srv.Close()

	c := New(srv.URL, time.Minute, 2*time.Second, nil, nil)

	k, ok, err := c.Get(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected key-1 to be found")
	}
	if k.Kty != "OKP" || k.Alg != "EdDSA" {
		t.Fatalf("unexpected key shape: %+v", k)
	}

	if _, _, err := c.Get(context.Background(), "key-1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if atomic.LoadInt32(fetches) != 1 {
		t.Fatalf("fetches = %d, want 1 (second get should hit cache)", *fetches)
	}
}

func TestGet_UnknownKidReturnsNotFound(t *testing.T) {
	srv, _ := jwksServer(t, "key-1")
	defer srv.Close()

	c := New(srv.URL, time.Minute, 2*time.Second, nil, nil)
	_, ok, err := c.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected not found for unknown kid")
	}
}

func TestGet_ConcurrentRefreshesCollapse(t *testing.T) {
	srv, fetches := jwksServer(t, "key-1")
	defer srv.Close()

	c := New(srv.URL, time.Minute, 2*time.Second, nil, nil)

	const callers = 20
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(context.Background(), "key-1")
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(fetches); got != 1 {
		t.Fatalf("fetches = %d, want 1 (concurrent misses should collapse)", got)
	}
}

func TestGet_SecondaryHitAvoidsHTTPRefresh(t *testing.T) {
	srv, fetches := jwksServer(t, "key-1")
	defer srv.Close()

	secondary := newFakeSecondary()
	c := New(srv.URL, time.Minute, 2*time.Second, nil, secondary)

	// Simulate a sibling replica having already populated the L2 tier for
	// a kid this instance has never fetched over HTTP.
	_ = secondary.Set(context.Background(), cache.JWKSKeyEntryKey("from-sibling"), Key{
		Kid: "from-sibling", Kty: "OKP", Alg: "EdDSA", X: make([]byte, 32),
	}, time.Minute)

	k, ok, err := c.Get(context.Background(), "from-sibling")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || k.Kid != "from-sibling" {
		t.Fatalf("expected secondary hit, got k=%+v ok=%v", k, ok)
	}
	if got := atomic.LoadInt32(fetches); got != 0 {
		t.Fatalf("fetches = %d, want 0 (secondary tier should have satisfied the miss)", got)
	}
}

func TestRefresh_PopulatesSecondaryTier(t *testing.T) {
	srv, _ := jwksServer(t, "key-1")
	defer srv.Close()

	secondary := newFakeSecondary()
	c := New(srv.URL, time.Minute, 2*time.Second, nil, secondary)

	if _, _, err := c.Get(context.Background(), "key-1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	var k Key
	if err := secondary.Get(context.Background(), cache.JWKSKeyEntryKey("key-1"), &k); err != nil {
		t.Fatalf("secondary should have been populated by refresh: %v", err)
	}
	if k.Kid != "key-1" {
		t.Fatalf("k = %+v", k)
	}
}

func TestInvalidate_ForcesRefreshOnNextGet(t *testing.T) {
	srv, fetches := jwksServer(t, "key-1")
	defer srv.Close()

	c := New(srv.URL, time.Minute, 2*time.Second, nil, nil)
	if _, _, err := c.Get(context.Background(), "key-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	c.Invalidate()
	if _, _, err := c.Get(context.Background(), "key-1"); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if got := atomic.LoadInt32(fetches); got != 2 {
		t.Fatalf("fetches = %d, want 2 after invalidate", got)
	}
}
