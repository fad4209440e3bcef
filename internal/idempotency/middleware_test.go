package idempotency

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mrgun/server/internal/auth"
)

func newCountingHandler(callCount *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*callCount++
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func postAs(handler http.Handler, subject, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, nil)
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	if subject != "" {
		claims := &auth.Claims{
			Type:             string(auth.TokenOperator),
			RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, time.Hour)(newCountingHandler(&callCount, http.StatusOK, "success"))

	rec := postAs(handler, "op_1", "/operators/me/refunds", "")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get(HeaderReplay) != "" {
		t.Error("expected no replay header without a key")
	}
	if callCount != 1 {
		t.Errorf("handler calls = %d, want 1", callCount)
	}
}

func TestMiddlewareReplaysCachedResponse(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, time.Hour)(newCountingHandler(&callCount, http.StatusCreated, `{"refund_id":"rf_1"}`))

	first := postAs(handler, "op_1", "/operators/me/refunds", "retry-abc")
	second := postAs(handler, "op_1", "/operators/me/refunds", "retry-abc")

	if first.Header().Get(HeaderReplay) != "" {
		t.Error("expected no replay header on the first request")
	}
	if second.Header().Get(HeaderReplay) != "true" {
		t.Error("expected the replay header on the repeat")
	}
	if second.Code != http.StatusCreated {
		t.Errorf("replayed status = %d, want 201", second.Code)
	}
	if second.Body.String() != `{"refund_id":"rf_1"}` {
		t.Errorf("replayed body = %s, want the original", second.Body.String())
	}
	if callCount != 1 {
		t.Errorf("handler calls = %d, want 1", callCount)
	}
}

func TestMiddlewareScopesKeysByAccount(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, time.Hour)(newCountingHandler(&callCount, http.StatusOK, "ok"))

	// The same client key from two different accounts must not collide.
	recA := postAs(handler, "op_a", "/operators/me/refunds", "shared-key")
	recB := postAs(handler, "op_b", "/operators/me/refunds", "shared-key")

	if callCount != 2 {
		t.Errorf("handler calls = %d, want 2 for two accounts", callCount)
	}
	if recA.Header().Get(HeaderReplay) != "" || recB.Header().Get(HeaderReplay) != "" {
		t.Error("neither account should see a replayed response")
	}

	// The owning account replays as usual.
	recA2 := postAs(handler, "op_a", "/operators/me/refunds", "shared-key")
	if recA2.Header().Get(HeaderReplay) != "true" {
		t.Error("expected the owning account to get the cached response")
	}
	if callCount != 2 {
		t.Errorf("handler calls = %d, want 2 after replay", callCount)
	}
}

func TestMiddlewareScopesKeysByEndpoint(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, time.Hour)(newCountingHandler(&callCount, http.StatusOK, "ok"))

	postAs(handler, "op_1", "/operators/me/refunds", "key-1")
	postAs(handler, "op_1", "/operators/me/recharges", "key-1")

	if callCount != 2 {
		t.Errorf("handler calls = %d, want 2 across endpoints", callCount)
	}
}

func TestMiddlewareDifferentKeysBothExecute(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, time.Hour)(newCountingHandler(&callCount, http.StatusOK, "ok"))

	rec1 := postAs(handler, "op_1", "/operators/me/refunds", "key-1")
	rec2 := postAs(handler, "op_1", "/operators/me/refunds", "key-2")

	if callCount != 2 {
		t.Errorf("handler calls = %d, want 2", callCount)
	}
	if rec1.Header().Get(HeaderReplay) != "" || rec2.Header().Get(HeaderReplay) != "" {
		t.Error("expected no replay header for distinct keys")
	}
}

func TestMiddlewareDoesNotCacheErrors(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, time.Hour)(newCountingHandler(&callCount, http.StatusBadRequest, "error"))

	postAs(handler, "op_1", "/operators/me/refunds", "retry-after-error")
	rec2 := postAs(handler, "op_1", "/operators/me/refunds", "retry-after-error")

	if callCount != 2 {
		t.Errorf("handler calls = %d, want 2 for failed requests", callCount)
	}
	if rec2.Header().Get(HeaderReplay) != "" {
		t.Error("expected no replay header for an error response")
	}
}

func TestMiddlewarePreservesHeaders(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	handler := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))

	postAs(handler, "op_1", "/operators/me/refunds", "headers-key")
	rec2 := postAs(handler, "op_1", "/operators/me/refunds", "headers-key")

	if rec2.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", rec2.Header().Get("Content-Type"))
	}
	if rec2.Header().Get("X-Request-Id") != "req-1" {
		t.Errorf("X-Request-Id = %q, want the cached value", rec2.Header().Get("X-Request-Id"))
	}
	if rec2.Header().Get(HeaderReplay) != "true" {
		t.Error("expected the replay header")
	}
}

func TestMiddlewareTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, 50*time.Millisecond)(newCountingHandler(&callCount, http.StatusOK, "ok"))

	postAs(handler, "op_1", "/operators/me/refunds", "short-ttl")
	time.Sleep(100 * time.Millisecond)
	rec2 := postAs(handler, "op_1", "/operators/me/refunds", "short-ttl")

	if rec2.Header().Get(HeaderReplay) != "" {
		t.Error("expected no replay after the TTL expired")
	}
	if callCount != 2 {
		t.Errorf("handler calls = %d, want 2 after expiry", callCount)
	}
}

func TestMiddlewareZeroTTLUsesDefault(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	callCount := 0
	handler := Middleware(store, 0)(newCountingHandler(&callCount, http.StatusOK, "ok"))

	postAs(handler, "op_1", "/operators/me/refunds", "default-ttl")
	rec2 := postAs(handler, "op_1", "/operators/me/refunds", "default-ttl")

	if rec2.Header().Get(HeaderReplay) != "true" {
		t.Error("expected the default TTL to keep the entry alive")
	}
	if callCount != 1 {
		t.Errorf("handler calls = %d, want 1", callCount)
	}
}
