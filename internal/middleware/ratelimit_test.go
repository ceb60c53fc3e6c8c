package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// newTestRateLimiter はバースト数を直接指定したRateLimiterを生成する。
// 補充レートは極小にし、バースト消費後は確実にブロックされるようにする。
func newTestRateLimiter(generalBurst, verifyBurst int) *RateLimiter {
	return NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Limit(0.001),
		GeneralBurst:    generalBurst,
		VerifyRate:      rate.Limit(0.001),
		VerifyBurst:     verifyBurst,
		CleanupInterval: time.Hour,
	})
}

func doRequest(handler http.Handler, clientID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req = req.WithContext(ContextWithClientID(req.Context(), clientID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestRateLimiter_GeneralBurstExhaustion はバースト上限到達後の429応答を検証する。
func TestRateLimiter_GeneralBurstExhaustion(t *testing.T) {
	rl := newTestRateLimiter(3, 3)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		if rec := doRequest(handler, "client-a"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := doRequest(handler, "client-a")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
}

// TestRateLimiter_PerClientIsolation はクライアント間の制限の独立性を検証する。
func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := newTestRateLimiter(1, 1)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if rec := doRequest(handler, "client-a"); rec.Code != http.StatusOK {
		t.Fatalf("client-a first request: status = %d", rec.Code)
	}
	if rec := doRequest(handler, "client-a"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("client-a second request: status = %d, want 429", rec.Code)
	}
	// 別クライアントは影響を受けない
	if rec := doRequest(handler, "client-b"); rec.Code != http.StatusOK {
		t.Errorf("client-b first request: status = %d, want 200", rec.Code)
	}
}

// TestRateLimiter_VerifyIndependentOfGeneral は認証系と全般の制限の独立性を検証する。
func TestRateLimiter_VerifyIndependentOfGeneral(t *testing.T) {
	rl := newTestRateLimiter(1, 2)
	defer rl.Stop()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	general := rl.GeneralMiddleware()(ok)
	verify := rl.VerifyMiddleware()(ok)

	// 全般の1トークンを使い切る
	doRequest(general, "client-a")
	if rec := doRequest(general, "client-a"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("general should be exhausted, got %d", rec.Code)
	}

	// 認証系は独立したバケットを持つ
	if rec := doRequest(verify, "client-a"); rec.Code != http.StatusOK {
		t.Errorf("verify request: status = %d, want 200", rec.Code)
	}
}

// TestRateLimiter_MissingClientID は未認証コンテキストの401応答を検証する。
func TestRateLimiter_MissingClientID(t *testing.T) {
	rl := newTestRateLimiter(1, 1)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// TestRateLimiter_LimiterCount はクライアントごとのエントリ数の計上を検証する。
func TestRateLimiter_LimiterCount(t *testing.T) {
	rl := newTestRateLimiter(5, 5)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	verify := rl.VerifyMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	doRequest(general, "client-a")
	doRequest(general, "client-b")
	doRequest(verify, "client-a")

	g, v := rl.LimiterCount()
	if g != 2 {
		t.Errorf("general limiters = %d, want 2", g)
	}
	if v != 1 {
		t.Errorf("verify limiters = %d, want 1", v)
	}
}

// TestNewRateLimiterConfig はreq/min指定からの変換を検証する。
func TestNewRateLimiterConfig(t *testing.T) {
	config := NewRateLimiterConfig(120, 30)
	if config.GeneralRate != rate.Limit(2.0) {
		t.Errorf("GeneralRate = %v, want 2.0", config.GeneralRate)
	}
	if config.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", config.GeneralBurst)
	}
	if config.VerifyRate != rate.Limit(0.5) {
		t.Errorf("VerifyRate = %v, want 0.5", config.VerifyRate)
	}
	if config.VerifyBurst != 30 {
		t.Errorf("VerifyBurst = %d, want 30", config.VerifyBurst)
	}
}
