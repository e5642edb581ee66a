package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type switchable struct {
	err atomic.Pointer[error]
}

func (s *switchable) set(err error) { s.err.Store(&err) }

func (s *switchable) Ping(context.Context) error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func get(t *testing.T, h http.Handler, path string) (int, statusBody) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func router(s *Service) http.Handler {
	r := chi.NewRouter()
	s.Mount(r)
	return r
}

func TestReadyz_RequiresManualFlag(t *testing.T) {
	s := New(zap.NewNop())
	r := router(s)

	code, body := get(t, r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "service is not ready", body.Checks["_readiness"])

	s.SetReady(true)
	code, body = get(t, r, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Checks)
	assert.True(t, s.Ready())
}

func TestPoll_FailureThreshold(t *testing.T) {
	db := &switchable{}
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(zap.New(core), Check{Name: "postgres", Kind: Readiness, Func: PingCheck(db)})
	s.SetReady(true)
	r := router(s)
	ctx := context.Background()

	db.set(errors.New("connection refused"))
	s.pollAll(ctx)
	s.pollAll(ctx)
	code, _ := get(t, r, "/readyz")
	assert.Equal(t, http.StatusOK, code, "two failures stay below the threshold")

	s.pollAll(ctx)
	code, body := get(t, r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "connection refused", body.Checks["postgres"])
	assert.False(t, s.Ready())
	assert.Equal(t, 1, logs.FilterMessage("Health check failing").Len())

	// Liveness is unaffected by readiness checks.
	code, _ = get(t, r, "/livez")
	assert.Equal(t, http.StatusOK, code)

	db.set(nil)
	s.pollAll(ctx)
	code, _ = get(t, r, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, logs.FilterMessage("Health check recovered").Len())
}

func TestLive_FailingCheck(t *testing.T) {
	s := New(zap.NewNop(), Check{
		Name:             "goroutines",
		Kind:             Liveness,
		Func:             GoroutineCountCheck(0),
		FailureThreshold: 1,
	})
	s.pollAll(context.Background())

	code, body := get(t, router(s), "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks["goroutines"], "exceeds threshold 0")
}

func TestPoll_Timeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s := New(zap.NewNop(), Check{
		Name:             "slow",
		Kind:             Readiness,
		Timeout:          10 * time.Millisecond,
		Func:             slow,
		FailureThreshold: 1,
	})
	s.SetReady(true)
	s.pollAll(context.Background())

	_, body := get(t, router(s), "/readyz")
	assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["slow"])
}

func TestRun_StopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	s := New(zap.NewNop(), Check{Name: "count", Kind: Liveness, Func: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
