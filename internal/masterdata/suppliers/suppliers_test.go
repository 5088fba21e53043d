package suppliers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/retailops/stockledger/internal/platform/cache"
)

type stubRepo struct {
	calls     int
	suppliers []Supplier
	err       error
}

func (s *stubRepo) ListActive(context.Context) ([]Supplier, error) {
	s.calls++
	return s.suppliers, s.err
}

func newCachedService(t *testing.T, repo Repository) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, cache.NewJSONCache(client, "stockledger:test", time.Minute))
}

func TestListIsCachedAndFiltered(t *testing.T) {
	repo := &stubRepo{suppliers: []Supplier{{ID: 1, Code: "ACM", Name: "Acme Foods"}, {ID: 2, Code: "GLB", Name: "Globex"}}}
	svc := newCachedService(t, repo)
	ctx := context.Background()

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	filtered, err := svc.List(ctx, "glb")
	require.NoError(t, err)
	require.Equal(t, []Supplier{{ID: 2, Code: "GLB", Name: "Globex"}}, filtered)
	require.Equal(t, 1, repo.calls)

	ok, err := svc.Exists(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.Exists(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.Invalidate(ctx))
	_, err = svc.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
}

func TestHandlerList(t *testing.T) {
	repo := &stubRepo{suppliers: []Supplier{{ID: 1, Code: "ACM", Name: "Acme Foods"}}}
	r := chi.NewRouter()
	r.Route("/suppliers", NewHandler(nil, NewService(repo, nil)).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/suppliers/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got []Supplier
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, repo.suppliers, got)

	repo.err = errors.New("db down")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/suppliers/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
