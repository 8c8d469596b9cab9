package upstream

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/ci-api/internal/domain"
)

var (
	testRepo   = &domain.Repository{ID: 1, OwnerName: "svenfuchs", Name: "minimal"}
	master     = &domain.Branch{ID: 1, RepositoryID: 1, Name: "master", ExistsOnGitHub: true}
	goneBranch = &domain.Branch{ID: 2, RepositoryID: 1, Name: "gone", ExistsOnGitHub: false}
)

func TestStoredChecker(t *testing.T) {
	c := NewStoredChecker()
	ok, err := c.BranchExists(context.Background(), testRepo, master)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.BranchExists(context.Background(), testRepo, goneBranch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func newGitHubServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/svenfuchs/minimal/git/ref/heads/master", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ref":"refs/heads/master","object":{"sha":"add057e66c3e1d59ef1f","type":"commit"}}`))
	})
	mux.HandleFunc("/repos/svenfuchs/minimal/git/ref/heads/gone", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
	mux.HandleFunc("/repos/svenfuchs/minimal/git/ref/heads/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestGitHubChecker(t *testing.T) {
	var hits int32
	server := newGitHubServer(t, &hits)
	c, err := NewGitHubChecker("test-token", server.URL)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := c.BranchExists(ctx, testRepo, master)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.BranchExists(ctx, testRepo, goneBranch)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.BranchExists(ctx, testRepo, &domain.Branch{Name: "broken"})
	assert.Error(t, err)
}

func TestGitHubCheckerTracksRateBudget(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		_, _ = w.Write([]byte(`{"ref":"refs/heads/master","object":{"sha":"add057e66c3e1d59ef1f","type":"commit"}}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	c, err := NewGitHubChecker("test-token", server.URL)
	require.NoError(t, err)
	ok, err := c.BranchExists(context.Background(), testRepo, master)
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, resetTime := c.(*githubChecker).rateLimiter.CheckLimit()
	assert.Equal(t, 42, remaining)
	assert.True(t, reset.Equal(resetTime))
	assert.Contains(t, buf.String(), "42 requests remaining")
}

func TestCachedCheckerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), mr.Addr(), "")
	require.NoError(t, err)
	defer cache.Close()

	var hits int32
	server := newGitHubServer(t, &hits)
	gh, err := NewGitHubChecker("test-token", server.URL)
	require.NoError(t, err)
	c := NewCachedChecker(gh, cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.BranchExists(ctx, testRepo, master)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.BranchExists(ctx, testRepo, goneBranch)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.BranchExists(ctx, testRepo, goneBranch)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, "1", mustGet(t, mr, "upstream:branch:1:master"))
	assert.Equal(t, "0", mustGet(t, mr, "upstream:branch:1:gone"))

	mr.FastForward(2 * time.Minute)
	_, err = c.BranchExists(ctx, testRepo, master)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

type countingChecker struct {
	calls  int
	exists bool
}

func (c *countingChecker) BranchExists(context.Context, *domain.Repository, *domain.Branch) (bool, error) {
	c.calls++
	return c.exists, nil
}

func TestCachedCheckerWithMemoryCache(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	next := &countingChecker{exists: true}
	c := NewCachedChecker(next, cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := c.BranchExists(ctx, testRepo, master)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, next.calls)

	now = now.Add(time.Minute)
	_, err := c.BranchExists(ctx, testRepo, master)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, rl.Wait(ctx))
	cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}

func TestRateLimiterUpdateLimit(t *testing.T) {
	rl := NewRateLimiter(0)
	reset := time.Now().Add(time.Minute)
	rl.UpdateLimit(42, reset)

	remaining, resetTime := rl.CheckLimit()
	assert.Equal(t, 42, remaining)
	assert.Equal(t, reset, resetTime)
}
