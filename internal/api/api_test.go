package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/ci-api/internal/access"
	"github.com/kurihiro0119/ci-api/internal/auth"
	"github.com/kurihiro0119/ci-api/internal/domain"
	"github.com/kurihiro0119/ci-api/internal/pagination"
	"github.com/kurihiro0119/ci-api/internal/service"
	"github.com/kurihiro0119/ci-api/internal/storage"
	"github.com/kurihiro0119/ci-api/internal/storage/sqlite"
	"github.com/kurihiro0119/ci-api/internal/upstream"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "ci.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, storage.Seed(context.Background(), store))

	svc := service.NewService(store, access.NewOracle(store), upstream.NewStoredChecker())
	return SetupRoutes(NewHandler(svc, pagination.DefaultPolicy()), testSecret, store)
}

func tokenFor(t *testing.T, userID int64) string {
	t.Helper()
	token, err := auth.Issue(testSecret, &domain.Caller{UserID: userID}, time.Hour)
	require.NoError(t, err)
	return "token " + token
}

func do(router *gin.Engine, method, target, authorization, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestListBuildsBySlug(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/v3/repo/svenfuchs%2Fminimal/builds?limit=1", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	expected := `{
		"@type": "builds",
		"@href": "/v3/repo/svenfuchs%2Fminimal/builds?limit=1",
		"@pagination": {
			"limit": 1, "offset": 0, "count": 3, "is_first": true, "is_last": false,
			"next":  {"@href": "/v3/repo/svenfuchs%2Fminimal/builds?limit=1&offset=1", "offset": 1, "limit": 1},
			"prev":  null,
			"first": {"@href": "/v3/repo/svenfuchs%2Fminimal/builds?limit=1", "offset": 0, "limit": 1},
			"last":  {"@href": "/v3/repo/svenfuchs%2Fminimal/builds?limit=1&offset=2", "offset": 2, "limit": 1}
		},
		"builds": [{
			"@type": "build",
			"@href": "/v3/build/3",
			"id": 3,
			"number": "3",
			"state": "configured",
			"duration": null,
			"event_type": "push",
			"previous_state": "passed",
			"started_at": "2010-11-12T13:00:00Z",
			"finished_at": null,
			"repository": {"@type": "repository", "@href": "/v3/repo/1", "id": 1, "slug": "svenfuchs/minimal"},
			"branch": {
				"@type": "branch",
				"@href": "/v3/repo/1/branch/master",
				"name": "master",
				"last_build": {"@href": "/v3/build/3"}
			},
			"commit": {
				"@type": "commit",
				"id": 5,
				"sha": "add057e66c3e1d59ef1f",
				"ref": "refs/heads/master",
				"message": "unignore Gemfile.lock",
				"compare_url": "https://github.com/svenfuchs/minimal/compare/master...develop",
				"committed_at": "2010-11-12T12:55:00Z"
			}
		}]
	}`
	assert.JSONEq(t, expected, w.Body.String())
}

func TestListBuildsPaginationByID(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/v3/repo/1/builds?limit=1&offset=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Pagination pagination.Info          `json:"@pagination"`
		Builds     []map[string]interface{} `json:"builds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Pagination.IsLast)
	assert.False(t, body.Pagination.IsFirst)
	assert.Nil(t, body.Pagination.Next)
	require.NotNil(t, body.Pagination.Prev)
	assert.Equal(t, 1, body.Pagination.Prev.Offset)
	require.Len(t, body.Builds, 1)
	assert.Equal(t, float64(1), body.Builds[0]["id"])
}

func TestListBuildsOffsetAtMaxInt(t *testing.T) {
	router := newTestRouter(t)
	w := do(router, http.MethodGet, "/v3/repo/1/builds?limit=10&offset=9223372036854775807", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Pagination pagination.Info          `json:"@pagination"`
		Builds     []map[string]interface{} `json:"builds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Builds)
	assert.Equal(t, 3, body.Pagination.Count)
	assert.True(t, body.Pagination.IsLast)
	assert.Nil(t, body.Pagination.Next)
	require.NotNil(t, body.Pagination.Prev)
	assert.GreaterOrEqual(t, body.Pagination.Prev.Offset, 0)
	assert.Equal(t, 0, body.Pagination.Last.Offset)
}

func TestListBuildsBranchFilter(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/v3/repo/1/builds?branch.name=develop", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body["builds"], 1)
	assert.Equal(t, float64(1), body["@pagination"].(map[string]interface{})["count"])

	w = do(router, http.MethodGet, "/v3/repo/1/builds?branch.name=nope", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []interface{}{}, body["builds"])
	assert.Equal(t, float64(0), body["@pagination"].(map[string]interface{})["count"])
}

func TestRepositoryNotFound(t *testing.T) {
	router := newTestRouter(t)
	notFound := `{
		"@type": "error",
		"error_type": "not_found",
		"error_message": "repository not found (or insufficient access)",
		"resource_type": "repository"
	}`

	missing := do(router, http.MethodGet, "/v3/repo/svenfuchs%2Fdoes-not-exist/builds", "", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.JSONEq(t, notFound, missing.Body.String())

	for name, authorization := range map[string]string{
		"anonymous": "",
		"outsider":  tokenFor(t, storage.FixtureOutsiderID),
		"bad token": "token not-a-jwt",
	} {
		w := do(router, http.MethodGet, "/v3/repo/svenfuchs%2Fsecret/builds", authorization, "")
		assert.Equal(t, http.StatusNotFound, w.Code, name)
		assert.JSONEq(t, notFound, w.Body.String(), name)
	}

	w := do(router, http.MethodGet, "/v3/repo/svenfuchs%2Fsecret/builds", tokenFor(t, storage.FixtureAdminID), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFindResources(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/v3/repo/1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"@type": "repository", "@href": "/v3/repo/1", "id": 1, "slug": "svenfuchs/minimal",
		"name": "minimal", "owner_name": "svenfuchs", "private": false
	}`, w.Body.String())

	w = do(router, http.MethodGet, "/v3/repo/1/branch/master", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"@type": "branch", "@href": "/v3/repo/1/branch/master", "name": "master",
		"repository": {"@type": "repository", "@href": "/v3/repo/1", "id": 1, "slug": "svenfuchs/minimal"},
		"exists_on_github": true,
		"last_build": {"@href": "/v3/build/3"}
	}`, w.Body.String())

	w = do(router, http.MethodGet, "/v3/build/2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"number":"2"`)

	w = do(router, http.MethodGet, "/v3/build/abc", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"resource_type":"build"`)

	w = do(router, http.MethodGet, "/v3/repo/1/settings", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"build_pushes","value":true`)

	w = do(router, http.MethodGet, "/v3/repo/1/setting/maximum_number_of_builds", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"@type": "setting", "@href": "/v3/repo/1/setting/maximum_number_of_builds",
		"name": "maximum_number_of_builds", "value": 0
	}`, w.Body.String())

	w = do(router, http.MethodGet, "/v3/repo/1/setting/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"resource_type":"setting"`)
}

func TestCreateCronErrors(t *testing.T) {
	router := newTestRouter(t)
	target := "/v3/repo/svenfuchs%2Fminimal/branch/master/cron"

	w := do(router, http.MethodPost, target, "", `{"interval":"daily"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, target, tokenFor(t, storage.FixtureReaderID), `{"interval":"hourly"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{
		"@type": "error",
		"error_type": "error",
		"error_message": "Invalid value for interval. Interval must be \"daily\", \"weekly\" or \"monthly\"!"
	}`, w.Body.String())

	w = do(router, http.MethodPost, "/v3/repo/1/branch/gone/cron", tokenFor(t, storage.FixtureReaderID), `{"interval":"hourly"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Crons can only be set up for branches existing on GitHub!")

	w = do(router, http.MethodPost, target, tokenFor(t, storage.FixtureReaderID), `{"interval":"daily"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{
		"@type": "error",
		"error_type": "insufficient_access",
		"error_message": "operation requires create_cron access to repository",
		"resource_type": "repository",
		"permission": "create_cron"
	}`, w.Body.String())

	w = do(router, http.MethodPost, target, tokenFor(t, storage.FixturePusherID), `{"interval":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, target, tokenFor(t, storage.FixturePusherID), "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "missing interval")
}

func TestCreateFindDeleteCron(t *testing.T) {
	router := newTestRouter(t)
	pusher := tokenFor(t, storage.FixturePusherID)

	w := do(router, http.MethodPost, "/v3/repo/1/branch/master/cron", pusher,
		`{"cron.interval":"weekly","cron.run_only_when_new_commit":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "cron", created["@type"])
	assert.Equal(t, "weekly", created["interval"])
	assert.Equal(t, true, created["run_only_when_new_commit"])
	assert.Nil(t, created["last_run"])
	assert.NotNil(t, created["next_run"])
	href := created["@href"].(string)

	w = do(router, http.MethodGet, "/v3/repo/1/branch/master/cron", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"@href":"`+href+`"`)

	w = do(router, http.MethodGet, "/v3/repo/1/crons", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(router, http.MethodDelete, href, tokenFor(t, storage.FixtureReaderID), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, http.MethodDelete, href, pusher, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodGet, href, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplaceCronViaAPI(t *testing.T) {
	router := newTestRouter(t)
	admin := tokenFor(t, storage.FixtureAdminID)

	for _, interval := range []string{"daily", "monthly"} {
		w := do(router, http.MethodPost, "/v3/repo/1/branch/develop/cron", admin, `{"interval":"`+interval+`"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := do(router, http.MethodGet, "/v3/repo/1/crons", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	crons := body["crons"].([]interface{})
	require.Len(t, crons, 1)
	assert.Equal(t, "monthly", crons[0].(map[string]interface{})["interval"])
}
