package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/pagination"
	"github.com/kurihiro0119/ci-api/internal/render"
	"github.com/kurihiro0119/ci-api/internal/service"
	"github.com/kurihiro0119/ci-api/internal/storage"
)

// Handler handles API requests
type Handler struct {
	service service.Service
	policy  pagination.Policy
}

// NewHandler creates a new API handler
func NewHandler(svc service.Service, policy pagination.Policy) *Handler {
	return &Handler{
		service: svc,
		policy:  policy,
	}
}

// FindRepository returns a single repository
// GET /v3/repo/:repo
func (h *Handler) FindRepository(c *gin.Context) {
	repo, err := h.service.FindRepository(c.Request.Context(), callerFrom(c), c.Param("repo"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, render.Repository(repo))
}

// ListBuilds returns a page of a repository's builds
// GET /v3/repo/:repo/builds?limit=&offset=&branch.name=
func (h *Handler) ListBuilds(c *gin.Context) {
	offset, limit := h.policy.Window(c.Request.URL.Query())
	filter := domain.BuildFilter{BranchName: c.Query("branch.name")}

	page, err := h.service.ListBuilds(c.Request.Context(), callerFrom(c), c.Param("repo"), filter, offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]render.Envelope, 0, len(page.Builds))
	for _, build := range page.Builds {
		items = append(items, render.Build(build, page.Repository))
	}
	info := pagination.Compute(c.Request.URL, offset, limit, page.Count)

	c.JSON(http.StatusOK, render.RenderCollection(render.Collection{
		Type:       "builds",
		Href:       c.Request.URL.RequestURI(),
		Pagination: &info,
		Items:      items,
	}))
}

// FindBuild returns a single build
// GET /v3/build/:id
func (h *Handler) FindBuild(c *gin.Context) {
	id, ok := parseID(c, storage.ResourceBuild)
	if !ok {
		return
	}

	build, repo, err := h.service.FindBuild(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, render.Build(build, repo))
}

// FindBranch returns a branch of a repository
// GET /v3/repo/:repo/branch/:branch
func (h *Handler) FindBranch(c *gin.Context) {
	branch, repo, err := h.service.FindBranch(c.Request.Context(), callerFrom(c), c.Param("repo"), c.Param("branch"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, render.Branch(branch, repo))
}

// FindBranchCron returns the cron of a branch
// GET /v3/repo/:repo/branch/:branch/cron
func (h *Handler) FindBranchCron(c *gin.Context) {
	cron, repo, err := h.service.FindBranchCron(c.Request.Context(), callerFrom(c), c.Param("repo"), c.Param("branch"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, render.Cron(cron, repo))
}

// CreateCron creates or replaces the cron of a branch
// POST /v3/repo/:repo/branch/:branch/cron
func (h *Handler) CreateCron(c *gin.Context) {
	req, err := parseCreateCron(c)
	if err != nil {
		respondError(c, err)
		return
	}

	cron, repo, err := h.service.CreateCron(c.Request.Context(), callerFrom(c), c.Param("repo"), c.Param("branch"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, render.Cron(cron, repo))
}

// ListCrons returns a page of a repository's crons
// GET /v3/repo/:repo/crons?limit=&offset=
func (h *Handler) ListCrons(c *gin.Context) {
	offset, limit := h.policy.Window(c.Request.URL.Query())

	page, err := h.service.ListCrons(c.Request.Context(), callerFrom(c), c.Param("repo"), offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]render.Envelope, 0, len(page.Crons))
	for _, cron := range page.Crons {
		items = append(items, render.Cron(cron, page.Repository))
	}
	info := pagination.Compute(c.Request.URL, offset, limit, page.Count)

	c.JSON(http.StatusOK, render.RenderCollection(render.Collection{
		Type:       "crons",
		Href:       c.Request.URL.RequestURI(),
		Pagination: &info,
		Items:      items,
	}))
}

// ListSettings returns a repository's settings
// GET /v3/repo/:repo/settings
func (h *Handler) ListSettings(c *gin.Context) {
	settings, _, err := h.service.ListSettings(c.Request.Context(), callerFrom(c), c.Param("repo"))
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]render.Envelope, 0, len(settings))
	for _, setting := range settings {
		items = append(items, render.Setting(setting))
	}

	c.JSON(http.StatusOK, render.RenderCollection(render.Collection{
		Type:  "settings",
		Href:  c.Request.URL.RequestURI(),
		Items: items,
	}))
}

// FindSetting returns a single repository setting
// GET /v3/repo/:repo/setting/:name
func (h *Handler) FindSetting(c *gin.Context) {
	setting, err := h.service.FindSetting(c.Request.Context(), callerFrom(c), c.Param("repo"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, render.Setting(setting))
}

// FindCron returns a single cron
// GET /v3/cron/:id
func (h *Handler) FindCron(c *gin.Context) {
	id, ok := parseID(c, storage.ResourceCron)
	if !ok {
		return
	}

	cron, repo, err := h.service.FindCron(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, render.Cron(cron, repo))
}

// DeleteCron removes a cron
// DELETE /v3/cron/:id
func (h *Handler) DeleteCron(c *gin.Context) {
	id, ok := parseID(c, storage.ResourceCron)
	if !ok {
		return
	}

	if err := h.service.DeleteCron(c.Request.Context(), callerFrom(c), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseID reads the numeric :id parameter. A malformed id cannot name a
// resource, so it is answered as not found.
func parseID(c *gin.Context, resource string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperrors.NewNotFoundError(resource))
		return 0, false
	}
	return id, true
}

// parseCreateCron reads the cron attributes from a JSON body. Keys may be
// given bare or prefixed with "cron.", and an empty body is accepted.
func parseCreateCron(c *gin.Context) (service.CreateCronRequest, error) {
	var req service.CreateCronRequest

	raw := map[string]interface{}{}
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&raw); err != nil && !errors.Is(err, io.EOF) {
			return req, apperrors.NewBadRequestError("request body is not valid JSON")
		}
	}

	for key, value := range raw {
		switch strings.TrimPrefix(key, "cron.") {
		case "interval":
			if s, ok := value.(string); ok {
				req.Interval = s
			}
		case "run_only_when_new_commit":
			req.RunOnlyWhenNewCommit = truthy(value)
		}
	}
	return req, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		return err == nil && b
	default:
		return false
	}
}

// respondError writes the error envelope for err with the matching status
func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("internal server error", err)
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeLoginRequired, apperrors.ErrCodeInsufficientAccess:
		status = http.StatusForbidden
	case apperrors.ErrCodeUnprocessable:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrCodeConflict:
		status = http.StatusConflict
	case apperrors.ErrCodeBadRequest:
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, render.Error(appErr))
}
