package service

import (
	"context"
	"strconv"
	"time"

	"github.com/kurihiro0119/ci-api/internal/access"
	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/storage"
	"github.com/kurihiro0119/ci-api/internal/upstream"
)

// Service defines the read and write operations behind the v3 API.
// Every operation takes the caller explicitly; a nil caller is anonymous.
type Service interface {
	// FindRepository resolves a repository by numeric id or owner/name slug
	FindRepository(ctx context.Context, caller *domain.Caller, ref string) (*domain.Repository, error)

	// ListBuilds returns one page of a repository's builds, newest first
	ListBuilds(ctx context.Context, caller *domain.Caller, ref string, filter domain.BuildFilter, offset, limit int) (*BuildPage, error)

	// FindBuild returns a single build together with its repository
	FindBuild(ctx context.Context, caller *domain.Caller, id int64) (*domain.Build, *domain.Repository, error)

	// FindBranch returns a branch of a repository
	FindBranch(ctx context.Context, caller *domain.Caller, ref, name string) (*domain.Branch, *domain.Repository, error)

	// FindBranchCron returns the cron attached to a branch
	FindBranchCron(ctx context.Context, caller *domain.Caller, ref, name string) (*domain.Cron, *domain.Repository, error)

	// FindCron returns a cron by id
	FindCron(ctx context.Context, caller *domain.Caller, id int64) (*domain.Cron, *domain.Repository, error)

	// ListCrons returns one page of a repository's crons
	ListCrons(ctx context.Context, caller *domain.Caller, ref string, offset, limit int) (*CronPage, error)

	// ListSettings returns a repository's settings
	ListSettings(ctx context.Context, caller *domain.Caller, ref string) ([]*domain.Setting, *domain.Repository, error)

	// FindSetting returns a single repository setting by name
	FindSetting(ctx context.Context, caller *domain.Caller, ref, name string) (*domain.Setting, error)

	// CreateCron creates or replaces the cron of a branch
	CreateCron(ctx context.Context, caller *domain.Caller, ref, branch string, req CreateCronRequest) (*domain.Cron, *domain.Repository, error)

	// DeleteCron removes a cron and its grants
	DeleteCron(ctx context.Context, caller *domain.Caller, id int64) error
}

// BuildPage is a window of builds plus the size of the filtered set
type BuildPage struct {
	Repository *domain.Repository
	Builds     []*domain.Build
	Count      int
}

// CronPage is a window of crons plus the total number of crons
type CronPage struct {
	Repository *domain.Repository
	Crons      []*domain.Cron
	Count      int
}

// service implements the Service interface
type service struct {
	storage  storage.Storage
	oracle   access.Oracle
	upstream upstream.Checker
	now      func() time.Time
}

// NewService creates a new service
func NewService(store storage.Storage, oracle access.Oracle, checker upstream.Checker) Service {
	return &service{
		storage:  store,
		oracle:   oracle,
		upstream: checker,
		now:      time.Now,
	}
}

// visibleRepository loads the repository named by ref and hides it behind a
// not found error unless the caller may read it
func (s *service) visibleRepository(ctx context.Context, caller *domain.Caller, ref string) (*domain.Repository, error) {
	var (
		repo *domain.Repository
		err  error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		repo, err = s.storage.FindRepositoryByID(ctx, id)
	} else {
		repo, err = s.storage.FindRepositoryBySlug(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return repo, s.ensureVisible(ctx, caller, repo)
}

func (s *service) ensureVisible(ctx context.Context, caller *domain.Caller, repo *domain.Repository) error {
	ok, err := s.oracle.Can(ctx, caller, access.CapabilityRead, access.RepositoryResource(repo))
	if err != nil {
		return apperrors.NewInternalError("failed to check permissions", err)
	}
	if !ok {
		return apperrors.NewNotFoundError(storage.ResourceRepository)
	}
	return nil
}

// FindRepository resolves a repository the caller can see
func (s *service) FindRepository(ctx context.Context, caller *domain.Caller, ref string) (*domain.Repository, error) {
	return s.visibleRepository(ctx, caller, ref)
}

// ListBuilds returns a filtered window of builds and the filtered count
func (s *service) ListBuilds(ctx context.Context, caller *domain.Caller, ref string, filter domain.BuildFilter, offset, limit int) (*BuildPage, error) {
	repo, err := s.visibleRepository(ctx, caller, ref)
	if err != nil {
		return nil, err
	}

	builds, count, err := s.storage.ListBuilds(ctx, repo.ID, filter, offset, limit)
	if err != nil {
		return nil, err
	}

	return &BuildPage{Repository: repo, Builds: builds, Count: count}, nil
}

// FindBuild returns a build of a repository the caller can see
func (s *service) FindBuild(ctx context.Context, caller *domain.Caller, id int64) (*domain.Build, *domain.Repository, error) {
	build, err := s.storage.FindBuild(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	repo, err := s.storage.FindRepositoryByID(ctx, build.RepositoryID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensureVisible(ctx, caller, repo); err != nil {
		if apperrors.IsNotFound(err) {
			// a hidden repository hides its builds
			return nil, nil, apperrors.NewNotFoundError(storage.ResourceBuild)
		}
		return nil, nil, err
	}
	return build, repo, nil
}

// FindBranch returns a branch of a repository the caller can see
func (s *service) FindBranch(ctx context.Context, caller *domain.Caller, ref, name string) (*domain.Branch, *domain.Repository, error) {
	repo, err := s.visibleRepository(ctx, caller, ref)
	if err != nil {
		return nil, nil, err
	}
	branch, err := s.storage.FindBranch(ctx, repo.ID, name)
	if err != nil {
		return nil, nil, err
	}
	return branch, repo, nil
}

// FindBranchCron returns the cron of a branch
func (s *service) FindBranchCron(ctx context.Context, caller *domain.Caller, ref, name string) (*domain.Cron, *domain.Repository, error) {
	branch, repo, err := s.FindBranch(ctx, caller, ref, name)
	if err != nil {
		return nil, nil, err
	}
	cron, err := s.storage.FindCronByBranch(ctx, branch.ID)
	if err != nil {
		return nil, nil, err
	}
	return cron, repo, nil
}

// FindCron returns a cron of a repository the caller can see
func (s *service) FindCron(ctx context.Context, caller *domain.Caller, id int64) (*domain.Cron, *domain.Repository, error) {
	cron, err := s.storage.FindCron(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	repo, err := s.storage.FindRepositoryByID(ctx, cron.RepositoryID)
	if err != nil {
		return nil, nil, err
	}
	ok, err := s.oracle.Can(ctx, caller, access.CapabilityRead, access.CronResource(cron, repo))
	if err != nil {
		return nil, nil, apperrors.NewInternalError("failed to check permissions", err)
	}
	if !ok {
		return nil, nil, apperrors.NewNotFoundError(storage.ResourceCron)
	}
	return cron, repo, nil
}

// ListCrons returns a window of a repository's crons
func (s *service) ListCrons(ctx context.Context, caller *domain.Caller, ref string, offset, limit int) (*CronPage, error) {
	repo, err := s.visibleRepository(ctx, caller, ref)
	if err != nil {
		return nil, err
	}
	crons, count, err := s.storage.ListCrons(ctx, repo.ID, offset, limit)
	if err != nil {
		return nil, err
	}
	return &CronPage{Repository: repo, Crons: crons, Count: count}, nil
}

// ListSettings returns the settings of a repository the caller can see
func (s *service) ListSettings(ctx context.Context, caller *domain.Caller, ref string) ([]*domain.Setting, *domain.Repository, error) {
	repo, err := s.visibleRepository(ctx, caller, ref)
	if err != nil {
		return nil, nil, err
	}
	settings, err := s.storage.ListSettings(ctx, repo.ID)
	if err != nil {
		return nil, nil, err
	}
	return settings, repo, nil
}

// FindSetting returns one setting of a repository the caller can see
func (s *service) FindSetting(ctx context.Context, caller *domain.Caller, ref, name string) (*domain.Setting, error) {
	settings, _, err := s.ListSettings(ctx, caller, ref)
	if err != nil {
		return nil, err
	}
	for _, setting := range settings {
		if setting.Name == name {
			return setting, nil
		}
	}
	return nil, apperrors.NewNotFoundError(storage.ResourceSetting)
}
