package storage

import (
	"context"

	"github.com/kurihiro0119/ci-api/internal/domain"
)

// Storage is the abstract interface for the persistence layer.
//
// Find methods return an apperrors not found error naming the resource type
// when no row matches. List methods return the requested window together
// with the total number of rows matching the same filter.
type Storage interface {
	// Repository operations
	FindRepositoryByID(ctx context.Context, id int64) (*domain.Repository, error)
	FindRepositoryBySlug(ctx context.Context, slug string) (*domain.Repository, error)
	SaveRepository(ctx context.Context, repo *domain.Repository) error

	// User and permission operations
	FindUser(ctx context.Context, id int64) (*domain.User, error)
	SaveUser(ctx context.Context, user *domain.User) error
	// FindPermission returns nil without error when the user has no permission row
	FindPermission(ctx context.Context, userID, repositoryID int64) (*domain.Permission, error)
	SavePermission(ctx context.Context, perm *domain.Permission) error
	HasGrant(ctx context.Context, userID int64, resourceType string, resourceID int64, capability string) (bool, error)

	// Build operations
	ListBuilds(ctx context.Context, repositoryID int64, filter domain.BuildFilter, offset, limit int) ([]*domain.Build, int, error)
	FindBuild(ctx context.Context, id int64) (*domain.Build, error)
	SaveBuild(ctx context.Context, build *domain.Build) error
	SaveCommit(ctx context.Context, commit *domain.Commit) error

	// Branch operations
	FindBranch(ctx context.Context, repositoryID int64, name string) (*domain.Branch, error)
	SaveBranch(ctx context.Context, branch *domain.Branch) error

	// Cron reads; writes go through InTx
	FindCron(ctx context.Context, id int64) (*domain.Cron, error)
	FindCronByBranch(ctx context.Context, branchID int64) (*domain.Cron, error)
	ListCrons(ctx context.Context, repositoryID int64, offset, limit int) ([]*domain.Cron, int, error)

	// Settings
	ListSettings(ctx context.Context, repositoryID int64) ([]*domain.Setting, error)
	SaveSetting(ctx context.Context, setting *domain.Setting) error

	// InTx runs fn in a single transaction, committing only when fn returns nil
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// GrantStore persists capability grants
type GrantStore interface {
	CreateGrant(ctx context.Context, grant *domain.Grant) error
	DeleteGrants(ctx context.Context, resourceType string, resourceID int64) error
}

// Tx is the set of cron mutations that must commit together.
// CreateCron fails with an apperrors conflict error when the branch
// already has a cron.
type Tx interface {
	GrantStore
	FindCronByBranch(ctx context.Context, branchID int64) (*domain.Cron, error)
	CreateCron(ctx context.Context, cron *domain.Cron) error
	DeleteCron(ctx context.Context, id int64) error
}
