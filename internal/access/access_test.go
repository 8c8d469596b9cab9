package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/storage"
)

type grantKey struct {
	userID       int64
	resourceType string
	resourceID   int64
	capability   string
}

type fakeSource struct {
	perms  map[int64]*domain.Permission // by user id
	grants map[grantKey]bool
	err    error
}

func (f *fakeSource) FindPermission(_ context.Context, userID, _ int64) (*domain.Permission, error) {
	return f.perms[userID], f.err
}

func (f *fakeSource) HasGrant(_ context.Context, userID int64, resourceType string, resourceID int64, capability string) (bool, error) {
	return f.grants[grantKey{userID, resourceType, resourceID, capability}], nil
}

func (f *fakeSource) CreateGrant(_ context.Context, g *domain.Grant) error {
	f.grants[grantKey{g.UserID, g.ResourceType, g.ResourceID, g.Capability}] = true
	return nil
}

func (f *fakeSource) DeleteGrants(_ context.Context, resourceType string, resourceID int64) error {
	for k := range f.grants {
		if k.resourceType == resourceType && k.resourceID == resourceID {
			delete(f.grants, k)
		}
	}
	return nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		perms: map[int64]*domain.Permission{
			1: {UserID: 1, RepositoryID: 10, Pull: true},
			2: {UserID: 2, RepositoryID: 10, Pull: true, Push: true},
			3: {UserID: 3, RepositoryID: 10, Admin: true},
		},
		grants: map[grantKey]bool{},
	}
}

func TestCanRead(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(newFakeSource())
	public := RepositoryResource(&domain.Repository{ID: 10})
	private := RepositoryResource(&domain.Repository{ID: 10, Private: true})

	ok, err := o.Can(ctx, nil, CapabilityRead, public)
	require.NoError(t, err)
	assert.True(t, ok, "anonymous callers read public repositories")

	ok, err = o.Can(ctx, nil, CapabilityRead, private)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = o.Can(ctx, &domain.Caller{UserID: 99}, CapabilityRead, private)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = o.Can(ctx, &domain.Caller{UserID: 1}, CapabilityRead, private)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequireCreateCron(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(newFakeSource())
	repo := RepositoryResource(&domain.Repository{ID: 10})

	err := o.Require(ctx, nil, CapabilityCreateCron, repo)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeLoginRequired, appErr.Code)

	err = o.Require(ctx, &domain.Caller{UserID: 1}, CapabilityCreateCron, repo)
	assert.True(t, apperrors.IsInsufficientAccess(err))
	appErr, _ = apperrors.As(err)
	assert.Equal(t, "create_cron", appErr.Permission)

	assert.NoError(t, o.Require(ctx, &domain.Caller{UserID: 2}, CapabilityCreateCron, repo))
	assert.NoError(t, o.Require(ctx, &domain.Caller{UserID: 3}, CapabilityCreateCron, repo))
}

func TestUnknownCapabilityDenies(t *testing.T) {
	o := NewOracle(newFakeSource())
	ok, err := o.Can(context.Background(), &domain.Caller{UserID: 3}, CapabilityCreateCron,
		Resource{Type: storage.ResourceBuild, ID: 1, Repository: &domain.Repository{ID: 10}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	o := NewOracle(source)
	repo := &domain.Repository{ID: 10}
	cron := CronResource(&domain.Cron{ID: 5}, repo)
	reader := &domain.Caller{UserID: 1}

	ok, err := o.Can(ctx, reader, CapabilityDelete, cron)
	require.NoError(t, err)
	assert.False(t, ok)

	grant, err := o.Grant(ctx, source, reader, CapabilityDelete, cron)
	require.NoError(t, err)
	assert.NotEmpty(t, grant.ID)
	assert.Equal(t, "cron", grant.ResourceType)

	ok, err = o.Can(ctx, reader, CapabilityDelete, cron)
	require.NoError(t, err)
	assert.True(t, ok, "explicit grant allows delete")

	require.NoError(t, o.Revoke(ctx, source, cron))
	ok, err = o.Can(ctx, reader, CapabilityDelete, cron)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequireWrapsSourceErrors(t *testing.T) {
	source := newFakeSource()
	source.err = errors.New("db down")
	o := NewOracle(source)

	err := o.Require(context.Background(), &domain.Caller{UserID: 1}, CapabilityRead,
		RepositoryResource(&domain.Repository{ID: 10, Private: true}))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInternal, appErr.Code)
}
