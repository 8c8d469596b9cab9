// Package storagetest holds the behaviour every storage adapter must share.
// Adapter packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/storage"
)

// Run exercises store, which must be empty apart from its schema
func Run(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	require.NoError(t, storage.Seed(ctx, store))
	require.NoError(t, storage.Seed(ctx, store), "seeding is repeatable")

	t.Run("repositories", func(t *testing.T) { testRepositories(t, store) })
	t.Run("permissions", func(t *testing.T) { testPermissions(t, store) })
	t.Run("builds", func(t *testing.T) { testBuilds(t, store) })
	t.Run("branches", func(t *testing.T) { testBranches(t, store) })
	t.Run("settings", func(t *testing.T) { testSettings(t, store) })
	t.Run("crons", func(t *testing.T) { testCrons(t, store) })
	t.Run("listing during writes", func(t *testing.T) { testListingDuringWrites(t, store) })
}

func testRepositories(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	repo, err := store.FindRepositoryBySlug(ctx, "svenfuchs/minimal")
	require.NoError(t, err)
	assert.Equal(t, int64(1), repo.ID)
	assert.False(t, repo.Private)

	repo, err = store.FindRepositoryByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "svenfuchs/secret", repo.Slug())
	assert.True(t, repo.Private)

	for _, slug := range []string{"svenfuchs/nope", "no-slash", ""} {
		_, err = store.FindRepositoryBySlug(ctx, slug)
		assert.True(t, apperrors.IsNotFound(err), slug)
	}
	_, err = store.FindRepositoryByID(ctx, 404)
	assert.True(t, apperrors.IsNotFound(err))

	user, err := store.FindUser(ctx, storage.FixtureReaderID)
	require.NoError(t, err)
	assert.Equal(t, "josh", user.Login)
	_, err = store.FindUser(ctx, 404)
	assert.True(t, apperrors.IsNotFound(err))
}

func testPermissions(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	perm, err := store.FindPermission(ctx, storage.FixturePusherID, 1)
	require.NoError(t, err)
	require.NotNil(t, perm)
	assert.True(t, perm.Push)
	assert.False(t, perm.Admin)

	perm, err = store.FindPermission(ctx, storage.FixtureOutsiderID, 1)
	require.NoError(t, err)
	assert.Nil(t, perm)
}

func testBuilds(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	builds, count, err := store.ListBuilds(ctx, 1, domain.BuildFilter{}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.Len(t, builds, 2)
	assert.Equal(t, int64(3), builds[0].ID)
	assert.Equal(t, int64(2), builds[1].ID)

	newest := builds[0]
	require.NotNil(t, newest.Branch)
	require.NotNil(t, newest.Branch.LastBuildID)
	assert.Equal(t, int64(3), *newest.Branch.LastBuildID)
	require.NotNil(t, newest.Commit)
	assert.Equal(t, "add057e66c3e1d59ef1f", newest.Commit.Sha)
	assert.Nil(t, newest.Duration)
	assert.Nil(t, newest.FinishedAt)
	require.NotNil(t, newest.StartedAt)
	assert.True(t, newest.StartedAt.Equal(time.Date(2010, 11, 12, 13, 0, 0, 0, time.UTC)))

	builds, count, err = store.ListBuilds(ctx, 1, domain.BuildFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.Len(t, builds, 1)
	assert.Equal(t, int64(1), builds[0].ID)

	builds, count, err = store.ListBuilds(ctx, 1, domain.BuildFilter{BranchName: "develop"}, 0, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, builds, 1)
	assert.Equal(t, "develop", builds[0].BranchName)

	builds, count, err = store.ListBuilds(ctx, 1, domain.BuildFilter{BranchName: "missing"}, 0, 25)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, builds)

	build, err := store.FindBuild(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), build.RepositoryID)
	require.NotNil(t, build.Duration)
	assert.Equal(t, int64(10), *build.Duration)

	_, err = store.FindBuild(ctx, 404)
	assert.True(t, apperrors.IsNotFound(err))
}

func testBranches(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	branch, err := store.FindBranch(ctx, 1, "gone")
	require.NoError(t, err)
	assert.False(t, branch.ExistsOnGitHub)
	assert.Nil(t, branch.LastBuildID)

	_, err = store.FindBranch(ctx, 2, "develop")
	assert.True(t, apperrors.IsNotFound(err))
}

func testSettings(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	require.NoError(t, store.SaveSetting(ctx, &domain.Setting{RepositoryID: 1, Name: "build_pushes", Value: false}))
	settings, err := store.ListSettings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, settings, 4)
	assert.Equal(t, "build_pull_requests", settings[0].Name)
	assert.Equal(t, "build_pushes", settings[1].Name)
	assert.Equal(t, false, settings[1].Value)
	assert.Equal(t, int64(0), settings[3].Value)

	settings, err = store.ListSettings(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func testCrons(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	cron := &domain.Cron{
		RepositoryID: 1,
		BranchID:     2,
		Interval:     domain.IntervalWeekly,
		NextRun:      domain.IntervalWeekly.After(now),
		CreatedAt:    now,
	}
	grantID := uuid.New().String()
	err := store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateCron(ctx, cron); err != nil {
			return err
		}
		return tx.CreateGrant(ctx, &domain.Grant{
			ID: grantID, UserID: storage.FixturePusherID, ResourceType: storage.ResourceCron,
			ResourceID: cron.ID, Capability: "delete", CreatedAt: now,
		})
	})
	require.NoError(t, err)
	require.NotZero(t, cron.ID)

	found, err := store.FindCronByBranch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, cron.ID, found.ID)
	assert.Equal(t, "develop", found.BranchName)
	assert.Equal(t, domain.IntervalWeekly, found.Interval)
	assert.Nil(t, found.LastRun)
	assert.True(t, found.NextRun.Equal(cron.NextRun))

	granted, err := store.HasGrant(ctx, storage.FixturePusherID, storage.ResourceCron, cron.ID, "delete")
	require.NoError(t, err)
	assert.True(t, granted)

	// a second cron on the same branch violates the uniqueness constraint
	err = store.InTx(ctx, func(tx storage.Tx) error {
		return tx.CreateCron(ctx, &domain.Cron{RepositoryID: 1, BranchID: 2, Interval: domain.IntervalDaily, NextRun: now, CreatedAt: now})
	})
	assert.True(t, apperrors.IsConflict(err), "got %v", err)

	// a failing transaction leaves nothing behind
	boom := errors.New("boom")
	err = store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateCron(ctx, &domain.Cron{RepositoryID: 1, BranchID: 1, Interval: domain.IntervalDaily, NextRun: now, CreatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = store.FindCronByBranch(ctx, 1)
	assert.True(t, apperrors.IsNotFound(err))

	crons, count, err := store.ListCrons(ctx, 1, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, crons, 1)

	err = store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.DeleteGrants(ctx, storage.ResourceCron, cron.ID); err != nil {
			return err
		}
		return tx.DeleteCron(ctx, cron.ID)
	})
	require.NoError(t, err)

	_, err = store.FindCron(ctx, cron.ID)
	assert.True(t, apperrors.IsNotFound(err))
	granted, err = store.HasGrant(ctx, storage.FixturePusherID, storage.ResourceCron, cron.ID, "delete")
	require.NoError(t, err)
	assert.False(t, granted)
}

// testListingDuringWrites checks that a listing's count and items come from
// the same snapshot while builds are being added
func testListingDuringWrites(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	repo := &domain.Repository{ID: 50, OwnerName: "storagetest", Name: "listing"}
	require.NoError(t, store.SaveRepository(ctx, repo))

	const writes = 40
	done := make(chan error, 1)
	go func() {
		for i := int64(1); i <= writes; i++ {
			build := &domain.Build{
				ID:           5000 + i,
				RepositoryID: repo.ID,
				Number:       fmt.Sprint(i),
				State:        "created",
				EventType:    "push",
				BranchName:   "master",
			}
			if err := store.SaveBuild(ctx, build); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for {
		builds, count, err := store.ListBuilds(ctx, repo.ID, domain.BuildFilter{}, 0, 100)
		require.NoError(t, err)
		require.Len(t, builds, count)

		select {
		case err := <-done:
			require.NoError(t, err)
			_, count, err = store.ListBuilds(ctx, repo.ID, domain.BuildFilter{}, 0, 100)
			require.NoError(t, err)
			assert.Equal(t, writes, count)
			return
		default:
		}
	}
}
