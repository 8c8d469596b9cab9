package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kurihiro0119/ci-api/internal/domain"
)

// Fixture user ids loaded by Seed
const (
	FixtureAdminID    int64 = 1 // admin on both repositories
	FixtureReaderID   int64 = 2 // pull on svenfuchs/minimal
	FixturePusherID   int64 = 3 // push on svenfuchs/minimal
	FixtureOutsiderID int64 = 4 // no permissions
)

// Seed loads a small, fixed data set: the public svenfuchs/minimal repository
// with three builds on master and develop, a private repository, four users
// and a few settings. Seeding twice leaves the same rows in place.
func Seed(ctx context.Context, s Storage) error {
	base := time.Date(2010, 11, 12, 12, 0, 0, 0, time.UTC)
	at := func(minutes int) *time.Time {
		t := base.Add(time.Duration(minutes) * time.Minute)
		return &t
	}
	secs := func(n int64) *int64 { return &n }

	users := []*domain.User{
		{ID: FixtureAdminID, Login: "svenfuchs"},
		{ID: FixtureReaderID, Login: "josh"},
		{ID: FixturePusherID, Login: "carla"},
		{ID: FixtureOutsiderID, Login: "outsider"},
	}
	for _, u := range users {
		if err := s.SaveUser(ctx, u); err != nil {
			return err
		}
	}

	repos := []*domain.Repository{
		{ID: 1, OwnerName: "svenfuchs", Name: "minimal", CreatedAt: base},
		{ID: 2, OwnerName: "svenfuchs", Name: "secret", Private: true, CreatedAt: base},
	}
	for _, r := range repos {
		if err := s.SaveRepository(ctx, r); err != nil {
			return err
		}
	}

	perms := []*domain.Permission{
		{UserID: FixtureAdminID, RepositoryID: 1, Admin: true, Push: true, Pull: true},
		{UserID: FixtureAdminID, RepositoryID: 2, Admin: true, Push: true, Pull: true},
		{UserID: FixtureReaderID, RepositoryID: 1, Pull: true},
		{UserID: FixturePusherID, RepositoryID: 1, Push: true, Pull: true},
	}
	for _, p := range perms {
		if err := s.SavePermission(ctx, p); err != nil {
			return err
		}
	}

	commits := []*domain.Commit{
		{ID: 1, RepositoryID: 1, Sha: "62aae5f70ceee39123ef", Ref: "refs/heads/master", Message: "the commit message", CompareURL: "https://github.com/svenfuchs/minimal/compare/master...develop", CommittedAt: at(0)},
		{ID: 2, RepositoryID: 1, Sha: "91d1b7b2a310131fe3f8", Ref: "refs/heads/develop", Message: "add a develop branch", CompareURL: "https://github.com/svenfuchs/minimal/compare/master...develop", CommittedAt: at(30)},
		{ID: 5, RepositoryID: 1, Sha: "add057e66c3e1d59ef1f", Ref: "refs/heads/master", Message: "unignore Gemfile.lock", CompareURL: "https://github.com/svenfuchs/minimal/compare/master...develop", CommittedAt: at(55)},
		{ID: 6, RepositoryID: 2, Sha: "c0ffee0123456789abcd", Ref: "refs/heads/master", Message: "initial", CommittedAt: at(0)},
	}
	for _, c := range commits {
		if err := s.SaveCommit(ctx, c); err != nil {
			return err
		}
	}

	id := func(n int64) *int64 { return &n }
	builds := []*domain.Build{
		{ID: 1, RepositoryID: 1, Number: "1", State: "passed", EventType: "push", Duration: secs(120), StartedAt: at(1), FinishedAt: at(3), BranchName: "master", CommitID: id(1)},
		{ID: 2, RepositoryID: 1, Number: "2", State: "passed", PreviousState: "passed", EventType: "push", Duration: secs(90), StartedAt: at(31), FinishedAt: at(33), BranchName: "develop", CommitID: id(2)},
		{ID: 3, RepositoryID: 1, Number: "3", State: "configured", PreviousState: "passed", EventType: "push", StartedAt: at(60), BranchName: "master", CommitID: id(5)},
		{ID: 4, RepositoryID: 2, Number: "1", State: "passed", EventType: "push", Duration: secs(10), StartedAt: at(1), FinishedAt: at(2), BranchName: "master", CommitID: id(6)},
	}
	for _, b := range builds {
		if err := s.SaveBuild(ctx, b); err != nil {
			return err
		}
	}

	branches := []*domain.Branch{
		{ID: 1, RepositoryID: 1, Name: "master", LastBuildID: id(3), ExistsOnGitHub: true},
		{ID: 2, RepositoryID: 1, Name: "develop", LastBuildID: id(2), ExistsOnGitHub: true},
		{ID: 3, RepositoryID: 1, Name: "gone", ExistsOnGitHub: false},
		{ID: 4, RepositoryID: 2, Name: "master", LastBuildID: id(4), ExistsOnGitHub: true},
	}
	for _, b := range branches {
		if err := s.SaveBranch(ctx, b); err != nil {
			return err
		}
	}

	settings := []*domain.Setting{
		{RepositoryID: 1, Name: "build_pushes", Value: true},
		{RepositoryID: 1, Name: "build_pull_requests", Value: true},
		{RepositoryID: 1, Name: "maximum_number_of_builds", Value: int64(0)},
		{RepositoryID: 1, Name: "builds_only_with_travis_yml", Value: false},
	}
	for _, st := range settings {
		if err := s.SaveSetting(ctx, st); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
	}
	return nil
}
