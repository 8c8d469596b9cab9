// Package upstream verifies that a branch currently exists on the
// source-control host. This is a stronger condition than the branch being
// known to the CI service.
package upstream

import (
	"context"

	"github.com/kurihiro0119/ci-api/internal/domain"
)

// Checker reports whether a branch exists on the upstream host
type Checker interface {
	BranchExists(ctx context.Context, repo *domain.Repository, branch *domain.Branch) (bool, error)
}

// storedChecker trusts the flag recorded on the branch by the last sync
type storedChecker struct{}

// NewStoredChecker creates a Checker that reads Branch.ExistsOnGitHub
func NewStoredChecker() Checker {
	return storedChecker{}
}

func (storedChecker) BranchExists(_ context.Context, _ *domain.Repository, branch *domain.Branch) (bool, error) {
	return branch.ExistsOnGitHub, nil
}
