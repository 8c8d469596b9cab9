package service

import (
	"context"
	"log"

	"github.com/kurihiro0119/ci-api/internal/access"
	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/storage"
)

// Fixed messages returned for cron validation failures
const (
	MsgBranchNotOnGitHub = "Crons can only be set up for branches existing on GitHub!"
	MsgInvalidInterval   = `Invalid value for interval. Interval must be "daily", "weekly" or "monthly"!`
)

// CreateCronRequest carries the caller supplied cron attributes
type CreateCronRequest struct {
	Interval             string
	RunOnlyWhenNewCommit bool
}

// stageResult is the outcome of one create stage: continue, or fail with err
type stageResult struct {
	failed bool
	err    error
}

func proceed() stageResult { return stageResult{} }

func fail(err error) stageResult { return stageResult{failed: true, err: err} }

// createState accumulates what earlier stages resolved
type createState struct {
	caller   *domain.Caller
	ref      string
	name     string
	req      CreateCronRequest
	repo     *domain.Repository
	branch   *domain.Branch
	interval domain.Interval
	cron     *domain.Cron
}

type createStage struct {
	name string
	run  func(ctx context.Context, st *createState) stageResult
}

// createStages lists the cron creation gates in the order they are checked.
// Nothing is written before the final stage.
func (s *service) createStages() []createStage {
	return []createStage{
		{"resolve repository", s.stageRepository},
		{"resolve branch", s.stageBranch},
		{"upstream existence", s.stageUpstream},
		{"interval", s.stageInterval},
		{"authorize", s.stageAuthorize},
		{"replace and create", s.stageReplaceAndCreate},
	}
}

// CreateCron runs the creation stages and returns the new cron
func (s *service) CreateCron(ctx context.Context, caller *domain.Caller, ref, branch string, req CreateCronRequest) (*domain.Cron, *domain.Repository, error) {
	st := &createState{caller: caller, ref: ref, name: branch, req: req}
	for _, stage := range s.createStages() {
		if res := stage.run(ctx, st); res.failed {
			if appErr, ok := apperrors.As(res.err); !ok || appErr.Code == apperrors.ErrCodeInternal {
				log.Printf("cron create failed at %q for %s/%s: %v", stage.name, ref, branch, res.err)
			}
			return nil, nil, res.err
		}
	}
	return st.cron, st.repo, nil
}

func (s *service) stageRepository(ctx context.Context, st *createState) stageResult {
	if st.caller == nil {
		return fail(apperrors.NewNotFoundError(storage.ResourceRepository))
	}
	repo, err := s.visibleRepository(ctx, st.caller, st.ref)
	if err != nil {
		return fail(err)
	}
	st.repo = repo
	return proceed()
}

func (s *service) stageBranch(ctx context.Context, st *createState) stageResult {
	branch, err := s.storage.FindBranch(ctx, st.repo.ID, st.name)
	if err != nil {
		return fail(err)
	}
	st.branch = branch
	return proceed()
}

func (s *service) stageUpstream(ctx context.Context, st *createState) stageResult {
	exists, err := s.upstream.BranchExists(ctx, st.repo, st.branch)
	if err != nil {
		return fail(apperrors.NewInternalError("failed to check branch on GitHub", err))
	}
	if !exists {
		return fail(apperrors.NewUnprocessableError(MsgBranchNotOnGitHub))
	}
	return proceed()
}

func (s *service) stageInterval(_ context.Context, st *createState) stageResult {
	interval, ok := domain.ParseInterval(st.req.Interval)
	if !ok {
		return fail(apperrors.NewUnprocessableError(MsgInvalidInterval))
	}
	st.interval = interval
	return proceed()
}

func (s *service) stageAuthorize(ctx context.Context, st *createState) stageResult {
	if err := s.oracle.Require(ctx, st.caller, access.CapabilityCreateCron, access.RepositoryResource(st.repo)); err != nil {
		return fail(err)
	}
	return proceed()
}

// stageReplaceAndCreate revokes and deletes any existing cron of the branch,
// then creates the new one and grants the caller delete on it, all in one
// transaction. A concurrent create for the same branch surfaces as a conflict.
func (s *service) stageReplaceAndCreate(ctx context.Context, st *createState) stageResult {
	now := s.now().UTC()
	cron := &domain.Cron{
		RepositoryID:         st.repo.ID,
		BranchID:             st.branch.ID,
		BranchName:           st.branch.Name,
		Interval:             st.interval,
		RunOnlyWhenNewCommit: st.req.RunOnlyWhenNewCommit,
		NextRun:              st.interval.After(now),
		CreatedAt:            now,
	}

	err := s.storage.InTx(ctx, func(tx storage.Tx) error {
		old, err := tx.FindCronByBranch(ctx, st.branch.ID)
		switch {
		case apperrors.IsNotFound(err):
			old = nil
		case err != nil:
			return err
		}

		if old != nil {
			oldRes := access.CronResource(old, st.repo)
			if err := s.oracle.Require(ctx, st.caller, access.CapabilityDelete, oldRes); err != nil {
				return err
			}
			if err := s.oracle.Revoke(ctx, tx, oldRes); err != nil {
				return err
			}
			if err := tx.DeleteCron(ctx, old.ID); err != nil {
				return err
			}
			log.Printf("replaced cron %d on %s branch %s", old.ID, st.repo.Slug(), st.branch.Name)
		}

		if err := tx.CreateCron(ctx, cron); err != nil {
			return err
		}
		_, err = s.oracle.Grant(ctx, tx, st.caller, access.CapabilityDelete, access.CronResource(cron, st.repo))
		return err
	})
	if err != nil {
		return fail(err)
	}

	log.Printf("created cron %d (%s) on %s branch %s", cron.ID, cron.Interval, st.repo.Slug(), st.branch.Name)
	st.cron = cron
	return proceed()
}

// DeleteCron revokes the grants on a cron and deletes it
func (s *service) DeleteCron(ctx context.Context, caller *domain.Caller, id int64) error {
	if caller == nil {
		return apperrors.NewLoginRequiredError()
	}
	cron, repo, err := s.FindCron(ctx, caller, id)
	if err != nil {
		return err
	}
	res := access.CronResource(cron, repo)
	if err := s.oracle.Require(ctx, caller, access.CapabilityDelete, res); err != nil {
		return err
	}

	err = s.storage.InTx(ctx, func(tx storage.Tx) error {
		if err := s.oracle.Revoke(ctx, tx, res); err != nil {
			return err
		}
		return tx.DeleteCron(ctx, cron.ID)
	})
	if err != nil {
		return err
	}
	log.Printf("deleted cron %d on %s branch %s", cron.ID, repo.Slug(), cron.BranchName)
	return nil
}
