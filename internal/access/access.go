// Package access answers capability questions for a caller and issues or
// revokes the grants that back them.
//
// The rules live in a table keyed by resource type and capability, so each
// operation declares the capability it needs instead of testing permission
// flags inline.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/storage"
)

// Capability names an operation on a resource
type Capability string

const (
	CapabilityRead       Capability = "read"
	CapabilityCreateCron Capability = "create_cron"
	CapabilityDelete     Capability = "delete"
)

// Resource is the subject of a capability check
type Resource struct {
	Type       string
	ID         int64
	Repository *domain.Repository // owning repository, the resource itself for repositories
}

// RepositoryResource wraps a repository as a Resource
func RepositoryResource(repo *domain.Repository) Resource {
	return Resource{Type: storage.ResourceRepository, ID: repo.ID, Repository: repo}
}

// CronResource wraps a cron as a Resource
func CronResource(cron *domain.Cron, repo *domain.Repository) Resource {
	return Resource{Type: storage.ResourceCron, ID: cron.ID, Repository: repo}
}

// Facts are what a rule may look at
type Facts struct {
	Public     bool
	Permission *domain.Permission // nil when the caller has none
	Granted    bool               // caller holds an explicit grant for the capability
}

// Rule decides a single capability
type Rule func(f Facts) bool

// Rules maps resource type and capability to the rule deciding it.
// A missing entry denies.
var Rules = map[string]map[Capability]Rule{
	storage.ResourceRepository: {
		CapabilityRead:       func(f Facts) bool { return f.Public || f.Permission != nil },
		CapabilityCreateCron: canWrite,
	},
	storage.ResourceCron: {
		CapabilityRead:   func(f Facts) bool { return f.Public || f.Permission != nil },
		CapabilityDelete: func(f Facts) bool { return canWrite(f) || f.Granted },
	},
}

func canWrite(f Facts) bool {
	return f.Permission != nil && (f.Permission.Push || f.Permission.Admin)
}

// PermissionSource is the read side the oracle consults
type PermissionSource interface {
	FindPermission(ctx context.Context, userID, repositoryID int64) (*domain.Permission, error)
	HasGrant(ctx context.Context, userID int64, resourceType string, resourceID int64, capability string) (bool, error)
}

// Oracle answers capability questions and manages grants
type Oracle interface {
	// Can reports whether caller holds capability on res. A nil caller is anonymous.
	Can(ctx context.Context, caller *domain.Caller, capability Capability, res Resource) (bool, error)

	// Require is Can that fails with a login required or insufficient access error
	Require(ctx context.Context, caller *domain.Caller, capability Capability, res Resource) error

	// Grant persists capability on res for caller through store
	Grant(ctx context.Context, store storage.GrantStore, caller *domain.Caller, capability Capability, res Resource) (*domain.Grant, error)

	// Revoke removes every grant on res through store
	Revoke(ctx context.Context, store storage.GrantStore, res Resource) error
}

// oracle implements Oracle on top of stored permissions and grants
type oracle struct {
	source PermissionSource
	now    func() time.Time
}

// NewOracle creates a new access control oracle
func NewOracle(source PermissionSource) Oracle {
	return &oracle{
		source: source,
		now:    time.Now,
	}
}

// Can reports whether caller holds capability on res
func (o *oracle) Can(ctx context.Context, caller *domain.Caller, capability Capability, res Resource) (bool, error) {
	rule, ok := Rules[res.Type][capability]
	if !ok {
		return false, nil
	}

	facts := Facts{Public: res.Repository != nil && !res.Repository.Private}
	if caller != nil && res.Repository != nil {
		perm, err := o.source.FindPermission(ctx, caller.UserID, res.Repository.ID)
		if err != nil {
			return false, err
		}
		facts.Permission = perm

		granted, err := o.source.HasGrant(ctx, caller.UserID, res.Type, res.ID, string(capability))
		if err != nil {
			return false, err
		}
		facts.Granted = granted
	}

	return rule(facts), nil
}

// Require fails unless caller holds capability on res
func (o *oracle) Require(ctx context.Context, caller *domain.Caller, capability Capability, res Resource) error {
	if caller == nil {
		return apperrors.NewLoginRequiredError()
	}
	ok, err := o.Can(ctx, caller, capability, res)
	if err != nil {
		return apperrors.NewInternalError("failed to check permissions", err)
	}
	if !ok {
		return apperrors.NewInsufficientAccessError(res.Type, string(capability))
	}
	return nil
}

// Grant persists capability on res for caller
func (o *oracle) Grant(ctx context.Context, store storage.GrantStore, caller *domain.Caller, capability Capability, res Resource) (*domain.Grant, error) {
	if caller == nil {
		return nil, apperrors.NewLoginRequiredError()
	}
	grant := &domain.Grant{
		ID:           uuid.New().String(),
		UserID:       caller.UserID,
		ResourceType: res.Type,
		ResourceID:   res.ID,
		Capability:   string(capability),
		CreatedAt:    o.now().UTC(),
	}
	if err := store.CreateGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("grant %s on %s %d: %w", capability, res.Type, res.ID, err)
	}
	return grant, nil
}

// Revoke removes every grant on res
func (o *oracle) Revoke(ctx context.Context, store storage.GrantStore, res Resource) error {
	if err := store.DeleteGrants(ctx, res.Type, res.ID); err != nil {
		return fmt.Errorf("revoke grants on %s %d: %w", res.Type, res.ID, err)
	}
	return nil
}
