// Package render turns domain values into the "@type"/"@href" annotated
// JSON envelopes returned by the v3 API.
//
// Absent optional fields are always present in the output as null.
// Embedded associations use a minimal representation so that a build
// never carries a full branch or repository.
package render

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/pagination"
)

// Envelope is a rendered resource or collection
type Envelope map[string]interface{}

// Collection describes a page of already fetched and rendered items
type Collection struct {
	Type       string // plural type name, also the key holding the items
	Href       string
	Pagination *pagination.Info // nil for unpaginated collections
	Items      []Envelope
}

// RenderCollection builds the top-level envelope for a collection.
// An empty page renders as an empty array, never null.
func RenderCollection(c Collection) Envelope {
	items := c.Items
	if items == nil {
		items = []Envelope{}
	}
	env := Envelope{
		"@type": c.Type,
		"@href": c.Href,
		c.Type:  items,
	}
	if c.Pagination != nil {
		env["@pagination"] = c.Pagination
	}
	return env
}

// RepositoryHref returns the canonical href of a repository
func RepositoryHref(id int64) string {
	return fmt.Sprintf("/v3/repo/%d", id)
}

// BuildHref returns the canonical href of a build
func BuildHref(id int64) string {
	return fmt.Sprintf("/v3/build/%d", id)
}

// BranchHref returns the canonical href of a branch
func BranchHref(repositoryID int64, name string) string {
	return fmt.Sprintf("/v3/repo/%d/branch/%s", repositoryID, url.PathEscape(name))
}

// CronHref returns the canonical href of a cron
func CronHref(id int64) string {
	return fmt.Sprintf("/v3/cron/%d", id)
}

// SettingHref returns the canonical href of a repository setting
func SettingHref(repositoryID int64, name string) string {
	return fmt.Sprintf("/v3/repo/%d/setting/%s", repositoryID, url.PathEscape(name))
}

// MinimalRepository renders the embedded form of a repository
func MinimalRepository(repo *domain.Repository) Envelope {
	return Envelope{
		"@type": "repository",
		"@href": RepositoryHref(repo.ID),
		"id":    repo.ID,
		"slug":  repo.Slug(),
	}
}

// Repository renders the standard form of a repository
func Repository(repo *domain.Repository) Envelope {
	env := MinimalRepository(repo)
	env["name"] = repo.Name
	env["owner_name"] = repo.OwnerName
	env["private"] = repo.Private
	return env
}

// Build renders a build with its repository, branch and commit embedded
func Build(build *domain.Build, repo *domain.Repository) Envelope {
	var duration interface{}
	if build.Duration != nil {
		duration = *build.Duration
	}

	return Envelope{
		"@type":          "build",
		"@href":          BuildHref(build.ID),
		"id":             build.ID,
		"number":         build.Number,
		"state":          build.State,
		"duration":       duration,
		"event_type":     build.EventType,
		"previous_state": build.PreviousState,
		"started_at":     timestamp(build.StartedAt),
		"finished_at":    timestamp(build.FinishedAt),
		"repository":     MinimalRepository(repo),
		"branch":         embeddedBranch(build, repo),
		"commit":         commit(build.Commit),
	}
}

// embeddedBranch is the truncated branch carried inside a build: name and a
// pointer to the last build only.
func embeddedBranch(build *domain.Build, repo *domain.Repository) Envelope {
	env := Envelope{
		"@type": "branch",
		"@href": BranchHref(repo.ID, build.BranchName),
		"name":  build.BranchName,
	}
	if build.Branch != nil {
		env["last_build"] = lastBuild(build.Branch.LastBuildID)
	} else {
		env["last_build"] = nil
	}
	return env
}

func lastBuild(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return Envelope{"@href": BuildHref(*id)}
}

func commit(c *domain.Commit) interface{} {
	if c == nil {
		return nil
	}
	return Envelope{
		"@type":        "commit",
		"id":           c.ID,
		"sha":          c.Sha,
		"ref":          c.Ref,
		"message":      c.Message,
		"compare_url":  c.CompareURL,
		"committed_at": timestamp(c.CommittedAt),
	}
}

// MinimalBranch renders the embedded form of a branch
func MinimalBranch(repositoryID int64, name string) Envelope {
	return Envelope{
		"@type": "branch",
		"@href": BranchHref(repositoryID, name),
		"name":  name,
	}
}

// Branch renders the standard form of a branch
func Branch(branch *domain.Branch, repo *domain.Repository) Envelope {
	env := MinimalBranch(repo.ID, branch.Name)
	env["repository"] = MinimalRepository(repo)
	env["exists_on_github"] = branch.ExistsOnGitHub
	env["last_build"] = lastBuild(branch.LastBuildID)
	return env
}

// Cron renders a cron with its repository and branch embedded
func Cron(cron *domain.Cron, repo *domain.Repository) Envelope {
	return Envelope{
		"@type":                    "cron",
		"@href":                    CronHref(cron.ID),
		"id":                       cron.ID,
		"repository":               MinimalRepository(repo),
		"branch":                   MinimalBranch(repo.ID, cron.BranchName),
		"interval":                 string(cron.Interval),
		"run_only_when_new_commit": cron.RunOnlyWhenNewCommit,
		"last_run":                 timestamp(cron.LastRun),
		"next_run":                 timestamp(&cron.NextRun),
		"created_at":               timestamp(&cron.CreatedAt),
	}
}

// Setting renders a repository setting
func Setting(setting *domain.Setting) Envelope {
	return Envelope{
		"@type": "setting",
		"@href": SettingHref(setting.RepositoryID, setting.Name),
		"name":  setting.Name,
		"value": setting.Value,
	}
}

// Error renders the error envelope for err
func Error(err *apperrors.AppError) Envelope {
	env := Envelope{
		"@type":         "error",
		"error_type":    errorType(err.Code),
		"error_message": err.Message,
	}
	if err.ResourceType != "" {
		env["resource_type"] = err.ResourceType
	}
	if err.Permission != "" {
		env["permission"] = err.Permission
	}
	return env
}

func errorType(code apperrors.ErrCode) string {
	switch code {
	case apperrors.ErrCodeNotFound:
		return "not_found"
	case apperrors.ErrCodeLoginRequired:
		return "login_required"
	case apperrors.ErrCodeInsufficientAccess:
		return "insufficient_access"
	case apperrors.ErrCodeUnprocessable:
		return "error"
	case apperrors.ErrCodeConflict:
		return "conflict"
	case apperrors.ErrCodeBadRequest:
		return "wrong_params"
	default:
		return "server_error"
	}
}

func timestamp(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
