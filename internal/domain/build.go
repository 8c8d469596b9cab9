package domain

import "time"

// Build represents a single build of a repository
type Build struct {
	ID            int64
	RepositoryID  int64
	Number        string
	State         string
	PreviousState string
	EventType     string
	Duration      *int64 // seconds, nil while running
	StartedAt     *time.Time
	FinishedAt    *time.Time
	BranchName    string
	CommitID      *int64

	// Loaded associations, nil when absent
	Branch *Branch
	Commit *Commit
}

// Branch represents a branch the CI service has seen builds for
type Branch struct {
	ID             int64
	RepositoryID   int64
	Name           string
	LastBuildID    *int64
	ExistsOnGitHub bool
}

// Commit represents the commit a build ran against
type Commit struct {
	ID           int64
	RepositoryID int64
	Sha          string
	Ref          string
	Message      string
	CompareURL   string
	CommittedAt  *time.Time
}

// BuildFilter narrows a builds listing
type BuildFilter struct {
	BranchName string // exact match, empty means any branch
}
