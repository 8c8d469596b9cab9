package domain

import "time"

// Repository represents a repository known to the CI service
type Repository struct {
	ID        int64
	OwnerName string
	Name      string
	Private   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slug returns the "owner/name" form used in URLs
func (r *Repository) Slug() string {
	return r.OwnerName + "/" + r.Name
}

// User represents an account that can hold repository permissions
type User struct {
	ID        int64
	Login     string
	CreatedAt time.Time
}

// Permission is a user's access level on a single repository
type Permission struct {
	UserID       int64
	RepositoryID int64
	Admin        bool
	Push         bool
	Pull         bool
}

// Setting is a single named repository setting
type Setting struct {
	RepositoryID int64
	Name         string
	Value        interface{} // bool, int64 or string
}
