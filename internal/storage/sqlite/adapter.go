package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// NewSQLiteStorage creates a new SQLite storage instance.
// Transactions take the write lock on BEGIN so cron replacement is serialized.
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		login TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_name TEXT NOT NULL,
		name TEXT NOT NULL,
		private BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (owner_name, name)
	);

	CREATE TABLE IF NOT EXISTS permissions (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		admin BOOLEAN NOT NULL DEFAULT 0,
		push BOOLEAN NOT NULL DEFAULT 0,
		pull BOOLEAN NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, repository_id)
	);

	CREATE TABLE IF NOT EXISTS commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		sha TEXT NOT NULL,
		ref TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		compare_url TEXT NOT NULL DEFAULT '',
		committed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS branches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		last_build_id INTEGER,
		exists_on_github BOOLEAN NOT NULL DEFAULT 1,
		UNIQUE (repository_id, name)
	);

	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		number TEXT NOT NULL,
		state TEXT NOT NULL,
		previous_state TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL DEFAULT 'push',
		duration INTEGER,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		branch_name TEXT NOT NULL,
		commit_id INTEGER REFERENCES commits(id)
	);

	CREATE INDEX IF NOT EXISTS idx_builds_repository_branch ON builds(repository_id, branch_name);

	CREATE TABLE IF NOT EXISTS crons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		branch_id INTEGER NOT NULL UNIQUE REFERENCES branches(id) ON DELETE CASCADE,
		run_interval TEXT NOT NULL,
		run_only_when_new_commit BOOLEAN NOT NULL DEFAULT 0,
		last_run TIMESTAMP,
		next_run TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_crons_repository ON crons(repository_id);

	CREATE TABLE IF NOT EXISTS grants (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		resource_type TEXT NOT NULL,
		resource_id INTEGER NOT NULL,
		capability TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_grants_resource ON grants(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_grants_user ON grants(user_id);

	CREATE TABLE IF NOT EXISTS settings (
		repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (repository_id, name)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

// FindRepositoryByID retrieves a repository by id
func (s *sqliteStorage) FindRepositoryByID(ctx context.Context, id int64) (*domain.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_name, name, private, created_at, updated_at
		FROM repositories WHERE id = ?
	`, id)
	return scanRepository(row)
}

// FindRepositoryBySlug retrieves a repository by its "owner/name" slug
func (s *sqliteStorage) FindRepositoryBySlug(ctx context.Context, slug string) (*domain.Repository, error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok {
		return nil, apperrors.NewNotFoundError(storage.ResourceRepository)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_name, name, private, created_at, updated_at
		FROM repositories WHERE owner_name = ? AND name = ?
	`, owner, name)
	return scanRepository(row)
}

func scanRepository(row scanner) (*domain.Repository, error) {
	var repo domain.Repository
	err := row.Scan(&repo.ID, &repo.OwnerName, &repo.Name, &repo.Private, &repo.CreatedAt, &repo.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(storage.ResourceRepository)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}
	return &repo, nil
}

// SaveRepository inserts or updates a repository
func (s *sqliteStorage) SaveRepository(ctx context.Context, repo *domain.Repository) error {
	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, owner_name, name, private, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_name = excluded.owner_name,
			name = excluded.name,
			private = excluded.private,
			updated_at = excluded.updated_at
	`, nullID(repo.ID), repo.OwnerName, repo.Name, repo.Private, repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save repository %s: %w", repo.Slug(), err)
	}
	return assignID(result, &repo.ID)
}

// FindUser retrieves a user by id
func (s *sqliteStorage) FindUser(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `SELECT id, login, created_at FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Login, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(storage.ResourceUser)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %d: %w", id, err)
	}
	return &user, nil
}

// SaveUser inserts or updates a user
func (s *sqliteStorage) SaveUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, login, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET login = excluded.login
	`, nullID(user.ID), user.Login, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.Login, err)
	}
	return assignID(result, &user.ID)
}

// FindPermission retrieves a user's permission on a repository
func (s *sqliteStorage) FindPermission(ctx context.Context, userID, repositoryID int64) (*domain.Permission, error) {
	perm := domain.Permission{UserID: userID, RepositoryID: repositoryID}
	err := s.db.QueryRowContext(ctx, `
		SELECT admin, push, pull FROM permissions WHERE user_id = ? AND repository_id = ?
	`, userID, repositoryID).Scan(&perm.Admin, &perm.Push, &perm.Pull)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find permission: %w", err)
	}
	return &perm, nil
}

// SavePermission inserts or updates a permission
func (s *sqliteStorage) SavePermission(ctx context.Context, perm *domain.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (user_id, repository_id, admin, push, pull) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, repository_id) DO UPDATE SET
			admin = excluded.admin, push = excluded.push, pull = excluded.pull
	`, perm.UserID, perm.RepositoryID, perm.Admin, perm.Push, perm.Pull)
	if err != nil {
		return fmt.Errorf("failed to save permission: %w", err)
	}
	return nil
}

// HasGrant reports whether the user holds capability on the resource
func (s *sqliteStorage) HasGrant(ctx context.Context, userID int64, resourceType string, resourceID int64, capability string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM grants
		WHERE user_id = ? AND resource_type = ? AND resource_id = ? AND capability = ?
	`, userID, resourceType, resourceID, capability).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return count > 0, nil
}

const buildSelect = `
	SELECT b.id, b.repository_id, b.number, b.state, b.previous_state, b.event_type,
		b.duration, b.started_at, b.finished_at, b.branch_name, b.commit_id,
		br.id, br.last_build_id, br.exists_on_github,
		c.sha, c.ref, c.message, c.compare_url, c.committed_at
	FROM builds b
	LEFT JOIN branches br ON br.repository_id = b.repository_id AND br.name = b.branch_name
	LEFT JOIN commits c ON c.id = b.commit_id`

// ListBuilds retrieves a window of a repository's builds, newest first
func (s *sqliteStorage) ListBuilds(ctx context.Context, repositoryID int64, filter domain.BuildFilter, offset, limit int) ([]*domain.Build, int, error) {
	where := ` WHERE b.repository_id = ?`
	args := []interface{}{repositoryID}
	if filter.BranchName != "" {
		where += ` AND b.branch_name = ?`
		args = append(args, filter.BranchName)
	}

	var (
		builds []*domain.Build
		total  int
	)
	err := s.readTx(ctx, func(q queryer) error {
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM builds b`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("failed to count builds: %w", err)
		}

		rows, err := q.QueryContext(ctx, buildSelect+where+` ORDER BY b.id DESC LIMIT ? OFFSET ?`,
			append(args, limit, offset)...)
		if err != nil {
			return fmt.Errorf("failed to list builds: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			build, err := scanBuild(rows)
			if err != nil {
				return err
			}
			builds = append(builds, build)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	return builds, total, nil
}

// FindBuild retrieves a build by id
func (s *sqliteStorage) FindBuild(ctx context.Context, id int64) (*domain.Build, error) {
	build, err := scanBuild(s.db.QueryRowContext(ctx, buildSelect+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(storage.ResourceBuild)
	}
	return build, err
}

func scanBuild(row scanner) (*domain.Build, error) {
	var (
		build                              domain.Build
		duration, commitID                 sql.NullInt64
		branchID, lastBuildID              sql.NullInt64
		existsOnGitHub                     sql.NullBool
		startedAt, finishedAt, committedAt sql.NullTime
		sha, ref, message, compareURL      sql.NullString
	)
	err := row.Scan(
		&build.ID, &build.RepositoryID, &build.Number, &build.State, &build.PreviousState, &build.EventType,
		&duration, &startedAt, &finishedAt, &build.BranchName, &commitID,
		&branchID, &lastBuildID, &existsOnGitHub,
		&sha, &ref, &message, &compareURL, &committedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan build: %w", err)
	}

	build.Duration = int64Ptr(duration)
	build.StartedAt = timePtr(startedAt)
	build.FinishedAt = timePtr(finishedAt)
	build.CommitID = int64Ptr(commitID)
	if branchID.Valid {
		build.Branch = &domain.Branch{
			ID:             branchID.Int64,
			RepositoryID:   build.RepositoryID,
			Name:           build.BranchName,
			LastBuildID:    int64Ptr(lastBuildID),
			ExistsOnGitHub: existsOnGitHub.Bool,
		}
	}
	if commitID.Valid && sha.Valid {
		build.Commit = &domain.Commit{
			ID:           commitID.Int64,
			RepositoryID: build.RepositoryID,
			Sha:          sha.String,
			Ref:          ref.String,
			Message:      message.String,
			CompareURL:   compareURL.String,
			CommittedAt:  timePtr(committedAt),
		}
	}
	return &build, nil
}

// SaveBuild inserts or updates a build
func (s *sqliteStorage) SaveBuild(ctx context.Context, build *domain.Build) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (id, repository_id, number, state, previous_state, event_type,
			duration, started_at, finished_at, branch_name, commit_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			previous_state = excluded.previous_state,
			duration = excluded.duration,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, nullID(build.ID), build.RepositoryID, build.Number, build.State, build.PreviousState, build.EventType,
		nullInt64(build.Duration), nullTime(build.StartedAt), nullTime(build.FinishedAt), build.BranchName, nullInt64(build.CommitID))
	if err != nil {
		return fmt.Errorf("failed to save build %s: %w", build.Number, err)
	}
	return assignID(result, &build.ID)
}

// SaveCommit inserts or updates a commit
func (s *sqliteStorage) SaveCommit(ctx context.Context, commit *domain.Commit) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO commits (id, repository_id, sha, ref, message, compare_url, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sha = excluded.sha, ref = excluded.ref, message = excluded.message,
			compare_url = excluded.compare_url, committed_at = excluded.committed_at
	`, nullID(commit.ID), commit.RepositoryID, commit.Sha, commit.Ref, commit.Message, commit.CompareURL, nullTime(commit.CommittedAt))
	if err != nil {
		return fmt.Errorf("failed to save commit %s: %w", commit.Sha, err)
	}
	return assignID(result, &commit.ID)
}

// FindBranch retrieves a branch of a repository by name
func (s *sqliteStorage) FindBranch(ctx context.Context, repositoryID int64, name string) (*domain.Branch, error) {
	branch := domain.Branch{RepositoryID: repositoryID, Name: name}
	var lastBuildID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, last_build_id, exists_on_github FROM branches WHERE repository_id = ? AND name = ?
	`, repositoryID, name).Scan(&branch.ID, &lastBuildID, &branch.ExistsOnGitHub)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(storage.ResourceBranch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find branch %s: %w", name, err)
	}
	branch.LastBuildID = int64Ptr(lastBuildID)
	return &branch, nil
}

// SaveBranch inserts or updates a branch
func (s *sqliteStorage) SaveBranch(ctx context.Context, branch *domain.Branch) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, repository_id, name, last_build_id, exists_on_github)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_build_id = excluded.last_build_id,
			exists_on_github = excluded.exists_on_github
	`, nullID(branch.ID), branch.RepositoryID, branch.Name, nullInt64(branch.LastBuildID), branch.ExistsOnGitHub)
	if err != nil {
		return fmt.Errorf("failed to save branch %s: %w", branch.Name, err)
	}
	return assignID(result, &branch.ID)
}

const cronSelect = `
	SELECT cr.id, cr.repository_id, cr.branch_id, br.name, cr.run_interval,
		cr.run_only_when_new_commit, cr.last_run, cr.next_run, cr.created_at
	FROM crons cr
	JOIN branches br ON br.id = cr.branch_id`

// FindCron retrieves a cron by id
func (s *sqliteStorage) FindCron(ctx context.Context, id int64) (*domain.Cron, error) {
	return scanCron(s.db.QueryRowContext(ctx, cronSelect+` WHERE cr.id = ?`, id))
}

// FindCronByBranch retrieves the cron of a branch
func (s *sqliteStorage) FindCronByBranch(ctx context.Context, branchID int64) (*domain.Cron, error) {
	return findCronByBranch(ctx, s.db, branchID)
}

func findCronByBranch(ctx context.Context, q queryer, branchID int64) (*domain.Cron, error) {
	return scanCron(q.QueryRowContext(ctx, cronSelect+` WHERE cr.branch_id = ?`, branchID))
}

// ListCrons retrieves a window of a repository's crons, oldest first
func (s *sqliteStorage) ListCrons(ctx context.Context, repositoryID int64, offset, limit int) ([]*domain.Cron, int, error) {
	var (
		crons []*domain.Cron
		total int
	)
	err := s.readTx(ctx, func(q queryer) error {
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM crons WHERE repository_id = ?`, repositoryID).Scan(&total); err != nil {
			return fmt.Errorf("failed to count crons: %w", err)
		}

		rows, err := q.QueryContext(ctx, cronSelect+` WHERE cr.repository_id = ? ORDER BY cr.id LIMIT ? OFFSET ?`,
			repositoryID, limit, offset)
		if err != nil {
			return fmt.Errorf("failed to list crons: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			cron, err := scanCron(rows)
			if err != nil {
				return err
			}
			crons = append(crons, cron)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return crons, total, nil
}

func scanCron(row scanner) (*domain.Cron, error) {
	var (
		cron     domain.Cron
		interval string
		lastRun  sql.NullTime
	)
	err := row.Scan(&cron.ID, &cron.RepositoryID, &cron.BranchID, &cron.BranchName, &interval,
		&cron.RunOnlyWhenNewCommit, &lastRun, &cron.NextRun, &cron.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(storage.ResourceCron)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cron: %w", err)
	}
	cron.Interval = domain.Interval(interval)
	cron.LastRun = timePtr(lastRun)
	return &cron, nil
}

// ListSettings retrieves all settings of a repository ordered by name
func (s *sqliteStorage) ListSettings(ctx context.Context, repositoryID int64) ([]*domain.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value FROM settings WHERE repository_id = ? ORDER BY name
	`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []*domain.Setting
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		settings = append(settings, &domain.Setting{
			RepositoryID: repositoryID,
			Name:         name,
			Value:        storage.DecodeSettingValue(value),
		})
	}
	return settings, rows.Err()
}

// SaveSetting inserts or updates a repository setting
func (s *sqliteStorage) SaveSetting(ctx context.Context, setting *domain.Setting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (repository_id, name, value) VALUES (?, ?, ?)
		ON CONFLICT(repository_id, name) DO UPDATE SET value = excluded.value
	`, setting.RepositoryID, setting.Name, storage.EncodeSettingValue(setting.Value))
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", setting.Name, err)
	}
	return nil
}

// readTx runs fn inside a transaction so every statement in fn reads the
// same snapshot
func (s *sqliteStorage) readTx(ctx context.Context, fn func(q queryer) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// InTx runs fn inside a transaction
func (s *sqliteStorage) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapWriteError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// sqliteTx implements storage.Tx
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) FindCronByBranch(ctx context.Context, branchID int64) (*domain.Cron, error) {
	return findCronByBranch(ctx, t.tx, branchID)
}

func (t *sqliteTx) CreateCron(ctx context.Context, cron *domain.Cron) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO crons (repository_id, branch_id, run_interval, run_only_when_new_commit, last_run, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cron.RepositoryID, cron.BranchID, string(cron.Interval), cron.RunOnlyWhenNewCommit,
		nullTime(cron.LastRun), cron.NextRun, cron.CreatedAt)
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to create cron for branch %d: %w", cron.BranchID, err))
	}
	return assignID(result, &cron.ID)
}

func (t *sqliteTx) DeleteCron(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM crons WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete cron %d: %w", id, err)
	}
	return nil
}

func (t *sqliteTx) CreateGrant(ctx context.Context, grant *domain.Grant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO grants (id, user_id, resource_type, resource_id, capability, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, grant.ID, grant.UserID, grant.ResourceType, grant.ResourceID, grant.Capability, grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteGrants(ctx context.Context, resourceType string, resourceID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM grants WHERE resource_type = ? AND resource_id = ?
	`, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("failed to delete grants on %s %d: %w", resourceType, resourceID, err)
	}
	return nil
}

// mapWriteError turns unique constraint violations into conflict errors
func mapWriteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return apperrors.NewConflictError("a cron already exists for this branch", err)
	}
	return err
}

func assignID(result sql.Result, id *int64) error {
	if *id != 0 {
		return nil
	}
	lastID, err := result.LastInsertId()
	if err != nil {
		return err
	}
	*id = lastID
	return nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
