package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/kurihiro0119/ci-api/internal/domain"
	apperrors "github.com/kurihiro0119/ci-api/internal/errors"
	"github.com/kurihiro0119/ci-api/internal/storage"
)

// uniqueViolation is the SQLSTATE for unique_violation
const uniqueViolation = "23505"

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
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

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id BIGSERIAL PRIMARY KEY,
		owner_name TEXT NOT NULL,
		name TEXT NOT NULL,
		private BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (owner_name, name)
	);

	CREATE TABLE IF NOT EXISTS permissions (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		admin BOOLEAN NOT NULL DEFAULT FALSE,
		push BOOLEAN NOT NULL DEFAULT FALSE,
		pull BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_id, repository_id)
	);

	CREATE TABLE IF NOT EXISTS commits (
		id BIGSERIAL PRIMARY KEY,
		repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		sha TEXT NOT NULL,
		ref TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		compare_url TEXT NOT NULL DEFAULT '',
		committed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS branches (
		id BIGSERIAL PRIMARY KEY,
		repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		last_build_id BIGINT,
		exists_on_github BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (repository_id, name)
	);

	CREATE TABLE IF NOT EXISTS builds (
		id BIGSERIAL PRIMARY KEY,
		repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		number TEXT NOT NULL,
		state TEXT NOT NULL,
		previous_state TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL DEFAULT 'push',
		duration BIGINT,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		branch_name TEXT NOT NULL,
		commit_id BIGINT REFERENCES commits(id)
	);

	CREATE INDEX IF NOT EXISTS idx_builds_repository_branch ON builds(repository_id, branch_name);

	CREATE TABLE IF NOT EXISTS crons (
		id BIGSERIAL PRIMARY KEY,
		repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		branch_id BIGINT NOT NULL UNIQUE REFERENCES branches(id) ON DELETE CASCADE,
		run_interval TEXT NOT NULL,
		run_only_when_new_commit BOOLEAN NOT NULL DEFAULT FALSE,
		last_run TIMESTAMPTZ,
		next_run TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_crons_repository ON crons(repository_id);

	CREATE TABLE IF NOT EXISTS grants (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		resource_type TEXT NOT NULL,
		resource_id BIGINT NOT NULL,
		capability TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_grants_resource ON grants(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_grants_user ON grants(user_id);

	CREATE TABLE IF NOT EXISTS settings (
		repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (repository_id, name)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

// FindRepositoryByID retrieves a repository by id
func (s *postgresStorage) FindRepositoryByID(ctx context.Context, id int64) (*domain.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_name, name, private, created_at, updated_at
		FROM repositories WHERE id = $1
	`, id)
	return scanRepository(row)
}

// FindRepositoryBySlug retrieves a repository by its "owner/name" slug
func (s *postgresStorage) FindRepositoryBySlug(ctx context.Context, slug string) (*domain.Repository, error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok {
		return nil, apperrors.NewNotFoundError(storage.ResourceRepository)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_name, name, private, created_at, updated_at
		FROM repositories WHERE owner_name = $1 AND name = $2
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
func (s *postgresStorage) SaveRepository(ctx context.Context, repo *domain.Repository) error {
	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO repositories (id, owner_name, name, private, created_at, updated_at)
		VALUES (COALESCE($1, nextval(pg_get_serial_sequence('repositories', 'id'))), $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner_name = EXCLUDED.owner_name,
			name = EXCLUDED.name,
			private = EXCLUDED.private,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, nullID(repo.ID), repo.OwnerName, repo.Name, repo.Private, repo.CreatedAt, repo.UpdatedAt).Scan(&repo.ID)
	if err != nil {
		return fmt.Errorf("failed to save repository %s: %w", repo.Slug(), err)
	}
	return nil
}

// FindUser retrieves a user by id
func (s *postgresStorage) FindUser(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `SELECT id, login, created_at FROM users WHERE id = $1`, id).
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
func (s *postgresStorage) SaveUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, login, created_at)
		VALUES (COALESCE($1, nextval(pg_get_serial_sequence('users', 'id'))), $2, $3)
		ON CONFLICT (id) DO UPDATE SET login = EXCLUDED.login
		RETURNING id
	`, nullID(user.ID), user.Login, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.Login, err)
	}
	return nil
}

// FindPermission retrieves a user's permission on a repository
func (s *postgresStorage) FindPermission(ctx context.Context, userID, repositoryID int64) (*domain.Permission, error) {
	perm := domain.Permission{UserID: userID, RepositoryID: repositoryID}
	err := s.db.QueryRowContext(ctx, `
		SELECT admin, push, pull FROM permissions WHERE user_id = $1 AND repository_id = $2
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
func (s *postgresStorage) SavePermission(ctx context.Context, perm *domain.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (user_id, repository_id, admin, push, pull) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, repository_id) DO UPDATE SET
			admin = EXCLUDED.admin, push = EXCLUDED.push, pull = EXCLUDED.pull
	`, perm.UserID, perm.RepositoryID, perm.Admin, perm.Push, perm.Pull)
	if err != nil {
		return fmt.Errorf("failed to save permission: %w", err)
	}
	return nil
}

// HasGrant reports whether the user holds capability on the resource
func (s *postgresStorage) HasGrant(ctx context.Context, userID int64, resourceType string, resourceID int64, capability string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM grants
			WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3 AND capability = $4
		)
	`, userID, resourceType, resourceID, capability).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return exists, nil
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
func (s *postgresStorage) ListBuilds(ctx context.Context, repositoryID int64, filter domain.BuildFilter, offset, limit int) ([]*domain.Build, int, error) {
	where := ` WHERE b.repository_id = $1`
	args := []interface{}{repositoryID}
	if filter.BranchName != "" {
		args = append(args, filter.BranchName)
		where += fmt.Sprintf(` AND b.branch_name = $%d`, len(args))
	}
	window := fmt.Sprintf(` ORDER BY b.id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var (
		builds []*domain.Build
		total  int
	)
	err := s.readTx(ctx, func(q queryer) error {
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM builds b`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("failed to count builds: %w", err)
		}

		rows, err := q.QueryContext(ctx, buildSelect+where+window, append(args, limit, offset)...)
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
func (s *postgresStorage) FindBuild(ctx context.Context, id int64) (*domain.Build, error) {
	build, err := scanBuild(s.db.QueryRowContext(ctx, buildSelect+` WHERE b.id = $1`, id))
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
func (s *postgresStorage) SaveBuild(ctx context.Context, build *domain.Build) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO builds (id, repository_id, number, state, previous_state, event_type,
			duration, started_at, finished_at, branch_name, commit_id)
		VALUES (COALESCE($1, nextval(pg_get_serial_sequence('builds', 'id'))), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			previous_state = EXCLUDED.previous_state,
			duration = EXCLUDED.duration,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
		RETURNING id
	`, nullID(build.ID), build.RepositoryID, build.Number, build.State, build.PreviousState, build.EventType,
		nullInt64(build.Duration), nullTime(build.StartedAt), nullTime(build.FinishedAt), build.BranchName, nullInt64(build.CommitID)).
		Scan(&build.ID)
	if err != nil {
		return fmt.Errorf("failed to save build %s: %w", build.Number, err)
	}
	return nil
}

// SaveCommit inserts or updates a commit
func (s *postgresStorage) SaveCommit(ctx context.Context, commit *domain.Commit) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO commits (id, repository_id, sha, ref, message, compare_url, committed_at)
		VALUES (COALESCE($1, nextval(pg_get_serial_sequence('commits', 'id'))), $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			sha = EXCLUDED.sha, ref = EXCLUDED.ref, message = EXCLUDED.message,
			compare_url = EXCLUDED.compare_url, committed_at = EXCLUDED.committed_at
		RETURNING id
	`, nullID(commit.ID), commit.RepositoryID, commit.Sha, commit.Ref, commit.Message, commit.CompareURL, nullTime(commit.CommittedAt)).
		Scan(&commit.ID)
	if err != nil {
		return fmt.Errorf("failed to save commit %s: %w", commit.Sha, err)
	}
	return nil
}

// FindBranch retrieves a branch of a repository by name
func (s *postgresStorage) FindBranch(ctx context.Context, repositoryID int64, name string) (*domain.Branch, error) {
	branch := domain.Branch{RepositoryID: repositoryID, Name: name}
	var lastBuildID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, last_build_id, exists_on_github FROM branches WHERE repository_id = $1 AND name = $2
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
func (s *postgresStorage) SaveBranch(ctx context.Context, branch *domain.Branch) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO branches (id, repository_id, name, last_build_id, exists_on_github)
		VALUES (COALESCE($1, nextval(pg_get_serial_sequence('branches', 'id'))), $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			last_build_id = EXCLUDED.last_build_id,
			exists_on_github = EXCLUDED.exists_on_github
		RETURNING id
	`, nullID(branch.ID), branch.RepositoryID, branch.Name, nullInt64(branch.LastBuildID), branch.ExistsOnGitHub).
		Scan(&branch.ID)
	if err != nil {
		return fmt.Errorf("failed to save branch %s: %w", branch.Name, err)
	}
	return nil
}

const cronSelect = `
	SELECT cr.id, cr.repository_id, cr.branch_id, br.name, cr.run_interval,
		cr.run_only_when_new_commit, cr.last_run, cr.next_run, cr.created_at
	FROM crons cr
	JOIN branches br ON br.id = cr.branch_id`

// FindCron retrieves a cron by id
func (s *postgresStorage) FindCron(ctx context.Context, id int64) (*domain.Cron, error) {
	return scanCron(s.db.QueryRowContext(ctx, cronSelect+` WHERE cr.id = $1`, id))
}

// FindCronByBranch retrieves the cron of a branch
func (s *postgresStorage) FindCronByBranch(ctx context.Context, branchID int64) (*domain.Cron, error) {
	return findCronByBranch(ctx, s.db, branchID)
}

func findCronByBranch(ctx context.Context, q queryer, branchID int64) (*domain.Cron, error) {
	return scanCron(q.QueryRowContext(ctx, cronSelect+` WHERE cr.branch_id = $1`, branchID))
}

// ListCrons retrieves a window of a repository's crons, oldest first
func (s *postgresStorage) ListCrons(ctx context.Context, repositoryID int64, offset, limit int) ([]*domain.Cron, int, error) {
	var (
		crons []*domain.Cron
		total int
	)
	err := s.readTx(ctx, func(q queryer) error {
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM crons WHERE repository_id = $1`, repositoryID).Scan(&total); err != nil {
			return fmt.Errorf("failed to count crons: %w", err)
		}

		rows, err := q.QueryContext(ctx, cronSelect+` WHERE cr.repository_id = $1 ORDER BY cr.id LIMIT $2 OFFSET $3`,
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
func (s *postgresStorage) ListSettings(ctx context.Context, repositoryID int64) ([]*domain.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value FROM settings WHERE repository_id = $1 ORDER BY name COLLATE "C"
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
func (s *postgresStorage) SaveSetting(ctx context.Context, setting *domain.Setting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (repository_id, name, value) VALUES ($1, $2, $3)
		ON CONFLICT (repository_id, name) DO UPDATE SET value = EXCLUDED.value
	`, setting.RepositoryID, setting.Name, storage.EncodeSettingValue(setting.Value))
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", setting.Name, err)
	}
	return nil
}

// readTx runs fn inside a repeatable read transaction so every statement
// in fn reads the same snapshot
func (s *postgresStorage) readTx(ctx context.Context, fn func(q queryer) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// InTx runs fn inside a transaction. A concurrent cron create on the same
// branch blocks on the unique index and then fails with a conflict error.
func (s *postgresStorage) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapWriteError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// postgresTx implements storage.Tx
type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) FindCronByBranch(ctx context.Context, branchID int64) (*domain.Cron, error) {
	return findCronByBranch(ctx, t.tx, branchID)
}

func (t *postgresTx) CreateCron(ctx context.Context, cron *domain.Cron) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO crons (repository_id, branch_id, run_interval, run_only_when_new_commit, last_run, next_run, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, cron.RepositoryID, cron.BranchID, string(cron.Interval), cron.RunOnlyWhenNewCommit,
		nullTime(cron.LastRun), cron.NextRun, cron.CreatedAt).Scan(&cron.ID)
	if err != nil {
		return mapWriteError(fmt.Errorf("failed to create cron for branch %d: %w", cron.BranchID, err))
	}
	return nil
}

func (t *postgresTx) DeleteCron(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM crons WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete cron %d: %w", id, err)
	}
	return nil
}

func (t *postgresTx) CreateGrant(ctx context.Context, grant *domain.Grant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO grants (id, user_id, resource_type, resource_id, capability, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, grant.ID, grant.UserID, grant.ResourceType, grant.ResourceID, grant.Capability, grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteGrants(ctx context.Context, resourceType string, resourceID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM grants WHERE resource_type = $1 AND resource_id = $2
	`, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("failed to delete grants on %s %d: %w", resourceType, resourceID, err)
	}
	return nil
}

// mapWriteError turns unique constraint violations into conflict errors
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.NewConflictError("a cron already exists for this branch", err)
	}
	return err
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
