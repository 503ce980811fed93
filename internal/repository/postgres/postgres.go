package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
)

const deploymentColumns = `id, project_id, server, url, status, stage, error, cpu, memory, storage, created_at, completed_at, released_at`

// SaveDeployment upserts a deployment snapshot.
func (r *Repository) SaveDeployment(ctx context.Context, d domain.Deployment) error {
	const query = `INSERT INTO deployments (` + deploymentColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			released_at = EXCLUDED.released_at,
			updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.ProjectID,
		d.Server,
		d.URL,
		string(d.Status),
		d.Stage,
		emptyToNil(d.Error),
		d.Resources.CPU,
		d.Resources.Memory,
		d.Resources.Storage,
		d.CreatedAt,
		d.CompletedAt,
		d.ReleasedAt,
	)
	return mapError(err)
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDeploymentsByProject fetches recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + deploymentColumns + `
		FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// CloseActiveDeployments fails pending rows and releases deployed rows that
// are not in keep.
func (r *Repository) CloseActiveDeployments(ctx context.Context, at time.Time, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	const query = `UPDATE deployments SET
			status = CASE WHEN status = 'pending' THEN 'failed' ELSE 'released' END,
			error = CASE WHEN status = 'pending' THEN $2 ELSE error END,
			completed_at = CASE WHEN status = 'pending' THEN $1 ELSE completed_at END,
			released_at = CASE WHEN status = 'deployed' THEN $1 ELSE released_at END,
			updated_at = NOW()
		WHERE status IN ('pending', 'deployed') AND NOT (id = ANY($3))`
	tag, err := r.pool.Exec(ctx, query, at, domain.InterruptedError, keep)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

// AppendLog stores a pipeline log line.
func (r *Repository) AppendLog(ctx context.Context, log domain.ProjectLog) error {
	const query = `INSERT INTO project_logs (project_id, source, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, log.ProjectID, log.Source, log.Level, log.Message, bytesToNil(log.Metadata), log.CreatedAt)
	return mapError(err)
}

// ListLogsByProject fetches logs for a project.
func (r *Repository) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, project_id, source, level, message, metadata, created_at
		FROM project_logs WHERE project_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.ProjectLog, 0)
	for rows.Next() {
		var l domain.ProjectLog
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Source, &l.Level, &l.Message, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanDeployment(row pgx.Row) (domain.Deployment, error) {
	var (
		d      domain.Deployment
		status string
		errMsg *string
	)
	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.Server,
		&d.URL,
		&status,
		&d.Stage,
		&errMsg,
		&d.Resources.CPU,
		&d.Resources.Memory,
		&d.Resources.Storage,
		&d.CreatedAt,
		&d.CompletedAt,
		&d.ReleasedAt,
	)
	if err != nil {
		return domain.Deployment{}, err
	}
	d.Status = domain.DeploymentStatus(status)
	if errMsg != nil {
		d.Error = *errMsg
	}
	return d, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02":
			return repository.ErrInvalidArgument
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
