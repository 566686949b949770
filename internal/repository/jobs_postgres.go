package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velocity-los/velocity-back/internal/domain"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	repo := &PostgresJobsRepository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *PostgresJobsRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id                    TEXT PRIMARY KEY,
			processing_stage      TEXT NOT NULL,
			object_path           TEXT NOT NULL DEFAULT '',
			company_profile_id    TEXT NOT NULL DEFAULT '',
			program_id            TEXT NOT NULL DEFAULT '',
			extracted_text        TEXT NOT NULL DEFAULT '',
			extracted_text_length INTEGER NOT NULL DEFAULT 0,
			extractor             TEXT NOT NULL DEFAULT '',
			fallback_used         BOOLEAN NOT NULL DEFAULT FALSE,
			parsing_error         TEXT NOT NULL DEFAULT '',
			parsing_failed_at     TIMESTAMPTZ,
			decision              TEXT NOT NULL DEFAULT '',
			decision_public       JSONB,
			decision_raw          JSONB,
			analysis_error        TEXT NOT NULL DEFAULT '',
			lease_holder          TEXT,
			lease_stage           TEXT,
			lease_claimed_at      TIMESTAMPTZ,
			lease_expires_at      TIMESTAMPTZ,
			lease_released_at     TIMESTAMPTZ,
			lease_release_reason  TEXT NOT NULL DEFAULT '',
			created_at            TIMESTAMPTZ NOT NULL,
			updated_at            TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS jobs_stage_updated_idx
			ON jobs (processing_stage, updated_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

const jobColumns = `
	id, processing_stage, object_path, company_profile_id, program_id,
	extracted_text, extracted_text_length, extractor, fallback_used,
	parsing_error, parsing_failed_at,
	decision, decision_public, decision_raw, analysis_error,
	lease_holder, lease_stage, lease_claimed_at, lease_expires_at,
	lease_released_at, lease_release_reason,
	created_at, updated_at`

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, processing_stage, object_path, company_profile_id, program_id,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		job.ID,
		string(job.ProcessingStage),
		job.ObjectPath,
		job.CompanyProfileID,
		job.ProgramID,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ListJobs(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]*domain.Job, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	where := ""
	args := make([]any, 0, 3)
	if filter.Stage != "" {
		where = " WHERE processing_stage = $1"
		args = append(args, string(filter.Stage))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", rows.Err())
	}
	return jobs, total, nil
}

// ClaimOldest performs the claim-by-write inside a single transaction. The
// row lock taken by FOR UPDATE SKIP LOCKED guarantees exactly one winner when
// concurrent invocations race for the same job; losers see no eligible row.
func (r *PostgresJobsRepository) ClaimOldest(
	ctx context.Context,
	stage domain.ProcessingStage,
	lease domain.Lease,
) (*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var jobID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM jobs
		WHERE processing_stage = $1
		  AND (lease_expires_at IS NULL OR lease_expires_at <= $2)
		ORDER BY updated_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, string(stage), lease.ClaimedAt).Scan(&jobID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			lease_holder = $2,
			lease_stage = $3,
			lease_claimed_at = $4,
			lease_expires_at = $5,
			updated_at = $4
		WHERE id = $1
	`, jobID, lease.Holder, string(lease.Stage), lease.ClaimedAt, lease.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("write lease: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		return nil, fmt.Errorf("reread claimed job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) ReleaseLease(
	ctx context.Context,
	jobID string,
	reason domain.LeaseReleaseReason,
) error {
	now := time.Now().UTC()
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs SET
			lease_holder = NULL,
			lease_stage = NULL,
			lease_claimed_at = NULL,
			lease_expires_at = NULL,
			lease_released_at = $2,
			lease_release_reason = $3,
			updated_at = $2
		WHERE id = $1
	`, jobID, now, string(reason))
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) MarkParsed(
	ctx context.Context,
	jobID string,
	result domain.ParseResult,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs SET
			extracted_text = $2,
			extracted_text_length = $3,
			extractor = $4,
			fallback_used = $5,
			parsing_error = '',
			parsing_failed_at = NULL,
			processing_stage = $6,
			updated_at = $7
		WHERE id = $1
	`,
		jobID,
		result.Text,
		len(result.Text),
		result.Extractor,
		result.FallbackUsed,
		string(domain.StageAnalyzing),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) MarkParsingFailed(
	ctx context.Context,
	jobID string,
	message string,
) error {
	now := time.Now().UTC()
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs SET
			parsing_error = $2,
			parsing_failed_at = $3,
			processing_stage = $4,
			updated_at = $3
		WHERE id = $1
	`, jobID, message, now, string(domain.StageParsingFailed))
	if err != nil {
		return fmt.Errorf("mark parsing failed: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresJobsRepository) MarkCompleted(
	ctx context.Context,
	jobID string,
	outcome domain.AnalysisOutcome,
) error {
	publicJSON, err := json.Marshal(outcome.Public)
	if err != nil {
		return fmt.Errorf("encode public artifact: %w", err)
	}
	rawJSON, err := json.Marshal(outcome.Raw)
	if err != nil {
		return fmt.Errorf("encode raw artifact: %w", err)
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE jobs SET
			decision = $2,
			decision_public = $3,
			decision_raw = $4,
			analysis_error = $5,
			processing_stage = $6,
			updated_at = $7
		WHERE id = $1
	`,
		jobID,
		string(outcome.Decision),
		publicJSON,
		rawJSON,
		outcome.Error,
		string(domain.StageCompleted),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job             domain.Job
		stage           string
		decision        string
		releaseReason   string
		publicJSON      []byte
		rawJSON         []byte
		leaseHolder     *string
		leaseStage      *string
		leaseClaimedAt  *time.Time
		leaseExpiresAt  *time.Time
		leaseReleasedAt *time.Time
		parsingFailedAt *time.Time
	)

	err := row.Scan(
		&job.ID,
		&stage,
		&job.ObjectPath,
		&job.CompanyProfileID,
		&job.ProgramID,
		&job.ExtractedTextCombined,
		&job.ExtractedTextLength,
		&job.Extractor,
		&job.FallbackUsed,
		&job.ParsingError,
		&parsingFailedAt,
		&decision,
		&publicJSON,
		&rawJSON,
		&job.AnalysisError,
		&leaseHolder,
		&leaseStage,
		&leaseClaimedAt,
		&leaseExpiresAt,
		&leaseReleasedAt,
		&releaseReason,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ProcessingStage = domain.ProcessingStage(stage)
	job.Decision = domain.Decision(decision)
	job.LeaseReleaseReason = domain.LeaseReleaseReason(releaseReason)
	job.ParsingFailedAt = parsingFailedAt
	job.LeaseReleasedAt = leaseReleasedAt

	if leaseHolder != nil && leaseClaimedAt != nil && leaseExpiresAt != nil {
		lease := domain.Lease{
			Holder:    *leaseHolder,
			ClaimedAt: *leaseClaimedAt,
			ExpiresAt: *leaseExpiresAt,
		}
		if leaseStage != nil {
			lease.Stage = domain.ProcessingStage(*leaseStage)
		}
		job.Lease = &lease
	}

	if len(publicJSON) > 0 {
		var public domain.DecisionArtifact
		if err := json.Unmarshal(publicJSON, &public); err == nil {
			job.DecisionArtifactPublic = &public
		}
	}
	if len(rawJSON) > 0 {
		var raw domain.DecisionArtifactRaw
		if err := json.Unmarshal(rawJSON, &raw); err == nil {
			job.DecisionArtifactRaw = &raw
		}
	}
	return &job, nil
}
