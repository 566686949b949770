package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/velocity-los/velocity-back/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// JobsRepository abstracts job persistence, lease claiming, and the
// stage-transition writes performed by the pipeline workers.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]*domain.Job, int, error)

	// ClaimOldest atomically selects the oldest-updated job in the given
	// stage whose lease is absent or expired, writes the lease, and returns
	// a fresh read of the job. Returns (nil, nil) when no job is eligible.
	ClaimOldest(ctx context.Context, stage domain.ProcessingStage, lease domain.Lease) (*domain.Job, error)
	ReleaseLease(ctx context.Context, jobID string, reason domain.LeaseReleaseReason) error

	MarkParsed(ctx context.Context, jobID string, result domain.ParseResult) error
	MarkParsingFailed(ctx context.Context, jobID string, message string) error
	MarkCompleted(ctx context.Context, jobID string, outcome domain.AnalysisOutcome) error
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
// Claiming is serialized by the mutex, which stands in for the transactional
// claim-by-write the Postgres implementation performs.
type MemoryJobsRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) ListJobs(
	_ context.Context,
	filter domain.JobListFilter,
) ([]*domain.Job, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	items := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if filter.Stage != "" && job.ProcessingStage != filter.Stage {
			continue
		}
		items = append(items, cloneJob(job))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*domain.Job{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func (r *MemoryJobsRepository) ClaimOldest(
	_ context.Context,
	stage domain.ProcessingStage,
	lease domain.Lease,
) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	var candidate *domain.Job
	for _, job := range r.jobs {
		if job.ProcessingStage != stage {
			continue
		}
		if !job.Lease.Expired(now) {
			continue
		}
		if candidate == nil || job.UpdatedAt.Before(candidate.UpdatedAt) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}

	leaseCopy := lease
	candidate.Lease = &leaseCopy
	candidate.UpdatedAt = now
	return cloneJob(candidate), nil
}

func (r *MemoryJobsRepository) ReleaseLease(
	_ context.Context,
	jobID string,
	reason domain.LeaseReleaseReason,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	job.Lease = nil
	job.LeaseReleasedAt = &now
	job.LeaseReleaseReason = reason
	job.UpdatedAt = now
	return nil
}

func (r *MemoryJobsRepository) MarkParsed(
	_ context.Context,
	jobID string,
	result domain.ParseResult,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	job.ExtractedTextCombined = result.Text
	job.ExtractedTextLength = len(result.Text)
	job.Extractor = result.Extractor
	job.FallbackUsed = result.FallbackUsed
	job.ParsingError = ""
	job.ParsingFailedAt = nil
	job.ProcessingStage = domain.StageAnalyzing
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryJobsRepository) MarkParsingFailed(
	_ context.Context,
	jobID string,
	message string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	job.ParsingError = message
	job.ParsingFailedAt = &now
	job.ProcessingStage = domain.StageParsingFailed
	job.UpdatedAt = now
	return nil
}

func (r *MemoryJobsRepository) MarkCompleted(
	_ context.Context,
	jobID string,
	outcome domain.AnalysisOutcome,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	job.Decision = outcome.Decision
	job.DecisionArtifactPublic = outcome.Public
	job.DecisionArtifactRaw = outcome.Raw
	job.AnalysisError = outcome.Error
	job.ProcessingStage = domain.StageCompleted
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.Lease != nil {
		lease := *job.Lease
		clone.Lease = &lease
	}
	if job.ParsingFailedAt != nil {
		failedAt := *job.ParsingFailedAt
		clone.ParsingFailedAt = &failedAt
	}
	if job.LeaseReleasedAt != nil {
		releasedAt := *job.LeaseReleasedAt
		clone.LeaseReleasedAt = &releasedAt
	}
	if job.DecisionArtifactPublic != nil {
		public := *job.DecisionArtifactPublic
		clone.DecisionArtifactPublic = &public
	}
	if job.DecisionArtifactRaw != nil {
		raw := *job.DecisionArtifactRaw
		clone.DecisionArtifactRaw = &raw
	}
	return &clone
}
