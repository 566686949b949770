package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/storage"
)

var ErrInvalidInput = errors.New("invalid input")

// ApplicationsService handles intake: it stores the uploaded document and
// creates the job record at the parsing stage, which is where the pipeline
// picks it up.
type ApplicationsService struct {
	jobs      repository.JobsRepository
	documents storage.DocumentStore
}

func NewApplicationsService(
	jobs repository.JobsRepository,
	documents storage.DocumentStore,
) *ApplicationsService {
	return &ApplicationsService{jobs: jobs, documents: documents}
}

type CreateApplicationInput struct {
	CompanyProfileID string
	ProgramID        string
	FileName         string
	ContentType      string
	Document         []byte
}

func (s *ApplicationsService) CreateApplication(
	ctx context.Context,
	input CreateApplicationInput,
) (*domain.Job, error) {
	if input.CompanyProfileID == "" {
		return nil, fmt.Errorf("%w: company profile id is required", ErrInvalidInput)
	}
	if len(input.Document) == 0 {
		return nil, fmt.Errorf("%w: document is required", ErrInvalidInput)
	}

	jobID := uuid.NewString()
	objectPath := path.Join("applications", jobID, sanitizeFileName(input.FileName))

	if err := s.documents.Upload(ctx, objectPath, input.Document, input.ContentType); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:               jobID,
		ProcessingStage:  domain.StageParsing,
		ObjectPath:       objectPath,
		CompanyProfileID: input.CompanyProfileID,
		ProgramID:        input.ProgramID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *ApplicationsService) GetApplication(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

func (s *ApplicationsService) ListApplications(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]*domain.Job, int, error) {
	return s.jobs.ListJobs(ctx, filter)
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(path.Base(name))
	if name == "" || name == "." || name == "/" {
		return "document.pdf"
	}
	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '.', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}
