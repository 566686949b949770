package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/storage"
)

func TestCreateApplicationStoresDocumentAndJob(t *testing.T) {
	ctx := context.Background()
	jobs := repository.NewMemoryJobsRepository()
	documents := storage.NewMemoryDocumentStore()
	svc := NewApplicationsService(jobs, documents)

	job, err := svc.CreateApplication(ctx, CreateApplicationInput{
		CompanyProfileID: "profile-1",
		ProgramID:        "prog-1",
		FileName:         "loan packet.pdf",
		ContentType:      "application/pdf",
		Document:         []byte("%PDF-1.7 fixture"),
	})
	if err != nil {
		t.Fatalf("CreateApplication: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("expected generated job id")
	}
	if job.ProcessingStage != domain.StageParsing {
		t.Fatalf("expected parsing stage, got %s", job.ProcessingStage)
	}
	if !strings.HasPrefix(job.ObjectPath, "applications/"+job.ID+"/") {
		t.Fatalf("unexpected object path: %s", job.ObjectPath)
	}
	if strings.Contains(job.ObjectPath, " ") {
		t.Fatalf("object path must be sanitized: %s", job.ObjectPath)
	}

	data, err := documents.Download(ctx, job.ObjectPath)
	if err != nil {
		t.Fatalf("document not stored: %v", err)
	}
	if string(data) != "%PDF-1.7 fixture" {
		t.Fatalf("stored bytes mismatch")
	}

	stored, err := jobs.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.CompanyProfileID != "profile-1" || stored.ProgramID != "prog-1" {
		t.Fatalf("relationship ids not persisted: %+v", stored)
	}
}

func TestCreateApplicationValidatesInput(t *testing.T) {
	ctx := context.Background()
	svc := NewApplicationsService(repository.NewMemoryJobsRepository(), storage.NewMemoryDocumentStore())

	_, err := svc.CreateApplication(ctx, CreateApplicationInput{Document: []byte("data")})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing profile, got %v", err)
	}

	_, err = svc.CreateApplication(ctx, CreateApplicationInput{CompanyProfileID: "profile-1"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing document, got %v", err)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"statement.pdf", "statement.pdf"},
		{"loan packet (final).pdf", "loan_packet__final_.pdf"},
		{"../../etc/passwd", "passwd"},
		{"", "document.pdf"},
		{"  ", "document.pdf"},
	}
	for _, tc := range cases {
		if got := sanitizeFileName(tc.in); got != tc.want {
			t.Fatalf("sanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestListApplicationsFiltersByStage(t *testing.T) {
	ctx := context.Background()
	jobs := repository.NewMemoryJobsRepository()
	svc := NewApplicationsService(jobs, storage.NewMemoryDocumentStore())

	for _, seed := range []struct {
		id    string
		stage domain.ProcessingStage
	}{
		{"job-a", domain.StageParsing},
		{"job-b", domain.StageAnalyzing},
		{"job-c", domain.StageParsing},
	} {
		err := jobs.CreateJob(ctx, &domain.Job{ID: seed.id, ProcessingStage: seed.stage})
		if err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	items, total, err := svc.ListApplications(ctx, domain.JobListFilter{Stage: domain.StageParsing})
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 parsing jobs, got total=%d len=%d", total, len(items))
	}
	for _, item := range items {
		if item.ProcessingStage != domain.StageParsing {
			t.Fatalf("unexpected stage %s", item.ProcessingStage)
		}
	}
}
