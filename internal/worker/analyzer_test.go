package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/lease"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/rules"
)

type failingMarkCompleted struct {
	repository.JobsRepository
	err error
}

func (f *failingMarkCompleted) MarkCompleted(_ context.Context, _ string, _ domain.AnalysisOutcome) error {
	return f.err
}

func seedAnalyzingJob(t *testing.T, jobs repository.JobsRepository, mutate func(*domain.Job)) *domain.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &domain.Job{
		ID:                    "job-1",
		ProcessingStage:       domain.StageAnalyzing,
		ObjectPath:            "applications/job-1/doc.pdf",
		CompanyProfileID:      "profile-1",
		ExtractedTextCombined: "Borrower: Jane Doe\nStated income: $120,000\nProperty type: condo",
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if mutate != nil {
		mutate(job)
	}
	if err := jobs.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func seedRuleData(rulesRepo *repository.MemoryRulesRepository) {
	rulesRepo.PutCompanyProfile(domain.CompanyProfile{
		ID:         "profile-1",
		Name:       "Acme Lending",
		RulePackID: "pack-1",
	})
	rulesRepo.PutRulePack(domain.RulePack{
		ID:      "pack-1",
		Version: "7",
		Rules: []domain.Rule{
			{ID: "r-income", Title: "Income stated", Type: domain.RuleTypeFinding, Pattern: `stated income`},
			{ID: "r-condo", Title: "Condo review required", Type: domain.RuleTypeCondition, Pattern: `condo`},
		},
	})
}

func newAnalysisWorker(jobs repository.JobsRepository, rulesRepo repository.RulesRepository) *AnalysisWorker {
	return NewAnalysisWorker(AnalysisWorkerDependencies{
		Leases: lease.NewManager(jobs, time.Minute, testLogger()),
		Jobs:   jobs,
		Rules:  rulesRepo,
		Engine: rules.NewEngine(0),
		Logger: testLogger(),
	})
}

func TestAnalysisHappyPathConditional(t *testing.T) {
	ctx := context.Background()
	jobs := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	seedRuleData(rulesRepo)
	seedAnalyzingJob(t, jobs, nil)

	worker := newAnalysisWorker(jobs, rulesRepo)
	result, err := worker.ProcessOne(ctx)
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if result.Processed != 1 || result.Error != "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	job, err := jobs.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.ProcessingStage != domain.StageCompleted {
		t.Fatalf("expected ai_completed, got %s", job.ProcessingStage)
	}
	if job.Decision != domain.DecisionConditional {
		t.Fatalf("expected conditional decision, got %s", job.Decision)
	}

	public := job.DecisionArtifactPublic
	if public == nil {
		t.Fatalf("expected public artifact")
	}
	if len(public.Conditions) != 1 || len(public.Findings) != 1 {
		t.Fatalf("unexpected match counts: %d conditions %d findings",
			len(public.Conditions), len(public.Findings))
	}
	if public.OverlayApplied {
		t.Fatalf("no overlay expected")
	}
	if public.EvaluatedAt.IsZero() {
		t.Fatalf("expected evaluatedAt set")
	}

	raw := job.DecisionArtifactRaw
	if raw == nil {
		t.Fatalf("expected raw artifact")
	}
	if raw.RulePackID != "pack-1" || raw.RulePackVersion != "7" {
		t.Fatalf("unexpected pack metadata: %s/%s", raw.RulePackID, raw.RulePackVersion)
	}
	if raw.Blockers == nil {
		t.Fatalf("raw blockers must be an empty slice, not nil")
	}

	if job.Lease != nil || job.LeaseReleaseReason != domain.LeaseReleaseSuccess {
		t.Fatalf("expected lease released with success, got %+v reason=%s", job.Lease, job.LeaseReleaseReason)
	}
}

func TestAnalysisBlockerForcesFailWithAllBucketsRecorded(t *testing.T) {
	ctx := context.Background()
	jobs := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	rulesRepo.PutCompanyProfile(domain.CompanyProfile{ID: "profile-1", RulePackID: "pack-1"})
	rulesRepo.PutRulePack(domain.RulePack{
		ID: "pack-1",
		Rules: []domain.Rule{
			{ID: "r-block", Type: domain.RuleTypeBlocker, Pattern: `jane doe`},
			{ID: "r-cond", Type: domain.RuleTypeCondition, Pattern: `condo`},
			{ID: "r-find", Type: domain.RuleTypeFinding, Pattern: `income`},
		},
	})
	seedAnalyzingJob(t, jobs, nil)

	worker := newAnalysisWorker(jobs, rulesRepo)
	if _, err := worker.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	job, _ := jobs.GetJob(ctx, "job-1")
	if job.Decision != domain.DecisionFail {
		t.Fatalf("expected fail decision, got %s", job.Decision)
	}
	if len(job.DecisionArtifactRaw.Blockers) != 1 {
		t.Fatalf("expected 1 blocker in raw artifact, got %d", len(job.DecisionArtifactRaw.Blockers))
	}
	// Blockers are internal only; the public artifact still records the
	// non-blocking matches.
	if len(job.DecisionArtifactPublic.Conditions) != 1 || len(job.DecisionArtifactPublic.Findings) != 1 {
		t.Fatalf("expected non-blocking buckets recorded publicly")
	}
}

func TestAnalysisAppliesOverlay(t *testing.T) {
	ctx := context.Background()
	jobs := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	seedRuleData(rulesRepo)
	rulesRepo.PutProgram(domain.Program{ID: "prog-1", Name: "Jumbo", ActiveOverlayID: "ov-1"})
	rulesRepo.PutOverlay(domain.Overlay{
		ID:   "ov-1",
		Name: "Jumbo overlay",
		Rules: []domain.Rule{
			{ID: "r-jumbo", Title: "High income review", Type: domain.RuleTypeCondition, Pattern: `\$120,000`},
		},
	})
	seedAnalyzingJob(t, jobs, func(job *domain.Job) {
		job.ProgramID = "prog-1"
	})

	worker := newAnalysisWorker(jobs, rulesRepo)
	if _, err := worker.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	job, _ := jobs.GetJob(ctx, "job-1")
	public := job.DecisionArtifactPublic
	if !public.OverlayApplied || public.OverlayID != "ov-1" || public.OverlayName != "Jumbo overlay" {
		t.Fatalf("unexpected overlay metadata: %+v", public)
	}
	if public.OverlayRuleCount != 1 {
		t.Fatalf("expected overlay rule count 1, got %d", public.OverlayRuleCount)
	}

	overlayMatched := false
	for _, match := range public.Conditions {
		if match.RuleID == "r-jumbo" && match.Source == domain.RuleSourceOverlay {
			overlayMatched = true
		}
	}
	if !overlayMatched {
		t.Fatalf("expected overlay rule to match with overlay source tag")
	}
}

func TestAnalysisIgnoresMissingProgram(t *testing.T) {
	ctx := context.Background()
	jobs := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	seedRuleData(rulesRepo)
	seedAnalyzingJob(t, jobs, func(job *domain.Job) {
		job.ProgramID = "prog-missing"
	})

	worker := newAnalysisWorker(jobs, rulesRepo)
	result, err := worker.ProcessOne(ctx)
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("missing program must not fail the job: %+v", result)
	}

	job, _ := jobs.GetJob(ctx, "job-1")
	if job.DecisionArtifactPublic.OverlayApplied {
		t.Fatalf("no overlay expected for missing program")
	}
}

func TestAnalysisFailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*domain.Job)
		seed    func(*repository.MemoryRulesRepository)
		message string
	}{
		{
			name:    "no company profile reference",
			mutate:  func(job *domain.Job) { job.CompanyProfileID = "" },
			seed:    seedRuleData,
			message: "no company profile reference",
		},
		{
			name:    "no extracted text",
			mutate:  func(job *domain.Job) { job.ExtractedTextCombined = "   " },
			seed:    seedRuleData,
			message: "no extracted text",
		},
		{
			name:    "company profile missing",
			mutate:  nil,
			seed:    func(_ *repository.MemoryRulesRepository) {},
			message: "company profile profile-1 not found",
		},
		{
			name:   "profile without rule pack",
			mutate: nil,
			seed: func(repo *repository.MemoryRulesRepository) {
				repo.PutCompanyProfile(domain.CompanyProfile{ID: "profile-1"})
			},
			message: "has no rule pack",
		},
		{
			name:   "rule pack missing",
			mutate: nil,
			seed: func(repo *repository.MemoryRulesRepository) {
				repo.PutCompanyProfile(domain.CompanyProfile{ID: "profile-1", RulePackID: "pack-gone"})
			},
			message: "rule pack pack-gone not found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			jobs := repository.NewMemoryJobsRepository()
			rulesRepo := repository.NewMemoryRulesRepository()
			tc.seed(rulesRepo)
			seedAnalyzingJob(t, jobs, tc.mutate)

			worker := newAnalysisWorker(jobs, rulesRepo)
			result, err := worker.ProcessOne(ctx)
			if err != nil {
				t.Fatalf("ProcessOne: %v", err)
			}
			if result.Processed != 1 || !strings.Contains(result.Error, tc.message) {
				t.Fatalf("unexpected result: %+v", result)
			}

			job, _ := jobs.GetJob(ctx, "job-1")
			if job.ProcessingStage != domain.StageCompleted {
				t.Fatalf("fail-closed job must still complete, got %s", job.ProcessingStage)
			}
			if job.Decision != domain.DecisionConditional {
				t.Fatalf("expected conditional decision, got %s", job.Decision)
			}
			if !strings.Contains(job.AnalysisError, tc.message) {
				t.Fatalf("expected analysis error recorded, got %q", job.AnalysisError)
			}
			if job.DecisionArtifactPublic == nil || job.DecisionArtifactPublic.Findings == nil {
				t.Fatalf("expected empty-but-present artifact buckets")
			}
			if job.LeaseReleaseReason != domain.LeaseReleaseFailed {
				t.Fatalf("expected failed release reason, got %s", job.LeaseReleaseReason)
			}
		})
	}
}

func TestAnalysisSkipsOnStageDrift(t *testing.T) {
	ctx := context.Background()
	base := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	seedRuleData(rulesRepo)
	seedAnalyzingJob(t, base, nil)
	jobs := &driftingJobs{JobsRepository: base, stage: domain.StageCompleted}

	worker := newAnalysisWorker(jobs, rulesRepo)
	result, err := worker.ProcessOne(ctx)
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("drifted job must not count as processed: %+v", result)
	}

	job, _ := base.GetJob(ctx, "job-1")
	if job.Lease != nil || job.LeaseReleaseReason != domain.LeaseReleaseSkipped {
		t.Fatalf("expected skipped release, got %+v reason=%s", job.Lease, job.LeaseReleaseReason)
	}
}

func TestAnalysisLeavesLeaseOnStoreWriteFailure(t *testing.T) {
	ctx := context.Background()
	base := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	seedRuleData(rulesRepo)
	seedAnalyzingJob(t, base, nil)
	jobs := &failingMarkCompleted{JobsRepository: base, err: errors.New("connection reset")}

	worker := newAnalysisWorker(jobs, rulesRepo)
	if _, err := worker.ProcessOne(ctx); err == nil {
		t.Fatalf("expected error when the stage write fails")
	}

	job, _ := base.GetJob(ctx, "job-1")
	if job.Lease == nil {
		t.Fatalf("expected lease left in place for expiry")
	}
	if job.ProcessingStage != domain.StageAnalyzing {
		t.Fatalf("expected stage unchanged, got %s", job.ProcessingStage)
	}
}
