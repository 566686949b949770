package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/lease"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/rules"
)

type AnalysisWorkerDependencies struct {
	Leases *lease.Manager
	Jobs   repository.JobsRepository
	Rules  repository.RulesRepository
	Engine *rules.Engine
	Logger *log.Logger
}

// AnalysisWorker drains at most one analyzing-stage job per invocation,
// merging the company's rule pack with an optional program overlay and
// evaluating it against the extracted text.
type AnalysisWorker struct {
	leases *lease.Manager
	jobs   repository.JobsRepository
	rules  repository.RulesRepository
	engine *rules.Engine
	logger *log.Logger
}

func NewAnalysisWorker(deps AnalysisWorkerDependencies) *AnalysisWorker {
	return &AnalysisWorker{
		leases: deps.Leases,
		jobs:   deps.Jobs,
		rules:  deps.Rules,
		engine: deps.Engine,
		logger: deps.Logger,
	}
}

// ProcessOne claims one analyzing job and evaluates it. Missing relationship
// data never crashes the worker: the job resolves to a conditional decision
// with a descriptive error, because an underwriting system must fail closed.
// A returned error means the invocation failed after claiming; the lease is
// left to expire in that branch.
func (w *AnalysisWorker) ProcessOne(ctx context.Context) (Result, error) {
	claimed, err := w.leases.ClaimOne(ctx, domain.StageAnalyzing)
	if err != nil {
		return Result{}, fmt.Errorf("claim analyzing job: %w", err)
	}
	if claimed == nil {
		return Result{}, nil
	}

	job, err := w.jobs.GetJob(ctx, claimed.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reread job %s: %w", claimed.ID, err)
	}

	if job.ProcessingStage != domain.StageAnalyzing {
		w.leases.Release(ctx, job.ID, domain.LeaseReleaseSkipped)
		if w.logger != nil {
			w.logger.Printf("analysis skipped, stage drifted job_id=%s stage=%s", job.ID, job.ProcessingStage)
		}
		return Result{}, nil
	}

	pack, failure, err := w.resolveRulePack(ctx, job)
	if err != nil {
		return Result{}, err
	}
	if failure != "" {
		return w.failClosed(ctx, job.ID, failure)
	}

	overlay, err := w.resolveOverlay(ctx, job)
	if err != nil {
		return Result{}, err
	}

	merged := rules.Merge(pack, overlay)
	evaluation := w.engine.Evaluate(merged, job.ExtractedTextCombined)
	decision := evaluation.Decision()
	now := time.Now().UTC()

	public := domain.DecisionArtifact{
		Decision:    decision,
		Summary:     evaluation.Summary(),
		Findings:    matchesOrEmpty(evaluation.Findings),
		Conditions:  matchesOrEmpty(evaluation.Conditions),
		EvaluatedAt: now,
	}
	if overlay != nil {
		public.OverlayApplied = true
		public.OverlayID = overlay.ID
		public.OverlayName = overlay.Name
		public.OverlayRuleCount = len(overlay.Rules)
	}
	raw := domain.DecisionArtifactRaw{
		DecisionArtifact: public,
		Blockers:         matchesOrEmpty(evaluation.Blockers),
		RulePackID:       pack.ID,
		RulePackVersion:  pack.Version,
	}

	err = w.jobs.MarkCompleted(ctx, job.ID, domain.AnalysisOutcome{
		Decision: decision,
		Public:   &public,
		Raw:      &raw,
	})
	if err != nil {
		return Result{}, fmt.Errorf("mark completed: %w", err)
	}

	w.leases.Release(ctx, job.ID, domain.LeaseReleaseSuccess)
	if w.logger != nil {
		w.logger.Printf(
			"analysis completed job_id=%s decision=%s %s",
			job.ID, decision, evaluation.Summary(),
		)
	}
	return Result{Processed: 1, JobID: job.ID}, nil
}

// resolveRulePack validates required inputs in strict order. A non-empty
// failure message means the job must fail closed; an error return means the
// store itself failed.
func (w *AnalysisWorker) resolveRulePack(
	ctx context.Context,
	job *domain.Job,
) (*domain.RulePack, string, error) {
	if job.CompanyProfileID == "" {
		return nil, "job has no company profile reference", nil
	}
	if strings.TrimSpace(job.ExtractedTextCombined) == "" {
		return nil, "job has no extracted text to evaluate", nil
	}

	profile, err := w.rules.GetCompanyProfile(ctx, job.CompanyProfileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Sprintf("company profile %s not found", job.CompanyProfileID), nil
		}
		return nil, "", fmt.Errorf("load company profile: %w", err)
	}
	if profile.RulePackID == "" {
		return nil, fmt.Sprintf("company profile %s has no rule pack", profile.ID), nil
	}

	pack, err := w.rules.GetRulePack(ctx, profile.RulePackID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Sprintf("rule pack %s not found", profile.RulePackID), nil
		}
		return nil, "", fmt.Errorf("load rule pack: %w", err)
	}
	return pack, "", nil
}

// resolveOverlay loads the program's active overlay when one exists. Absence
// of a program or overlay is not an error; evaluation proceeds with base
// rules only.
func (w *AnalysisWorker) resolveOverlay(
	ctx context.Context,
	job *domain.Job,
) (*domain.Overlay, error) {
	if job.ProgramID == "" {
		return nil, nil
	}

	program, err := w.rules.GetProgram(ctx, job.ProgramID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load program: %w", err)
	}
	if program.ActiveOverlayID == "" {
		return nil, nil
	}

	overlay, err := w.rules.GetOverlay(ctx, program.ActiveOverlayID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load overlay: %w", err)
	}
	return overlay, nil
}

// failClosed completes the job with a forced conditional decision. Missing
// data must never imply approval, and the job must not stay stuck: the stage
// still advances to completed with the error recorded on the record.
func (w *AnalysisWorker) failClosed(ctx context.Context, jobID, message string) (Result, error) {
	now := time.Now().UTC()
	public := domain.DecisionArtifact{
		Decision:    domain.DecisionConditional,
		Summary:     message,
		Findings:    []domain.RuleMatch{},
		Conditions:  []domain.RuleMatch{},
		EvaluatedAt: now,
	}
	raw := domain.DecisionArtifactRaw{
		DecisionArtifact: public,
		Blockers:         []domain.RuleMatch{},
		Notes:            message,
	}

	err := w.jobs.MarkCompleted(ctx, jobID, domain.AnalysisOutcome{
		Decision: domain.DecisionConditional,
		Public:   &public,
		Raw:      &raw,
		Error:    message,
	})
	if err != nil {
		return Result{}, fmt.Errorf("mark completed (fail closed): %w", err)
	}

	w.leases.Release(ctx, jobID, domain.LeaseReleaseFailed)
	if w.logger != nil {
		w.logger.Printf("analysis failed closed job_id=%s err=%s", jobID, message)
	}
	return Result{Processed: 1, JobID: jobID, Error: message}, nil
}

func matchesOrEmpty(matches []domain.RuleMatch) []domain.RuleMatch {
	if matches == nil {
		return []domain.RuleMatch{}
	}
	return matches
}
