package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/extract"
	"github.com/velocity-los/velocity-back/internal/lease"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/storage"
)

// minDocumentSize rejects truncated downloads; no real mortgage document is
// under 50 bytes.
const minDocumentSize = 50

type ParsingWorkerDependencies struct {
	Leases     *lease.Manager
	Jobs       repository.JobsRepository
	Documents  storage.DocumentStore
	Extractor  extract.TextExtractor
	Repairer   extract.Repairer
	RetryCount int
	Logger     *log.Logger
}

// ParsingWorker drains at most one parsing-stage job per invocation, turning
// raw document bytes into extracted text.
type ParsingWorker struct {
	leases     *lease.Manager
	jobs       repository.JobsRepository
	documents  storage.DocumentStore
	extractor  extract.TextExtractor
	repairer   extract.Repairer
	retryCount int
	logger     *log.Logger
}

func NewParsingWorker(deps ParsingWorkerDependencies) *ParsingWorker {
	retryCount := deps.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	return &ParsingWorker{
		leases:     deps.Leases,
		jobs:       deps.Jobs,
		documents:  deps.Documents,
		extractor:  deps.Extractor,
		repairer:   deps.Repairer,
		retryCount: retryCount,
		logger:     deps.Logger,
	}
}

// ProcessOne claims one parsing job and runs it to a terminal outcome. A
// returned error means the invocation itself failed after claiming; in that
// case the lease is deliberately left to expire so the job stays reclaimable
// and the partial diagnostic state is not overwritten.
func (w *ParsingWorker) ProcessOne(ctx context.Context) (Result, error) {
	claimed, err := w.leases.ClaimOne(ctx, domain.StageParsing)
	if err != nil {
		return Result{}, fmt.Errorf("claim parsing job: %w", err)
	}
	if claimed == nil {
		return Result{}, nil
	}

	job, err := w.jobs.GetJob(ctx, claimed.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reread job %s: %w", claimed.ID, err)
	}

	if job.ObjectPath == "" {
		// Missing required input is not retried blindly; an operator must
		// fix the record.
		return w.failJob(ctx, job.ID, "job has no object path")
	}

	if job.ProcessingStage != domain.StageParsing {
		w.leases.Release(ctx, job.ID, domain.LeaseReleaseSkipped)
		if w.logger != nil {
			w.logger.Printf("parsing skipped, stage drifted job_id=%s stage=%s", job.ID, job.ProcessingStage)
		}
		return Result{}, nil
	}

	data, err := w.downloadWithRetry(ctx, job.ObjectPath)
	if err != nil {
		return w.failJob(ctx, job.ID, fmt.Sprintf("download failed: %v", err))
	}

	text, extractorTag, fallbackUsed, err := w.extractText(ctx, job.ObjectPath, data)
	if err != nil {
		return w.failJob(ctx, job.ID, fmt.Sprintf("extraction failed: %v", err))
	}

	text = extract.NormalizeText(text)
	if text == "" {
		// A job must never silently advance with no usable content.
		return w.failJob(ctx, job.ID, "extraction produced empty text")
	}

	err = w.jobs.MarkParsed(ctx, job.ID, domain.ParseResult{
		Text:         text,
		Extractor:    extractorTag,
		FallbackUsed: fallbackUsed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("mark parsed: %w", err)
	}

	w.leases.Release(ctx, job.ID, domain.LeaseReleaseSuccess)
	if w.logger != nil {
		w.logger.Printf(
			"parsing completed job_id=%s extractor=%s fallback=%t chars=%d",
			job.ID, extractorTag, fallbackUsed, len(text),
		)
	}
	return Result{Processed: 1, JobID: job.ID}, nil
}

// failJob records a terminal parsing failure on the job. This is a reported,
// non-fatal outcome: the invocation still counts as having processed a job.
func (w *ParsingWorker) failJob(ctx context.Context, jobID, message string) (Result, error) {
	if err := w.jobs.MarkParsingFailed(ctx, jobID, message); err != nil {
		return Result{}, fmt.Errorf("mark parsing failed: %w", err)
	}
	w.leases.Release(ctx, jobID, domain.LeaseReleaseFailed)
	if w.logger != nil {
		w.logger.Printf("parsing failed job_id=%s err=%s", jobID, message)
	}
	return Result{Processed: 1, JobID: jobID, Error: message}, nil
}

func (w *ParsingWorker) downloadWithRetry(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= w.retryCount; attempt++ {
		data, err := w.downloadOnce(ctx, path)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (w *ParsingWorker) downloadOnce(ctx context.Context, path string) ([]byte, error) {
	data, err := w.documents.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := validateDocumentBytes(data); err != nil {
		return nil, err
	}
	return data, nil
}

// validateDocumentBytes guards against silently ingesting a truncated
// download or an HTML error page (auth redirect, 404) as if it were the
// source document.
func validateDocumentBytes(data []byte) error {
	if len(data) < minDocumentSize {
		return fmt.Errorf("payload too small (%d bytes)", len(data))
	}
	prefix := strings.TrimLeft(string(data[:minDocumentSize]), " \t\r\n")
	if strings.HasPrefix(prefix, "<") {
		return errors.New("payload looks like markup, not a document")
	}
	return nil
}

// extractText runs the primary extractor, covers the transient-corruption
// case with one fresh download, and falls back to repair only when the
// failure signature matches the malformed cross-reference class.
func (w *ParsingWorker) extractText(
	ctx context.Context,
	path string,
	data []byte,
) (string, string, bool, error) {
	text, err := w.extractor.ExtractText(data)
	if err == nil {
		return text, w.extractor.Name(), false, nil
	}

	fresh, downloadErr := w.downloadOnce(ctx, path)
	if downloadErr == nil {
		text, err = w.extractor.ExtractText(fresh)
		if err == nil {
			return text, w.extractor.Name(), false, nil
		}
	}

	if w.repairer == nil || !extract.IsXRefError(err) {
		return "", "", false, err
	}
	return w.repairAndExtract(ctx, path, err)
}

func (w *ParsingWorker) repairAndExtract(
	ctx context.Context,
	path string,
	cause error,
) (string, string, bool, error) {
	data, err := w.downloadOnce(ctx, path)
	if err != nil {
		return "", "", false, fmt.Errorf("repair download failed: %w", err)
	}

	repaired, err := w.repairer.Repair(data)
	if err != nil {
		return "", "", false, fmt.Errorf("repair failed: %v (original: %v)", err, cause)
	}

	text, err := w.extractor.ExtractText(repaired)
	if err != nil {
		return "", "", false, fmt.Errorf("extraction after repair failed: %v (original: %v)", err, cause)
	}

	if w.logger != nil {
		w.logger.Printf("repair fallback succeeded path=%s", path)
	}
	return text, w.extractor.Name() + "-repaired", true, nil
}
