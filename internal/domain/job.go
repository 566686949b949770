package domain

import "time"

type ProcessingStage string

const (
	StageParsing       ProcessingStage = "parsing"
	StageParsingFailed ProcessingStage = "parsing_failed"
	StageAnalyzing     ProcessingStage = "analyzing"
	StageCompleted     ProcessingStage = "ai_completed"
)

type Decision string

const (
	DecisionPass        Decision = "pass"
	DecisionConditional Decision = "conditional"
	DecisionFail        Decision = "fail"
)

type LeaseReleaseReason string

const (
	LeaseReleaseSuccess LeaseReleaseReason = "success"
	LeaseReleaseFailed  LeaseReleaseReason = "failed"
	LeaseReleaseSkipped LeaseReleaseReason = "skipped"
)

// Lease is a time-bounded exclusive claim on a job. A job holds at most one
// non-expired lease; an expired lease counts as absent for claiming purposes.
type Lease struct {
	Holder    string          `json:"holder"`
	Stage     ProcessingStage `json:"stage"`
	ClaimedAt time.Time       `json:"claimed_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (l *Lease) Expired(now time.Time) bool {
	if l == nil {
		return true
	}
	return !l.ExpiresAt.After(now)
}

// Job is one application's per-document processing state and results. The
// ProcessingStage field is the authoritative job state; only the pipeline
// workers advance it.
type Job struct {
	ID               string
	ProcessingStage  ProcessingStage
	ObjectPath       string
	CompanyProfileID string
	ProgramID        string

	ExtractedTextCombined string
	ExtractedTextLength   int
	Extractor             string
	FallbackUsed          bool

	ParsingError    string
	ParsingFailedAt *time.Time

	Decision               Decision
	DecisionArtifactPublic *DecisionArtifact
	DecisionArtifactRaw    *DecisionArtifactRaw
	AnalysisError          string

	Lease              *Lease
	LeaseReleasedAt    *time.Time
	LeaseReleaseReason LeaseReleaseReason

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParseResult carries everything the parsing worker writes on success.
type ParseResult struct {
	Text         string
	Extractor    string
	FallbackUsed bool
}

// AnalysisOutcome carries everything the analysis worker writes when it
// reaches a controlled completion, including the fail-closed paths.
type AnalysisOutcome struct {
	Decision Decision
	Public   *DecisionArtifact
	Raw      *DecisionArtifactRaw
	Error    string
}

type JobListFilter struct {
	Stage    ProcessingStage
	Page     int
	PageSize int
}
