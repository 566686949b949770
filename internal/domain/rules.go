package domain

import "time"

type RuleType string

const (
	RuleTypeFinding   RuleType = "finding"
	RuleTypeCondition RuleType = "condition"
	RuleTypeBlocker   RuleType = "blocker"
)

type RuleSeverity string

const (
	SeverityInfo  RuleSeverity = "info"
	SeverityWarn  RuleSeverity = "warn"
	SeverityError RuleSeverity = "error"
)

type RuleSource string

const (
	RuleSourceBase    RuleSource = "base"
	RuleSourceOverlay RuleSource = "overlay"
)

// Rule is a single pattern check applied to extracted document text. Pattern
// holds regular-expression source; it is compiled case-insensitively at
// evaluation time.
type Rule struct {
	ID       string       `json:"rule_id"`
	Title    string       `json:"title"`
	Severity RuleSeverity `json:"severity"`
	Pattern  string       `json:"pattern"`
	Type     RuleType     `json:"type"`
	Source   RuleSource   `json:"source,omitempty"`
}

// RulePack is a company-level ordered rule set.
type RulePack struct {
	ID      string `json:"rule_pack_id"`
	Version string `json:"rule_pack_version"`
	Rules   []Rule `json:"rules"`
}

// Overlay is a program-specific supplementary rule set layered on top of a
// rule pack for one evaluation.
type Overlay struct {
	ID    string `json:"overlay_id"`
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`
}

type CompanyProfile struct {
	ID         string
	Name       string
	RulePackID string
}

type Program struct {
	ID              string
	Name            string
	ActiveOverlayID string
}

// RuleMatch records one rule that fired against the extracted text.
type RuleMatch struct {
	RuleID   string       `json:"ruleId"`
	Title    string       `json:"title"`
	Severity RuleSeverity `json:"severity"`
	Evidence string       `json:"evidence"`
	Source   RuleSource   `json:"source"`
}

// DecisionArtifact is the borrower/program-facing evaluation output.
type DecisionArtifact struct {
	Decision         Decision    `json:"decision"`
	Summary          string      `json:"summary"`
	Findings         []RuleMatch `json:"findings"`
	Conditions       []RuleMatch `json:"conditions"`
	OverlayApplied   bool        `json:"overlayApplied"`
	OverlayID        string      `json:"overlayId,omitempty"`
	OverlayName      string      `json:"overlayName,omitempty"`
	OverlayRuleCount int         `json:"overlayRuleCount"`
	EvaluatedAt      time.Time   `json:"evaluatedAt"`
}

// DecisionArtifactRaw extends the public artifact with internal fields. The
// two variants differ only in which fields are exposed, not in derivation.
type DecisionArtifactRaw struct {
	DecisionArtifact
	Blockers        []RuleMatch `json:"blockers"`
	RulePackID      string      `json:"rulePackId,omitempty"`
	RulePackVersion string      `json:"rulePackVersion,omitempty"`
	Notes           string      `json:"notes,omitempty"`
}
