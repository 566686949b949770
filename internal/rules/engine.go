package rules

import (
	"fmt"
	"regexp"

	"github.com/velocity-los/velocity-back/internal/domain"
)

const defaultEvidenceMaxLen = 160

// Engine evaluates merged rule sets against extracted document text.
type Engine struct {
	evidenceMaxLen int
}

func NewEngine(evidenceMaxLen int) *Engine {
	if evidenceMaxLen <= 0 {
		evidenceMaxLen = defaultEvidenceMaxLen
	}
	return &Engine{evidenceMaxLen: evidenceMaxLen}
}

// Evaluation buckets every matched rule by consequence.
type Evaluation struct {
	Findings   []domain.RuleMatch
	Conditions []domain.RuleMatch
	Blockers   []domain.RuleMatch
}

// Decision applies the consequence ordering: a single blocker forces fail
// regardless of how many non-blocking rules matched, then any condition
// forces conditional, otherwise pass.
func (e Evaluation) Decision() domain.Decision {
	if len(e.Blockers) > 0 {
		return domain.DecisionFail
	}
	if len(e.Conditions) > 0 {
		return domain.DecisionConditional
	}
	return domain.DecisionPass
}

func (e Evaluation) Summary() string {
	return fmt.Sprintf(
		"%d blocker(s), %d condition(s), %d finding(s)",
		len(e.Blockers), len(e.Conditions), len(e.Findings),
	)
}

// Merge concatenates base-pack rules with overlay rules, preserving pack
// order then overlay order. No de-duplication by id: a rule id present in
// both sets fires independently if both patterns match.
func Merge(pack *domain.RulePack, overlay *domain.Overlay) []domain.Rule {
	size := 0
	if pack != nil {
		size += len(pack.Rules)
	}
	if overlay != nil {
		size += len(overlay.Rules)
	}

	merged := make([]domain.Rule, 0, size)
	if pack != nil {
		for _, rule := range pack.Rules {
			rule.Source = domain.RuleSourceBase
			merged = append(merged, rule)
		}
	}
	if overlay != nil {
		for _, rule := range overlay.Rules {
			rule.Source = domain.RuleSourceOverlay
			merged = append(merged, rule)
		}
	}
	return merged
}

// Evaluate runs every rule with a non-empty pattern against the text as a
// case-insensitive match. An invalid pattern skips that rule only; one bad
// rule never aborts the whole evaluation.
func (e *Engine) Evaluate(rules []domain.Rule, text string) Evaluation {
	var result Evaluation
	for _, rule := range rules {
		if rule.Pattern == "" {
			continue
		}
		pattern, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			continue
		}
		loc := pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		evidence := text[loc[0]:loc[1]]

		match := domain.RuleMatch{
			RuleID:   rule.ID,
			Title:    rule.Title,
			Severity: effectiveSeverity(rule),
			Evidence: clip(evidence, e.evidenceMaxLen),
			Source:   rule.Source,
		}

		switch rule.Type {
		case domain.RuleTypeBlocker:
			result.Blockers = append(result.Blockers, match)
		case domain.RuleTypeCondition:
			result.Conditions = append(result.Conditions, match)
		default:
			result.Findings = append(result.Findings, match)
		}
	}
	return result
}

func effectiveSeverity(rule domain.Rule) domain.RuleSeverity {
	if rule.Severity != "" {
		return rule.Severity
	}
	switch rule.Type {
	case domain.RuleTypeCondition:
		return domain.SeverityWarn
	case domain.RuleTypeBlocker:
		return domain.SeverityError
	}
	return rule.Severity
}

func clip(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen]
}
