package main

import "strings"

// EvalMode is the upstream evaluation scheme an experiment belongs to.
// Legacy experiments mix ticket types inside one run-batch and tag them via
// the evaluation key; grouped experiments use one family per ticket type.
type EvalMode int

const (
	ModeUnrecognized EvalMode = iota
	ModeUngrouped
	ModeGrouped
)

func (m EvalMode) String() string {
	switch m {
	case ModeUngrouped:
		return "ungrouped"
	case ModeGrouped:
		return "grouped"
	}
	return "unrecognized"
}

// ModeForExperiment decides the evaluation mode from the experiment name.
func ModeForExperiment(name string) EvalMode {
	switch {
	case strings.HasPrefix(name, "zendesk-management-evaluation-"),
		strings.HasPrefix(name, "zendesk-evaluation-"):
		return ModeUngrouped
	case strings.HasPrefix(name, "implementation-evaluation-"),
		strings.HasPrefix(name, "homeowner-pay-evaluation-"),
		strings.HasPrefix(name, "management-pay-evaluation-"):
		return ModeGrouped
	}
	return ModeUnrecognized
}

// Skip reasons reported by NormalizeRun.
const (
	SkipUnrecognizedExperiment = "unrecognized experiment"
	SkipNoFeedback             = "no feedback"
)

// NormalizeRun maps a raw upstream run into the unified record shape. A
// non-empty skip reason means the run produces no record. Pure function:
// identical input always yields an identical record, which is what makes
// the upsert idempotent.
func NormalizeRun(raw RawRun, experimentName string) (EvaluationRecord, string) {
	mode := ModeForExperiment(experimentName)
	if mode == ModeUnrecognized {
		return EvaluationRecord{}, SkipUnrecognizedExperiment
	}
	if len(raw.Feedback) == 0 {
		return EvaluationRecord{}, SkipNoFeedback
	}

	fb := raw.Feedback[0]
	rec := EvaluationRecord{
		Date:           raw.StartTime.UTC().Format("2006-01-02"),
		TicketID:       raw.TicketID,
		Quality:        mapQuality(fb),
		Comment:        fb.Comment,
		Score:          fb.Score,
		ExperimentName: experimentName,
		RunID:          raw.ID,
		StartTime:      raw.StartTime,
		EvaluationKey:  fb.Key,
	}

	switch mode {
	case ModeUngrouped:
		if isManagementFeedback(fb) {
			// Stored for audit but excluded from evaluated counts.
			rec.TicketType = TicketManagement
			rec.Counted = false
		} else {
			rec.TicketType = TicketHomeowner
			rec.Counted = true
		}
	case ModeGrouped:
		rec.TicketType = groupedTicketType(experimentName)
		rec.Counted = true
	}
	return rec, ""
}

// isManagementFeedback implements the legacy-mode ticket-type rule: the
// upstream key vocabulary uses management_ticket_evaluation, but any key or
// comment mentioning management marks a management ticket.
func isManagementFeedback(fb RunFeedback) bool {
	if fb.Key == "management_ticket_evaluation" {
		return true
	}
	if strings.Contains(fb.Key, "management") {
		return true
	}
	return strings.Contains(strings.ToLower(fb.Comment), "management")
}

func groupedTicketType(experimentName string) TicketType {
	switch {
	case strings.HasPrefix(experimentName, "implementation-evaluation-"):
		return TicketImplementation
	case strings.HasPrefix(experimentName, "homeowner-pay-evaluation-"):
		return TicketHomeowner
	default:
		return TicketManagement
	}
}

// mapQuality folds the upstream quality vocabulary into good/bad/ugly.
// Returns "" (unscored) when neither the quality nor the comment carries a
// recognized judgment.
func mapQuality(fb RunFeedback) Quality {
	switch fb.Quality {
	case "high_quality", "copy_paste":
		return QualityGood
	case "low_quality":
		return QualityBad
	case "skipped", "unknown":
		return QualityUgly
	}
	if fb.Comment == "empty_bot_answer" ||
		strings.Contains(fb.Comment, "management_company_ticket") ||
		strings.Contains(fb.Comment, "empty_human_answer") {
		return QualityUgly
	}
	return ""
}
