package main

import (
	"strings"
	"time"
)

type TicketType string

const (
	TicketHomeowner      TicketType = "homeowner"
	TicketManagement     TicketType = "management"
	TicketImplementation TicketType = "implementation"
)

type Quality string

const (
	QualityGood Quality = "good"
	QualityBad  Quality = "bad"
	QualityUgly Quality = "ugly"
)

// EvaluationRecord is one evaluated ticket outcome. (RunID, EvaluationKey)
// is unique across the cache; re-syncing the same run overwrites in place.
type EvaluationRecord struct {
	ID             int64      `json:"id"`
	Date           string     `json:"date"` // YYYY-MM-DD, derived from StartTime
	TicketID       int64      `json:"ticket_id"`
	TicketType     TicketType `json:"ticket_type"`
	Quality        Quality    `json:"quality"` // empty when unscored
	Comment        string     `json:"comment"`
	Score          *float64   `json:"score"`
	ExperimentName string     `json:"experiment_name"`
	RunID          string     `json:"run_id"`
	StartTime      time.Time  `json:"start_time"`
	EvaluationKey  string     `json:"evaluation_key"`
	Counted        bool       `json:"-"` // false for audit-only rows excluded from aggregates
	CreatedAt      time.Time  `json:"-"`
}

// ExperimentMetadata is one evaluation run-batch, keyed by experiment name.
type ExperimentMetadata struct {
	ID             int64     `json:"id"`
	Date           string    `json:"date"`
	ExperimentType string    `json:"experiment_type"`
	ExperimentName string    `json:"experiment_name"`
	StartTime      time.Time `json:"start_time"`
	RunCount       int       `json:"run_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const (
	ExpTypeLegacyHomeowner  = "legacy-homeowner"
	ExpTypeLegacyManagement = "legacy-management"
	ExpTypeImplementation   = "implementation"
	ExpTypeHomeownerPay     = "homeowner-pay"
	ExpTypeManagementPay    = "management-pay"
)

// ExperimentTypes lists every type the name-pattern rule can produce, in the
// order aggregates report them.
var ExperimentTypes = []string{
	ExpTypeLegacyHomeowner,
	ExpTypeLegacyManagement,
	ExpTypeImplementation,
	ExpTypeHomeownerPay,
	ExpTypeManagementPay,
}

// InferExperimentType maps an experiment name to its type. The more specific
// zendesk-management prefix must be checked before the plain zendesk one.
func InferExperimentType(name string) (string, bool) {
	switch {
	case strings.HasPrefix(name, "zendesk-management-evaluation-"):
		return ExpTypeLegacyManagement, true
	case strings.HasPrefix(name, "zendesk-evaluation-"):
		return ExpTypeLegacyHomeowner, true
	case strings.HasPrefix(name, "implementation-evaluation-"):
		return ExpTypeImplementation, true
	case strings.HasPrefix(name, "homeowner-pay-evaluation-"):
		return ExpTypeHomeownerPay, true
	case strings.HasPrefix(name, "management-pay-evaluation-"):
		return ExpTypeManagementPay, true
	}
	return "", false
}
