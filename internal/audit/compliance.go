package audit

import (
	"context"
	"fmt"
	"time"
)

// Violation is one failed compliance check finding.
type Violation struct {
	Rule        string `json:"rule"`
	Description string `json:"description"`
	EventID     string `json:"event_id,omitempty"`
}

// Report is the result of a compliance assessment.
type Report struct {
	Framework   Framework   `json:"framework"`
	GeneratedAt time.Time   `json:"generated_at"`
	Checks      int         `json:"checks"`
	Violations  []Violation `json:"violations"`

	// Score is the fraction of checks that passed, in [0, 1].
	Score float64 `json:"score"`
}

// Assessor runs read-only compliance checks over the audit trail and
// consent registry. Assessing does not modify the trail, so repeated
// runs over the same data produce the same report.
type Assessor struct {
	trail   *Trail
	consent *ConsentRegistry
	policy  *RetentionPolicy
}

// NewAssessor creates a compliance assessor.
func NewAssessor(trail *Trail, consent *ConsentRegistry, policy *RetentionPolicy) *Assessor {
	if policy == nil {
		policy = DefaultRetentionPolicy()
	}
	return &Assessor{trail: trail, consent: consent, policy: policy}
}

// check is one rule in a framework's checklist.
type check struct {
	rule string
	run  func(ctx context.Context) ([]Violation, error)
}

// Assess runs the framework's checklist and returns the report.
func (a *Assessor) Assess(ctx context.Context, framework Framework) (*Report, error) {
	var checks []check
	switch framework {
	case FrameworkGDPR:
		checks = a.gdprChecks()
	case FrameworkSOC2:
		checks = a.soc2Checks()
	default:
		return nil, fmt.Errorf("unknown compliance framework %q", framework)
	}

	report := &Report{
		Framework:   framework,
		GeneratedAt: time.Now().UTC(),
		Checks:      len(checks),
		Violations:  []Violation{},
	}

	passed := 0
	for _, c := range checks {
		violations, err := c.run(ctx)
		if err != nil {
			return nil, fmt.Errorf("compliance check %s: %w", c.rule, err)
		}
		if len(violations) == 0 {
			passed++
		}
		report.Violations = append(report.Violations, violations...)
	}

	if len(checks) > 0 {
		report.Score = float64(passed) / float64(len(checks))
	} else {
		report.Score = 1
	}
	return report, nil
}

func (a *Assessor) gdprChecks() []check {
	return []check{
		{
			rule: "data_events_carry_legal_basis",
			run: func(ctx context.Context) ([]Violation, error) {
				var violations []Violation
				err := a.forEachEvent(ctx, Filter{Category: CategoryData}, func(e *Event) {
					if _, ok := e.Details["legal_basis"]; !ok {
						violations = append(violations, Violation{
							Rule:        "data_events_carry_legal_basis",
							Description: "personal data event recorded without a legal basis",
							EventID:     e.ID,
						})
					}
				})
				return violations, err
			},
		},
		{
			rule: "data_export_has_consent",
			run: func(ctx context.Context) ([]Violation, error) {
				var violations []Violation
				err := a.forEachEvent(ctx, Filter{Category: CategoryData, Action: ActionDataExport}, func(e *Event) {
					if !a.consent.HasGranted(e.Subject, "data_export") {
						violations = append(violations, Violation{
							Rule:        "data_export_has_consent",
							Description: "data export without a granted consent record",
							EventID:     e.ID,
						})
					}
				})
				return violations, err
			},
		},
		{
			rule: "data_retention_configured",
			run: func(ctx context.Context) ([]Violation, error) {
				if a.policy.PeriodFor(CategoryData) <= 0 {
					return []Violation{{
						Rule:        "data_retention_configured",
						Description: "no retention period configured for personal data events",
					}}, nil
				}
				return nil, nil
			},
		},
	}
}

func (a *Assessor) soc2Checks() []check {
	return []check{
		{
			rule: "auth_failures_attributable",
			run: func(ctx context.Context) ([]Violation, error) {
				var violations []Violation
				err := a.forEachEvent(ctx, Filter{Category: CategoryAuthentication}, func(e *Event) {
					if e.Outcome == OutcomeFailure && e.Subject == "" && e.IP == "" {
						violations = append(violations, Violation{
							Rule:        "auth_failures_attributable",
							Description: "authentication failure recorded without subject or source IP",
							EventID:     e.ID,
						})
					}
				})
				return violations, err
			},
		},
		{
			rule: "retention_configured_all_categories",
			run: func(ctx context.Context) ([]Violation, error) {
				var violations []Violation
				categories := []Category{
					CategoryAuthentication, CategoryAuthorization, CategorySecurity,
					CategoryRateLimit, CategorySession, CategoryData,
					CategorySystem, CategoryCompliance,
				}
				for _, c := range categories {
					if a.policy.PeriodFor(c) <= 0 {
						violations = append(violations, Violation{
							Rule:        "retention_configured_all_categories",
							Description: fmt.Sprintf("no retention period configured for category %s", c),
						})
					}
				}
				return violations, nil
			},
		},
		{
			rule: "critical_events_carry_details",
			run: func(ctx context.Context) ([]Violation, error) {
				var violations []Violation
				err := a.forEachEvent(ctx, Filter{Category: CategorySecurity}, func(e *Event) {
					if e.Level == LevelCritical && len(e.Details) == 0 {
						violations = append(violations, Violation{
							Rule:        "critical_events_carry_details",
							Description: "critical security event recorded without supporting details",
							EventID:     e.ID,
						})
					}
				})
				return violations, err
			},
		},
	}
}

// forEachEvent walks all events matching the filter, page by page.
func (a *Assessor) forEachEvent(ctx context.Context, filter Filter, fn func(*Event)) error {
	filter.Limit = 500
	for {
		page, err := a.trail.Query(ctx, filter)
		if err != nil {
			return err
		}
		for i := range page.Events {
			fn(&page.Events[i])
		}
		if page.NextCursor == "" {
			return nil
		}
		filter.Cursor = page.NextCursor
	}
}
