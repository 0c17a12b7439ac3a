package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentRegistry_LastWriterWins(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	registry := NewConsentRegistry(trail)
	ctx := context.Background()

	require.NoError(t, registry.Update(ctx, ConsentRecord{
		Subject: "user-1", Purpose: "data_export", Granted: true, LegalBasis: "consent",
	}))
	require.NoError(t, registry.Update(ctx, ConsentRecord{
		Subject: "user-1", Purpose: "data_export", Granted: false, LegalBasis: "consent",
	}))

	record, ok := registry.CurrentConsent("user-1", "data_export")
	require.True(t, ok)
	assert.False(t, record.Granted)
	assert.False(t, registry.HasGranted("user-1", "data_export"))

	// Both changes are on the trail.
	page, err := trail.Query(ctx, Filter{Category: CategoryCompliance, Action: ActionConsentUpdate})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)
}

func TestConsentRegistry_FailedTrailWriteLeavesStateUntouched(t *testing.T) {
	trail := NewTrail(&failingAuditStore{})
	registry := NewConsentRegistry(trail)

	err := registry.Update(context.Background(), ConsentRecord{
		Subject: "user-1", Purpose: "data_export", Granted: true,
	})
	require.ErrorIs(t, err, ErrWriteFailed)

	_, ok := registry.CurrentConsent("user-1", "data_export")
	assert.False(t, ok)
}

func TestAssessor_GDPRCleanTrail(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	registry := NewConsentRegistry(trail)
	assessor := NewAssessor(trail, registry, nil)
	ctx := context.Background()

	require.NoError(t, registry.Update(ctx, ConsentRecord{
		Subject: "user-1", Purpose: "data_export", Granted: true, LegalBasis: "consent",
	}))
	_, err := trail.Record(ctx, NewEvent(CategoryData, ActionDataExport, OutcomeSuccess).
		WithSubject("user-1").
		WithDetail("legal_basis", "consent").
		WithComplianceTags(FrameworkGDPR))
	require.NoError(t, err)

	report, err := assessor.Assess(ctx, FrameworkGDPR)
	require.NoError(t, err)
	assert.Equal(t, FrameworkGDPR, report.Framework)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 1.0, report.Score)
}

func TestAssessor_GDPRFlagsExportWithoutConsent(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	registry := NewConsentRegistry(trail)
	assessor := NewAssessor(trail, registry, nil)
	ctx := context.Background()

	_, err := trail.Record(ctx, NewEvent(CategoryData, ActionDataExport, OutcomeSuccess).
		WithSubject("user-2"))
	require.NoError(t, err)

	report, err := assessor.Assess(ctx, FrameworkGDPR)
	require.NoError(t, err)
	assert.Less(t, report.Score, 1.0)

	rules := make(map[string]bool)
	for _, v := range report.Violations {
		rules[v.Rule] = true
	}
	assert.True(t, rules["data_export_has_consent"])
	assert.True(t, rules["data_events_carry_legal_basis"])
}

func TestAssessor_SOC2FlagsUnattributableAuthFailure(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	registry := NewConsentRegistry(trail)
	assessor := NewAssessor(trail, registry, nil)
	ctx := context.Background()

	_, err := trail.Record(ctx, NewEvent(CategoryAuthentication, ActionAuthFailure, OutcomeFailure))
	require.NoError(t, err)

	report, err := assessor.Assess(ctx, FrameworkSOC2)
	require.NoError(t, err)
	require.NotEmpty(t, report.Violations)
	assert.Equal(t, "auth_failures_attributable", report.Violations[0].Rule)
}

func TestAssessor_Idempotent(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	registry := NewConsentRegistry(trail)
	assessor := NewAssessor(trail, registry, nil)
	ctx := context.Background()

	_, err := trail.Record(ctx, NewEvent(CategoryAuthentication, ActionAuthFailure, OutcomeFailure).
		WithIP("10.0.0.1"))
	require.NoError(t, err)

	first, err := assessor.Assess(ctx, FrameworkSOC2)
	require.NoError(t, err)
	second, err := assessor.Assess(ctx, FrameworkSOC2)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Violations, second.Violations)
}

func TestAssessor_UnknownFramework(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	assessor := NewAssessor(trail, NewConsentRegistry(trail), nil)

	_, err := assessor.Assess(context.Background(), Framework("hipaa"))
	assert.Error(t, err)
}
