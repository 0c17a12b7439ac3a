package audit

import (
	"context"
	"sync"
	"time"
)

// ConsentRecord captures one subject's consent decision for one
// processing purpose.
type ConsentRecord struct {
	Subject    string    `json:"subject"`
	Purpose    string    `json:"purpose"`
	Granted    bool      `json:"granted"`
	LegalBasis string    `json:"legal_basis,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type consentKey struct {
	subject string
	purpose string
}

// ConsentRegistry tracks consent per (subject, purpose). The latest
// record wins; the full history lives in the audit trail, where every
// change is recorded as a compliance event.
type ConsentRegistry struct {
	trail *Trail

	mu      sync.RWMutex
	current map[consentKey]ConsentRecord
}

// NewConsentRegistry creates a consent registry recording changes to
// the given trail.
func NewConsentRegistry(trail *Trail) *ConsentRegistry {
	return &ConsentRegistry{
		trail:   trail,
		current: make(map[consentKey]ConsentRecord),
	}
}

// Update records a consent decision. The change is written to the
// audit trail first; if that write fails the registry state is left
// untouched so trail and registry never diverge.
func (r *ConsentRegistry) Update(ctx context.Context, record ConsentRecord) error {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	outcome := OutcomeSuccess
	event := NewEvent(CategoryCompliance, ActionConsentUpdate, outcome).
		WithSubject(record.Subject).
		WithComplianceTags(FrameworkGDPR).
		WithDetail("purpose", record.Purpose).
		WithDetail("granted", record.Granted)
	if record.LegalBasis != "" {
		event.WithDetail("legal_basis", record.LegalBasis)
	}

	if _, err := r.trail.Record(ctx, event); err != nil {
		return err
	}

	r.mu.Lock()
	r.current[consentKey{subject: record.Subject, purpose: record.Purpose}] = record
	r.mu.Unlock()
	return nil
}

// CurrentConsent returns the latest consent record for the subject and
// purpose, if any.
func (r *ConsentRegistry) CurrentConsent(subject, purpose string) (ConsentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.current[consentKey{subject: subject, purpose: purpose}]
	return record, ok
}

// HasGranted reports whether the subject currently grants the purpose.
func (r *ConsentRegistry) HasGranted(subject, purpose string) bool {
	record, ok := r.CurrentConsent(subject, purpose)
	return ok && record.Granted
}
