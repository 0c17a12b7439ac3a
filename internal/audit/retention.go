package audit

import (
	"context"
	"time"

	"github.com/vyrodovalexey/avsecmw/internal/observability"
)

// Day is the unit retention periods are usually expressed in.
const Day = 24 * time.Hour

// RetentionPolicy maps event categories to how long their events are
// kept.
type RetentionPolicy struct {
	// Periods holds per-category retention. Categories absent from the
	// map use Default.
	Periods map[Category]time.Duration

	// Default applies to categories without an explicit period.
	Default time.Duration
}

// DefaultRetentionPolicy returns the default per-category retention.
// Security and compliance events are kept longest.
func DefaultRetentionPolicy() *RetentionPolicy {
	return &RetentionPolicy{
		Periods: map[Category]time.Duration{
			CategorySecurity:       365 * Day,
			CategoryCompliance:     365 * Day,
			CategoryAuthentication: 180 * Day,
			CategoryAuthorization:  180 * Day,
			CategoryData:           180 * Day,
			CategoryRateLimit:      90 * Day,
			CategorySystem:         90 * Day,
			CategorySession:        30 * Day,
		},
		Default: 90 * Day,
	}
}

// PeriodFor returns the retention period for the category. The period
// is always positive so RetentionUntil lands strictly after creation.
func (p *RetentionPolicy) PeriodFor(category Category) time.Duration {
	if p != nil {
		if d, ok := p.Periods[category]; ok && d > 0 {
			return d
		}
		if p.Default > 0 {
			return p.Default
		}
	}
	return 90 * Day
}

// Reaper periodically deletes events past their retention deadline.
// Each purge is itself recorded as a system event before any deletion
// happens, so the trail always shows that a purge ran.
type Reaper struct {
	store    Store
	trail    *Trail
	interval time.Duration
	logger   observability.Logger
}

// NewReaper creates a retention reaper.
func NewReaper(store Store, trail *Trail, interval time.Duration, logger observability.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Reaper{store: store, trail: trail, interval: interval, logger: logger}
}

// Run reaps on the configured interval until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce performs a single purge pass.
func (r *Reaper) ReapOnce(ctx context.Context) {
	now := time.Now().UTC()

	purge := NewEvent(CategorySystem, ActionRetentionPurge, OutcomeSuccess).
		WithDetail("purge_before", now.Format(time.RFC3339))
	if _, err := r.trail.Record(ctx, purge); err != nil {
		r.logger.Error("failed to record retention purge event", observability.Error(err))
		return
	}

	removed, err := r.store.DeleteExpired(ctx, now)
	if err != nil {
		r.logger.Error("retention purge failed", observability.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("retention purge completed", observability.Int("removed", removed))
	}
}
