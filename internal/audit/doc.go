// Package audit provides the append-only security audit trail.
//
// Every security-relevant decision produces an Event with a sortable
// unique ID, a category, a severity level and a retention deadline
// derived from per-category policy. Events are immutable once written
// and are queryable in time order through a stateless cursor. A
// periodic reaper deletes events past their retention deadline and
// records the purge itself as a system event.
//
// The package also tracks consent records and runs read-only
// compliance assessments over the recorded trail.
package audit
