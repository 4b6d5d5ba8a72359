package model

import "context"

// EventSink receives domain events emitted by the engine after a status
// append commits. Delivery is at-least-once; consumers dedupe on the new
// status ID.
type EventSink interface {
	StatusChanged(ctx context.Context, event StatusChanged)
	StageCompleted(ctx context.Context, event StageCompleted)
}

// AuditSink receives structured audit entries for mutating operations that
// are not already recorded transactionally with a status append (workflow
// activation, deactivation, and similar registry operations).
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}
