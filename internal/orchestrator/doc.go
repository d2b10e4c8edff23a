// Package orchestrator drives deployment tasks through their lifecycle.
//
// # Overview
//
// A task moves through a fixed sequence of stages:
//
//	PENDING → GENERATING → PUBLISHING → NOTIFYING → COMPLETED
//
// GENERATING and PUBLISHING may end in FAILED. NOTIFYING always ends in
// COMPLETED; an undelivered callback is recorded as a NOTIFY_INCOMPLETE
// warning on the task.
//
// # Admission
//
// Submit runs the admission gates under the store lock before a task exists:
//   - round 1 is rejected with task.ErrConflict while another round-1 task for
//     the same task_id is in flight or published
//   - round 2+ is rejected with task.ErrPrecondition unless an earlier round
//     was published; the accepted task inherits that round's repository
//
// Replaying a (task_id, round, nonce) returns the stored task and starts no work.
//
// # Execution
//
// Accepted tasks run on a bounded worker pool. Each stage gets its own timeout
// derived from a background context, so cancelling the submitting request
// never cancels the task. Every status change goes through
// task.Store.CompareAndTransition and is reported to the event sink and to
// Prometheus.
package orchestrator
