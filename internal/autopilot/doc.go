// Package autopilot runs batches of proposed actions against the external
// system under human oversight.
//
// Run states:
//   - awaiting_approval -> approved (ApproveRun) | cancelled (RejectRun)
//   - approved -> cancelled (RejectRun)
//   - approved | failed | completed -> completed | failed (ExecuteRun)
//
// Action states within one pass:
//   - completed -> already_completed (never re-applied)
//   - executing, abandoned for more than five minutes -> failed (timeout)
//   - executable (approved, or not requiring approval) -> executing -> completed | failed
//   - anything else -> skipped
//
// Execution holds a per-run lock for the whole pass. Approval decisions on a
// locked run fail with ErrLockConflict. Cancelling a run while a pass holds
// its lock is not supported: the pass runs to completion and RejectRun must be
// retried afterwards. A pass ignores cancellation of the caller's context, so
// in-flight gateway calls are never interrupted; Executor.PassTimeout is the
// only deadline.
//
// The lock carries a heartbeat: every action save refreshes
// execution_locked_at, and a pass stops with ErrLockConflict before the next
// step once a stale takeover has moved the lock to another token. Release only
// clears the caller's own token.
//
// An action found executing but not yet stale was left by an interrupted pass.
// It is skipped as in flight and an approved run stays approved, so a later
// pass times the action out.
//
// Auditing:
//   - Every successful lifecycle transition and execution pass emits one audit event.
//   - Rejected transitions emit nothing.
package autopilot
