// Package lock provides the process-wide processing lock used to keep a
// unit of work, such as the background check-in sync, from overlapping with
// itself.
//
// Processing is an advisory try-lock: Acquire never blocks and reports
// whether the caller obtained the lock. Every successful acquisition arms an
// auto-release timer so a caller that never releases cannot wedge the
// process. The timeout always wins: if the protected work runs longer than
// the hold duration the lock is cleared underneath it and a second caller may
// acquire while the first is still running. Release is unconditional, so the
// late Release of the first caller also clears the second caller's hold.
// Callers that cannot tolerate this must pick a hold duration longer than
// their worst-case run.
//
// The lock is not shared across processes or devices.
package lock
