package session

// Job is one (session, slot) pair queued for inference, per spec.md §3's
// Context.jobs: "a bounded MPMC queue of (session_handle, slot_handle)
// pairs."
type Job struct {
	Session   *Session
	SlotIndex int
}

// Enqueuer is the narrow view of Context's global job queue a Session
// needs: a non-blocking, possibly-failing push. Context implements it;
// Session depends only on this interface so the two packages don't import
// each other.
type Enqueuer interface {
	Enqueue(job Job) bool
}
