package session

import "sync"

// Notifier decides when to tell the user how much data the current session
// has transferred. It fires each time the total exceeds the last notified
// amount by more than AfterBytes, and rearms when no session is active.
type Notifier struct {
	AfterBytes uint64

	mu     sync.Mutex
	lastAt uint64
}

// NewNotifier returns a notifier with the given step. Zero disables it.
func NewNotifier(afterBytes uint64) *Notifier {
	return &Notifier{AfterBytes: afterBytes}
}

// Check reports whether snap crosses the next notification step.
func (n *Notifier) Check(snap Snapshot) bool {
	if n == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if !snap.Active {
		n.lastAt = 0
		return false
	}
	if n.AfterBytes == 0 {
		return false
	}
	if snap.BytesTransferred > n.lastAt+n.AfterBytes {
		n.lastAt = snap.BytesTransferred
		return true
	}
	return false
}
