package verification

import "sync/atomic"

// Rotator hands out round-robin start offsets so concurrent verifications
// spread across the matrix instead of all hitting the first credential.
type Rotator struct {
	next atomic.Uint64
}

// Start returns the offset for the next call over n entries.
func (r *Rotator) Start(n int) int {
	if n <= 0 {
		return 0
	}
	return int((r.next.Add(1) - 1) % uint64(n))
}
