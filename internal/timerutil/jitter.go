// Package timerutil holds small timer helpers shared across the
// network core that don't belong to any one component.
package timerutil

import "time"

// Jitter deterministically maps seed to a duration in [0, max). It is
// used to randomize each channel's expiration timer without depending
// on shared global PRNG state: the same seed (a channel's nonce)
// always yields the same jitter, which keeps tests reproducible.
func Jitter(seed uint64, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	// A cheap 64-bit mix (MurmurHash3's fmix64 finalizer) turns the nonce into a
	// well-distributed value without pulling in math/rand's global lock.
	seed ^= seed >> 33
	seed *= 0xff51afd7ed558ccd
	seed ^= seed >> 33
	seed *= 0xc4ceb9fe1a85ec53
	seed ^= seed >> 33
	return time.Duration(seed % uint64(max))
}
