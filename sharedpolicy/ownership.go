// Package sharedpolicy collects the rules around an executor instance
// that outlives a single run: the single-use claim guard a cross-run
// host needs, and the reset-vs-shareable interaction spec §9 asks to be
// documented rather than silently resolved.
package sharedpolicy

import (
	"errors"
	"sync"
)

// ErrAlreadyOwned is returned by OwnershipToken.Own on a second claim.
var ErrAlreadyOwned = errors.New("sharedpolicy: already owned")

// OwnershipToken is a single-use claim guard for any resource that must
// not be driven by two owners at once — the subworkflow host's inner
// scheduler is the first user, but the guard itself is generic (spec
// §4.7: "owns the inner workflow via an ownership token (double-use is
// refused)").
type OwnershipToken struct {
	mu    sync.Mutex
	taken bool
}

// NewOwnershipToken creates an unclaimed token.
func NewOwnershipToken() *OwnershipToken {
	return &OwnershipToken{}
}

// Own claims the token. A second call, from any owner, fails.
func (t *OwnershipToken) Own() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.taken {
		return ErrAlreadyOwned
	}
	t.taken = true
	return nil
}
