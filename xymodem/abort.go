package xymodem

import (
	"context"
	"sync/atomic"
)

// AbortToken is a cancellation flag shared between a running transfer and
// the caller. Abort may be called from any goroutine; the transfer observes it
// at its next wait point, at most one read timeout later.
type AbortToken struct {
	requested atomic.Bool
}

// NewAbortToken returns an unset token.
func NewAbortToken() *AbortToken {
	return &AbortToken{}
}

// Abort requests cancellation. It does nothing on a nil token.
func (a *AbortToken) Abort() {
	if a != nil {
		a.requested.Store(true)
	}
}

// Requested reports whether cancellation was requested. A nil token is never set.
func (a *AbortToken) Requested() bool {
	return a != nil && a.requested.Load()
}

// Reset clears the flag so the token can be reused for another transfer.
func (a *AbortToken) Reset() {
	if a != nil {
		a.requested.Store(false)
	}
}

// aborted reports whether either the token or the context asks us to stop.
func aborted(ctx context.Context, token *AbortToken) bool {
	if token.Requested() {
		return true
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return true
		default:
		}
	}
	return false
}
