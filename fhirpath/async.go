package fhirpath

import (
	"context"
	"errors"
)

// AsyncMode controls whether asynchronous functions (weight, ordinal) may
// suspend an evaluation, and who is responsible for resuming it once the
// suspended work (currently: a terminology server round trip) completes.
type AsyncMode int

const (
	// AsyncDisabled rejects any function that needs to suspend, returning
	// an AsyncDisallowedError. This is the default.
	AsyncDisabled AsyncMode = iota
	// AsyncEnabled permits async functions to suspend. When Evaluate's
	// tree walk runs into a *Pending (a weight()/ordinal() call whose
	// network fetch hasn't returned yet), Evaluate hands the Pending
	// back to the caller as its error return instead of blocking --
	// the caller resumes it on its own schedule, possibly awaiting
	// several concurrently.
	AsyncEnabled
	// AsyncAlways permits the same suspensions as AsyncEnabled, but
	// Evaluate resolves any Pending it encounters by calling Resume
	// itself (looping if Resume yields another Pending) before
	// returning, so callers never observe one. This costs the caller
	// the ability to run several suspended evaluations concurrently,
	// in exchange for every Evaluate call keeping its plain
	// (Collection, error) contract.
	AsyncAlways
)

type asyncModeKey struct{}

// WithAsync installs the async mode an evaluation runs under. Functions
// that suspend (currently only the terminology package's weight/ordinal)
// consult this before fetching; see AsyncDisallowedError.
func WithAsync(ctx context.Context, mode AsyncMode) context.Context {
	return context.WithValue(ctx, asyncModeKey{}, mode)
}

func asyncMode(ctx context.Context) AsyncMode {
	if mode, ok := ctx.Value(asyncModeKey{}).(AsyncMode); ok {
		return mode
	}
	return AsyncDisabled
}

// AsyncAllowed reports whether the evaluation context permits a suspending
// function to run. Built-in and user-defined async functions should check
// this before issuing a fetch and return an AsyncDisallowedError if false.
func AsyncAllowed(ctx context.Context) bool {
	return asyncMode(ctx) != AsyncDisabled
}

type signalKey struct{}

// WithSignal installs a cancellation channel that asynchronous functions
// watch alongside ctx.Done(): closing it (or cancelling ctx) surfaces as a
// CancellationError from the in-flight fetch.
func WithSignal(ctx context.Context, signal <-chan struct{}) context.Context {
	return context.WithValue(ctx, signalKey{}, signal)
}

func cancellationSignal(ctx context.Context) <-chan struct{} {
	if signal, ok := ctx.Value(signalKey{}).(<-chan struct{}); ok {
		return signal
	}
	return nil
}

// WaitForCancellation returns at once a channel that receives a
// CancellationError naming function when ctx is done or the signal installed
// by WithSignal fires. Callers select on it alongside the real async work.
func WaitForCancellation(ctx context.Context, function string) <-chan error {
	out := make(chan error, 1)
	go func() {
		select {
		case <-ctx.Done():
			out <- newCancellationError(function, ctx.Err())
		case <-cancellationSignal(ctx):
			out <- newCancellationError(function, nil)
		}
	}()
	return out
}

// Pending is the "maybe-pending" half of evaluate's Collection | Pending
// contract: a function that would otherwise block on external work (the
// terminology package's weight()/ordinal(), waiting on a CodeSystem
// $lookup) returns one instead of blocking the calling goroutine.
//
// It satisfies error, so it propagates through every caller's existing
// "if err != nil { return nil, false, err }" check without that caller
// needing to know Pending exists -- a macro like where() or aggregate()
// that wraps its own Pending around Resume (see functions.go's
// resumeAfter) is the only code that needs to be Pending-aware; everything
// between it and the suspended fetch just forwards the error as always.
type Pending struct {
	// Resume re-runs the suspended step to completion, blocking until the
	// underlying fetch resolves or ctx is cancelled. Resume may itself
	// return another *Pending if resuming uncovers a second suspension.
	Resume func(ctx context.Context) (Collection, bool, error)
}

func (p *Pending) Error() string {
	return "fhirpath: evaluation suspended pending an asynchronous result"
}

// AsPending reports whether err is, or wraps, a *Pending.
func AsPending(err error) (*Pending, bool) {
	var p *Pending
	ok := errors.As(err, &p)
	return p, ok
}

// resolvePending repeatedly calls Resume until the result is no longer
// pending, for AsyncAlways's auto-await behavior.
func resolvePending(ctx context.Context, p *Pending) (Collection, error) {
	for {
		result, _, err := p.Resume(ctx)
		if next, ok := AsPending(err); ok {
			p = next
			continue
		}
		return result, err
	}
}
