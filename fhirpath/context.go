package fhirpath

import (
	"context"
	"time"
)

// nowFunc is the clock Evaluate snapshots at the start of a top-level
// evaluation. Tests override it with WithClock instead of faking system
// time, so now()/today()/timeOfDay() stay deterministic without the value
// domain knowing anything about testing.
var nowFunc = time.Now

// WithClock overrides the clock used to capture the evaluation instant,
// for tests that need now()/today()/timeOfDay() to return a fixed value.
// Passing nil restores the real system clock.
func WithClock(clock func() time.Time) (restore func()) {
	previous := nowFunc
	if clock == nil {
		clock = time.Now
	}
	nowFunc = clock
	return func() { nowFunc = previous }
}

type evaluationInstantKey struct{}

// withEvaluationInstant captures "now" once and pins it to ctx, so that
// every now()/today()/timeOfDay() call reached during the same top-level
// evaluation observes the same instant. Without this, a single expression
// like `now() = now()` could observe a clock tick between the two calls
// and spuriously evaluate to false.
//
// It is a no-op if ctx already carries an instant: Evaluate is sometimes
// invoked recursively (e.g. by the terminology layer re-entering the
// evaluator), and the inner call must keep observing the outer snapshot.
func withEvaluationInstant(ctx context.Context) context.Context {
	if _, ok := ctx.Value(evaluationInstantKey{}).(time.Time); ok {
		return ctx
	}
	return context.WithValue(ctx, evaluationInstantKey{}, nowFunc())
}

// evaluationInstant returns the instant pinned by withEvaluationInstant,
// falling back to the current clock reading if Evaluate was bypassed.
func evaluationInstant(ctx context.Context) time.Time {
	if instant, ok := ctx.Value(evaluationInstantKey{}).(time.Time); ok {
		return instant
	}
	return nowFunc()
}
