package backend

import (
	"context"
	"errors"
	"log"
	"time"

	"sessioncore/internal/gameerr"
)

type Kind string

const (
	KindChat       Kind = "chat"
	KindCompletion Kind = "completion"
	KindSpeech     Kind = "speech"
	KindProbe      Kind = "probe"
	KindBond       Kind = "bond"
)

const (
	DefaultChatTimeout       = 12 * time.Second
	DefaultCompletionTimeout = 15 * time.Second
	DefaultSpeechTimeout     = 10 * time.Second
	DefaultProbeTimeout      = 5 * time.Second
	DefaultBondTimeout       = 4 * time.Second
)

// Policy bounds every external call: one timeout per kind, and a retry count
// for the kinds that are worth a second attempt.
type Policy struct {
	Timeouts map[Kind]time.Duration
	Retries  map[Kind]int
	Logger   *log.Logger
}

func DefaultPolicy() Policy {
	return Policy{
		Timeouts: map[Kind]time.Duration{
			KindChat:       DefaultChatTimeout,
			KindCompletion: DefaultCompletionTimeout,
			KindSpeech:     DefaultSpeechTimeout,
			KindProbe:      DefaultProbeTimeout,
			KindBond:       DefaultBondTimeout,
		},
		Retries: map[Kind]int{
			KindChat:       1,
			KindCompletion: 1,
		},
	}
}

func (p Policy) timeout(kind Kind) time.Duration {
	if d, ok := p.Timeouts[kind]; ok && d > 0 {
		return d
	}
	return DefaultChatTimeout
}

func (p Policy) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Call runs fn under the policy for kind. When every attempt fails it returns
// fallback with a BACKEND_UNAVAILABLE error; callers use the fallback and treat
// the error as informational.
func Call[T any](ctx context.Context, p Policy, kind Kind, fn func(context.Context) (T, error), fallback T) (T, error) {
	attempts := 1 + max(p.Retries[kind], 0)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		v, err := callOnce(ctx, p.timeout(kind), fn)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, ErrOffline) {
			break
		}
	}
	if !errors.Is(lastErr, ErrOffline) {
		p.logf("backend: %s failed, using fallback: %v", kind, lastErr)
	}
	return fallback, gameerr.Wrap(gameerr.BackendUnavailable, string(kind), lastErr)
}

// callOnce races fn against its timeout so a collaborator that ignores ctx
// still cannot hold the caller past the deadline.
func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
