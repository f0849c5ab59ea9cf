package op

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nickyhof/CommitCatalog/core"
)

// Catalog is the part of the catalog engine the operations here need.
type Catalog interface {
	State(pointer string) (core.Commit, core.TableState, error)
	Commit(branch string, state core.TableState, expectedParent core.Hash, meta core.CommitMeta) (core.Commit, error)
}

// Mutation edits a copy of the branch's current table state in place.
type Mutation func(state core.TableState) error

type retryOpts struct {
	maxAttempts int
	base        time.Duration
	cap         time.Duration
}

// RetryOption tunes CommitWithRetry
type RetryOption func(*retryOpts)

// MaxAttempts bounds the number of commit attempts, including the first
func MaxAttempts(n int) RetryOption {
	return func(o *retryOpts) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// Backoff sets the base and maximum delay between attempts
func Backoff(base, cap time.Duration) RetryOption {
	return func(o *retryOpts) {
		o.base = base
		o.cap = cap
	}
}

const DefaultMaxAttempts = 8

// CommitWithRetry reads branch, applies mutate to its state and commits the
// result against the head it read. When another writer wins the race the
// whole read-mutate-commit cycle is repeated from a fresh head, so mutate
// must be safe to run more than once.
func CommitWithRetry(ctx context.Context, catalog Catalog, branch string, mutate Mutation, meta core.CommitMeta, opts ...RetryOption) (core.Commit, error) {
	o := retryOpts{
		maxAttempts: DefaultMaxAttempts,
		base:        5 * time.Millisecond,
		cap:         250 * time.Millisecond,
	}
	for _, apply := range opts {
		apply(&o)
	}

	var (
		commit   core.Commit
		attempts int
	)
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		head, state, err := catalog.State(branch)
		if err != nil {
			return backoff.Permanent(err)
		}
		next := state.Clone()
		if err := mutate(next); err != nil {
			return backoff.Permanent(err)
		}

		commit, err = catalog.Commit(branch, next, head.Hash, meta)
		if err != nil {
			if core.IsRetryable(err) {
				return err // retry
			}
			return backoff.Permanent(err)
		}
		return nil
	}, newBackOff(ctx, o))

	switch {
	case err == nil:
		return commit, nil
	case core.IsRetryable(err):
		return core.Commit{}, fmt.Errorf("gave up after %d attempts: %w", attempts, err)
	default:
		return core.Commit{}, err
	}
}

// newBackOff is an exponential, jittered policy allowing maxAttempts-1
// retries and stopping early when ctx is done.
func newBackOff(ctx context.Context, o retryOpts) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.base
	b.MaxInterval = o.cap
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.maxAttempts-1)), ctx)
}
