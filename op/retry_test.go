package op

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// racingCatalog loses the first `losses` commits as if another writer got
// there first, then accepts.
type racingCatalog struct {
	state   core.TableState
	head    int
	losses  int
	commits int
	err     error
}

func (c *racingCatalog) hash() core.Hash {
	return core.Hash(fmt.Sprintf("%040d", c.head))
}

func (c *racingCatalog) State(string) (core.Commit, core.TableState, error) {
	return core.Commit{Hash: c.hash()}, c.state.Clone(), nil
}

func (c *racingCatalog) Commit(branch string, state core.TableState, parent core.Hash, meta core.CommitMeta) (core.Commit, error) {
	c.commits++
	if c.err != nil {
		return core.Commit{}, c.err
	}
	if parent != c.hash() {
		return core.Commit{}, core.ErrConflict
	}
	if c.losses > 0 {
		c.losses--
		c.head++
		return core.Commit{}, fmt.Errorf("%w: lost", core.ErrConflict)
	}
	c.head++
	c.state = state
	return core.Commit{Hash: c.hash(), Parent: parent, Meta: meta}, nil
}

func TestCommitWithRetrySucceedsAfterConflicts(t *testing.T) {
	catalog := &racingCatalog{state: core.TableState{"a": "1"}, losses: 3}

	commit, err := CommitWithRetry(context.Background(), catalog, "main", func(state core.TableState) error {
		state["b"] = "2"
		return nil
	}, core.CommitMeta{Message: "m"}, Backoff(time.Microsecond, time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 4, catalog.commits)
	assert.Equal(t, "m", commit.Meta.Message)
	assert.Equal(t, core.TableState{"a": "1", "b": "2"}, catalog.state)
}

func TestCommitWithRetryGivesUp(t *testing.T) {
	catalog := &racingCatalog{state: core.TableState{}, losses: 100}

	_, err := CommitWithRetry(context.Background(), catalog, "main", func(core.TableState) error { return nil },
		core.CommitMeta{}, MaxAttempts(3), Backoff(time.Microsecond, time.Microsecond))
	require.ErrorIs(t, err, core.ErrConflict)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, 3, catalog.commits)
}

func TestCommitWithRetryStopsOnOtherErrors(t *testing.T) {
	catalog := &racingCatalog{state: core.TableState{}, err: core.ErrNotABranch}

	_, err := CommitWithRetry(context.Background(), catalog, "v1", func(core.TableState) error { return nil }, core.CommitMeta{})
	require.ErrorIs(t, err, core.ErrNotABranch)
	assert.Equal(t, 1, catalog.commits)

	boom := errors.New("boom")
	_, err = CommitWithRetry(context.Background(), catalog, "main", func(core.TableState) error { return boom }, core.CommitMeta{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, catalog.commits, "failed mutation must not commit")
}

func TestCommitWithRetryHonoursContext(t *testing.T) {
	catalog := &racingCatalog{state: core.TableState{}, losses: 100}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CommitWithRetry(ctx, catalog, "main", func(core.TableState) error { return nil },
		core.CommitMeta{}, Backoff(time.Second, time.Second))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, catalog.commits)
}

func TestBackOffPolicy(t *testing.T) {
	b := newBackOff(context.Background(), retryOpts{maxAttempts: 4, base: time.Millisecond, cap: 5 * time.Millisecond})

	var delays []time.Duration
	for d := b.NextBackOff(); d != backoff.Stop; d = b.NextBackOff() {
		delays = append(delays, d)
	}
	require.Len(t, delays, 3, "four attempts allow three waits")
	for _, d := range delays {
		assert.LessOrEqual(t, d, 5*time.Millisecond+5*time.Millisecond/2, "jitter stays around the cap")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b = newBackOff(ctx, retryOpts{maxAttempts: 4, base: time.Millisecond, cap: time.Millisecond})
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
