// SPDX-License-Identifier: AGPL-3.0-or-later
package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeJobs struct {
	staleReset int64
	orphaned   []int64
	listErr    error
}

func (f *fakeJobs) ResetStaleProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	return f.staleReset, nil
}
func (f *fakeJobs) ListOrphanedQueued(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	return f.orphaned, f.listErr
}

type fakeDeliveries struct{}

func (f *fakeDeliveries) CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakeBroker struct {
	enqueued []int64
	err      error
}

func (f *fakeBroker) Enqueue(ctx context.Context, queueName string, payload any, maxAttempts int) (int64, error) {
	task := payload.(SendEmailTask)
	f.enqueued = append(f.enqueued, task.JobID)
	return 1, f.err
}

func TestReenqueueOrphaned_EnqueuesEachOrphan(t *testing.T) {
	jobs := &fakeJobs{orphaned: []int64{10, 20, 30}}
	broker := &fakeBroker{}
	r := New(jobs, &fakeDeliveries{}, broker, nil, Config{})

	r.reenqueueOrphaned(context.Background())

	assert.ElementsMatch(t, []int64{10, 20, 30}, broker.enqueued)
}

func TestReenqueueOrphaned_ListErrorIsNonFatal(t *testing.T) {
	jobs := &fakeJobs{listErr: errors.New("db down")}
	broker := &fakeBroker{}
	r := New(jobs, &fakeDeliveries{}, broker, nil, Config{})

	assert.NotPanics(t, func() { r.reenqueueOrphaned(context.Background()) })
	assert.Empty(t, broker.enqueued)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 2*time.Minute, cfg.StaleProcessingAfter)
	assert.Equal(t, 30*time.Second, cfg.OrphanedQueuedAfter)
	assert.Equal(t, 7*24*time.Hour, cfg.TerminalRetentionPeriod)
}
