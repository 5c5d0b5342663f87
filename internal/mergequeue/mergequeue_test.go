package mergequeue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIndex struct {
	need   atomic.Bool
	merges atomic.Int32
	fail   atomic.Int32 // fail the first N merges
}

func (f *fakeIndex) NeedInsertMerge() bool  { return f.need.Load() }
func (f *fakeIndex) NeedExpungeMerge() bool { return false }

func (f *fakeIndex) RunMerge(tx interface{ IsCanceledStatement() bool }) error {
	if f.fail.Load() > 0 {
		f.fail.Add(-1)
		return assert.AnError
	}
	f.merges.Add(1)
	f.need.Store(false)
	return nil
}

func TestSyncQueueRunsInline(t *testing.T) {
	q := New(false, zap.NewNop().Sugar())
	idx := &fakeIndex{}
	idx.need.Store(true)
	require.NoError(t, q.Reserve("t1.idx", idx))
	assert.Equal(t, int32(1), idx.merges.Load())
}

func TestSyncQueueSkipsWhenThresholdCleared(t *testing.T) {
	q := New(false, zap.NewNop().Sugar())
	idx := &fakeIndex{}
	require.NoError(t, q.Reserve("t1.idx", idx))
	assert.Equal(t, int32(0), idx.merges.Load())
}

func TestAsyncQueueMergesAndDedupes(t *testing.T) {
	q := New(true, zap.NewNop().Sugar())
	q.Start(context.Background())
	defer q.Stop()

	idx := &fakeIndex{}
	idx.need.Store(true)
	require.NoError(t, q.Reserve("t1.idx", idx))
	require.NoError(t, q.Reserve("t1.idx", idx)) // duplicate collapses

	require.Eventually(t, func() bool {
		return idx.merges.Load() == 1 && q.Pending() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAsyncQueueRetriesFailure(t *testing.T) {
	q := New(true, zap.NewNop().Sugar())
	q.Start(context.Background())
	defer q.Stop()

	idx := &fakeIndex{}
	idx.need.Store(true)
	idx.fail.Store(2)
	require.NoError(t, q.Reserve("t1.idx", idx))

	require.Eventually(t, func() bool {
		return idx.merges.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStopThenRestart(t *testing.T) {
	q := New(true, zap.NewNop().Sugar())
	q.Start(context.Background())
	q.Stop()

	// Super-user mode pattern: stopped queues accept reservations and
	// drain them once restarted.
	idx := &fakeIndex{}
	idx.need.Store(true)
	require.NoError(t, q.Reserve("t1.idx", idx))
	assert.Equal(t, int32(0), idx.merges.Load())

	q.Start(context.Background())
	defer q.Stop()
	require.Eventually(t, func() bool {
		return idx.merges.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
