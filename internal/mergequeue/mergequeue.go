// Package mergequeue schedules delayed-index merges. Writers reserve a
// merge when an insert or delete side crosses its threshold; a single
// worker goroutine drains the reservations, retrying transient failures
// with exponential backoff. Synchronous mode (the AsyncMerge parameter off)
// runs the merge on the caller's thread instead.
package mergequeue

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Index is the slice of a delayed index the queue drives.
type Index interface {
	NeedInsertMerge() bool
	NeedExpungeMerge() bool
	RunMerge(tx interface{ IsCanceledStatement() bool }) error
}

// Queue is the merge reservation queue.
type Queue struct {
	log   *zap.SugaredLogger
	async bool

	mu       sync.Mutex
	reserved map[string]Index
	wake     chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc

	// maxRetryElapsed bounds the per-merge backoff loop.
	maxRetryElapsed time.Duration
}

// New builds a queue. async selects the background worker; synchronous
// queues run each reservation inline.
func New(async bool, log *zap.SugaredLogger) *Queue {
	return &Queue{
		log:             log,
		async:           async,
		reserved:        make(map[string]Index),
		wake:            make(chan struct{}, 1),
		maxRetryElapsed: 5 * time.Minute,
	}
}

// Start launches the worker. A synchronous queue starts nothing.
func (q *Queue) Start(ctx context.Context) {
	if !q.async {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.group, ctx = errgroup.WithContext(ctx)
	q.group.Go(func() error {
		q.run(ctx)
		return nil
	})
}

// Stop drains the worker. Safe to call when never started; Start may be
// called again afterwards, which is how super-user mode pauses merging.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	_ = q.group.Wait()
	q.cancel = nil
	q.group = nil
}

// Reserve schedules a merge for the named index if one is not already
// pending. In synchronous mode the merge runs before Reserve returns.
func (q *Queue) Reserve(name string, idx Index) error {
	if !q.async {
		return q.runOne(context.Background(), name, idx)
	}
	q.mu.Lock()
	_, dup := q.reserved[name]
	if !dup {
		q.reserved[name] = idx
	}
	q.mu.Unlock()
	if !dup {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending reports the number of queued reservations.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reserved)
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			name, idx, ok := q.take()
			if !ok {
				break
			}
			if err := q.runOne(ctx, name, idx); err != nil {
				q.log.Errorw("merge failed", "index", name, "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *Queue) take() (string, Index, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for name, idx := range q.reserved {
		delete(q.reserved, name)
		return name, idx, true
	}
	return "", nil, false
}

// runOne executes a single merge with backoff on failure.
func (q *Queue) runOne(ctx context.Context, name string, idx Index) error {
	// The threshold may no longer hold by the time the worker gets here;
	// merge anyway only if either side still asks for it.
	if !idx.NeedInsertMerge() && !idx.NeedExpungeMerge() {
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = q.maxRetryElapsed
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return idx.RunMerge(ctxCancelable{ctx})
	}
	start := time.Now()
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}
	q.log.Infow("merge completed", "index", name, "elapsed", time.Since(start))
	return nil
}

// ctxCancelable adapts a context to the cancellation poll the merge loop
// expects from a transaction.
type ctxCancelable struct{ ctx context.Context }

func (c ctxCancelable) IsCanceledStatement() bool { return c.ctx.Err() != nil }
