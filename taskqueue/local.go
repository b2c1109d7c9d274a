/*
	Package taskqueue provides queues that run downsample tasks: Local, an
	in-process worker pool, and Kafka, which hands tasks to Worker processes
	through a Kafka topic.
*/
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/mipvol/downres"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
)

// Executor runs a single task.  *downres.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, t downres.Task) error
}

// Local runs tasks in a bounded pool of goroutines.  Tasks with the same chunk key
// never run at the same time.  Transient failures are retried per the policy;
// other failures are collected and returned from Enqueue.
type Local struct {
	exec        Executor
	parallelism int
	retry       storage.RetryPolicy

	mu    sync.Mutex
	locks map[string]*keyLock

	executed uint64
	failed   uint64
}

type keyLock struct {
	sync.Mutex
	refs int
}

// NewLocal returns a local queue with the given number of workers.
func NewLocal(exec Executor, parallelism int, retry storage.RetryPolicy) *Local {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Local{
		exec:        exec,
		parallelism: parallelism,
		retry:       retry,
		locks:       make(map[string]*keyLock),
	}
}

func (q *Local) lock(key string) {
	q.mu.Lock()
	l, found := q.locks[key]
	if !found {
		l = new(keyLock)
		q.locks[key] = l
	}
	l.refs++
	q.mu.Unlock()
	l.Lock()
}

func (q *Local) unlock(key string) {
	q.mu.Lock()
	l := q.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(q.locks, key)
	}
	q.mu.Unlock()
	l.Unlock()
}

// Enqueue runs the tasks and returns once all have finished.  A failed task does
// not stop the others; the returned error joins every failure.
func (q *Local) Enqueue(ctx context.Context, tasks []downres.Task) error {
	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	g.SetLimit(q.parallelism)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := q.run(ctx, task); err != nil {
				atomic.AddUint64(&q.failed, 1)
				mipvol.Errorf("%s failed: %v\n", task, err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", task, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d downsample tasks failed: %w", len(errs), len(tasks), errors.Join(errs...))
	}
	return nil
}

func (q *Local) run(ctx context.Context, task downres.Task) error {
	key := task.Key()
	q.lock(key)
	defer q.unlock(key)
	err := q.retry.Do(ctx, task.String(), func(ctx context.Context) error {
		return q.exec.Execute(ctx, task)
	})
	if err == nil {
		atomic.AddUint64(&q.executed, 1)
	}
	return err
}

// Stats returns the number of tasks executed and failed.
func (q *Local) Stats() (executed, failed uint64) {
	return atomic.LoadUint64(&q.executed), atomic.LoadUint64(&q.failed)
}
