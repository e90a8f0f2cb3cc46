// Package worker implements the named cooperative worker pool: each
// Worker is one OS goroutine draining a FIFO task queue, one task at a
// time, with optional timers that post tasks at a cadence. Service
// lifecycle transitions, and AsyncEmit invocations of connections that
// name a worker, run on a Worker; a synchronous Emit runs its slots on
// the caller's goroutine. Each Worker is internally single-threaded and
// cooperative.
package worker

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"muster/internal/metrics"
	"muster/pkg/logging"
)

// Task is a unit of work posted to a Worker. It carries no return value;
// results are communicated back via a Future or via further posted tasks.
type Task func()

// Future is returned by Post/PostTask so a caller can block until the
// posted task has run. There is no language-level suspension anywhere in
// the runtime; Wait simply blocks the calling goroutine.
type Future struct {
	done chan struct{}
	err  error
	w    *Worker
}

func newFuture(w *Worker) *Future {
	return &Future{done: make(chan struct{}), w: w}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the task has finished running and returns its error,
// including any panic recovered from it. Waiting on a still-pending
// future from the worker that would run it can never complete — the
// worker is busy running the waiter — so that case is detected and
// returned as an error instead of deadlocking.
func (f *Future) Wait() error {
	select {
	case <-f.done:
		return f.err
	default:
	}
	if f.w != nil && f.w.OnOwnWorker() {
		err := fmt.Errorf("awaiting a task posted to worker %s from that same worker deadlocks", f.w.name)
		logging.Error("Worker", err, "same-worker await detected")
		return err
	}
	<-f.done
	return f.err
}

// Worker is a named single-goroutine FIFO task queue.
type Worker struct {
	name    string
	tasks   chan func()
	stopped atomic.Bool
	goid    atomic.Uint64
	postMu  sync.RWMutex
	wg      sync.WaitGroup
}

// defaultQueueDepth bounds the task channel; posting beyond it blocks the
// poster (back-pressure), matching a bounded FIFO queue rather than an
// unbounded one that could grow without limit under a runaway producer.
const defaultQueueDepth = 256

// New creates and starts a worker named name. The worker's goroutine runs
// until Stop is called.
func New(name string) *Worker {
	w := &Worker{
		name:  name,
		tasks: make(chan func(), defaultQueueDepth),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// curGoroutineID parses the current goroutine's numeric id from its stack
// header. Go deliberately hides goroutine identity, but the worker needs
// it for exactly two things: PostTask's direct-dispatch check and Wait's
// same-worker-await detection, both of which must distinguish "the
// worker's own goroutine" from "any goroutine running while the worker is
// busy".
func curGoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		id, _ := strconv.ParseUint(string(buf[:i]), 10, 64)
		return id
	}
	return 0
}

func (w *Worker) loop() {
	defer w.wg.Done()
	w.goid.Store(curGoroutineID())
	for task := range w.tasks {
		runSafely(w.name, task)
		metrics.WorkerTasksTotal.WithLabelValues(w.name).Inc()
		metrics.WorkerQueueDepth.WithLabelValues(w.name).Set(float64(len(w.tasks)))
	}
}

func runSafely(workerName string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Worker", fmt.Errorf("panic: %v", r), "task on worker %s panicked", workerName)
		}
	}()
	task()
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// Post enqueues task for FIFO execution on this worker and returns a
// Future that completes when it has run. Post always queues, even when
// called from the worker's own goroutine — use PostTask for direct
// dispatch in that case.
func (w *Worker) Post(task Task) *Future {
	return w.PostErr(func() error {
		task()
		return nil
	})
}

// PostErr is Post for tasks that can fail: the task's returned error
// becomes the Future's result. Service lifecycle transitions use this so
// a caller awaiting start/stop observes the transition's outcome.
func (w *Worker) PostErr(task func() error) *Future {
	fut := newFuture(w)
	w.postMu.RLock()
	defer w.postMu.RUnlock()
	if w.stopped.Load() {
		fut.complete(fmt.Errorf("worker %s is stopped", w.name))
		return fut
	}
	w.tasks <- func() {
		fut.complete(runCaptured(task))
	}
	metrics.WorkerQueueDepth.WithLabelValues(w.name).Set(float64(len(w.tasks)))
	return fut
}

// PostTask behaves like Post, except that if the caller is already
// running on this worker's own goroutine, task runs immediately
// (direct dispatch) instead of being queued behind itself — queuing in
// that case would deadlock, since the worker can't drain its own queue
// while blocked posting to it.
func (w *Worker) PostTask(task Task) *Future {
	if w.OnOwnWorker() {
		fut := newFuture(nil)
		fut.complete(runCaptured(func() error {
			task()
			return nil
		}))
		return fut
	}
	return w.Post(task)
}

func runCaptured(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task()
}

// OnOwnWorker reports whether the calling goroutine is the one draining
// this worker's queue. The runtime uses this for PostTask direct dispatch
// and to detect the same-worker-await programming error in Future.Wait.
func (w *Worker) OnOwnWorker() bool {
	id := w.goid.Load()
	return id != 0 && id == curGoroutineID()
}

// Stop closes the queue once prior tasks have been accepted, then blocks
// until the goroutine has drained them and exited. Stop is idempotent;
// posting after Stop fails the returned Future.
func (w *Worker) Stop() {
	w.postMu.Lock()
	if w.stopped.CompareAndSwap(false, true) {
		close(w.tasks)
	}
	w.postMu.Unlock()
	w.wg.Wait()
}

// QueueDepth reports the number of tasks currently queued. The worker
// publishes its queue-depth gauge itself; nothing in internal/metrics
// calls this.
func (w *Worker) QueueDepth() int {
	return len(w.tasks)
}

// CreateTimer creates a Timer bound to this worker; see timer.go.
func (w *Worker) CreateTimer() *Timer {
	return newTimer(w)
}
