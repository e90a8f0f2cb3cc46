package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkerSerializesTasks checks that no two tasks on the same worker
// run concurrently; post order is checked by TestWorkerPreservesPostOrder.
func TestWorkerSerializesTasks(t *testing.T) {
	w := New("t1")
	defer w.Stop()

	counter := 0 // deliberately non-atomic: concurrent access would race
	const n = 500
	var futures []*Future
	for i := 0; i < n; i++ {
		futures = append(futures, w.Post(func() {
			counter++
		}))
	}
	for _, f := range futures {
		require.NoError(t, f.Wait())
	}
	assert.Equal(t, n, counter)
}

func TestWorkerPreservesPostOrder(t *testing.T) {
	w := New("order")
	defer w.Stop()

	var mu sync.Mutex
	var seq []int
	var futures []*Future
	for i := 1; i <= 3; i++ {
		i := i
		futures = append(futures, w.Post(func() {
			mu.Lock()
			seq = append(seq, i)
			mu.Unlock()
		}))
	}
	for _, f := range futures {
		require.NoError(t, f.Wait())
	}
	assert.Equal(t, []int{1, 2, 3}, seq)
}

func TestPostTaskDirectDispatchOnOwnWorker(t *testing.T) {
	w := New("self")
	defer w.Stop()

	var ranOnOwnWorker bool
	done := make(chan struct{})
	w.Post(func() {
		ranOnOwnWorker = w.OnOwnWorker()
		// PostTask from inside a running task must not deadlock by
		// queuing behind itself.
		f := w.PostTask(func() {})
		_ = f.Wait()
		close(done)
	})
	<-done
	assert.True(t, ranOnOwnWorker)
}

func TestPostTaskQueuesWhenNotOnOwnWorker(t *testing.T) {
	w := New("other")
	defer w.Stop()

	var ran bool
	f := w.PostTask(func() { ran = true })
	require.NoError(t, f.Wait())
	assert.True(t, ran)
}

func TestStopIsIdempotentAndJoins(t *testing.T) {
	w := New("stoppable")
	f := w.Post(func() {})
	require.NoError(t, f.Wait())
	w.Stop()
	w.Stop()

	f2 := w.Post(func() {})
	err := f2.Wait()
	assert.Error(t, err)
}

// TestAwaitOnOwnWorkerIsDetected: awaiting another task's future from
// within the same worker can never complete, so the runtime reports it
// as an error instead of hanging.
func TestAwaitOnOwnWorkerIsDetected(t *testing.T) {
	w := New("deadlockable")
	defer w.Stop()

	var waitErr error
	done := make(chan struct{})
	w.Post(func() {
		inner := w.Post(func() {})
		waitErr = inner.Wait()
		close(done)
	})
	<-done
	assert.Error(t, waitErr)
	assert.Contains(t, waitErr.Error(), "deadlock")
}

// TestPostTaskQueuesFromForeignGoroutineWhileBusy pins down the
// direct-dispatch check: a goroutine that is not the worker's own must
// queue even while the worker is mid-task, or two tasks could run
// concurrently.
func TestPostTaskQueuesFromForeignGoroutineWhileBusy(t *testing.T) {
	w := New("busy")
	defer w.Stop()

	blocker := make(chan struct{})
	inTask := make(chan struct{})
	w.Post(func() {
		close(inTask)
		<-blocker
	})
	<-inTask

	dispatched := make(chan struct{})
	go func() {
		f := w.PostTask(func() {})
		_ = f.Wait()
		close(dispatched)
	}()

	select {
	case <-dispatched:
		t.Fatal("PostTask ran directly on a foreign goroutine while the worker was busy")
	case <-time.After(50 * time.Millisecond):
	}
	close(blocker)
	select {
	case <-dispatched:
	case <-time.After(time.Second):
		t.Fatal("queued task never ran after the worker unblocked")
	}
}

func TestPanicInTaskDoesNotKillWorker(t *testing.T) {
	w := New("resilient")
	defer w.Stop()

	f1 := w.Post(func() { panic("boom") })
	require.Error(t, f1.Wait())

	var ranAfterPanic bool
	f2 := w.Post(func() { ranAfterPanic = true })
	require.NoError(t, f2.Wait())
	assert.True(t, ranAfterPanic)
}

func TestTimerPostsOneTaskPerTick(t *testing.T) {
	w := New("timed")
	defer w.Stop()

	var mu sync.Mutex
	ticks := 0
	timer := w.CreateTimer()
	timer.SetDuration(10 * time.Millisecond)
	timer.SetFunction(func() {
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	timer.Start()
	time.Sleep(55 * time.Millisecond)
	timer.Stop()

	mu.Lock()
	got := ticks
	mu.Unlock()
	assert.GreaterOrEqual(t, got, 3)
	assert.LessOrEqual(t, got, 8)
}

func TestOneShotTimerFiresOnce(t *testing.T) {
	w := New("oneshot")
	defer w.Stop()

	var mu sync.Mutex
	ticks := 0
	timer := w.CreateTimer()
	timer.SetDuration(10 * time.Millisecond)
	timer.SetOneShot(true)
	timer.SetFunction(func() {
		mu.Lock()
		ticks++
		mu.Unlock()
	})
	timer.Start()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	got := ticks
	mu.Unlock()
	assert.Equal(t, 1, got)
}
