package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// stubResult implements Result
type stubResult struct {
	name string
	err  error
}

func (r *stubResult) GetError() error { return r.err }

// stubJob stands in for one business publish
type stubJob struct {
	name     string
	delay    time.Duration
	fail     bool
	started  *int32
	inFlight *int32
	peak     *int32
}

func (j *stubJob) Execute(ctx context.Context) Result {
	if j.started != nil {
		atomic.AddInt32(j.started, 1)
	}
	if j.inFlight != nil {
		n := atomic.AddInt32(j.inFlight, 1)
		defer atomic.AddInt32(j.inFlight, -1)
		for {
			old := atomic.LoadInt32(j.peak)
			if n <= old || atomic.CompareAndSwapInt32(j.peak, old, n) {
				break
			}
		}
	}
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return &stubResult{name: j.name, err: ctx.Err()}
		}
	}
	if j.fail {
		return &stubResult{name: j.name, err: errors.New("remote rejected edit")}
	}
	return &stubResult{name: j.name}
}

func stubJobs(n int, configure func(i int, j *stubJob)) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		j := &stubJob{name: fmt.Sprintf("business-%d", i)}
		if configure != nil {
			configure(i, j)
		}
		jobs[i] = j
	}
	return jobs
}

func TestNewPool_WorkerCount(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{requested: 4, want: 4},
		{requested: 0, want: 1},
		{requested: -3, want: 1},
	}
	for _, tt := range tests {
		if got := NewPool(tt.requested).workers; got != tt.want {
			t.Errorf("NewPool(%d).workers = %d, want %d", tt.requested, got, tt.want)
		}
	}
}

func TestPool_SubmitAndWait(t *testing.T) {
	pool := NewPool(2)
	pool.Start()

	var started int32
	// Stay within the queue buffer; Wait only drains after submission
	for _, job := range stubJobs(4, func(_ int, j *stubJob) { j.started = &started }) {
		pool.Submit(job)
	}

	results := pool.Wait()
	if len(results) != 4 {
		t.Errorf("got %d results, want 4", len(results))
	}
	if n := atomic.LoadInt32(&started); n != 4 {
		t.Errorf("started %d jobs, want 4", n)
	}
}

func TestPool_RunBoundsConcurrency(t *testing.T) {
	const workers = 3
	var inFlight, peak int32

	jobs := stubJobs(30, func(_ int, j *stubJob) {
		j.delay = 5 * time.Millisecond
		j.inFlight = &inFlight
		j.peak = &peak
	})

	results := NewPool(workers).Run(jobs)
	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}
	if p := atomic.LoadInt32(&peak); p > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", p, workers)
	}
}

func TestPool_RunCountsFailures(t *testing.T) {
	jobs := stubJobs(6, func(i int, j *stubJob) { j.fail = i%3 == 0 })

	failed := 0
	for _, r := range NewPool(2).Run(jobs) {
		if r.GetError() != nil {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
}

func TestPool_RunManyJobs(t *testing.T) {
	// Far more jobs than the queue and result buffers hold
	var started int32
	jobs := stubJobs(200, func(_ int, j *stubJob) { j.started = &started })

	done := make(chan []Result)
	go func() { done <- NewPool(2).Run(jobs) }()

	select {
	case results := <-done:
		if len(results) != len(jobs) {
			t.Errorf("got %d results, want %d", len(results), len(jobs))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run deadlocked")
	}
	if n := atomic.LoadInt32(&started); n != int32(len(jobs)) {
		t.Errorf("started %d jobs, want %d", n, len(jobs))
	}
}

func TestPool_RunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := NewPoolWithContext(ctx, 2)

	done := make(chan struct{})
	go func() {
		pool.Run(stubJobs(2, func(_ int, j *stubJob) { j.delay = time.Second }))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run with cancelled context did not return")
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(1)
	pool.Start()
	pool.Shutdown()

	done := make(chan struct{})
	go func() {
		pool.Submit(&stubJob{name: "late"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit after Shutdown blocked")
	}
}

func TestPool_ShutdownCancelsInFlight(t *testing.T) {
	pool := NewPool(1)
	pool.Start()

	var started int32
	pool.Submit(&stubJob{name: "slow", delay: 10 * time.Second, started: &started})
	for atomic.LoadInt32(&started) == 0 {
		time.Sleep(time.Millisecond)
	}

	shutdown := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(shutdown)
	}()

	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatal("Shutdown waited for the in-flight job")
	}
	for range pool.results {
	}
}

func TestResultCollector_ReturnsCopy(t *testing.T) {
	c := NewResultCollector()
	c.Add(&stubResult{name: "a"})
	c.Add(&stubResult{name: "b", err: errors.New("conflict")})

	got := c.Results()
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	got[0] = nil
	if c.Results()[0] == nil {
		t.Error("Results exposed the internal slice")
	}
}
