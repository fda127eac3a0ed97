// Package taskq implements the priority task queue with per-priority
// concurrency caps.
package taskq

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// ErrWaitTimeout is returned by SubmitAndWait when the task does not finish
// in time. The task keeps running; its result stays retrievable by id.
var ErrWaitTimeout = errors.New("taskq: wait timeout")

// ErrStopped is returned when submitting to a stopped queue.
var ErrStopped = errors.New("taskq: queue stopped")

// TaskFunc is the unit of queued work.
type TaskFunc func(ctx context.Context) (any, error)

// DefaultCaps returns the per-priority concurrency caps.
func DefaultCaps() map[model.Priority]int64 {
	return map[model.Priority]int64{
		model.PriorityCritical:   10,
		model.PriorityHigh:       4,
		model.PriorityMedium:     8,
		model.PriorityLow:        2,
		model.PriorityBackground: 2,
	}
}

type task struct {
	id        string
	priority  model.Priority
	fn        TaskFunc
	submitted time.Time
	seq       uint64
	done      chan struct{}
	index     int
}

// taskHeap orders by (priority rank, submitted_at, seq).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	ri, rj := model.PriorityRank(h[i].priority), model.PriorityRank(h[j].priority)
	if ri != rj {
		return ri < rj
	}
	if !h[i].submitted.Equal(h[j].submitted) {
		return h[i].submitted.Before(h[j].submitted)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Queue is the process-wide priority task queue. One dispatcher goroutine
// pops the highest-priority runnable task; per-priority semaphores bound
// concurrent execution.
type Queue struct {
	mu  sync.Mutex
	pq  taskHeap
	seq atomic.Uint64

	sems    map[model.Priority]*semaphore.Weighted
	results *resultsTable
	wake    chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	started    atomic.Bool

	running        atomic.Int64
	completedTotal atomic.Int64
	failedTotal    atomic.Int64
}

// New creates a Queue. caps overrides DefaultCaps per priority; every
// known priority always gets a semaphore.
func New(caps map[model.Priority]int64) *Queue {
	merged := DefaultCaps()
	for p, n := range caps {
		merged[p] = n
	}
	sems := make(map[model.Priority]*semaphore.Weighted, len(merged))
	for p, n := range merged {
		if n <= 0 {
			n = 1
		}
		sems[p] = semaphore.NewWeighted(n)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sems:       sems,
		results:    newResultsTable(100),
		wake:       make(chan struct{}, 1),
		baseCtx:    ctx,
		baseCancel: cancel,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the dispatcher.
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	q.wg.Add(1)
	go q.dispatch()
	log.Println("[taskq] dispatcher started")
}

// Stop cancels running tasks and waits for the dispatcher and workers.
// Pending tasks are abandoned; their results stay pending.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.baseCancel()
	})
	q.wg.Wait()
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues fn at the given priority and returns the task id.
func (q *Queue) Submit(fn TaskFunc, priority model.Priority) (string, error) {
	t, err := q.submit(fn, priority)
	if err != nil {
		return "", err
	}
	return t.id, nil
}

func (q *Queue) submit(fn TaskFunc, priority model.Priority) (*task, error) {
	if fn == nil {
		return nil, errors.New("taskq: nil task func")
	}
	if !model.ValidPriority(priority) {
		return nil, fmt.Errorf("taskq: unknown priority %q", priority)
	}
	select {
	case <-q.stopCh:
		return nil, ErrStopped
	default:
	}

	t := &task{
		id:        uuid.NewString(),
		priority:  priority,
		fn:        fn,
		submitted: time.Now(),
		seq:       q.seq.Add(1),
		done:      make(chan struct{}),
	}
	q.results.put(TaskResult{
		TaskID:        t.id,
		Priority:      priority,
		Status:        StatusPending,
		SubmittedAtNs: t.submitted.UnixNano(),
	})

	q.mu.Lock()
	heap.Push(&q.pq, t)
	q.mu.Unlock()
	q.signalWake()
	return t, nil
}

// SubmitAndWait enqueues fn and blocks until it finishes or timeout
// elapses. On timeout the task keeps running.
func (q *Queue) SubmitAndWait(fn TaskFunc, priority model.Priority, timeout time.Duration) (TaskResult, error) {
	t, err := q.submit(fn, priority)
	if err != nil {
		return TaskResult{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		res, _ := q.results.get(t.id)
		return res, nil
	case <-timer.C:
		return TaskResult{TaskID: t.id, Priority: priority, Status: StatusRunning}, ErrWaitTimeout
	}
}

// ExecuteImmediate runs fn synchronously, bypassing the queue while still
// holding the priority's semaphore slot.
func (q *Queue) ExecuteImmediate(ctx context.Context, fn TaskFunc, priority model.Priority) (any, error) {
	if fn == nil {
		return nil, errors.New("taskq: nil task func")
	}
	sem, ok := q.sems[priority]
	if !ok {
		return nil, fmt.Errorf("taskq: unknown priority %q", priority)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	id := uuid.NewString()
	now := time.Now()
	res := TaskResult{
		TaskID:        id,
		Priority:      priority,
		Status:        StatusRunning,
		SubmittedAtNs: now.UnixNano(),
		StartedAtNs:   now.UnixNano(),
	}
	q.results.put(res)
	q.running.Add(1)

	value, err := invoke(ctx, fn)

	q.running.Add(-1)
	res.FinishedAtNs = time.Now().UnixNano()
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		q.failedTotal.Add(1)
	} else {
		res.Status = StatusCompleted
		res.Value = value
		q.completedTotal.Add(1)
	}
	q.results.finish(res)
	return value, err
}

// Result returns the stored result for a task id.
func (q *Queue) Result(id string) (TaskResult, bool) {
	return q.results.get(id)
}

// QueueStats is a point-in-time view of queue load.
type QueueStats struct {
	Depth     int   `json:"depth"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retained  int   `json:"retained"`
}

// Stats returns current queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	depth := q.pq.Len()
	q.mu.Unlock()
	return QueueStats{
		Depth:     depth,
		Running:   q.running.Load(),
		Completed: q.completedTotal.Load(),
		Failed:    q.failedTotal.Load(),
		Retained:  q.results.finishedCount(),
	}
}

func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		t := q.nextRunnable()
		if t == nil {
			select {
			case <-q.wake:
			case <-q.stopCh:
				return
			}
			continue
		}
		q.wg.Add(1)
		go q.run(t)
	}
}

// nextRunnable pops the best task whose priority has a free slot. Tasks
// blocked on their semaphore are pushed back in order.
func (q *Queue) nextRunnable() *task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var deferred []*task
	var found *task
	for q.pq.Len() > 0 {
		t := heap.Pop(&q.pq).(*task)
		if q.sems[t.priority].TryAcquire(1) {
			found = t
			break
		}
		deferred = append(deferred, t)
	}
	for _, t := range deferred {
		heap.Push(&q.pq, t)
	}
	return found
}

func (q *Queue) run(t *task) {
	defer q.wg.Done()
	defer q.signalWake()
	defer q.sems[t.priority].Release(1)

	res := TaskResult{
		TaskID:        t.id,
		Priority:      t.priority,
		Status:        StatusRunning,
		SubmittedAtNs: t.submitted.UnixNano(),
		StartedAtNs:   time.Now().UnixNano(),
	}
	q.results.put(res)
	q.running.Add(1)

	value, err := invoke(q.baseCtx, t.fn)

	q.running.Add(-1)
	res.FinishedAtNs = time.Now().UnixNano()
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		q.failedTotal.Add(1)
	} else {
		res.Status = StatusCompleted
		res.Value = value
		q.completedTotal.Add(1)
	}
	q.results.finish(res)
	close(t.done)
}

// invoke runs fn, converting panics into errors so a bad task cannot take
// down the dispatcher's workers.
func invoke(ctx context.Context, fn TaskFunc) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("taskq: task panic: %v", r)
		}
	}()
	return fn(ctx)
}
