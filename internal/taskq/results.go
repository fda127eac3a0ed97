package taskq

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// TaskResult is the retrievable outcome of a task.
type TaskResult struct {
	TaskID        string         `json:"task_id"`
	Priority      model.Priority `json:"priority"`
	Status        TaskStatus     `json:"status"`
	Value         any            `json:"value,omitempty"`
	Error         string         `json:"error,omitempty"`
	SubmittedAtNs int64          `json:"submitted_at_ns"`
	StartedAtNs   int64          `json:"started_at_ns,omitempty"`
	FinishedAtNs  int64          `json:"finished_at_ns,omitempty"`
}

// resultsTable keeps every live task's result plus a bounded ring of the
// most recently finished ones. Finished tasks beyond the cap are evicted
// oldest-first.
type resultsTable struct {
	results *xsync.Map[string, TaskResult]

	mu       sync.Mutex
	finished []string // ring of finished task ids, oldest first
	cap      int
}

func newResultsTable(capacity int) *resultsTable {
	if capacity <= 0 {
		capacity = 100
	}
	return &resultsTable{
		results: xsync.NewMap[string, TaskResult](),
		cap:     capacity,
	}
}

func (rt *resultsTable) put(r TaskResult) {
	rt.results.Store(r.TaskID, r)
}

// finish stores the terminal result and evicts the oldest finished entry
// once the ring is full.
func (rt *resultsTable) finish(r TaskResult) {
	rt.results.Store(r.TaskID, r)

	rt.mu.Lock()
	rt.finished = append(rt.finished, r.TaskID)
	var evict string
	if len(rt.finished) > rt.cap {
		evict = rt.finished[0]
		rt.finished = rt.finished[1:]
	}
	rt.mu.Unlock()

	if evict != "" {
		rt.results.Delete(evict)
	}
}

func (rt *resultsTable) get(id string) (TaskResult, bool) {
	return rt.results.Load(id)
}

func (rt *resultsTable) finishedCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.finished)
}
