package distributed

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	maxAttempts    = 3
	defaultTimeout = 10 * time.Second
)

var ErrTaskExhausted = errors.New("task exceeded max attempts")

type TaskState int

const (
	TaskIdle TaskState = iota
	TaskInProgress
	TaskCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "idle"
	case TaskInProgress:
		return "in-progress"
	case TaskCompleted:
		return "completed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

type TaskType int

const (
	MapTask TaskType = iota
	ReduceTask
)

func (t TaskType) String() string {
	switch t {
	case MapTask:
		return "map"
	case ReduceTask:
		return "reduce"
	default:
		return fmt.Sprintf("TaskType(%d)", int(t))
	}
}

type TaskMetadata struct {
	StartTime     time.Time
	FailedWorkers map[string]int
	LastWorker    string
	Attempts      int // assignments so far
}

type Task struct {
	Input    string
	Metadata TaskMetadata
	ID       int
	Type     TaskType
	State    TaskState
}

// TaskTracker owns the task table of the current phase. Map tasks are
// replaced by reduce tasks only once every map task has completed.
type TaskTracker struct {
	tasks            map[int]*Task
	logger           *slog.Logger
	mu               sync.RWMutex
	nReduce          int
	timeout          time.Duration
	hasStartedReduce bool
}

func NewTaskTracker(nReduce int) *TaskTracker {
	return &TaskTracker{
		tasks:   make(map[int]*Task),
		logger:  slog.Default(),
		nReduce: nReduce,
		timeout: defaultTimeout,
	}
}

// AssignTask hands the lowest numbered idle task to workerID and returns a
// snapshot of it, or nil when nothing is idle.
func (t *TaskTracker) AssignTask(workerID string) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range t.sortedIDs() {
		task := t.tasks[id]
		if task.State != TaskIdle {
			continue
		}
		task.State = TaskInProgress
		task.Metadata.StartTime = time.Now()
		task.Metadata.LastWorker = workerID
		task.Metadata.Attempts++
		t.logger.Debug("assigned task", "task", id, "type", task.Type, "worker", workerID, "attempt", task.Metadata.Attempts)

		snapshot := *task
		return &snapshot, nil
	}

	return nil, nil
}

// CheckTimeouts re-queues in-progress tasks older than the timeout. It
// returns ErrTaskExhausted when a timed out task has no attempts left.
func (t *TaskTracker) CheckTimeouts() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for _, id := range t.sortedIDs() {
		task := t.tasks[id]
		if task.State != TaskInProgress || now.Sub(task.Metadata.StartTime) <= t.timeout {
			continue
		}
		if task.Metadata.Attempts >= maxAttempts {
			return fmt.Errorf("%w: %s task %d timed out", ErrTaskExhausted, task.Type, id)
		}
		t.logger.Warn("task timed out, re-queueing", "task", id, "type", task.Type, "worker", task.Metadata.LastWorker)
		task.Metadata.FailedWorkers[task.Metadata.LastWorker]++
		task.State = TaskIdle
		task.Metadata.LastWorker = ""
	}
	return nil
}

// MarkComplete completes taskID if it belongs to the current phase and is
// not already complete. It reports whether the call changed anything.
func (t *TaskTracker) MarkComplete(taskID int, typ TaskType) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, exists := t.tasks[taskID]
	if !exists {
		return false, fmt.Errorf("task %d not found", taskID)
	}
	if task.Type != typ || task.State == TaskCompleted {
		return false, nil
	}

	task.State = TaskCompleted
	return true, nil
}

func (t *TaskTracker) IsMapPhaseDone() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.isMapPhaseDoneNoLock()
}

func (t *TaskTracker) IsReducePhaseDone() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.hasStartedReduce {
		return false
	}
	for _, task := range t.tasks {
		if task.Type == ReduceTask && task.State != TaskCompleted {
			return false
		}
	}
	return true
}

func (t *TaskTracker) ReduceStarted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.hasStartedReduce
}

func (t *TaskTracker) InitMapTasks(files []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tasks = make(map[int]*Task)
	for i, file := range files {
		t.tasks[i] = newTask(i, MapTask, file)
	}
	t.hasStartedReduce = false
}

func (t *TaskTracker) TransitionToReducePhase() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasStartedReduce {
		return nil
	}
	if !t.isMapPhaseDoneNoLock() {
		return fmt.Errorf("map phase not complete")
	}

	t.tasks = make(map[int]*Task)
	for i := 0; i < t.nReduce; i++ {
		t.tasks[i] = newTask(i, ReduceTask, fmt.Sprintf("%d", i))
	}

	t.hasStartedReduce = true
	return nil
}

func newTask(id int, typ TaskType, input string) *Task {
	return &Task{
		ID:    id,
		Type:  typ,
		State: TaskIdle,
		Input: input,
		Metadata: TaskMetadata{
			FailedWorkers: make(map[string]int),
		},
	}
}

func (t *TaskTracker) isMapPhaseDoneNoLock() bool {
	for _, task := range t.tasks {
		if task.Type == MapTask && task.State != TaskCompleted {
			return false
		}
	}
	return true
}

// ReassignFailedTask re-queues taskID after workerID failed it. Reports from
// a worker that no longer holds the task are ignored.
func (t *TaskTracker) ReassignFailedTask(taskID int, workerID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, exists := t.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %d not found", taskID)
	}
	if task.State != TaskInProgress || task.Metadata.LastWorker != workerID {
		return nil
	}

	// Update failure count for worker
	task.Metadata.FailedWorkers[workerID]++

	if task.Metadata.Attempts >= maxAttempts {
		return fmt.Errorf("%w: %s task %d", ErrTaskExhausted, task.Type, taskID)
	}

	task.State = TaskIdle
	task.Metadata.StartTime = time.Time{}
	task.Metadata.LastWorker = ""
	return nil
}

func (t *TaskTracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.tasks))
	for id := range t.tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
