package distributed

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogzhanolguncu/hostess/map_reduce"
)

var ErrJobFailed = errors.New("job failed")

type WorkerInfo struct {
	lastHeartbeat time.Time
	id            string
	address       string
	status        WorkerStatus
	active        bool
}

// Coordinator schedules map and reduce tasks over net/rpc and collects the
// reduced records.
type Coordinator struct {
	listener            net.Listener
	server              *rpc.Server
	logger              *slog.Logger
	err                 error
	conns               map[net.Conn]struct{}
	workers             map[string]*WorkerInfo
	taskTracker         *TaskTracker
	shutdown            chan struct{}
	done                chan struct{}
	interDir            string
	outputDir           string
	results             []map_reduce.KeyValue
	inputFiles          []string
	wg                  sync.WaitGroup
	nReduce             int
	healthCheckInterval time.Duration
	maxHeartbeatDelay   time.Duration
	mu                  sync.Mutex
	ownsInterDir        bool
	complete            bool
	isShuttingDown      bool
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTaskTimeout sets how long a task may run before it is re-queued.
func WithTaskTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.taskTracker.timeout = d
		}
	}
}

func WithHealthCheck(interval, maxDelay time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if interval > 0 {
			c.healthCheckInterval = interval
		}
		if maxDelay > 0 {
			c.maxHeartbeatDelay = maxDelay
		}
	}
}

// NewCoordinator prepares one map task per file and nReduce reduce tasks.
// An empty interDir gets a fresh directory that Cleanup removes. When
// outputDir is set, reduce tasks also write mr-out-<R> files there.
func NewCoordinator(nReduce int, files []string, interDir, outputDir string, opts ...CoordinatorOption) (*Coordinator, error) {
	if nReduce <= 0 {
		return nil, fmt.Errorf("nReduce must be positive, got %d", nReduce)
	}

	owns := false
	if interDir == "" {
		interDir = filepath.Join(os.TempDir(), fmt.Sprintf("mr-%s", uuid.New().String()))
		owns = true
	}
	if err := os.MkdirAll(interDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create intermediate directory: %w", err)
	}

	c := &Coordinator{
		inputFiles:          files,
		interDir:            interDir,
		outputDir:           outputDir,
		ownsInterDir:        owns,
		logger:              slog.Default(),
		conns:               make(map[net.Conn]struct{}),
		workers:             make(map[string]*WorkerInfo),
		taskTracker:         NewTaskTracker(nReduce),
		shutdown:            make(chan struct{}),
		done:                make(chan struct{}),
		nReduce:             nReduce,
		healthCheckInterval: 5 * time.Second,
		maxHeartbeatDelay:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.taskTracker.logger = c.logger
	c.taskTracker.InitMapTasks(files)

	return c, nil
}

func (c *Coordinator) Start(address string) error {
	c.server = rpc.NewServer()
	if err := c.server.RegisterName("Coordinator", c); err != nil {
		return fmt.Errorf("failed to register RPC service: %w", err)
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start RPC server: %w", err)
	}
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()
	c.logger.Info("coordinator listening", "addr", listener.Addr().String(), "maps", len(c.inputFiles), "reduces", c.nReduce)

	// Start timeout checker
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.taskTracker.CheckTimeouts(); err != nil {
					c.fail(err)
				}
			case <-c.shutdown:
				return
			}
		}
	}()

	// Start worker health checker
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.checkWorkerHealth()
			case <-c.shutdown:
				return
			}
		}
	}()

	// Accept connections
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-c.shutdown:
					return // Normal shutdown
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				c.logger.Error("accept failed", "error", err)
				continue
			}
			if !c.trackConn(conn) {
				conn.Close()
				continue
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer c.untrackConn(conn)
				c.server.ServeConn(conn)
			}()
		}
	}()

	return nil
}

// Addr is the address the coordinator listens on, once started.
func (c *Coordinator) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *Coordinator) Register(args *RegisterArgs, reply *RegisterReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wId, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("failed generating UUID: %w", err)
	}

	c.workers[wId.String()] = &WorkerInfo{
		id:            wId.String(),
		address:       args.WorkerAddr,
		active:        true,
		lastHeartbeat: time.Now(),
		status:        WorkerStatus{Timestamp: time.Now()},
	}
	reply.WorkerID = wId.String()
	c.logger.Info("worker registered", "worker", reply.WorkerID)
	return nil
}

func (c *Coordinator) GetTask(args *GetTaskArgs, reply *GetTaskReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.complete || c.isShuttingDown {
		reply.JobComplete = true
		return nil
	}

	// Check and transition to reduce phase if map phase is done
	if !c.taskTracker.ReduceStarted() && c.taskTracker.IsMapPhaseDone() {
		if err := c.taskTracker.TransitionToReducePhase(); err != nil {
			c.logger.Error("transition to reduce phase failed", "error", err)
			return err
		}
		c.logger.Info("map phase complete, starting reduce phase")
	}

	task, err := c.taskTracker.AssignTask(args.WorkerID)
	if err != nil {
		return err
	}
	if task == nil {
		reply.Wait = true
		return nil
	}

	reply.TaskID = task.ID
	reply.Type = task.Type
	reply.Input = task.Input
	reply.NReduce = c.nReduce
	reply.NMap = len(c.inputFiles)
	reply.InterDir = c.interDir
	reply.OutputDir = c.outputDir

	c.logger.Info("assigned task", "task", task.ID, "type", task.Type, "worker", args.WorkerID)
	return nil
}

func (c *Coordinator) TaskComplete(args *TaskCompleteArgs, reply *TaskCompleteReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Reports for a task of the other phase are stale; its table is gone.
	if c.taskTracker.ReduceStarted() != (args.Type == ReduceTask) {
		c.logger.Debug("ignoring report from another phase", "task", args.TaskID, "type", args.Type, "worker", args.WorkerID)
		return nil
	}

	if !args.Success {
		c.logger.Warn("task failed", "task", args.TaskID, "type", args.Type, "worker", args.WorkerID, "error", args.Error)
		if err := c.taskTracker.ReassignFailedTask(args.TaskID, args.WorkerID); err != nil {
			if errors.Is(err, ErrTaskExhausted) {
				c.failLocked(fmt.Errorf("%w: last error: %s", err, args.Error))
				return nil
			}
			return err
		}
		return nil
	}

	changed, err := c.taskTracker.MarkComplete(args.TaskID, args.Type)
	if err != nil {
		return err
	}
	if !changed {
		c.logger.Debug("ignoring stale completion", "task", args.TaskID, "type", args.Type, "worker", args.WorkerID)
		return nil
	}

	if args.Type == ReduceTask {
		c.results = append(c.results, args.Results...)
	}
	c.logger.Info("task completed", "task", args.TaskID, "type", args.Type, "worker", args.WorkerID)

	if c.taskTracker.IsReducePhaseDone() {
		c.finishLocked()
	}
	return nil
}

func (c *Coordinator) Heartbeat(args *HeartbeatArgs, reply *HeartbeatReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isShuttingDown || c.complete {
		reply.ShouldContinue = false
		return nil
	}

	worker, exists := c.workers[args.WorkerID]
	if !exists {
		return fmt.Errorf("unknown worker")
	}

	worker.lastHeartbeat = time.Now()
	worker.status = args.Status
	worker.active = true

	reply.ShouldContinue = true
	return nil
}

// Done is closed once every reduce task has completed or the job has failed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err reports why the job failed, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Coordinator) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}

// Results returns the reduced records, sorted.
func (c *Coordinator) Results() []map_reduce.KeyValue {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map_reduce.KeyValue, len(c.results))
	copy(out, c.results)
	map_reduce.SortKeyValues(out)
	return out
}

func (c *Coordinator) Cleanup() {
	c.initiateShutdown()

	// Wait for all goroutines to finish
	c.wg.Wait()

	if c.ownsInterDir {
		if err := os.RemoveAll(c.interDir); err != nil {
			c.logger.Error("failed to clean up intermediate directory", "dir", c.interDir, "error", err)
		}
		return
	}
	files, _ := filepath.Glob(filepath.Join(c.interDir, "mr-*-*"))
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			c.logger.Error("failed to remove intermediate file", "file", f, "error", err)
		}
	}
}

func (c *Coordinator) checkWorkerHealth() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, worker := range c.workers {
		if !worker.active {
			continue
		}

		timeSinceHeartbeat := now.Sub(worker.lastHeartbeat)
		if timeSinceHeartbeat <= c.maxHeartbeatDelay {
			continue
		}

		c.logger.Warn("worker missed heartbeat, marking inactive", "worker", id, "delay", timeSinceHeartbeat)
		worker.active = false

		status := worker.status
		if !status.Busy || c.taskTracker.ReduceStarted() != (status.CurrentType == ReduceTask) {
			continue
		}
		if err := c.taskTracker.ReassignFailedTask(status.CurrentTaskID, id); err != nil {
			if errors.Is(err, ErrTaskExhausted) {
				c.failLocked(err)
				return
			}
			c.logger.Error("failed to reassign task", "worker", id, "error", err)
		}
	}
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err)
}

func (c *Coordinator) failLocked(err error) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: %w", ErrJobFailed, err)
		c.logger.Error("job failed", "error", err)
	}
	c.finishLocked()
}

func (c *Coordinator) finishLocked() {
	if c.complete {
		return
	}
	c.complete = true
	close(c.done)
	if c.err == nil {
		c.logger.Info("all tasks completed", "records", len(c.results))
	}
}

func (c *Coordinator) trackConn(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isShuttingDown {
		return false
	}
	c.conns[conn] = struct{}{}
	return true
}

func (c *Coordinator) untrackConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conn)
}

func (c *Coordinator) initiateShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isShuttingDown {
		return
	}
	c.isShuttingDown = true
	close(c.shutdown)

	if c.listener != nil {
		c.listener.Close()
	}
	for conn := range c.conns {
		conn.Close()
	}
	for _, worker := range c.workers {
		worker.active = false
	}
}
