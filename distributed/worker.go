package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/rpc"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	. "github.com/ogzhanolguncu/hostess/map_reduce"
	"github.com/ogzhanolguncu/hostess/sink"
)

const rpcTimeout = 5 * time.Second

var ErrCleanShutdown = errors.New("clean shutdown")

type Worker struct {
	mapper            Mapper
	reducer           Reducer
	logger            *slog.Logger
	workerID          string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	mu                sync.Mutex
	status            WorkerStatus
}

type WorkerOption func(*Worker)

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithPollInterval sets how long a worker waits before asking again when no
// task is idle.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.heartbeatInterval = d
		}
	}
}

func NewWorker(m Mapper, r Reducer, opts ...WorkerOption) *Worker {
	w := &Worker{
		mapper:            m,
		reducer:           r,
		logger:            slog.Default(),
		pollInterval:      500 * time.Millisecond,
		heartbeatInterval: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register joins the coordinator at addr and processes tasks until the job
// completes, the coordinator goes away, or ctx is cancelled.
func (w *Worker) Register(ctx context.Context, addr string) error {
	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer client.Close()

	reply := &RegisterReply{}
	if err := call(ctx, client, "Coordinator.Register", &RegisterArgs{WorkerAddr: addr}, reply); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	w.workerID = reply.WorkerID
	w.logger = w.logger.With("worker", w.workerID)
	w.logger.Info("registered with coordinator", "addr", addr)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- w.startHeartbeat(runCtx, client) }()
	go func() { errCh <- w.processTasks(runCtx, client) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, ErrCleanShutdown) {
			w.logger.Info("worker completed")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}
}

func (w *Worker) startHeartbeat(ctx context.Context, client *rpc.Client) error {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			args := &HeartbeatArgs{WorkerID: w.workerID, Status: w.getStatus()}
			reply := &HeartbeatReply{}

			if err := call(ctx, client, "Coordinator.Heartbeat", args, reply); err != nil {
				if ctx.Err() != nil || isDisconnect(err) {
					return ErrCleanShutdown
				}
				return fmt.Errorf("heartbeat failed: %w", err)
			}
			if !reply.ShouldContinue {
				w.logger.Info("received shutdown signal")
				return ErrCleanShutdown
			}
		}
	}
}

func (w *Worker) processTasks(ctx context.Context, client *rpc.Client) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		reply := &GetTaskReply{}
		if err := call(ctx, client, "Coordinator.GetTask", &GetTaskArgs{WorkerID: w.workerID}, reply); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isDisconnect(err) {
				w.logger.Info("coordinator appears to have shut down, exiting cleanly")
				return nil
			}
			return fmt.Errorf("failed to get task: %w", err)
		}

		if reply.JobComplete {
			w.logger.Info("job complete signal received")
			return nil
		}
		if reply.Wait {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollInterval):
				continue
			}
		}

		completeArgs := &TaskCompleteArgs{
			WorkerID: w.workerID,
			TaskID:   reply.TaskID,
			Type:     reply.Type,
		}

		w.beginTask(reply.TaskID, reply.Type)
		var taskErr error
		switch reply.Type {
		case MapTask:
			taskErr = w.executeMapTask(ctx, reply.TaskID, reply.Input, reply.NReduce, reply.InterDir)
		case ReduceTask:
			completeArgs.Results, taskErr = w.executeReduceTask(ctx, reply.TaskID, reply.NMap, reply.InterDir, reply.OutputDir)
		default:
			taskErr = fmt.Errorf("unknown task type %v", reply.Type)
		}
		w.endTask(taskErr)

		completeArgs.Success = taskErr == nil
		if taskErr != nil {
			completeArgs.Error = taskErr.Error()
			w.logger.Warn("task failed", "task", reply.TaskID, "type", reply.Type, "error", taskErr)
		}

		if err := call(ctx, client, "Coordinator.TaskComplete", completeArgs, &TaskCompleteReply{}); err != nil {
			if ctx.Err() != nil || isDisconnect(err) {
				return nil
			}
			return fmt.Errorf("failed to report completion: %w", err)
		}
	}
}

// executeMapTask maps every line of input and writes one intermediate file
// per reduce partition, mr-<mapID>-<reduceID>, even when it is empty.
func (w *Worker) executeMapTask(ctx context.Context, mapID int, input string, nReduce int, interDir string) error {
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	buckets := make([][]KeyValue, nReduce)
	err = ScanLines(f, input, func(pos Position, line string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		kvs, err := w.mapper.Map(pos, line)
		if err != nil {
			return fmt.Errorf("%s: %w", pos, err)
		}
		for _, kv := range kvs {
			r := Partition(kv.Key, nReduce)
			buckets[r] = append(buckets[r], kv)
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.setProgress(0.5)

	for r, kvs := range buckets {
		filename := filepath.Join(interDir, fmt.Sprintf("mr-%d-%d", mapID, r))
		err := sink.WriteFileAtomic(filename, func(out io.Writer) error {
			enc := json.NewEncoder(out)
			for _, kv := range kvs {
				if err := enc.Encode(&kv); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to write intermediate file: %w", err)
		}
	}

	w.logger.Debug("map task complete", "task", mapID, "input", input)
	return nil
}

func (w *Worker) executeReduceTask(ctx context.Context, reduceID int, mapTasks int, interDir, outputDir string) ([]KeyValue, error) {
	var kvs []KeyValue
	for mapID := 0; mapID < mapTasks; mapID++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		filename := filepath.Join(interDir, fmt.Sprintf("mr-%d-%d", mapID, reduceID))
		read, err := readIntermediate(filename)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, read...)
	}
	w.setProgress(0.3)

	results, err := ReduceGroups(w.reducer, kvs)
	if err != nil {
		return nil, err
	}
	w.setProgress(0.6)

	if outputDir != "" {
		outputFile := filepath.Join(outputDir, fmt.Sprintf("mr-out-%d", reduceID))
		err := sink.WriteFileAtomic(outputFile, func(out io.Writer) error {
			for _, kv := range results {
				if _, err := fmt.Fprintf(out, "%v\t%v\n", kv.Key, kv.Value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write output file: %w", err)
		}
	}

	w.logger.Debug("reduce task complete", "task", reduceID, "occurrences", len(kvs), "records", len(results))
	return results, nil
}

func readIntermediate(filename string) ([]KeyValue, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open intermediate file: %w", err)
	}
	defer file.Close()

	var kvs []KeyValue
	dec := json.NewDecoder(file)
	for {
		var kv KeyValue
		if err := dec.Decode(&kv); err != nil {
			if errors.Is(err, io.EOF) {
				return kvs, nil
			}
			return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
		}
		kvs = append(kvs, kv)
	}
}

// call is client.Call bounded by ctx and rpcTimeout.
func call(ctx context.Context, client *rpc.Client, method string, args, reply any) error {
	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	c := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("RPC timeout calling %s", method)
	case res := <-c.Done:
		return res.Error
	}
}

// isDisconnect reports errors that mean the coordinator is gone.
func isDisconnect(err error) bool {
	if errors.Is(err, rpc.ErrShutdown) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "EOF")
}

func (w *Worker) beginTask(id int, typ TaskType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.CurrentTaskID = id
	w.status.CurrentType = typ
	w.status.Busy = true
	w.status.TaskProgress = 0
	w.status.LastError = ""
}

func (w *Worker) setProgress(p float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.TaskProgress = p
}

func (w *Worker) endTask(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Busy = false
	w.status.TaskProgress = 0
	if err != nil {
		w.status.LastError = err.Error()
	}
}

func (w *Worker) getStatus() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := w.status
	status.Timestamp = time.Now()
	return status
}
