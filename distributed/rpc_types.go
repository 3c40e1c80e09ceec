package distributed

import (
	"time"

	"github.com/ogzhanolguncu/hostess/map_reduce"
)

type RegisterArgs struct {
	WorkerAddr string
}

type RegisterReply struct {
	WorkerID string
}

type GetTaskArgs struct {
	WorkerID string
}

type GetTaskReply struct {
	TaskID    int
	Type      TaskType
	Input     string
	NReduce   int // For map tasks
	NMap      int // For reduce tasks
	InterDir  string
	OutputDir string // For reduce tasks; empty means results only travel back over RPC

	Wait        bool // nothing idle right now, ask again later
	JobComplete bool
}

type TaskCompleteArgs struct {
	WorkerID string
	TaskID   int
	Type     TaskType
	Success  bool
	Error    string
	Results  []map_reduce.KeyValue // For reduce task results
}

type TaskCompleteReply struct{}

type WorkerStatus struct {
	Timestamp     time.Time
	LastError     string
	CurrentTaskID int
	CurrentType   TaskType
	TaskProgress  float64
	Busy          bool
}

type HeartbeatArgs struct {
	WorkerID string
	Status   WorkerStatus
}

type HeartbeatReply struct {
	ShouldContinue bool
}
