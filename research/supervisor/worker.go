package supervisor

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyWorkerResult 表示 worker 既没返回结果也没返回错误
var ErrEmptyWorkerResult = errors.New("worker returned no result")

// WorkerResult 是一次子研究的产出，返回后不可变
type WorkerResult struct {
	CompressedSummary string   `json:"compressed_summary"`
	RawNotes          []string `json:"raw_notes"`
}

// Worker 执行一个子研究。它只看到 topic，看不到协调者状态。
type Worker interface {
	Run(ctx context.Context, topic string) (*WorkerResult, error)
}

// WorkerFunc 把函数适配为 Worker
type WorkerFunc func(ctx context.Context, topic string) (*WorkerResult, error)

func (f WorkerFunc) Run(ctx context.Context, topic string) (*WorkerResult, error) {
	return f(ctx, topic)
}

// Recorder 接收协调者事件，internal/metrics.Collector 实现了它
type Recorder interface {
	RecordRun(termination string, iterations int, duration time.Duration)
	RecordDecision(branch string)
	RecordDelegation(status string, workers int)
	RecordWorker(status string, duration time.Duration)
	WorkerStarted()
	WorkerFinished()
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, int, time.Duration) {}
func (nopRecorder) RecordDecision(string)                {}
func (nopRecorder) RecordDelegation(string, int)         {}
func (nopRecorder) RecordWorker(string, time.Duration)   {}
func (nopRecorder) WorkerStarted()                       {}
func (nopRecorder) WorkerFinished()                      {}
