package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/yanfeng98/fork-gemini-deepresearch/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// delegate 并发执行一批委派，最多 limit 个同时运行，多余的排队。
// 结果按请求下标存放，与完成顺序无关。任一失败即取消其余 worker 并丢弃整批结果。
func (c *Coordinator) delegate(ctx context.Context, reqs []DelegationAction, limit int, timeout time.Duration) ([]*WorkerResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	ctx, span := c.tracer.Start(ctx, "research.delegate",
		trace.WithAttributes(
			attribute.Int("research.workers", len(reqs)),
			attribute.Int("research.concurrency", limit)))
	defer span.End()

	results := make([]*WorkerResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := c.runWorker(gctx, req, timeout)
			if err != nil {
				return types.WrapError(err, types.ErrWorkerFailed,
					fmt.Sprintf("worker %d (call %s) failed", i, req.CallID))
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

func (c *Coordinator) runWorker(ctx context.Context, req DelegationAction, timeout time.Duration) (*WorkerResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.recorder.WorkerStarted()
	defer c.recorder.WorkerFinished()

	start := time.Now()
	res, err := c.callWorker(ctx, req.Topic)
	if err == nil && res == nil {
		err = ErrEmptyWorkerResult
	}
	duration := time.Since(start)

	if err != nil {
		c.recorder.RecordWorker("failed", duration)
		c.logger.Warn("worker failed",
			zap.String("call_id", req.CallID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}
	c.recorder.RecordWorker("success", duration)
	c.logger.Debug("worker finished",
		zap.String("call_id", req.CallID),
		zap.Int("raw_notes", len(res.RawNotes)),
		zap.Duration("duration", duration))
	return res, nil
}

// callWorker 把 worker 的 panic 转成错误，整批按失败处理
func (c *Coordinator) callWorker(ctx context.Context, topic string) (res *WorkerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = types.NewError(types.ErrWorkerFailed, fmt.Sprintf("worker panicked: %v", r))
		}
	}()
	return c.worker.Run(ctx, topic)
}
