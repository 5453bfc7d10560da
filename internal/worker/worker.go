package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer w.pool.wg.Done()
		for {
			select {
			case job := <-w.jobChannel:
				if job.stop {
					debugLog(w.pool.logger, "worker retired", zap.Int("worker", w.id))
					w.pool.retire(w.jobChannel)
					return
				}
				w.run(ctx, job)
				w.pool.Release(w.jobChannel)
			case <-ctx.Done():
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

// run executes job, keeping the worker alive if it panics.
func (w *Worker) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("job panicked",
				zap.Int("worker", w.id),
				zap.String("key", job.Key),
				zap.String("job", job.Name),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	job.Run(ctx)
}
