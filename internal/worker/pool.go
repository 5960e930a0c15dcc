package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned", slog.Int("worker_count", w.concurrency))
}

// workerLoop processes one job at a time and settles its delivery
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case msg := <-w.jobsChan:
			out := w.Process(ctx, msg.Task, msg.Redelivered)
			w.settle(workerName, msg, out)
		}
	}
}

// settle acks every outcome except a requeue; acknowledgment is not business success
func (w *Worker) settle(workerName string, msg *JobMessage, out Outcome) {
	attrs := []any{
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.Task.JobID),
		slog.String("status", out.Status),
	}

	if out.Requeue {
		if err := msg.Delivery.Nack(false, true); err != nil {
			w.logger.Error("Failed to NACK message", append(attrs, slog.Any("error", err))...)
			return
		}
		w.logger.Warn("Job requeued", append(attrs, slog.String("reason", out.Reason))...)
		return
	}

	if err := msg.Delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK message", append(attrs, slog.Any("error", err))...)
		return
	}
	w.logger.Info("Job settled", attrs...)
}
