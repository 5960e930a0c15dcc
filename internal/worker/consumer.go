package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// setupConsumer applies QoS so the broker never pushes more than the pool can hold
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.consumer.Qos(w.prefetchCount); err != nil {
		return nil, err
	}

	deliveries, err := w.consumer.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// decodeTask validates a delivery body; malformed bodies are never requeued
func decodeTask(body []byte) (domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return task, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if _, err := uuid.Parse(task.JobID); err != nil {
		return task, fmt.Errorf("%w: jobId %q is not a UUID", domain.ErrInvalidPayload, task.JobID)
	}
	if task.FilePath == "" || task.ClientID == "" {
		return task, fmt.Errorf("%w: filepath and clientId are required", domain.ErrInvalidPayload)
	}
	return task, nil
}

// startMessageDispatcher decodes deliveries and hands them to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started", slog.String("worker_id", w.workerID))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			w.dispatch(ctx, delivery.Body, delivery.Redelivered, delivery)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, body []byte, redelivered bool, ack Acknowledger) {
	task, err := decodeTask(body)
	if err != nil {
		w.logger.Error("Dropping malformed task",
			slog.Any("error", err),
			slog.String("body", string(body)),
		)
		if nackErr := ack.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
		}
		return
	}

	msg := &JobMessage{Task: task, Redelivered: redelivered, Delivery: ack}

	select {
	case w.jobsChan <- msg:
		w.logger.Debug("Job dispatched to worker pool",
			slog.String("job_id", task.JobID),
			slog.Bool("redelivered", redelivered),
		)
	case <-ctx.Done():
		if nackErr := ack.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK message on shutdown", slog.Any("error", nackErr))
		}
	}
}
