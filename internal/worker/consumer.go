package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer starts consuming wake-up messages
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.consumer.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)
	return deliveries, nil
}

// startMessageDispatcher turns broker deliveries into wake-ups. The jobs
// table is authoritative, so messages are acknowledged on receipt.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, relying on polling")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Error("Failed to parse message JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				w.reject(delivery)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				w.logger.Error("Invalid job_id format - not a UUID",
					slog.String("job_id", msg.JobID),
				)
				w.reject(delivery)
				continue
			}

			if err := delivery.Ack(false); err != nil {
				w.logger.Warn("Failed to ACK wake-up message",
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
			}

			w.logger.Debug("Wake-up received",
				slog.String("job_id", msg.JobID),
				slog.String("job_type", string(msg.JobType)),
			)
			w.Wake()
		}
	}
}

func (w *Worker) reject(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		w.logger.Error("Failed to NACK malformed message",
			slog.String("error", err.Error()),
		)
	}
}
