package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/logger"
	"github.com/imrishuroy/fulfillment-sync/internal/shipment"
)

// Processor handles SQS messages by running the shipment workflow.
type Processor struct {
	exec   shipment.Executor
	logger *zap.Logger
}

// NewProcessor creates a worker processor around exec.
func NewProcessor(exec shipment.Executor, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{exec: exec, logger: log.Named("worker")}
}

// Handle processes a batch and reports the failed messages individually so
// SQS only redelivers those. Gateway failures are recorded on the order by
// the workflow and do not count as failures here.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("message failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg shipment.Message
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		// a body that can never parse is dropped rather than redelivered
		p.logger.Error("invalid message body", zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}
	if msg.OrderID == "" {
		p.logger.Error("message without order id", zap.String("message_id", rec.MessageId))
		return nil
	}

	log := p.logger.With(zap.String("order_id", msg.OrderID))
	if msg.CorrelationID != "" {
		log = log.With(zap.String("request_id", msg.CorrelationID))
	}
	log.Info("received shipment message")

	if err := p.exec.Execute(logger.WithContext(ctx, log), msg.OrderID); err != nil {
		return fmt.Errorf("execute order %s: %w", msg.OrderID, err)
	}
	return nil
}
