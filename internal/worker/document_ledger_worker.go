package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gopherai-legal/internal/model"
)

// DocumentWriter records a document unless its session is already gone.
type DocumentWriter interface {
	CreateIfSessionExists(doc *model.RAGDocument) (bool, error)
}

// DocumentLedgerWorker consumes ingest events and writes one ledger row per document.
type DocumentLedgerWorker struct {
	conn      *amqp.Connection
	repo      DocumentWriter
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDocumentLedgerWorker(conn *amqp.Connection, repo DocumentWriter, queueName string, logger *slog.Logger) *DocumentLedgerWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentLedgerWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger.With("worker", "document_ledger", "queue", queueName),
	}
}

func (w *DocumentLedgerWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(d.Body); err != nil {
					w.logger.Error("ingest event dropped", "error", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.logger.Info("worker started")
	return nil
}

func (w *DocumentLedgerWorker) handle(body []byte) error {
	var evt model.IngestEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("decode ingest event failed: %w", err)
	}
	if evt.SessionID == "" || evt.Name == "" {
		return errors.New("ingest event without session or document name")
	}
	doc := evt.Document()
	created, err := w.repo.CreateIfSessionExists(&doc)
	if err != nil {
		return err
	}
	if !created {
		w.logger.Info("ingest event for deleted session skipped", "session_id", evt.SessionID, "document", evt.Name)
		return nil
	}
	w.logger.Debug("document recorded", "session_id", evt.SessionID, "document", evt.Name, "chunks", evt.ChunkCount)
	return nil
}

func (w *DocumentLedgerWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
