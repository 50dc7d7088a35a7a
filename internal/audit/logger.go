package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lucidbank/backend/internal/config"
	"github.com/lucidbank/backend/internal/models"
	"go.uber.org/zap"
)

const insertTransactionRecord = `
	INSERT INTO account_transactions (id, tenant_id, account_id, transaction_payload, executed_at)
	VALUES ($1, $2, $3, $4, NOW())`

// Logger is audit consumer A: it persists one transaction record per
// affected account. A transfer message yields two rows sharing one freshly
// minted correlation id, one keyed by the debited account and one by the
// credited account, each retrievable under its own account_id.
type Logger struct {
	consumer
	db          *sql.DB
	stackName   string
	maxAttempts int
}

func NewLogger(db *sql.DB, rdb *redis.Client, logger *zap.Logger, stackName string, cfg config.AuditConfig) *Logger {
	return &Logger{
		consumer: consumer{
			rdb:       rdb,
			logger:    logger,
			queueKey:  stackName + ":" + logQueueSuffix,
			batchSize: cfg.BatchSize,
			timeout:   cfg.PollTimeout,
		},
		db:          db,
		stackName:   stackName,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Run consumes batches until the context is cancelled. One bad record is
// logged and skipped; the rest of the batch continues.
func (l *Logger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := l.popBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("audit logger: dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, body := range batch {
			if err := l.processRecord(ctx, body); err != nil {
				l.logger.Error("audit logger: record failed",
					zap.ByteString("body", body), zap.Error(err))
			}
		}
	}
}

func (l *Logger) processRecord(ctx context.Context, body []byte) error {
	var msg models.AuditMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		l.logger.Error("audit logger: dropping malformed record",
			zap.ByteString("body", body), zap.Error(err))
		return nil
	}

	// Required-field absence means the message is dropped, not retried.
	if msg.BankingFunction == "" || msg.TenantID == "" {
		l.logger.Error("audit logger: dropping record without bankingFunction or tenant_id",
			zap.ByteString("body", body))
		return nil
	}

	correlationID := uuid.NewString()

	if msg.BankingFunction != models.FunctionTransfer {
		if msg.AccountID == "" {
			l.logger.Error("audit logger: dropping record without account_id",
				zap.ByteString("body", body))
			return nil
		}
		if _, err := l.db.ExecContext(ctx, insertTransactionRecord,
			correlationID, msg.TenantID, msg.AccountID, body); err != nil {
			l.redeliver(ctx, l.stackName, l.maxAttempts, body)
			return err
		}
		return nil
	}

	if msg.AccountID == "" || msg.ToAccountID == "" {
		l.logger.Error("audit logger: dropping transfer without account_id or to_account_id",
			zap.ByteString("body", body))
		return nil
	}

	// Two rows, one correlation id: the debited and the credited account each
	// get an independently retrievable copy of the same payload. An insert
	// failure is an infrastructure fault, not a bad message: the body goes
	// back on the queue so the audit row for an already-committed mutation is
	// not lost, then to the dead-letter list once attempts run out.
	if _, err := l.db.ExecContext(ctx, insertTransactionRecord,
		correlationID, msg.TenantID, msg.AccountID, body); err != nil {
		l.redeliver(ctx, l.stackName, l.maxAttempts, body)
		return err
	}
	if _, err := l.db.ExecContext(ctx, insertTransactionRecord,
		correlationID, msg.TenantID, msg.ToAccountID, body); err != nil {
		l.redeliver(ctx, l.stackName, l.maxAttempts, body)
		return err
	}
	return nil
}
