package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lucidbank/backend/internal/config"
	"github.com/lucidbank/backend/internal/models"
	"go.uber.org/zap"
)

const updateEncryptedPayload = `
	UPDATE account_transactions
	SET encrypted_payload = $1
	WHERE tenant_id = $2 AND account_id = $3 AND transaction_payload = $4`

// Encryptor is audit consumer B: it locates the transaction records the
// logger persisted for a message and rewrites each with an opaque copy of
// the payload. It runs independently of the logger with no ordering
// guarantee between them; a record the logger has not written yet is
// re-enqueued and retried on a later pass.
type Encryptor struct {
	consumer
	db          *sql.DB
	cipher      *Cipher
	stackName   string
	maxAttempts int
}

func NewEncryptor(db *sql.DB, rdb *redis.Client, logger *zap.Logger, cipher *Cipher, stackName string, cfg config.AuditConfig) *Encryptor {
	return &Encryptor{
		consumer: consumer{
			rdb:       rdb,
			logger:    logger,
			queueKey:  stackName + ":" + encryptQueueSuffix,
			batchSize: cfg.BatchSize,
			timeout:   cfg.PollTimeout,
		},
		db:          db,
		cipher:      cipher,
		stackName:   stackName,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Run consumes batches until the context is cancelled. A missing target row
// never fails the batch: the message goes back on the queue and the batch
// moves on.
func (e *Encryptor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := e.popBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("audit encryptor: dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, body := range batch {
			if err := e.processRecord(ctx, body); err != nil {
				e.logger.Error("audit encryptor: record failed",
					zap.ByteString("body", body), zap.Error(err))
			}
		}
	}
}

func (e *Encryptor) processRecord(ctx context.Context, body []byte) error {
	var msg models.AuditMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		e.logger.Error("audit encryptor: dropping malformed record",
			zap.ByteString("body", body), zap.Error(err))
		return nil
	}

	if msg.BankingFunction == "" || msg.TenantID == "" {
		e.logger.Error("audit encryptor: dropping record without bankingFunction or tenant_id",
			zap.ByteString("body", body))
		return nil
	}

	accounts := []string{msg.AccountID}
	if msg.BankingFunction == models.FunctionTransfer {
		accounts = append(accounts, msg.ToAccountID)
	}
	for _, accountID := range accounts {
		if accountID == "" {
			e.logger.Error("audit encryptor: dropping record with missing account id",
				zap.ByteString("body", body))
			return nil
		}
	}

	sealed, err := e.cipher.Seal(body)
	if err != nil {
		return err
	}

	updated := 0
	for _, accountID := range accounts {
		res, err := e.db.ExecContext(ctx, updateEncryptedPayload,
			sealed, msg.TenantID, accountID, body)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated += int(rows)
	}

	// Fewer rows than accounts means the logger has not landed every copy
	// yet. Skip this pass and rely on redelivery.
	if updated < len(accounts) {
		e.redeliver(ctx, e.stackName, e.maxAttempts, body)
	}
	return nil
}
