package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lucidbank/backend/internal/models"
	"go.uber.org/zap"
)

// Queue names under the stack prefix. The producer fans the same body out to
// the log and encrypt lists so the two consumers see one logical stream
// without competing for messages.
const (
	logQueueSuffix        = "audit:log"
	encryptQueueSuffix    = "audit:encrypt"
	deadLetterQueueSuffix = "audit:deadletter"
)

// Producer enqueues one audit message per successful money-moving operation.
// The request path never waits on it; a failed enqueue is logged by the
// caller and the committed ledger mutation stands.
type Producer struct {
	rdb       *redis.Client
	stackName string
}

func NewProducer(rdb *redis.Client, stackName string) *Producer {
	return &Producer{rdb: rdb, stackName: stackName}
}

func (p *Producer) Enqueue(ctx context.Context, msg models.AuditMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("audit enqueue marshal: %w", err)
	}

	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, p.stackName+":"+logQueueSuffix, body)
	pipe.RPush(ctx, p.stackName+":"+encryptQueueSuffix, body)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("audit enqueue: %w", err)
	}
	return nil
}

// consumer holds the dequeue loop shared by the logger and the encryptor.
type consumer struct {
	rdb       *redis.Client
	logger    *zap.Logger
	queueKey  string
	batchSize int
	timeout   time.Duration
}

// popBatch blocks for up to the poll timeout on the first message, then
// drains up to batchSize-1 more without blocking.
func (c *consumer) popBatch(ctx context.Context) ([][]byte, error) {
	res, err := c.rdb.BLPop(ctx, c.timeout, c.queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit dequeue: %w", err)
	}

	// BLPop returns [key, value]
	batch := [][]byte{[]byte(res[1])}
	for len(batch) < c.batchSize {
		val, err := c.rdb.LPop(ctx, c.queueKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			c.logger.Warn("audit: batch drain failed, processing partial batch", zap.Error(err))
			return batch, nil
		}
		batch = append(batch, []byte(val))
	}
	return batch, nil
}

// redeliver re-enqueues the identical body on the consumer's own queue,
// tracking attempts out of band so the payload stays byte for byte what the
// logger persisted. Exhausted messages go to the dead-letter list. The
// attempts key is scoped to the queue so the two consumers never share a
// counter for the same body.
func (c *consumer) redeliver(ctx context.Context, stackName string, maxAttempts int, body []byte) {
	digest := sha256.Sum256(body)
	attemptsKey := c.queueKey + ":attempts:" + hex.EncodeToString(digest[:8])

	attempts, err := c.rdb.Incr(ctx, attemptsKey).Result()
	if err != nil {
		c.logger.Error("audit: attempt counter failed", zap.Error(err))
		attempts = 1
	}
	c.rdb.Expire(ctx, attemptsKey, 24*time.Hour)

	if int(attempts) >= maxAttempts {
		c.logger.Error("audit: redelivery exhausted, dead-lettering",
			zap.ByteString("body", body), zap.Int64("attempts", attempts))
		c.deadLetter(ctx, stackName, body)
		return
	}

	if err := c.rdb.RPush(ctx, c.queueKey, body).Err(); err != nil {
		c.logger.Error("audit: redelivery failed", zap.Error(err))
	}
}

// deadLetter parks a message that exhausted its redeliveries.
func (c *consumer) deadLetter(ctx context.Context, stackName string, body []byte) {
	if err := c.rdb.RPush(ctx, stackName+":"+deadLetterQueueSuffix, body).Err(); err != nil {
		c.logger.Error("audit: dead-letter push failed", zap.Error(err), zap.ByteString("body", body))
	}
}
