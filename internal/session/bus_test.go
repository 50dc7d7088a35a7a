package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_Publish(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	bus := NewBus(rdb, zap.NewNop(), "banking", "instance-a")

	t.Run("publishes to the target instance channel", func(t *testing.T) {
		msg := BusMessage{
			Kind:     KindDeliver,
			ToUserID: "user-1",
			Frame:    json.RawMessage(`{"error":""}`),
		}
		payload, err := json.Marshal(msg)
		require.NoError(t, err)

		mock.ExpectPublish("banking:task:instance-b", payload).SetVal(1)

		err = bus.Publish(context.Background(), "instance-b", msg)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("dispatch messages carry the caller identity", func(t *testing.T) {
		msg := BusMessage{
			Kind:       KindDispatch,
			FromUserID: "user-1",
			FromAdmin:  true,
			Envelope:   json.RawMessage(`{"type":"read","params":{"accounts":{"all":true}}}`),
		}
		payload, err := json.Marshal(msg)
		require.NoError(t, err)

		mock.ExpectPublish("banking:task:instance-c", payload).SetVal(1)

		err = bus.Publish(context.Background(), "instance-c", msg)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
