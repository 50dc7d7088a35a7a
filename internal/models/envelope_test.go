package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidbank/backend/internal/bankerrors"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Run("decodes a wrapped create transaction", func(t *testing.T) {
		raw := []byte(`{"command":{"type":"create","params":{"transaction":{"bankingFunction":"transfer","amount":125.50,"account_id":"acc-1","to_account_id":"acc-2"}},"to":"user-2"}}`)

		cmd, err := DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, CommandCreate, cmd.Type)
		assert.Equal(t, "user-2", cmd.To)
		require.NotNil(t, cmd.Create)
		require.NotNil(t, cmd.Create.Transaction)
		assert.Equal(t, FunctionTransfer, cmd.Create.Transaction.BankingFunction)
		assert.Equal(t, "125.5", cmd.Create.Transaction.Amount.String())
		assert.Equal(t, "acc-1", cmd.Create.Transaction.AccountID)
		assert.Equal(t, "acc-2", cmd.Create.Transaction.ToAccountID)
	})

	t.Run("decodes a bare command object", func(t *testing.T) {
		raw := []byte(`{"type":"read","params":{"accounts":{"all":true}}}`)

		cmd, err := DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, CommandRead, cmd.Type)
		require.NotNil(t, cmd.Read)
		require.NotNil(t, cmd.Read.Accounts)
		assert.True(t, cmd.Read.Accounts.All)
	})

	t.Run("decodes update and delete account references", func(t *testing.T) {
		cmd, err := DecodeEnvelope([]byte(`{"command":{"type":"update","params":{"account":{"account_id":"acc-1","is_disabled":false}}}}`))
		require.NoError(t, err)
		require.NotNil(t, cmd.Update)
		assert.Equal(t, "acc-1", cmd.Update.Account.AccountID)

		cmd, err = DecodeEnvelope([]byte(`{"command":{"type":"delete","params":{"account":{"account_id":"acc-1"}}}}`))
		require.NoError(t, err)
		require.NotNil(t, cmd.Delete)
		assert.Equal(t, "acc-1", cmd.Delete.Account.AccountID)
	})

	t.Run("rejects an unknown command type", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"command":{"type":"upsert","params":{"account":{"account_id":"acc-1"}}}}`))
		assert.ErrorIs(t, err, bankerrors.ErrUnknownCommand)
	})

	t.Run("rejects an unknown banking function", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"command":{"type":"create","params":{"transaction":{"bankingFunction":"mint","amount":10,"account_id":"acc-1"}}}}`))
		assert.ErrorIs(t, err, bankerrors.ErrUnknownFunction)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"command":`))
		assert.True(t, bankerrors.IsValidationError(err))
	})

	t.Run("rejects missing params", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"command":{"type":"read"}}`))
		assert.True(t, bankerrors.IsValidationError(err))
	})

	t.Run("rejects create with neither account nor transaction", func(t *testing.T) {
		_, err := DecodeEnvelope([]byte(`{"command":{"type":"create","params":{}}}`))
		assert.True(t, bankerrors.IsValidationError(err))
	})
}
