package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidbank/backend/internal/bankerrors"
)

func accountRows(tenantID, accountID, userID string, balance string, disabled bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"tenant_id", "account_id", "user_id", "balance", "is_disabled", "created_at", "updated_at"}).
		AddRow(tenantID, accountID, userID, balance, disabled, time.Now(), time.Now())
}

func TestService_Deposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, nil, zap.NewNop())

	t.Run("credits an enabled account", func(t *testing.T) {
		amount := decimal.NewFromInt(250)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "acc-1", "tenant-1").
			WillReturnRows(accountRows("tenant-1", "acc-1", "user-1", "750", false))
		mock.ExpectCommit()

		account, err := service.Deposit(context.Background(), "tenant-1", "acc-1", amount)
		assert.NoError(t, err)
		assert.Equal(t, "750", account.Balance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a disabled account", func(t *testing.T) {
		amount := decimal.NewFromInt(10)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "acc-2", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
		mock.ExpectQuery("SELECT is_disabled FROM accounts").
			WithArgs("acc-2", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"is_disabled"}).AddRow(true))
		mock.ExpectRollback()

		_, err := service.Deposit(context.Background(), "tenant-1", "acc-2", amount)
		assert.ErrorIs(t, err, bankerrors.ErrAccountDisabled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects an unknown account", func(t *testing.T) {
		amount := decimal.NewFromInt(10)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "missing", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
		mock.ExpectQuery("SELECT is_disabled FROM accounts").
			WithArgs("missing", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"is_disabled"}))
		mock.ExpectRollback()

		_, err := service.Deposit(context.Background(), "tenant-1", "missing", amount)
		assert.ErrorIs(t, err, bankerrors.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a negative amount without touching the database", func(t *testing.T) {
		_, err := service.Deposit(context.Background(), "tenant-1", "acc-1", decimal.NewFromInt(-5))
		assert.True(t, bankerrors.IsValidationError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_Withdraw(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, nil, zap.NewNop())

	t.Run("debits when the balance covers the amount", func(t *testing.T) {
		amount := decimal.NewFromInt(100)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "acc-1", "tenant-1").
			WillReturnRows(accountRows("tenant-1", "acc-1", "user-1", "400", false))
		mock.ExpectCommit()

		account, err := service.Withdraw(context.Background(), "tenant-1", "acc-1", amount)
		assert.NoError(t, err)
		assert.Equal(t, "400", account.Balance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects insufficient funds", func(t *testing.T) {
		amount := decimal.NewFromInt(1000)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "acc-1", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
		mock.ExpectQuery("SELECT is_disabled FROM accounts").
			WithArgs("acc-1", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"is_disabled"}).AddRow(false))
		mock.ExpectRollback()

		_, err := service.Withdraw(context.Background(), "tenant-1", "acc-1", amount)
		assert.ErrorIs(t, err, bankerrors.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, nil, zap.NewNop())

	t.Run("moves money between two accounts in one transaction", func(t *testing.T) {
		amount := decimal.NewFromInt(150)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "acc-src", "tenant-1").
			WillReturnRows(accountRows("tenant-1", "acc-src", "user-1", "350", false))
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "acc-dst", "tenant-1").
			WillReturnRows(accountRows("tenant-1", "acc-dst", "user-2", "650", false))
		mock.ExpectCommit()

		fromAccount, toAccount, err := service.Transfer(context.Background(), "tenant-1", "acc-src", "acc-dst", amount)
		assert.NoError(t, err)
		assert.Equal(t, "350", fromAccount.Balance.String())
		assert.Equal(t, "650", toAccount.Balance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back the debit when the destination is missing", func(t *testing.T) {
		amount := decimal.NewFromInt(150)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "acc-src", "tenant-1").
			WillReturnRows(accountRows("tenant-1", "acc-src", "user-1", "350", false))
		mock.ExpectQuery("UPDATE accounts").
			WithArgs(amount, "missing", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
		mock.ExpectQuery("SELECT is_disabled FROM accounts").
			WithArgs("missing", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"is_disabled"}))
		mock.ExpectRollback()

		_, _, err := service.Transfer(context.Background(), "tenant-1", "acc-src", "missing", amount)
		assert.ErrorIs(t, err, bankerrors.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a self transfer", func(t *testing.T) {
		_, _, err := service.Transfer(context.Background(), "tenant-1", "acc-1", "acc-1", decimal.NewFromInt(10))
		assert.True(t, bankerrors.IsValidationError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, nil, zap.NewNop())

	t.Run("creates a disabled account", func(t *testing.T) {
		balance := decimal.NewFromInt(500)

		mock.ExpectQuery("INSERT INTO accounts").
			WithArgs("tenant-1", "acc-new", "user-1", balance).
			WillReturnRows(accountRows("tenant-1", "acc-new", "user-1", "500", true))

		account, err := service.CreateAccount(context.Background(), "tenant-1", "acc-new", "user-1", balance)
		assert.NoError(t, err)
		assert.True(t, account.IsDisabled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("treats a duplicate submission as already exists", func(t *testing.T) {
		balance := decimal.NewFromInt(500)

		mock.ExpectQuery("INSERT INTO accounts").
			WithArgs("tenant-1", "acc-new", "user-1", balance).
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

		_, err := service.CreateAccount(context.Background(), "tenant-1", "acc-new", "user-1", balance)
		assert.ErrorIs(t, err, bankerrors.ErrAccountAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a negative opening balance", func(t *testing.T) {
		_, err := service.CreateAccount(context.Background(), "tenant-1", "acc-new", "user-1", decimal.NewFromInt(-1))
		assert.True(t, bankerrors.IsValidationError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// Walks one account through its lifecycle: deposit, rejected overdraft,
// then a transfer draining it into a second account.
func TestService_AccountLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, nil, zap.NewNop())
	ctx := context.Background()

	deposit := decimal.NewFromInt(100)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE accounts").
		WithArgs(deposit, "A1", "T").
		WillReturnRows(accountRows("T", "A1", "user-1", "100", false))
	mock.ExpectCommit()

	account, err := service.Deposit(ctx, "T", "A1", deposit)
	require.NoError(t, err)
	assert.Equal(t, "100", account.Balance.String())

	overdraft := decimal.NewFromInt(150)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE accounts").
		WithArgs(overdraft, "A1", "T").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))
	mock.ExpectQuery("SELECT is_disabled FROM accounts").
		WithArgs("A1", "T").
		WillReturnRows(sqlmock.NewRows([]string{"is_disabled"}).AddRow(false))
	mock.ExpectRollback()

	_, err = service.Withdraw(ctx, "T", "A1", overdraft)
	require.ErrorIs(t, err, bankerrors.ErrInsufficientFunds)

	transfer := decimal.NewFromInt(100)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE accounts").
		WithArgs(transfer, "A1", "T").
		WillReturnRows(accountRows("T", "A1", "user-1", "0", false))
	mock.ExpectQuery("UPDATE accounts").
		WithArgs(transfer, "A2", "T").
		WillReturnRows(accountRows("T", "A2", "user-2", "100", false))
	mock.ExpectCommit()

	fromAccount, toAccount, err := service.Transfer(ctx, "T", "A1", "A2", transfer)
	require.NoError(t, err)
	assert.Equal(t, "0", fromAccount.Balance.String())
	assert.Equal(t, "100", toAccount.Balance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_SetAccountState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, nil, zap.NewNop())

	t.Run("enables an account", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs("acc-1", "tenant-1", false).
			WillReturnRows(accountRows("tenant-1", "acc-1", "user-1", "500", false))

		account, err := service.SetAccountState(context.Background(), "tenant-1", "acc-1", false)
		assert.NoError(t, err)
		assert.False(t, account.IsDisabled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports a missing account", func(t *testing.T) {
		mock.ExpectQuery("UPDATE accounts").
			WithArgs("missing", "tenant-1", true).
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

		_, err := service.SetAccountState(context.Background(), "tenant-1", "missing", true)
		assert.ErrorIs(t, err, bankerrors.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_Balance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, nil, zap.NewNop())

	t.Run("returns the current balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts").
			WithArgs("acc-1", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("123.45"))

		balance, err := service.Balance(context.Background(), "tenant-1", "acc-1")
		assert.NoError(t, err)
		assert.Equal(t, "123.45", balance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports a missing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT balance FROM accounts").
			WithArgs("missing", "tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))

		_, err := service.Balance(context.Background(), "tenant-1", "missing")
		assert.ErrorIs(t, err, bankerrors.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
