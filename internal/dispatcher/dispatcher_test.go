package dispatcher

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidbank/backend/internal/bankerrors"
	"github.com/lucidbank/backend/internal/models"
)

type stubLedger struct {
	accounts map[string]*models.Account
	err      error
}

func (s *stubLedger) account(accountID string) (*models.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, bankerrors.ErrAccountNotFound
	}
	return account, nil
}

func (s *stubLedger) CreateAccount(ctx context.Context, tenantID, accountID, userID string, balance decimal.Decimal) (*models.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	account := &models.Account{TenantID: tenantID, AccountID: accountID, UserID: userID, Balance: balance, IsDisabled: true}
	s.accounts[accountID] = account
	return account, nil
}

func (s *stubLedger) Deposit(ctx context.Context, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error) {
	return s.account(accountID)
}

func (s *stubLedger) Withdraw(ctx context.Context, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error) {
	return s.account(accountID)
}

func (s *stubLedger) Transfer(ctx context.Context, tenantID, fromAccountID, toAccountID string, amount decimal.Decimal) (*models.Account, *models.Account, error) {
	fromAccount, err := s.account(fromAccountID)
	if err != nil {
		return nil, nil, err
	}
	toAccount, err := s.account(toAccountID)
	if err != nil {
		return nil, nil, err
	}
	return fromAccount, toAccount, nil
}

func (s *stubLedger) SetAccountState(ctx context.Context, tenantID, accountID string, disabled bool) (*models.Account, error) {
	return s.account(accountID)
}

func (s *stubLedger) DeleteAccount(ctx context.Context, tenantID, accountID string) (*models.Account, error) {
	return s.account(accountID)
}

func (s *stubLedger) AllAccounts(ctx context.Context, tenantID string) ([]models.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := []models.Account{}
	for _, account := range s.accounts {
		out = append(out, *account)
	}
	return out, nil
}

func (s *stubLedger) AccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := []models.Account{}
	for _, account := range s.accounts {
		if account.UserID == userID {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (s *stubLedger) AccountTransactions(ctx context.Context, tenantID, accountID string) ([]models.TransactionRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.TransactionRecord{}, nil
}

type stubObservers struct {
	admins []string
}

func (s *stubObservers) Admins(ctx context.Context) ([]string, error) {
	return s.admins, nil
}

func newTestDispatcher(ledger *stubLedger, admins ...string) *Dispatcher {
	return New(ledger, &stubObservers{admins: admins}, "tenant-1", zap.NewNop())
}

func TestDispatch_CreateAccount(t *testing.T) {
	ledger := &stubLedger{accounts: map[string]*models.Account{}}
	d := newTestDispatcher(ledger, "admin-1", "admin-2")

	cmd := &models.Command{
		Type: models.CommandCreate,
		Create: &models.CreateParams{
			Account: &models.NewAccount{AccountID: "acc-1", Balance: decimal.NewFromInt(100)},
		},
	}

	frame, targets, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
	require.NoError(t, err)
	require.NotNil(t, frame.DataCreated)
	assert.Equal(t, "acc-1", frame.DataCreated.Account.AccountID)
	assert.True(t, frame.DataCreated.Account.IsDisabled)
	assert.Equal(t, []string{"user-1", "admin-1", "admin-2"}, targets)
}

func TestDispatch_Transactions(t *testing.T) {
	ledger := &stubLedger{accounts: map[string]*models.Account{
		"acc-1": {TenantID: "tenant-1", AccountID: "acc-1", UserID: "user-1"},
		"acc-2": {TenantID: "tenant-1", AccountID: "acc-2", UserID: "user-2"},
	}}
	d := newTestDispatcher(ledger)

	t.Run("deposit notifies caller and owner once each", func(t *testing.T) {
		cmd := &models.Command{
			Type: models.CommandCreate,
			Create: &models.CreateParams{
				Transaction: &models.NewTransaction{
					BankingFunction: models.FunctionDeposit,
					Amount:          decimal.NewFromInt(50),
					AccountID:       "acc-2",
				},
			},
		}

		frame, targets, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
		require.NoError(t, err)
		require.NotNil(t, frame.DataCreated)
		assert.Equal(t, []string{"user-1", "user-2"}, targets)
	})

	t.Run("deposit to own account collapses to one target", func(t *testing.T) {
		cmd := &models.Command{
			Type: models.CommandCreate,
			Create: &models.CreateParams{
				Transaction: &models.NewTransaction{
					BankingFunction: models.FunctionDeposit,
					Amount:          decimal.NewFromInt(50),
					AccountID:       "acc-1",
				},
			},
		}

		_, targets, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"user-1"}, targets)
	})

	t.Run("transfer notifies both participants", func(t *testing.T) {
		cmd := &models.Command{
			Type: models.CommandCreate,
			Create: &models.CreateParams{
				Transaction: &models.NewTransaction{
					BankingFunction: models.FunctionTransfer,
					Amount:          decimal.NewFromInt(25),
					AccountID:       "acc-1",
					ToAccountID:     "acc-2",
				},
			},
		}

		frame, targets, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
		require.NoError(t, err)
		require.NotNil(t, frame.DataCreated)
		assert.Equal(t, "acc-1", frame.DataCreated.FromAccount.AccountID)
		assert.Equal(t, "acc-2", frame.DataCreated.ToAccount.AccountID)
		assert.Equal(t, []string{"user-1", "user-2"}, targets)
	})

	t.Run("transfer without destination is rejected as a business error", func(t *testing.T) {
		cmd := &models.Command{
			Type: models.CommandCreate,
			Create: &models.CreateParams{
				Transaction: &models.NewTransaction{
					BankingFunction: models.FunctionTransfer,
					Amount:          decimal.NewFromInt(25),
					AccountID:       "acc-1",
				},
			},
		}

		frame, targets, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
		require.NoError(t, err)
		assert.NotEmpty(t, frame.Error)
		assert.Equal(t, []string{"user-1"}, targets)
	})
}

func TestDispatch_Read(t *testing.T) {
	ledger := &stubLedger{accounts: map[string]*models.Account{
		"acc-1": {TenantID: "tenant-1", AccountID: "acc-1", UserID: "user-1"},
		"acc-2": {TenantID: "tenant-1", AccountID: "acc-2", UserID: "user-2"},
	}}
	d := newTestDispatcher(ledger)

	t.Run("admin reading all sees every account", func(t *testing.T) {
		cmd := &models.Command{
			Type: models.CommandRead,
			Read: &models.ReadParams{Accounts: &models.ReadAccounts{All: true}},
		}

		frame, targets, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "admin-1", IsAdmin: true})
		require.NoError(t, err)
		assert.Len(t, frame.DataRead.Accounts, 2)
		assert.Equal(t, []string{"admin-1"}, targets)
	})

	t.Run("regular user reading all is scoped to own accounts", func(t *testing.T) {
		cmd := &models.Command{
			Type: models.CommandRead,
			Read: &models.ReadParams{Accounts: &models.ReadAccounts{All: true}},
		}

		frame, _, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
		require.NoError(t, err)
		require.Len(t, frame.DataRead.Accounts, 1)
		assert.Equal(t, "acc-1", frame.DataRead.Accounts[0].AccountID)
	})
}

func TestDispatch_Errors(t *testing.T) {
	t.Run("business failure becomes an error frame for the caller", func(t *testing.T) {
		ledger := &stubLedger{accounts: map[string]*models.Account{}}
		d := newTestDispatcher(ledger)

		cmd := &models.Command{
			Type:   models.CommandUpdate,
			Update: &models.UpdateParams{Account: &models.AccountState{AccountID: "missing"}},
		}

		frame, targets, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
		require.NoError(t, err)
		assert.NotEmpty(t, frame.Error)
		assert.Equal(t, []string{"user-1"}, targets)
	})

	t.Run("infrastructure failure propagates", func(t *testing.T) {
		ledger := &stubLedger{err: bankerrors.NewInfrastructureError("query", assert.AnError)}
		d := newTestDispatcher(ledger)

		cmd := &models.Command{
			Type: models.CommandRead,
			Read: &models.ReadParams{Accounts: &models.ReadAccounts{}},
		}

		frame, _, err := d.Dispatch(context.Background(), cmd, Caller{UserID: "user-1"})
		assert.Error(t, err)
		assert.Nil(t, frame)
	})
}
