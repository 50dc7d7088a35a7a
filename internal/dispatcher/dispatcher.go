package dispatcher

import (
	"context"
	"errors"

	"github.com/lucidbank/backend/internal/bankerrors"
	"github.com/lucidbank/backend/internal/models"
	"github.com/lucidbank/backend/internal/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the slice of the ledger engine the dispatcher drives.
type Ledger interface {
	CreateAccount(ctx context.Context, tenantID, accountID, userID string, balance decimal.Decimal) (*models.Account, error)
	Deposit(ctx context.Context, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error)
	Withdraw(ctx context.Context, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error)
	Transfer(ctx context.Context, tenantID, fromAccountID, toAccountID string, amount decimal.Decimal) (*models.Account, *models.Account, error)
	SetAccountState(ctx context.Context, tenantID, accountID string, disabled bool) (*models.Account, error)
	DeleteAccount(ctx context.Context, tenantID, accountID string) (*models.Account, error)
	AllAccounts(ctx context.Context, tenantID string) ([]models.Account, error)
	AccountsByUser(ctx context.Context, userID string) ([]models.Account, error)
	AccountTransactions(ctx context.Context, tenantID, accountID string) ([]models.TransactionRecord, error)
}

// Observers reports the privileged users currently connected, so creations
// can fan out to them.
type Observers interface {
	Admins(ctx context.Context) ([]string, error)
}

// Caller identifies the user a command executes on behalf of.
type Caller struct {
	UserID  string
	IsAdmin bool
}

// Dispatcher turns decoded command envelopes into ledger operations and
// computes the notification fan-out. It performs no delivery itself: the
// gateway takes the returned frame and target user ids to local sockets or
// the bus.
type Dispatcher struct {
	ledger    Ledger
	observers Observers
	validate  *validation.Helper
	tenantID  string
	logger    *zap.Logger
}

func New(ledger Ledger, observers Observers, tenantID string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:    ledger,
		observers: observers,
		validate:  validation.NewHelper(),
		tenantID:  tenantID,
		logger:    logger,
	}
}

// Dispatch executes one command. Business failures come back as an error
// frame addressed to the caller alone; infrastructure failures are returned
// as errors for the gateway's generic failure path.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *models.Command, caller Caller) (*models.OutboundFrame, []string, error) {
	var (
		frame   *models.OutboundFrame
		targets []string
		err     error
	)

	switch cmd.Type {
	case models.CommandCreate:
		frame, targets, err = d.handleCreate(ctx, cmd.Create, caller)
	case models.CommandRead:
		frame, targets, err = d.handleRead(ctx, cmd.Read, caller)
	case models.CommandUpdate:
		frame, targets, err = d.handleUpdate(ctx, cmd.Update, caller)
	case models.CommandDelete:
		frame, targets, err = d.handleDelete(ctx, cmd.Delete, caller)
	default:
		return nil, nil, bankerrors.ErrUnknownCommand
	}

	if err != nil {
		if businessErr(err) {
			return models.ErrorFrame(err.Error()), []string{caller.UserID}, nil
		}
		return nil, nil, err
	}
	return frame, dedupe(targets), nil
}

func (d *Dispatcher) handleCreate(ctx context.Context, params *models.CreateParams, caller Caller) (*models.OutboundFrame, []string, error) {
	if params.Account != nil {
		if err := d.validate.ValidateStruct(params.Account); err != nil {
			return nil, nil, bankerrors.NewValidationError("account", err.Error())
		}

		account, err := d.ledger.CreateAccount(ctx, d.tenantID, params.Account.AccountID, caller.UserID, params.Account.Balance)
		if err != nil {
			return nil, nil, err
		}

		// New accounts also show up on any connected privileged observer.
		targets := []string{caller.UserID}
		admins, err := d.observers.Admins(ctx)
		if err != nil {
			d.logger.Warn("dispatcher: admin fan-out lookup failed", zap.Error(err))
		} else {
			targets = append(targets, admins...)
		}

		return &models.OutboundFrame{DataCreated: &models.FramePayload{Account: account}}, targets, nil
	}

	return d.handleCreateTransaction(ctx, params.Transaction, caller)
}

func (d *Dispatcher) handleCreateTransaction(ctx context.Context, txn *models.NewTransaction, caller Caller) (*models.OutboundFrame, []string, error) {
	if err := d.validate.ValidateStruct(txn); err != nil {
		return nil, nil, bankerrors.NewValidationError("transaction", err.Error())
	}

	switch txn.BankingFunction {
	case models.FunctionDeposit:
		account, err := d.ledger.Deposit(ctx, d.tenantID, txn.AccountID, txn.Amount)
		if err != nil {
			return nil, nil, err
		}
		return &models.OutboundFrame{DataCreated: &models.FramePayload{Account: account}},
			[]string{caller.UserID, account.UserID}, nil

	case models.FunctionWithdraw:
		account, err := d.ledger.Withdraw(ctx, d.tenantID, txn.AccountID, txn.Amount)
		if err != nil {
			return nil, nil, err
		}
		return &models.OutboundFrame{DataCreated: &models.FramePayload{Account: account}},
			[]string{caller.UserID, account.UserID}, nil

	case models.FunctionTransfer:
		if txn.ToAccountID == "" {
			return nil, nil, bankerrors.NewValidationError("to_account_id", "transfer requires a destination account")
		}
		fromAccount, toAccount, err := d.ledger.Transfer(ctx, d.tenantID, txn.AccountID, txn.ToAccountID, txn.Amount)
		if err != nil {
			return nil, nil, err
		}
		// Both participants learn about a transfer.
		return &models.OutboundFrame{DataCreated: &models.FramePayload{
				FromAccount: fromAccount,
				ToAccount:   toAccount,
			}},
			[]string{caller.UserID, fromAccount.UserID, toAccount.UserID}, nil

	default:
		return nil, nil, bankerrors.ErrUnknownFunction
	}
}

func (d *Dispatcher) handleRead(ctx context.Context, params *models.ReadParams, caller Caller) (*models.OutboundFrame, []string, error) {
	if params.Accounts != nil {
		var (
			accounts []models.Account
			err      error
		)
		// "all" is honored for privileged callers only; everyone else reads
		// their own accounts.
		if params.Accounts.All && caller.IsAdmin {
			accounts, err = d.ledger.AllAccounts(ctx, d.tenantID)
		} else {
			accounts, err = d.ledger.AccountsByUser(ctx, caller.UserID)
		}
		if err != nil {
			return nil, nil, err
		}
		return &models.OutboundFrame{DataRead: &models.FramePayload{Accounts: accounts}},
			[]string{caller.UserID}, nil
	}

	if err := d.validate.ValidateStruct(params.Transactions); err != nil {
		return nil, nil, bankerrors.NewValidationError("transactions", err.Error())
	}
	records, err := d.ledger.AccountTransactions(ctx, d.tenantID, params.Transactions.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return &models.OutboundFrame{DataRead: &models.FramePayload{Transactions: records}},
		[]string{caller.UserID}, nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, params *models.UpdateParams, caller Caller) (*models.OutboundFrame, []string, error) {
	account, err := d.ledger.SetAccountState(ctx, d.tenantID, params.Account.AccountID, params.Account.IsDisabled)
	if err != nil {
		return nil, nil, err
	}
	return &models.OutboundFrame{DataUpdated: &models.FramePayload{Account: account}},
		[]string{caller.UserID, account.UserID}, nil
}

func (d *Dispatcher) handleDelete(ctx context.Context, params *models.DeleteParams, caller Caller) (*models.OutboundFrame, []string, error) {
	account, err := d.ledger.DeleteAccount(ctx, d.tenantID, params.Account.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return &models.OutboundFrame{DataDeleted: &models.FramePayload{Account: account}},
		[]string{caller.UserID, account.UserID}, nil
}

// businessErr separates expected outcomes (reported to the client) from
// infrastructure failures (propagated, logged, and masked).
func businessErr(err error) bool {
	return errors.Is(err, bankerrors.ErrAccountNotFound) ||
		errors.Is(err, bankerrors.ErrAccountAlreadyExists) ||
		errors.Is(err, bankerrors.ErrAccountDisabled) ||
		errors.Is(err, bankerrors.ErrInsufficientFunds) ||
		errors.Is(err, bankerrors.ErrUserNotFound) ||
		bankerrors.IsValidationError(err)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
