package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/lucidbank/backend/internal/audit"
	"github.com/lucidbank/backend/internal/bankerrors"
	"github.com/lucidbank/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const accountColumns = "tenant_id, account_id, user_id, balance, is_disabled, created_at, updated_at"

// Service is the ledger engine. Every mutating operation runs inside one
// database transaction; balance guards are part of the conditional UPDATE so
// concurrent withdrawals on one account serialize on the row lock and the
// balance can never go below zero. Successful money movements enqueue one
// audit message after commit.
type Service struct {
	db       *sql.DB
	producer *audit.Producer
	logger   *zap.Logger
}

func NewService(db *sql.DB, producer *audit.Producer, logger *zap.Logger) *Service {
	return &Service{db: db, producer: producer, logger: logger}
}

// Deposit credits an enabled account. Fails with no mutation when the
// account is missing or disabled.
func (s *Service) Deposit(ctx context.Context, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("deposit begin", err)
	}
	defer tx.Rollback()

	account, err := s.depositTx(ctx, tx, tenantID, accountID, amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, bankerrors.NewInfrastructureError("deposit commit", err)
	}

	s.enqueueAudit(ctx, models.FunctionDeposit, amount, tenantID, accountID, "")
	return account, nil
}

// Withdraw debits an enabled account. The balance >= amount guard is part of
// the same conditional update that applies the debit, so no interleaving of
// concurrent withdrawals can drive the balance negative.
func (s *Service) Withdraw(ctx context.Context, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("withdraw begin", err)
	}
	defer tx.Rollback()

	account, err := s.withdrawTx(ctx, tx, tenantID, accountID, amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, bankerrors.NewInfrastructureError("withdraw commit", err)
	}

	s.enqueueAudit(ctx, models.FunctionWithdraw, amount, tenantID, accountID, "")
	return account, nil
}

// Transfer moves amount between two accounts of one tenant as a single
// atomic unit: if the deposit leg fails the withdraw leg rolls back with it
// and no audit message is produced.
func (s *Service) Transfer(ctx context.Context, tenantID, fromAccountID, toAccountID string, amount decimal.Decimal) (*models.Account, *models.Account, error) {
	if err := validateAmount(amount); err != nil {
		return nil, nil, err
	}
	if fromAccountID == toAccountID {
		return nil, nil, bankerrors.NewValidationError("to_account_id", "source and destination accounts cannot be the same")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, bankerrors.NewInfrastructureError("transfer begin", err)
	}
	defer tx.Rollback()

	fromAccount, err := s.withdrawTx(ctx, tx, tenantID, fromAccountID, amount)
	if err != nil {
		return nil, nil, fmt.Errorf("transfer source: %w", err)
	}

	toAccount, err := s.depositTx(ctx, tx, tenantID, toAccountID, amount)
	if err != nil {
		return nil, nil, fmt.Errorf("transfer destination: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, bankerrors.NewInfrastructureError("transfer commit", err)
	}

	s.enqueueAudit(ctx, models.FunctionTransfer, amount, tenantID, fromAccountID, toAccountID)
	return fromAccount, toAccount, nil
}

func (s *Service) depositTx(ctx context.Context, tx *sql.Tx, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE account_id = $2 AND tenant_id = $3 AND is_disabled = FALSE
		RETURNING `+accountColumns,
		amount, accountID, tenantID)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, s.classifyRejection(ctx, tx, tenantID, accountID, false)
	}
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("deposit", err)
	}
	return account, nil
}

func (s *Service) withdrawTx(ctx context.Context, tx *sql.Tx, tenantID, accountID string, amount decimal.Decimal) (*models.Account, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE account_id = $2 AND tenant_id = $3 AND is_disabled = FALSE AND balance >= $1
		RETURNING `+accountColumns,
		amount, accountID, tenantID)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, s.classifyRejection(ctx, tx, tenantID, accountID, true)
	}
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("withdraw", err)
	}
	return account, nil
}

// classifyRejection turns a zero-row conditional update into the business
// outcome the caller branches on. The probe runs in the same transaction.
func (s *Service) classifyRejection(ctx context.Context, tx *sql.Tx, tenantID, accountID string, withdrawal bool) error {
	var disabled bool
	err := tx.QueryRowContext(ctx,
		`SELECT is_disabled FROM accounts WHERE account_id = $1 AND tenant_id = $2`,
		accountID, tenantID).Scan(&disabled)
	if err == sql.ErrNoRows {
		return bankerrors.ErrAccountNotFound
	}
	if err != nil {
		return bankerrors.NewInfrastructureError("account probe", err)
	}
	if disabled {
		return bankerrors.ErrAccountDisabled
	}
	if withdrawal {
		return bankerrors.ErrInsufficientFunds
	}
	return bankerrors.ErrAccountNotFound
}

// CreateAccount inserts a new account row, disabled until explicitly
// enabled. Double submission is harmless: ON CONFLICT DO NOTHING makes the
// second attempt return zero rows, surfaced as "already exists".
func (s *Service) CreateAccount(ctx context.Context, tenantID, accountID, userID string, balance decimal.Decimal) (*models.Account, error) {
	if balance.IsNegative() {
		return nil, bankerrors.NewValidationError("balance", "initial balance cannot be negative")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (tenant_id, account_id, user_id, balance, is_disabled)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (tenant_id, account_id) DO NOTHING
		RETURNING `+accountColumns,
		tenantID, accountID, userID, balance)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, bankerrors.ErrAccountAlreadyExists
	}
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
		return nil, bankerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("create account", err)
	}
	return account, nil
}

// SetAccountState enables or disables an account.
func (s *Service) SetAccountState(ctx context.Context, tenantID, accountID string, disabled bool) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET is_disabled = $3, updated_at = NOW()
		WHERE account_id = $1 AND tenant_id = $2
		RETURNING `+accountColumns,
		accountID, tenantID, disabled)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, bankerrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("set account state", err)
	}
	return account, nil
}

// DeleteAccount hard-deletes the account row, cascading nothing else.
func (s *Service) DeleteAccount(ctx context.Context, tenantID, accountID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM accounts
		WHERE account_id = $1 AND tenant_id = $2
		RETURNING `+accountColumns,
		accountID, tenantID)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, bankerrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("delete account", err)
	}
	return account, nil
}

// UpsertUser registers a user identity; accounts reference it by user_id.
func (s *Service) UpsertUser(ctx context.Context, user models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, user_name, email, tenant_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		user.UserID, user.UserName, user.Email, user.TenantID)
	if err != nil {
		return bankerrors.NewInfrastructureError("upsert user", err)
	}
	return nil
}

// AllAccounts lists every account of a tenant, newest activity first.
func (s *Service) AllAccounts(ctx context.Context, tenantID string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE tenant_id = $1 ORDER BY updated_at DESC`, tenantID)
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("list accounts", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// AccountsByUser lists the caller's own accounts.
func (s *Service) AccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("accounts by user", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// Balance reads the current balance of one account.
func (s *Service) Balance(ctx context.Context, tenantID, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE account_id = $1 AND tenant_id = $2`,
		accountID, tenantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, bankerrors.ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, bankerrors.NewInfrastructureError("balance", err)
	}
	return balance, nil
}

// AccountTransactions returns the audit rows keyed by one account.
func (s *Service) AccountTransactions(ctx context.Context, tenantID, accountID string) ([]models.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, account_id, executed_at, transaction_payload, encrypted_payload
		FROM account_transactions
		WHERE account_id = $1 AND tenant_id = $2
		ORDER BY executed_at DESC`,
		accountID, tenantID)
	if err != nil {
		return nil, bankerrors.NewInfrastructureError("account transactions", err)
	}
	defer rows.Close()

	records := []models.TransactionRecord{}
	for rows.Next() {
		var rec models.TransactionRecord
		var payload []byte
		var encrypted sql.Null[[]byte]
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.AccountID, &rec.ExecutedAt, &payload, &encrypted); err != nil {
			return nil, bankerrors.NewInfrastructureError("scan transaction", err)
		}
		rec.Payload = json.RawMessage(payload)
		if encrypted.Valid {
			rec.EncryptedPayload = encrypted.V
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// enqueueAudit is fire-and-forget relative to the committed mutation: a
// queue failure is logged, the ledger change stands.
func (s *Service) enqueueAudit(ctx context.Context, function string, amount decimal.Decimal, tenantID, accountID, toAccountID string) {
	if s.producer == nil {
		return
	}
	msg := models.AuditMessage{
		BankingFunction: function,
		Amount:          json.Number(amount.String()),
		AccountID:       accountID,
		ToAccountID:     toAccountID,
		TenantID:        tenantID,
		TimeStamp:       time.Now().UTC(),
	}
	if err := s.producer.Enqueue(ctx, msg); err != nil {
		s.logger.Error("ledger: audit enqueue failed",
			zap.String("bankingFunction", function),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return bankerrors.NewValidationError("amount", "amount cannot be negative")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.TenantID, &account.AccountID, &account.UserID,
		&account.Balance, &account.IsDisabled,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func collectAccounts(rows *sql.Rows) ([]models.Account, error) {
	accounts := []models.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, bankerrors.NewInfrastructureError("scan account", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}
