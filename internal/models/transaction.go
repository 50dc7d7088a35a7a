package models

import (
	"encoding/json"
	"time"
)

// Banking functions carried by a create-transaction command and by audit
// queue messages.
const (
	FunctionDeposit  = "deposit"
	FunctionWithdraw = "withdraw"
	FunctionTransfer = "transfer"
)

// TransactionRecord is one audit row in account_transactions. A transfer
// produces two rows sharing the same ID (the correlation id), one per
// participant account, each retrievable by its own account_id. The payload
// is written once by the audit logger and later replaced exactly once by the
// encryptor's opaque copy in EncryptedPayload; rows are never deleted.
type TransactionRecord struct {
	ID               string          `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	AccountID        string          `json:"account_id" db:"account_id"`
	ExecutedAt       time.Time       `json:"executed_at" db:"executed_at"`
	Payload          json.RawMessage `json:"transaction_payload" db:"transaction_payload"`
	EncryptedPayload []byte          `json:"encrypted_payload,omitempty" db:"encrypted_payload"`
}

// AuditMessage is the wire shape pushed onto the audit queue for every
// successful money-moving operation. Amount stays a json.Number so the
// serialized form carries the exact fixed-point value without float rounding.
type AuditMessage struct {
	BankingFunction string      `json:"bankingFunction"`
	Amount          json.Number `json:"amount"`
	AccountID       string      `json:"account_id"`
	ToAccountID     string      `json:"to_account_id,omitempty"`
	TenantID        string      `json:"tenant_id"`
	TimeStamp       time.Time   `json:"timeStamp"`
}
