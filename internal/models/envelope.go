package models

import (
	"encoding/json"

	"github.com/lucidbank/backend/internal/bankerrors"
	"github.com/shopspring/decimal"
)

// CommandType enumerates the four operation kinds a client may send.
type CommandType string

const (
	CommandCreate CommandType = "create"
	CommandRead   CommandType = "read"
	CommandUpdate CommandType = "update"
	CommandDelete CommandType = "delete"
)

// TargetSelf addresses a command to the sending user's own connection.
const TargetSelf = "self"

// Command is the decoded form of one inbound envelope. Exactly one of the
// typed param pointers is set, matching Type; DecodeEnvelope rejects
// anything else so downstream code never sees an unknown operation.
type Command struct {
	Type CommandType
	To   string

	Create *CreateParams
	Read   *ReadParams
	Update *UpdateParams
	Delete *DeleteParams
}

// CreateParams creates either an account or a transaction, never both.
type CreateParams struct {
	Account     *NewAccount     `json:"account,omitempty"`
	Transaction *NewTransaction `json:"transaction,omitempty"`
}

type NewAccount struct {
	AccountID string          `json:"account_id" validate:"required"`
	Balance   decimal.Decimal `json:"balance"`
}

type NewTransaction struct {
	BankingFunction string          `json:"bankingFunction" validate:"required,oneof=deposit withdraw transfer"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	AccountID       string          `json:"account_id" validate:"required"`
	ToAccountID     string          `json:"to_account_id,omitempty"`
}

type ReadParams struct {
	Accounts     *ReadAccounts     `json:"accounts,omitempty"`
	Transactions *ReadTransactions `json:"transactions,omitempty"`
}

type ReadAccounts struct {
	All bool `json:"all"`
}

type ReadTransactions struct {
	AccountID string `json:"account_id" validate:"required"`
}

type UpdateParams struct {
	Account *AccountState `json:"account" validate:"required"`
}

type AccountState struct {
	AccountID  string `json:"account_id" validate:"required"`
	IsDisabled bool   `json:"is_disabled"`
}

type DeleteParams struct {
	Account *AccountRef `json:"account" validate:"required"`
}

type AccountRef struct {
	AccountID string `json:"account_id" validate:"required"`
}

// envelope mirrors the raw wire shape {"command":{"type","params","to"}}.
type envelope struct {
	Command struct {
		Type   CommandType     `json:"type"`
		Params json.RawMessage `json:"params"`
		To     string          `json:"to,omitempty"`
	} `json:"command"`
}

// DecodeEnvelope parses an inbound message into a typed Command. A JSON
// error, an unknown command type or an unknown banking function is a client
// protocol error, never retried.
func DecodeEnvelope(raw []byte) (*Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, bankerrors.NewValidationError("command", err.Error())
	}
	// accept both the full envelope wrapper and a bare command object
	if env.Command.Type == "" {
		if err := json.Unmarshal(raw, &env.Command); err != nil {
			return nil, bankerrors.NewValidationError("command", err.Error())
		}
	}
	if len(env.Command.Params) == 0 {
		return nil, bankerrors.NewValidationError("params", "missing command params")
	}

	cmd := &Command{Type: env.Command.Type, To: env.Command.To}

	switch env.Command.Type {
	case CommandCreate:
		var p CreateParams
		if err := json.Unmarshal(env.Command.Params, &p); err != nil {
			return nil, bankerrors.NewValidationError("params", err.Error())
		}
		if p.Account == nil && p.Transaction == nil {
			return nil, bankerrors.NewValidationError("params", "create requires an account or a transaction")
		}
		if p.Transaction != nil {
			switch p.Transaction.BankingFunction {
			case FunctionDeposit, FunctionWithdraw, FunctionTransfer:
			default:
				return nil, bankerrors.ErrUnknownFunction
			}
		}
		cmd.Create = &p

	case CommandRead:
		var p ReadParams
		if err := json.Unmarshal(env.Command.Params, &p); err != nil {
			return nil, bankerrors.NewValidationError("params", err.Error())
		}
		if p.Accounts == nil && p.Transactions == nil {
			return nil, bankerrors.NewValidationError("params", "read requires accounts or transactions")
		}
		cmd.Read = &p

	case CommandUpdate:
		var p UpdateParams
		if err := json.Unmarshal(env.Command.Params, &p); err != nil {
			return nil, bankerrors.NewValidationError("params", err.Error())
		}
		if p.Account == nil || p.Account.AccountID == "" {
			return nil, bankerrors.NewValidationError("account", "update requires an account_id")
		}
		cmd.Update = &p

	case CommandDelete:
		var p DeleteParams
		if err := json.Unmarshal(env.Command.Params, &p); err != nil {
			return nil, bankerrors.NewValidationError("params", err.Error())
		}
		if p.Account == nil || p.Account.AccountID == "" {
			return nil, bankerrors.NewValidationError("account", "delete requires an account_id")
		}
		cmd.Delete = &p

	default:
		return nil, bankerrors.ErrUnknownCommand
	}

	return cmd, nil
}
