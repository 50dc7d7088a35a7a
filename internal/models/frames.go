package models

// Connection pairs a connected user id with its display name for the
// privileged connections list.
type Connection struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

// FramePayload is the data section of a CRUD result frame. Exactly the
// fields relevant to the operation are set.
type FramePayload struct {
	Account      *Account            `json:"account,omitempty"`
	Accounts     []Account           `json:"accounts,omitempty"`
	Transactions []TransactionRecord `json:"transactions,omitempty"`
	FromAccount  *Account            `json:"fromAccount,omitempty"`
	ToAccount    *Account            `json:"toAccount,omitempty"`
	Message      string              `json:"message,omitempty"`
}

// OutboundFrame is one message written to a client socket. At most one of
// the CRUD sections is present; IsAdmin and ConnectionsAndUsernames ride on
// privileged frames.
type OutboundFrame struct {
	DataCreated *FramePayload `json:"dataCreated,omitempty"`
	DataRead    *FramePayload `json:"dataRead,omitempty"`
	DataUpdated *FramePayload `json:"dataUpdated,omitempty"`
	DataDeleted *FramePayload `json:"dataDeleted,omitempty"`

	IsAdmin                 bool         `json:"isAdmin,omitempty"`
	ConnectionsAndUsernames []Connection `json:"connectionsAndUsernames,omitempty"`

	Error string `json:"error,omitempty"`
}

// ErrorFrame builds the frame sent for malformed or rejected client input.
func ErrorFrame(message string) *OutboundFrame {
	return &OutboundFrame{Error: message}
}
