package credit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionType defines the direction of a ledger entry. The amount is
// always positive; the type carries the sign.
type TransactionType string

const (
	TransactionTypeCredit  TransactionType = "credit"
	TransactionTypeDebit   TransactionType = "debit"
	TransactionTypeExpired TransactionType = "expired"
)

// Delta returns the signed balance contribution for an amount of this type.
func (t TransactionType) Delta(amount int) int {
	if t == TransactionTypeCredit {
		return amount
	}
	return -amount
}

// Valid reports whether t is one of the supported transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeDebit, TransactionTypeExpired:
		return true
	}
	return false
}

// Metadata is a free-form annotation on a transaction. Informational only:
// balance computation never reads it.
type Metadata map[string]interface{}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID              uuid.UUID       `db:"id"`
	UserID          uuid.UUID       `db:"user_id"`
	TransactionType TransactionType `db:"transaction_type"`
	CreditType      string          `db:"credit_type"`
	Amount          int             `db:"amount"`
	PaymentID       sql.NullString  `db:"payment_id"`
	ExpirationDate  sql.NullTime    `db:"expiration_date"`
	MetadataRaw     []byte          `db:"metadata"`
	CreatedAt       time.Time       `db:"created_at"`
}

// Metadata decodes the raw JSONB metadata column.
func (t *Transaction) Metadata() Metadata {
	if len(t.MetadataRaw) == 0 {
		return nil
	}
	var m Metadata
	if err := json.Unmarshal(t.MetadataRaw, &m); err != nil {
		return nil
	}
	return m
}

// Balances maps credit type to the signed cached balance. A missing credit
// type means zero.
type Balances map[string]int

// Clone returns a copy of b.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// AppendParams describes a ledger append.
type AppendParams struct {
	UserID          uuid.UUID
	CreditType      string
	TransactionType TransactionType
	Amount          int
	// PaymentID, when set, is the global idempotency key.
	PaymentID      string
	Metadata       Metadata
	ExpirationDate *time.Time
}

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// HistoryEntry is the user-facing view of a transaction.
type HistoryEntry struct {
	ID              uuid.UUID       `json:"id"`
	TransactionType TransactionType `json:"transaction_type"`
	CreditType      string          `json:"credit_type"`
	Amount          int             `json:"amount"`
	Reason          string          `json:"reason,omitempty"`
	PaymentID       string          `json:"payment_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HistoryEntryFromTransaction converts a ledger row to its API shape.
func HistoryEntryFromTransaction(t *Transaction) HistoryEntry {
	e := HistoryEntry{
		ID:              t.ID,
		TransactionType: t.TransactionType,
		CreditType:      t.CreditType,
		Amount:          t.Amount,
		CreatedAt:       t.CreatedAt,
	}
	if t.PaymentID.Valid {
		e.PaymentID = t.PaymentID.String
	}
	if meta := t.Metadata(); meta != nil {
		if reason, ok := meta["reason"].(string); ok {
			e.Reason = reason
		}
	}
	return e
}
