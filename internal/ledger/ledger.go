// Package ledger is the append-only record of completed transactions.
//
// An Append returns only after the record is durable. Records are never
// updated or removed, and each one can be read back independently of its
// neighbours.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// ErrLedgerWrite wraps every failure to persist a record.
var ErrLedgerWrite = errors.New("ledger: append failed")

var (
	appends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_appends_total",
		Help: "Transactions durably appended to the ledger.",
	})
	appendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_append_failures_total",
		Help: "Ledger appends that failed.",
	})
)

func init() {
	prometheus.MustRegister(appends, appendFailures)
}

// Ledger appends transaction records.
type Ledger interface {
	Append(ctx context.Context, tx *domain.Transaction) error
}

// NewRecord builds a transaction with a fresh ULID and a UTC timestamp.
func NewRecord(userID, chatID, productID string, amount int64, proofRef string) *domain.Transaction {
	return &domain.Transaction{
		ID:        ulid.Make().String(),
		UserID:    userID,
		ChatID:    chatID,
		ProductID: productID,
		Amount:    amount,
		ProofRef:  proofRef,
		CreatedAt: time.Now().UTC(),
	}
}

func validate(tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" || tx.UserID == "" || tx.ProductID == "" || tx.Amount <= 0 {
		return errors.New("incomplete transaction record")
	}
	return nil
}
