package ledger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/repo"
)

// SQL stores one row per transaction in the transactions table.
type SQL struct {
	DB *gorm.DB
}

// Append implements Ledger.
func (l SQL) Append(ctx context.Context, tx *domain.Transaction) error {
	tr := otel.Tracer("ledger/SQL")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("user.id", tx.UserID),
		),
	)
	defer span.End()

	if err := validate(tx); err != nil {
		appendFailures.Inc()
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	if err := repo.AppendTransaction(ctx, l.DB, tx); err != nil {
		appendFailures.Inc()
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	appends.Inc()
	return nil
}
