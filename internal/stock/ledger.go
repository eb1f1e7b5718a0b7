package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/good-food-maalsi/franchise-service/internal/models"
)

// ErrRowNotFound is returned when a row disappears between lookup and update.
var ErrRowNotFound = errors.New("stock row not found")

// Tx is the stock ledger inside one atomic transaction.
type Tx interface {
	// FindStockRow returns nil, nil when the franchise has no row for the ingredient.
	FindStockRow(ctx context.Context, franchiseID, ingredientID string) (*models.StockRow, error)
	UpdateStockRow(ctx context.Context, id string, quantity decimal.Decimal) error
	// MarkOrderProcessed records orderID and reports false if it was already recorded.
	MarkOrderProcessed(ctx context.Context, orderID, franchiseID string) (bool, error)
}

// Store runs fn in a transaction. Everything fn did is rolled back when it
// returns an error.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Result struct {
	Updated    []string
	Unresolved []string
	Depleted   []string // updated rows that ended at zero
	Duplicate  bool
}

type Ledger struct {
	store  Store
	logger *zap.Logger
}

func NewLedger(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(zap.String("component", "ledger")),
	}
}

// Apply deducts plan from the franchise stock in one transaction, clamping
// every row at zero. Ingredients without a row are reported, not failed.
func (l *Ledger) Apply(ctx context.Context, franchiseID string, plan Plan) (*Result, error) {
	return l.apply(ctx, "", franchiseID, plan)
}

// ApplyOnce is Apply guarded by the processed-order ledger. A redelivered
// order commits nothing and comes back with Duplicate set.
func (l *Ledger) ApplyOnce(ctx context.Context, orderID, franchiseID string, plan Plan) (*Result, error) {
	return l.apply(ctx, orderID, franchiseID, plan)
}

func (l *Ledger) apply(ctx context.Context, orderID, franchiseID string, plan Plan) (*Result, error) {
	res := &Result{}
	if len(plan) == 0 {
		return res, nil
	}

	err := l.store.WithTx(ctx, func(tx Tx) error {
		*res = Result{}

		if orderID != "" {
			fresh, err := tx.MarkOrderProcessed(ctx, orderID, franchiseID)
			if err != nil {
				return fmt.Errorf("failed to record order %s: %w", orderID, err)
			}
			if !fresh {
				res.Duplicate = true
				return nil
			}
		}

		// Sorted so concurrent transactions lock rows in the same order.
		for _, id := range plan.IngredientIDs() {
			row, err := tx.FindStockRow(ctx, franchiseID, id)
			if err != nil {
				return fmt.Errorf("failed to find stock row for ingredient %s: %w", id, err)
			}
			if row == nil {
				l.logger.Warn("⚠️ No stock row for ingredient",
					zap.String("franchise_id", franchiseID),
					zap.String("ingredient_id", id),
				)
				res.Unresolved = append(res.Unresolved, id)
				continue
			}

			next := row.Quantity.Sub(plan[id])
			if next.IsNegative() {
				next = decimal.Zero
			}
			if err := tx.UpdateStockRow(ctx, row.ID, next); err != nil {
				return fmt.Errorf("failed to update stock row %s: %w", row.ID, err)
			}

			l.logger.Debug("Stock row updated",
				zap.String("ingredient_id", id),
				zap.String("from", row.Quantity.String()),
				zap.String("to", next.String()),
			)
			res.Updated = append(res.Updated, id)
			if next.IsZero() {
				res.Depleted = append(res.Depleted, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
