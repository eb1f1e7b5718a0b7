package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/good-food-maalsi/franchise-service/internal/models"
	"github.com/good-food-maalsi/franchise-service/internal/stock"
)

// StockRepository is the Postgres stock ledger. The stock table belongs to
// the franchise service; only existing rows are read and updated.
type StockRepository struct {
	db    *sql.DB
	table string
}

// NewStockRepository uses table for stock rows. A schema-qualified name
// ("franchise.stock_franchise") is accepted.
func NewStockRepository(database *PostgresDB, table string) *StockRepository {
	return &StockRepository{db: database.Conn, table: quoteTable(table)}
}

func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// WithTx runs fn in one transaction, rolled back unless fn succeeds
func (r *StockRepository) WithTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&stockTx{tx: tx, table: r.table}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type stockTx struct {
	tx    *sql.Tx
	table string
}

// FindStockRow locks the row until the transaction ends
func (t *stockTx) FindStockRow(ctx context.Context, franchiseID, ingredientID string) (*models.StockRow, error) {
	query := fmt.Sprintf(`
		SELECT id, franchise_id, ingredient_id, quantity
		FROM %s
		WHERE franchise_id = $1 AND ingredient_id = $2
		LIMIT 1
		FOR UPDATE
	`, t.table)

	var row models.StockRow
	err := t.tx.QueryRowContext(ctx, query, franchiseID, ingredientID).
		Scan(&row.ID, &row.FranchiseID, &row.IngredientID, &row.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stock row: %w", err)
	}

	return &row, nil
}

func (t *stockTx) UpdateStockRow(ctx context.Context, id string, quantity decimal.Decimal) error {
	query := fmt.Sprintf(`UPDATE %s SET quantity = $1 WHERE id = $2`, t.table)

	result, err := t.tx.ExecContext(ctx, query, quantity, id)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", stock.ErrRowNotFound, id)
	}

	return nil
}

func (t *stockTx) MarkOrderProcessed(ctx context.Context, orderID, franchiseID string) (bool, error) {
	query := `
		INSERT INTO stock_processed_orders (order_id, franchise_id)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`

	result, err := t.tx.ExecContext(ctx, query, orderID, franchiseID)
	if err != nil {
		return false, fmt.Errorf("failed to record processed order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}
