package models

import "github.com/shopspring/decimal"

// StockRow is the on-hand quantity of one ingredient for one franchise.
type StockRow struct {
	ID           string          `json:"id"`
	FranchiseID  string          `json:"franchise_id"`
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}
