package models

import "github.com/shopspring/decimal"

// Ingredient is one bill-of-materials line of a dish. StockID is the
// franchise-side ingredient identifier.
type Ingredient struct {
	StockID          string          `json:"stock_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
}

type Dish struct {
	ID          string       `json:"id,omitempty"`
	Ingredients []Ingredient `json:"ingredients"`
}

type DishRef struct {
	ID string `json:"id"`
}

// Menu references the dishes it is composed of. The catalog names the
// field "Dish".
type Menu struct {
	ID     string    `json:"id,omitempty"`
	Dishes []DishRef `json:"Dish"`
}

// ItemKind discriminates a CatalogItem.
type ItemKind string

const (
	KindDish ItemKind = "dish"
	KindMenu ItemKind = "menu"
)

// CatalogItem is the resolved form of a purchasable item identifier.
// Exactly one of Dish or Menu is set, according to Kind.
type CatalogItem struct {
	Kind ItemKind `json:"kind"`
	Dish *Dish    `json:"dish,omitempty"`
	Menu *Menu    `json:"menu,omitempty"`
}

// Requirement is a quantity of one ingredient needed to fulfil part of an order.
type Requirement struct {
	IngredientID string
	Quantity     decimal.Decimal
}
