package models

// OrderCreatedEvent is published by the ordering system when an order is placed
type OrderCreatedEvent struct {
	OrderID string           `json:"orderId" validate:"required"`
	ShopID  string           `json:"shopId" validate:"required"`
	Items   []OrderItemEvent `json:"items" validate:"required,dive"`
}

type OrderItemEvent struct {
	ItemID   string `json:"itemId" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gte=1"`
}

// StockReducedEvent is announced on the franchise exchange after a committed stock reduction
type StockReducedEvent struct {
	OrderID               string   `json:"orderId"`
	FranchiseID           string   `json:"franchiseId"`
	Updated               []string `json:"updated"`
	UnresolvedIngredients []string `json:"unresolvedIngredients"`
	UnresolvedItems       []string `json:"unresolvedItems"`
	Depleted              []string `json:"depleted"`
}

// Routing keys used on the broker
const (
	RoutingKeyOrderCreated = "order.created"
	RoutingKeyStockReduced = "stock.reduced"
)
