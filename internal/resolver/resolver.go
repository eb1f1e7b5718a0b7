package resolver

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/good-food-maalsi/franchise-service/internal/models"
)

// ItemCatalog is what the resolver needs from the catalog service.
type ItemCatalog interface {
	ResolveItem(ctx context.Context, id string) (*models.CatalogItem, error)
	GetDish(ctx context.Context, id string) (*models.Dish, error)
}

// MenuExpander picks the dishes of a menu that count for one order line.
type MenuExpander interface {
	Expand(menu *models.Menu, item models.OrderItemEvent) []models.DishRef
}

// AllDishes counts every dish of the menu at face value. Order-time
// selections are not part of the event.
type AllDishes struct{}

func (AllDishes) Expand(menu *models.Menu, _ models.OrderItemEvent) []models.DishRef {
	return menu.Dishes
}

// ResolutionError means an order line could not be turned into ingredients.
// It never fails the whole order.
type ResolutionError struct {
	ItemID string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("item %s could not be resolved: %v", e.ItemID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

type Resolver struct {
	catalog  ItemCatalog
	expander MenuExpander
	logger   *zap.Logger
}

type Option func(*Resolver)

func WithMenuExpander(e MenuExpander) Option {
	return func(r *Resolver) {
		r.expander = e
	}
}

func New(catalog ItemCatalog, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		expander: AllDishes{},
		logger:   logger.With(zap.String("component", "resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the ingredient requirements of one order line, scaled by
// the ordered quantity. Dishes of a menu that fail to resolve are skipped.
func (r *Resolver) Resolve(ctx context.Context, item models.OrderItemEvent) ([]models.Requirement, error) {
	ci, err := r.catalog.ResolveItem(ctx, item.ItemID)
	if err != nil {
		return nil, &ResolutionError{ItemID: item.ItemID, Err: err}
	}

	qty := decimal.NewFromInt(int64(item.Quantity))

	switch ci.Kind {
	case models.KindDish:
		return scale(ci.Dish, qty), nil

	case models.KindMenu:
		if ci.Menu == nil {
			return nil, nil
		}
		var (
			reqs    []models.Requirement
			skipped int
		)
		refs := r.expander.Expand(ci.Menu, item)
		for _, ref := range refs {
			dish, err := r.catalog.GetDish(ctx, ref.ID)
			if err != nil {
				r.logger.Warn("⚠️ Menu dish could not be resolved, skipping",
					zap.String("item_id", item.ItemID),
					zap.String("dish_id", ref.ID),
					zap.Error(err),
				)
				skipped++
				continue
			}
			reqs = append(reqs, scale(dish, qty)...)
		}
		if len(refs) > 0 && skipped == len(refs) {
			r.logger.Warn("⚠️ No dish of the menu could be resolved, nothing deducted for it",
				zap.String("item_id", item.ItemID),
				zap.Int("quantity", item.Quantity),
				zap.Int("dishes", len(refs)),
			)
		}
		return reqs, nil
	}

	return nil, &ResolutionError{ItemID: item.ItemID, Err: fmt.Errorf("unknown catalog item kind %q", ci.Kind)}
}

// ResolveAll resolves every line of an order. Lines that fail are logged and
// returned by id; they do not stop the others.
func (r *Resolver) ResolveAll(ctx context.Context, items []models.OrderItemEvent) ([]models.Requirement, []string) {
	var (
		reqs       []models.Requirement
		unresolved []string
	)
	for _, item := range items {
		got, err := r.Resolve(ctx, item)
		if err != nil {
			r.logger.Warn("⚠️ Item could not be resolved",
				zap.String("item_id", item.ItemID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err),
			)
			unresolved = append(unresolved, item.ItemID)
			continue
		}
		reqs = append(reqs, got...)
	}
	return reqs, unresolved
}

func scale(dish *models.Dish, qty decimal.Decimal) []models.Requirement {
	if dish == nil {
		return nil
	}
	reqs := make([]models.Requirement, 0, len(dish.Ingredients))
	for _, ing := range dish.Ingredients {
		reqs = append(reqs, models.Requirement{
			IngredientID: ing.StockID,
			Quantity:     ing.QuantityRequired.Mul(qty),
		})
	}
	return reqs
}
