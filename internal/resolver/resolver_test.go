package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/good-food-maalsi/franchise-service/internal/client"
	"github.com/good-food-maalsi/franchise-service/internal/models"
)

// fakeCatalog resolves through client.ProbeItem so the dish-then-menu order
// is the real one.
type fakeCatalog struct {
	dishes   map[string]*models.Dish
	menus    map[string]*models.Menu
	failing  map[string]error
	requests []string
}

func (f *fakeCatalog) GetDish(_ context.Context, id string) (*models.Dish, error) {
	f.requests = append(f.requests, "dish:"+id)
	if err, ok := f.failing[id]; ok {
		return nil, err
	}
	if d, ok := f.dishes[id]; ok {
		return d, nil
	}
	return nil, client.ErrNotFound
}

func (f *fakeCatalog) GetMenu(_ context.Context, id string) (*models.Menu, error) {
	f.requests = append(f.requests, "menu:"+id)
	if m, ok := f.menus[id]; ok {
		return m, nil
	}
	return nil, client.ErrNotFound
}

func (f *fakeCatalog) ResolveItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	return client.ProbeItem(ctx, f, id)
}

func dish(id string, ingredients ...models.Ingredient) *models.Dish {
	return &models.Dish{ID: id, Ingredients: ingredients}
}

func ing(stockID string, qty string) models.Ingredient {
	return models.Ingredient{StockID: stockID, QuantityRequired: decimal.RequireFromString(qty)}
}

func requirementsByID(reqs []models.Requirement) map[string]string {
	out := map[string]string{}
	for _, r := range reqs {
		if prev, ok := out[r.IngredientID]; ok {
			out[r.IngredientID] = decimal.RequireFromString(prev).Add(r.Quantity).String()
			continue
		}
		out[r.IngredientID] = r.Quantity.String()
	}
	return out
}

func TestResolve_DishScaledByQuantity(t *testing.T) {
	catalog := &fakeCatalog{dishes: map[string]*models.Dish{"burger": dish("burger", ing("X", "3"))}}
	r := New(catalog, zap.NewNop())

	reqs, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "burger", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X": "6"}, requirementsByID(reqs))
	assert.Equal(t, []string{"dish:burger"}, catalog.requests)
}

func TestResolve_MenuExpandsDishes(t *testing.T) {
	catalog := &fakeCatalog{
		dishes: map[string]*models.Dish{
			"d1": dish("d1", ing("Y", "1")),
			"d2": dish("d2", ing("Y", "1")),
		},
		menus: map[string]*models.Menu{"m": {ID: "m", Dishes: []models.DishRef{{ID: "d1"}, {ID: "d2"}}}},
	}
	r := New(catalog, zap.NewNop())

	reqs, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "m", Quantity: 1})
	require.NoError(t, err)
	assert.Len(t, reqs, 2, "occurrences are returned unmerged")
	assert.Equal(t, map[string]string{"Y": "2"}, requirementsByID(reqs))
	assert.Equal(t, []string{"dish:m", "menu:m", "dish:d1", "dish:d2"}, catalog.requests)
}

func TestResolve_MenuSkipsFailingDish(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	catalog := &fakeCatalog{
		dishes:  map[string]*models.Dish{"d1": dish("d1", ing("Y", "1.5"))},
		menus:   map[string]*models.Menu{"m": {ID: "m", Dishes: []models.DishRef{{ID: "d1"}, {ID: "gone"}, {ID: "broken"}}}},
		failing: map[string]error{"broken": errors.New("connection reset")},
	}
	r := New(catalog, zap.New(core))

	reqs, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "m", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Y": "3"}, requirementsByID(reqs))
	assert.Equal(t, 2, logs.FilterMessageSnippet("Menu dish could not be resolved").Len())
}

func TestResolve_MenuWithNoResolvableDishWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	catalog := &fakeCatalog{
		menus: map[string]*models.Menu{"m": {ID: "m", Dishes: []models.DishRef{{ID: "d1"}, {ID: "d2"}}}},
		failing: map[string]error{
			"d1": errors.New("catalog returned 503"),
			"d2": errors.New("catalog returned 503"),
		},
	}
	r := New(catalog, zap.New(core))

	reqs, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "m", Quantity: 1})
	require.NoError(t, err)
	assert.Empty(t, reqs)

	entries := logs.FilterMessageSnippet("No dish of the menu could be resolved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "m", entries[0].ContextMap()["item_id"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["dishes"])
}

func TestResolve_MenuPartialDishesDoesNotWarnForItem(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	catalog := &fakeCatalog{
		dishes: map[string]*models.Dish{"d1": dish("d1", ing("Y", "1"))},
		menus:  map[string]*models.Menu{"m": {ID: "m", Dishes: []models.DishRef{{ID: "d1"}, {ID: "gone"}}}},
	}
	r := New(catalog, zap.New(core))

	_, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "m", Quantity: 1})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessageSnippet("No dish of the menu could be resolved").Len())
}

func TestResolve_DishWithoutIngredients(t *testing.T) {
	catalog := &fakeCatalog{dishes: map[string]*models.Dish{"water": dish("water")}}
	r := New(catalog, zap.NewNop())

	reqs, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "water", Quantity: 4})
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestResolve_Failures(t *testing.T) {
	transport := errors.New("dial tcp: connection refused")
	catalog := &fakeCatalog{failing: map[string]error{"flaky": transport}}
	r := New(catalog, zap.NewNop())

	t.Run("neither dish nor menu", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "ghost", Quantity: 1})

		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
		assert.Equal(t, "ghost", resErr.ItemID)
		assert.ErrorIs(t, err, client.ErrNotFound)
	})

	t.Run("transport error", func(t *testing.T) {
		catalog.requests = nil
		_, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "flaky", Quantity: 1})

		assert.ErrorIs(t, err, transport)
		assert.Equal(t, []string{"dish:flaky"}, catalog.requests, "menu must not be probed after a transport error")
	})
}

type firstDishOnly struct{}

func (firstDishOnly) Expand(menu *models.Menu, _ models.OrderItemEvent) []models.DishRef {
	if len(menu.Dishes) == 0 {
		return nil
	}
	return menu.Dishes[:1]
}

func TestResolve_CustomMenuExpander(t *testing.T) {
	catalog := &fakeCatalog{
		dishes: map[string]*models.Dish{
			"d1": dish("d1", ing("A", "1")),
			"d2": dish("d2", ing("B", "1")),
		},
		menus: map[string]*models.Menu{"m": {ID: "m", Dishes: []models.DishRef{{ID: "d1"}, {ID: "d2"}}}},
	}
	r := New(catalog, zap.NewNop(), WithMenuExpander(firstDishOnly{}))

	reqs, err := r.Resolve(context.Background(), models.OrderItemEvent{ItemID: "m", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1"}, requirementsByID(reqs))
}

func TestResolveAll_ContinuesPastUnresolved(t *testing.T) {
	catalog := &fakeCatalog{dishes: map[string]*models.Dish{"burger": dish("burger", ing("X", "1"))}}
	r := New(catalog, zap.NewNop())

	reqs, unresolved := r.ResolveAll(context.Background(), []models.OrderItemEvent{
		{ItemID: "ghost", Quantity: 1},
		{ItemID: "burger", Quantity: 3},
	})
	assert.Equal(t, []string{"ghost"}, unresolved)
	assert.Equal(t, map[string]string{"X": "3"}, requirementsByID(reqs))
}
