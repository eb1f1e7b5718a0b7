package stock

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/good-food-maalsi/franchise-service/internal/models"
)

// Plan is the total quantity to deduct per ingredient for one order.
type Plan map[string]decimal.Decimal

// Aggregate sums requirements per ingredient. The result does not depend on
// the order of reqs.
func Aggregate(reqs []models.Requirement) Plan {
	plan := make(Plan, len(reqs))
	for _, r := range reqs {
		plan[r.IngredientID] = plan[r.IngredientID].Add(r.Quantity)
	}
	return plan
}

// IngredientIDs returns the plan keys in ascending order.
func (p Plan) IngredientIDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
