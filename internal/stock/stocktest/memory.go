// Package stocktest provides an in-memory stock.Store for tests.
package stocktest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/good-food-maalsi/franchise-service/internal/models"
	"github.com/good-food-maalsi/franchise-service/internal/stock"
)

// MemoryStore is an in-process stock.Store with snapshot transactions. Failures
// can be injected to exercise rollback.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[string]models.StockRow // by row id
	processed map[string]string          // order id -> franchise id

	beginErr   error
	failUpdate int
	updateErr  error
	commits    int
}

func NewMemoryStore(rows ...models.StockRow) *MemoryStore {
	s := &MemoryStore{
		rows:      make(map[string]models.StockRow),
		processed: make(map[string]string),
	}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

// FailBegin makes every following transaction fail to start with err.
// A nil err clears it.
func (s *MemoryStore) FailBegin(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginErr = err
}

// FailOnUpdate makes the nth UpdateStockRow of each transaction fail with err.
// n <= 0 clears it.
func (s *MemoryStore) FailOnUpdate(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdate = n
	s.updateErr = err
}

// Row returns the committed row of franchiseID for ingredientID.
func (s *MemoryStore) Row(franchiseID, ingredientID string) (models.StockRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := findRow(s.rows, franchiseID, ingredientID)
	if r == nil {
		return models.StockRow{}, false
	}
	return *r, true
}

func (s *MemoryStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beginErr != nil {
		return s.beginErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:     s,
		rows:      make(map[string]models.StockRow, len(s.rows)),
		processed: make(map[string]string, len(s.processed)),
	}
	for k, v := range s.rows {
		tx.rows[k] = v
	}
	for k, v := range s.processed {
		tx.processed[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.rows = tx.rows
	s.processed = tx.processed
	s.commits++
	return nil
}

type memoryTx struct {
	store     *MemoryStore
	rows      map[string]models.StockRow
	processed map[string]string
	updates   int
}

func (t *memoryTx) FindStockRow(_ context.Context, franchiseID, ingredientID string) (*models.StockRow, error) {
	r := findRow(t.rows, franchiseID, ingredientID)
	if r == nil {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (t *memoryTx) UpdateStockRow(_ context.Context, id string, quantity decimal.Decimal) error {
	t.updates++
	if t.store.failUpdate > 0 && t.updates == t.store.failUpdate {
		return t.store.updateErr
	}

	r, ok := t.rows[id]
	if !ok {
		return fmt.Errorf("%w: %s", stock.ErrRowNotFound, id)
	}
	r.Quantity = quantity
	t.rows[id] = r
	return nil
}

func (t *memoryTx) MarkOrderProcessed(_ context.Context, orderID, franchiseID string) (bool, error) {
	if _, ok := t.processed[orderID]; ok {
		return false, nil
	}
	t.processed[orderID] = franchiseID
	return true, nil
}

func findRow(rows map[string]models.StockRow, franchiseID, ingredientID string) *models.StockRow {
	for _, r := range rows {
		if r.FranchiseID == franchiseID && r.IngredientID == ingredientID {
			return &r
		}
	}
	return nil
}
