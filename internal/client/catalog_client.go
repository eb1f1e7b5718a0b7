package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/good-food-maalsi/franchise-service/internal/models"
)

// ErrNotFound is returned when the catalog answers 404 for a lookup.
var ErrNotFound = errors.New("catalog: not found")

// StatusError is any non-2xx catalog answer other than 404.
type StatusError struct {
	Resource string
	ID       string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog service returned status %d for %s %s", e.Code, e.Resource, e.ID)
}

// Source is the raw dish and menu lookups of the catalog HTTP contract.
type Source interface {
	GetDish(ctx context.Context, id string) (*models.Dish, error)
	GetMenu(ctx context.Context, id string) (*models.Menu, error)
}

type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCatalogClient returns a client for the catalog service at baseURL.
// A zero timeout leaves requests bounded only by their context.
func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// GetDish fetches a dish and its ingredient list
func (c *CatalogClient) GetDish(ctx context.Context, id string) (*models.Dish, error) {
	dish, err := get[models.Dish](ctx, c, "dish", id)
	if err != nil {
		return nil, err
	}
	if dish.ID == "" {
		dish.ID = id
	}
	return dish, nil
}

// GetMenu fetches a menu and the dishes it references
func (c *CatalogClient) GetMenu(ctx context.Context, id string) (*models.Menu, error) {
	menu, err := get[models.Menu](ctx, c, "menu", id)
	if err != nil {
		return nil, err
	}
	if menu.ID == "" {
		menu.ID = id
	}
	return menu, nil
}

// ResolveItem tells whether id is a dish or a menu.
func (c *CatalogClient) ResolveItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	return ProbeItem(ctx, c, id)
}

// ProbeItem looks id up as a dish and, only when the dish lookup is a
// not-found, as a menu. Transport and status errors are returned as is.
func ProbeItem(ctx context.Context, src Source, id string) (*models.CatalogItem, error) {
	dish, err := src.GetDish(ctx, id)
	if err == nil {
		return &models.CatalogItem{Kind: models.KindDish, Dish: dish}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	menu, err := src.GetMenu(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CatalogItem{Kind: models.KindMenu, Menu: menu}, nil
}

func get[T any](ctx context.Context, c *CatalogClient, resource, id string) (*T, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, resource, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", resource, id, ErrNotFound)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Resource: resource, ID: id, Code: resp.StatusCode}
	}

	var body envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", resource, err)
	}

	return &body.Data, nil
}
