// Package api is the JSON/HTTP client for the server of record.
//
// Every failure is returned as an *inventory.Error: transport failures as
// NETWORK, non-2xx responses as SERVER_REJECTED (NOT_FOUND for 404). The
// client never retries.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/stockline/internal/alert"
	"github.com/roach88/stockline/internal/inventory"
)

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 15 * time.Second

// Client talks to the server of record.
// Thread-safety: safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	ids     RequestIDGenerator
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken sets a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = func() string { return token }
	}
}

// WithTokenSource sets a function consulted for the bearer token on every request.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) {
		c.token = fn
	}
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(g RequestIDGenerator) Option {
	return func(c *Client) {
		c.ids = g
	}
}

// New creates a client for the server rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		token:   func() string { return "" },
		ids:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListItems returns every item, each carrying the row for warehouseID when
// it is stocked there.
func (c *Client) ListItems(ctx context.Context, warehouseID int64) ([]Item, error) {
	q := url.Values{}
	if warehouseID != 0 {
		q.Set("warehouse_id", strconv.FormatInt(warehouseID, 10))
	}
	var out []Item
	if _, err := c.do(ctx, "list items", http.MethodGet, "/items", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetItem returns an item with its full warehouse breakdown.
func (c *Client) GetItem(ctx context.Context, itemID int64) (Item, error) {
	var out Item
	_, err := c.do(ctx, "get item", http.MethodGet, fmt.Sprintf("/items/%d", itemID), nil, nil, &out)
	return out, err
}

// ListWarehouses returns every warehouse.
func (c *Client) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	var out []Warehouse
	if _, err := c.do(ctx, "list warehouses", http.MethodGet, "/warehouses", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWarehouse returns one warehouse.
func (c *Client) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var out Warehouse
	_, err := c.do(ctx, "get warehouse", http.MethodGet, fmt.Sprintf("/warehouses/%d", id), nil, nil, &out)
	return out, err
}

// CreateWarehouse creates a warehouse.
func (c *Client) CreateWarehouse(ctx context.Context, in WarehouseInput) (Warehouse, error) {
	var out Warehouse
	_, err := c.do(ctx, "create warehouse", http.MethodPost, "/warehouses", nil, in, &out)
	return out, err
}

// UpdateWarehouse replaces a warehouse's fields.
func (c *Client) UpdateWarehouse(ctx context.Context, id int64, in WarehouseInput) (Warehouse, error) {
	var out Warehouse
	_, err := c.do(ctx, "update warehouse", http.MethodPut, fmt.Sprintf("/warehouses/%d", id), nil, in, &out)
	return out, err
}

// DeleteWarehouse deletes a warehouse.
func (c *Client) DeleteWarehouse(ctx context.Context, id int64) error {
	_, err := c.do(ctx, "delete warehouse", http.MethodDelete, fmt.Sprintf("/warehouses/%d", id), nil, nil, nil)
	return err
}

// GetInventory returns the record for (itemID, warehouseID).
func (c *Client) GetInventory(ctx context.Context, itemID, warehouseID int64) (InventoryRow, error) {
	var out InventoryRow
	_, err := c.do(ctx, "get inventory", http.MethodGet, inventoryPath(itemID, warehouseID), nil, nil, &out)
	return out, err
}

// CreateInventory stocks an item in a warehouse.
func (c *Client) CreateInventory(ctx context.Context, in InventoryInput) (InventoryRow, error) {
	var out InventoryRow
	_, err := c.do(ctx, "create inventory", http.MethodPost, "/inventory", nil, in, &out)
	return out, err
}

// UpdateInventory replaces quantity, minimum and position of a record.
func (c *Client) UpdateInventory(ctx context.Context, itemID, warehouseID int64, in InventoryInput) (InventoryRow, error) {
	var out InventoryRow
	_, err := c.do(ctx, "update inventory", http.MethodPut, inventoryPath(itemID, warehouseID), nil, in, &out)
	return out, err
}

// DeleteInventory removes an item from a warehouse.
func (c *Client) DeleteInventory(ctx context.Context, itemID, warehouseID int64) error {
	_, err := c.do(ctx, "delete inventory", http.MethodDelete, inventoryPath(itemID, warehouseID), nil, nil, nil)
	return err
}

// Transfer executes a stock transfer as one server-side operation.
// Returns the request id it was sent with: req.RequestID when set,
// otherwise a generated one.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.RequestID != "" {
		ctx = withRequestID(ctx, req.RequestID)
	}
	return c.do(ctx, "transfer", http.MethodPost, "/stock/transfer", nil, req, nil)
}

// ListAlerts returns the server's precomputed cross-warehouse alert list.
func (c *Client) ListAlerts(ctx context.Context) ([]alert.ServerAlert, error) {
	var out []alert.ServerAlert
	if _, err := c.do(ctx, "list alerts", http.MethodGet, "/alerts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func inventoryPath(itemID, warehouseID int64) string {
	return fmt.Sprintf("/inventory/%d/%d", itemID, warehouseID)
}

// do performs one request. body is JSON-encoded when non-nil; out is
// decoded from a 2xx response when non-nil. Returns the request id.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", op, err)
	}

	requestID := requestIDFrom(ctx)
	if requestID == "" {
		requestID = c.ids.Generate()
	}
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	slog.Debug("api request", "op", op, "method", method, "path", path, "request_id", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return requestID, inventory.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return requestID, inventory.NewServerError(op, resp.StatusCode, readErrorMessage(resp))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return requestID, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return requestID, inventory.NewNetworkError(op, fmt.Errorf("decode response: %w", err))
	}
	return requestID, nil
}

// readErrorMessage extracts the server's error text, falling back to the status text.
func readErrorMessage(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(b) > 0 {
		var eb errorBody
		if json.Unmarshal(b, &eb) == nil {
			if eb.Error != "" {
				return eb.Error
			}
			if eb.Message != "" {
				return eb.Message
			}
		}
	}
	return http.StatusText(resp.StatusCode)
}
