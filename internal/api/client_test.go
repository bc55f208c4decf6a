package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/alert"
	"github.com/roach88/stockline/internal/inventory"
)

func newTestClient(t *testing.T, h http.HandlerFunc, ids ...string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	if len(ids) == 0 {
		ids = []string{"req-1", "req-2", "req-3"}
	}
	return New(srv.URL+"/", WithToken("tok"), WithRequestIDs(NewFixedGenerator(ids...)))
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_ListItems_SendsWarehouseAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/items", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("warehouse_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		_, _ = w.Write([]byte(`[{"id":1,"name":"Flour","unit_cost":"1.25","warehouses":[{"warehouse_id":2,"qty":7,"min_qty":3,"position":"A1","inventory_id":40}]}]`))
	})

	items, err := c.ListItems(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 1)

	it := items[0]
	assert.Equal(t, "Flour", it.Name)
	assert.True(t, decimal.RequireFromString("1.25").Equal(it.UnitCost))

	ws, ok := it.Stock(2)
	require.True(t, ok)
	assert.Equal(t, inventory.Record{ItemID: 1, WarehouseID: 2, Quantity: 7, MinQuantity: 3, Position: "A1", InventoryID: 40}, ws.Record(1))

	_, ok = it.Stock(3)
	assert.False(t, ok)
}

func TestClient_Transfer_ReturnsRequestID(t *testing.T) {
	var got TransferRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/stock/transfer", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, http.StatusOK, map[string]bool{"ok": true})
	}, "transfer-id")

	id, err := c.Transfer(context.Background(), NewTransferRequest(inventory.Intent{ItemID: 9, From: 1, To: 2, Quantity: 8}))
	require.NoError(t, err)
	assert.Equal(t, "transfer-id", id)
	assert.Equal(t, TransferRequest{ItemID: 9, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: 8}, got)
}

func TestClient_Transfer_CallerRequestID(t *testing.T) {
	var header string
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Request-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(t, w, http.StatusOK, map[string]bool{"ok": true})
	}, "unused")

	req := NewTransferRequest(inventory.Intent{ItemID: 9, From: 1, To: 2, Quantity: 8})
	req.RequestID = "0190a1b2-own"
	id, err := c.Transfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "0190a1b2-own", id)
	assert.Equal(t, "0190a1b2-own", header)
	assert.NotContains(t, body, "request_id", "sent as a header only")
}

func TestClient_ServerRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusConflict, map[string]string{"error": "insufficient stock"})
	})

	_, err := c.Transfer(context.Background(), TransferRequest{ItemID: 1, FromWarehouseID: 1, ToWarehouseID: 2, Quantity: 1})
	require.Error(t, err)
	assert.True(t, inventory.IsServerRejection(err))

	var ierr *inventory.Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, http.StatusConflict, ierr.Status)
	assert.Equal(t, "insufficient stock", ierr.Message)
}

func TestClient_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetItem(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, inventory.ErrCodeNotFound, inventory.CodeOf(err))
	assert.True(t, inventory.IsServerRejection(err))
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, WithRequestIDs(NewFixedGenerator("x")))
	_, err := c.ListWarehouses(context.Background())
	require.Error(t, err)
	assert.True(t, inventory.IsNetwork(err))
}

func TestClient_InventoryCRUD(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost, http.MethodPut:
			var in InventoryInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			writeJSON(t, w, http.StatusOK, InventoryRow{ID: 5, StockItemID: 3, WarehouseID: 1, Quantity: in.Quantity, MinQuantity: in.MinQuantity, Position: in.Position})
		default:
			writeJSON(t, w, http.StatusOK, InventoryRow{ID: 5, StockItemID: 3, WarehouseID: 1, Quantity: 4})
		}
	}, "a", "b", "c", "d")
	ctx := context.Background()

	row, err := c.CreateInventory(ctx, InventoryInput{StockItemID: 3, WarehouseID: 1, Quantity: 10, MinQuantity: 2, Position: StringPtr("shelf")})
	require.NoError(t, err)
	assert.Equal(t, inventory.Record{ItemID: 3, WarehouseID: 1, Quantity: 10, MinQuantity: 2, Position: "shelf", InventoryID: 5}, row.Record())

	row, err = c.UpdateInventory(ctx, 3, 1, InventoryInput{Quantity: 6, MinQuantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, row.Quantity)
	assert.Empty(t, row.Record().Position)

	row, err = c.GetInventory(ctx, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, row.Quantity)

	require.NoError(t, c.DeleteInventory(ctx, 3, 1))

	assert.Equal(t, []string{
		"POST /inventory",
		"PUT /inventory/3/1",
		"GET /inventory/3/1",
		"DELETE /inventory/3/1",
	}, calls)
}

func TestClient_Warehouses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/warehouses":
			writeJSON(t, w, http.StatusOK, []Warehouse{{ID: 1, Name: "Main", IsActive: true}, {ID: 2, Name: "Bar"}})
		case r.Method == http.MethodPost:
			var in WarehouseInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			writeJSON(t, w, http.StatusCreated, Warehouse{ID: 3, Name: in.Name, Address: in.Address, IsActive: in.IsActive})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	ctx := context.Background()

	list, err := c.ListWarehouses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, inventory.Warehouse{ID: 1, Name: "Main", Active: true}, list[0].Warehouse())

	created, err := c.CreateWarehouse(ctx, WarehouseInput{Name: "Cellar", Address: "Basement", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), created.ID)

	err = c.DeleteWarehouse(ctx, 3)
	assert.True(t, inventory.IsServerRejection(err))
}

func TestClient_ListAlerts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/alerts", r.URL.Path)
		_, _ = w.Write([]byte(`[{"item":"Flour","warehouse_name":"Main","qty":2,"min_qty":5,"status":"critical"}]`))
	})

	alerts, err := c.ListAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.Critical, alerts[0].Status)
	assert.Equal(t, "Main", alerts[0].WarehouseName)
}

func TestClient_TokenSourceConsultedPerRequest(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, []Warehouse{})
	})
	n := 0
	WithTokenSource(func() string {
		n++
		if n == 1 {
			return ""
		}
		return "fresh"
	})(c)

	_, err := c.ListWarehouses(context.Background())
	require.NoError(t, err)
	_, err = c.ListWarehouses(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer fresh"}, seen)
}
