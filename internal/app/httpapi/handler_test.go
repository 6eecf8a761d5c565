package httpapi

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lib/pq"

	app "github.com/bookmart/bookstore/internal/app"
	"github.com/bookmart/bookstore/internal/app/domain/order"
	"github.com/bookmart/bookstore/internal/app/domain/user"
)

type testClient struct {
	t       *testing.T
	handler http.Handler
	tokens  map[string]string
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{TokenSecret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })

	return &testClient{
		t:       t,
		handler: NewHandler(application),
		tokens:  make(map[string]string),
	}
}

func (c *testClient) do(method, path, userID string, payload map[string]any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token, ok := c.tokens[userID]; ok {
		req.Header.Set("token", token)
	}
	resp := httptest.NewRecorder()
	c.handler.ServeHTTP(resp, req)
	return resp
}

func (c *testClient) register(userID, password string) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/auth/register", "", map[string]any{
		"user_id":  userID,
		"password": password,
	})
	if resp.Code != http.StatusOK {
		c.t.Fatalf("register %s: status %d body %s", userID, resp.Code, resp.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		c.t.Fatalf("unmarshal register: %v", err)
	}
	c.tokens[userID] = out["token"]
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return out
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	c := newTestClient(t)
	c.register("buyer", "pw")
	c.register("seller", "pw")

	if resp := c.do(http.MethodPost, "/seller/create_store", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop",
	}); resp.Code != http.StatusOK {
		t.Fatalf("create store: %d %s", resp.Code, resp.Body.String())
	}
	if resp := c.do(http.MethodPost, "/seller/add_book", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop", "book_id": "b1",
		"title": "Go", "author": "pike", "price": 500, "stock_level": 10,
	}); resp.Code != http.StatusOK {
		t.Fatalf("add book: %d %s", resp.Code, resp.Body.String())
	}
	if resp := c.do(http.MethodPost, "/buyer/add_funds", "", map[string]any{
		"user_id": "buyer", "password": "pw", "add_value": 999999,
	}); resp.Code != http.StatusOK {
		t.Fatalf("add funds: %d %s", resp.Code, resp.Body.String())
	}

	resp := c.do(http.MethodPost, "/buyer/new_order", "buyer", map[string]any{
		"user_id": "buyer", "store_id": "shop",
		"books": []map[string]any{{"id": "b1", "count": 3}},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("new order: %d %s", resp.Code, resp.Body.String())
	}
	orderID := decodeBody(t, resp)["order_id"].(string)

	if resp := c.do(http.MethodPost, "/buyer/payment", "", map[string]any{
		"user_id": "buyer", "password": "pw", "order_id": orderID,
	}); resp.Code != http.StatusOK {
		t.Fatalf("payment: %d %s", resp.Code, resp.Body.String())
	}
	if resp := c.do(http.MethodPost, "/seller/confirm_shipping", "seller", map[string]any{
		"user_id": "seller", "order_id": orderID,
	}); resp.Code != http.StatusOK {
		t.Fatalf("shipping: %d %s", resp.Code, resp.Body.String())
	}
	if resp := c.do(http.MethodPost, "/buyer/confirm_receipt", "buyer", map[string]any{
		"user_id": "buyer", "order_id": orderID,
	}); resp.Code != http.StatusOK {
		t.Fatalf("receipt: %d %s", resp.Code, resp.Body.String())
	}

	resp = c.do(http.MethodGet, "/buyer/orders/"+orderID+"?user_id=buyer", "buyer", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get order: %d %s", resp.Code, resp.Body.String())
	}
	body := decodeBody(t, resp)
	ord := body["order"].(map[string]any)
	if ord["Status"] != "completed" {
		t.Fatalf("status = %v, want completed", ord["Status"])
	}
}

func TestDomainErrorStatusCodes(t *testing.T) {
	c := newTestClient(t)
	c.register("buyer", "pw")
	c.register("seller", "pw")

	// Duplicate registration.
	if resp := c.do(http.MethodPost, "/auth/register", "", map[string]any{
		"user_id": "buyer", "password": "pw",
	}); resp.Code != statusUserExists {
		t.Fatalf("duplicate register: %d, want %d", resp.Code, statusUserExists)
	}

	// Wrong password on payment path.
	if resp := c.do(http.MethodPost, "/buyer/add_funds", "", map[string]any{
		"user_id": "buyer", "password": "wrong", "add_value": 10,
	}); resp.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d, want 401", resp.Code)
	}

	// Missing token.
	if resp := c.do(http.MethodPost, "/seller/create_store", "", map[string]any{
		"user_id": "seller", "store_id": "shop",
	}); resp.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d, want 401", resp.Code)
	}

	if resp := c.do(http.MethodPost, "/seller/create_store", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop",
	}); resp.Code != http.StatusOK {
		t.Fatalf("create store: %d", resp.Code)
	}
	if resp := c.do(http.MethodPost, "/seller/create_store", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop",
	}); resp.Code != statusStoreExists {
		t.Fatalf("duplicate store: %d, want %d", resp.Code, statusStoreExists)
	}

	// Order against an unknown store.
	if resp := c.do(http.MethodPost, "/buyer/new_order", "buyer", map[string]any{
		"user_id": "buyer", "store_id": "nope",
		"books": []map[string]any{{"id": "b1", "count": 1}},
	}); resp.Code != statusUnknownStore {
		t.Fatalf("unknown store: %d, want %d", resp.Code, statusUnknownStore)
	}

	if resp := c.do(http.MethodPost, "/seller/add_book", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop", "book_id": "b1",
		"title": "Go", "price": 100, "stock_level": 1,
	}); resp.Code != http.StatusOK {
		t.Fatalf("add book: %d", resp.Code)
	}

	// Oversized order.
	if resp := c.do(http.MethodPost, "/buyer/new_order", "buyer", map[string]any{
		"user_id": "buyer", "store_id": "shop",
		"books": []map[string]any{{"id": "b1", "count": 5}},
	}); resp.Code != statusInsufficientStock {
		t.Fatalf("oversell: %d, want %d", resp.Code, statusInsufficientStock)
	}

	// Payment with an empty wallet.
	resp := c.do(http.MethodPost, "/buyer/new_order", "buyer", map[string]any{
		"user_id": "buyer", "store_id": "shop",
		"books": []map[string]any{{"id": "b1", "count": 1}},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("new order: %d %s", resp.Code, resp.Body.String())
	}
	orderID := decodeBody(t, resp)["order_id"].(string)
	if resp := c.do(http.MethodPost, "/buyer/payment", "", map[string]any{
		"user_id": "buyer", "password": "pw", "order_id": orderID,
	}); resp.Code != statusInsufficientFunds {
		t.Fatalf("empty wallet payment: %d, want %d", resp.Code, statusInsufficientFunds)
	}

	// Unknown order.
	if resp := c.do(http.MethodPost, "/buyer/payment", "", map[string]any{
		"user_id": "buyer", "password": "pw", "order_id": "missing",
	}); resp.Code != statusUnknownOrder {
		t.Fatalf("unknown order: %d, want %d", resp.Code, statusUnknownOrder)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	c := newTestClient(t)

	if resp := c.do(http.MethodGet, "/healthz", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("healthz: %d", resp.Code)
	}
	if resp := c.do(http.MethodGet, "/metrics", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("metrics: %d", resp.Code)
	}
}

func TestAuditLogRecordsRequests(t *testing.T) {
	c := newTestClient(t)
	c.register("buyer", "pw")

	// The audit trail itself is not public.
	if resp := c.do(http.MethodGet, "/admin/audit", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated audit: %d, want 401", resp.Code)
	}

	resp := c.do(http.MethodGet, "/admin/audit?user_id=buyer", "buyer", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit: %d", resp.Code)
	}
	var entries []auditEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one audit entry")
	}
	if entries[0].Path != "/auth/register" {
		t.Fatalf("first entry path = %q", entries[0].Path)
	}
}

func TestAuditRecordsOrderContext(t *testing.T) {
	c := newTestClient(t)
	c.register("buyer", "pw")
	c.register("seller", "pw")

	if resp := c.do(http.MethodPost, "/seller/create_store", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop",
	}); resp.Code != http.StatusOK {
		t.Fatalf("create store: %d", resp.Code)
	}
	if resp := c.do(http.MethodPost, "/seller/add_book", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop", "book_id": "b1",
		"title": "Go", "price": 100, "stock_level": 5,
	}); resp.Code != http.StatusOK {
		t.Fatalf("add book: %d", resp.Code)
	}
	resp := c.do(http.MethodPost, "/buyer/new_order", "buyer", map[string]any{
		"user_id": "buyer", "store_id": "shop",
		"books": []map[string]any{{"id": "b1", "count": 1}},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("new order: %d %s", resp.Code, resp.Body.String())
	}
	orderID := decodeBody(t, resp)["order_id"].(string)

	resp = c.do(http.MethodGet, "/admin/audit?user_id=buyer", "buyer", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit: %d", resp.Code)
	}
	var entries []auditEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}

	var created, stocked bool
	for _, e := range entries {
		if e.Path == "/buyer/new_order" && e.User == "buyer" && e.OrderID == orderID && e.StoreID == "shop" {
			created = true
		}
		if e.Path == "/seller/add_book" && e.User == "seller" && e.StoreID == "shop" {
			stocked = true
		}
	}
	if !created || !stocked {
		t.Fatalf("missing annotated entries (order=%v store=%v): %+v", created, stocked, entries)
	}
}

func TestGetOrderRequiresSession(t *testing.T) {
	c := newTestClient(t)
	c.register("buyer", "pw")
	c.register("seller", "pw")
	c.register("other", "pw")

	if resp := c.do(http.MethodPost, "/seller/create_store", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop",
	}); resp.Code != http.StatusOK {
		t.Fatalf("create store: %d", resp.Code)
	}
	if resp := c.do(http.MethodPost, "/seller/add_book", "seller", map[string]any{
		"user_id": "seller", "store_id": "shop", "book_id": "b1",
		"title": "Go", "price": 100, "stock_level": 5,
	}); resp.Code != http.StatusOK {
		t.Fatalf("add book: %d", resp.Code)
	}
	resp := c.do(http.MethodPost, "/buyer/new_order", "buyer", map[string]any{
		"user_id": "buyer", "store_id": "shop",
		"books": []map[string]any{{"id": "b1", "count": 1}},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("new order: %d %s", resp.Code, resp.Body.String())
	}
	orderID := decodeBody(t, resp)["order_id"].(string)

	if resp := c.do(http.MethodGet, "/buyer/orders/"+orderID, "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated get order: %d, want 401", resp.Code)
	}
	if resp := c.do(http.MethodGet, "/buyer/orders/"+orderID+"?user_id=other", "other", nil); resp.Code != statusNotOrderOwner {
		t.Fatalf("foreign get order: %d, want %d", resp.Code, statusNotOrderOwner)
	}
	if resp := c.do(http.MethodGet, "/buyer/orders/"+orderID+"?user_id=buyer", "buyer", nil); resp.Code != http.StatusOK {
		t.Fatalf("owner get order: %d", resp.Code)
	}
}

func TestMapStatusSeparatesFaultsFromPolicy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid state is a client rejection", order.ErrInvalidState, http.StatusBadRequest},
		{"wrapped invalid state", fmt.Errorf("cancel: %w", order.ErrInvalidState), http.StatusBadRequest},
		{"insufficient funds", user.ErrInsufficientFunds, statusInsufficientFunds},
		{"bad argument", fmt.Errorf("%w: amount must be positive", user.ErrInvalidArgument), http.StatusBadRequest},
		{"driver failure", driver.ErrBadConn, statusStorageFault},
		{"database failure", &pq.Error{Code: "40001"}, statusStorageFault},
		{"unrecognized failure", errors.New("boom"), statusUnexpectedFault},
	}
	for _, tc := range cases {
		if got := mapStatus(tc.err); got != tc.want {
			t.Errorf("%s: mapStatus = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	c := newTestClient(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte("{not json")))
	resp := httptest.NewRecorder()
	c.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d, want 400", resp.Code)
	}

	// Unknown fields are rejected as well.
	req = httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader([]byte(`{"user_id":"x","password":"y","extra":1}`)))
	resp = httptest.NewRecorder()
	c.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: %d, want 400", resp.Code)
	}
}
