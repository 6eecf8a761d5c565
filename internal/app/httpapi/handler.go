// Package httpapi exposes the bookstore REST API.
package httpapi

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/lib/pq"

	app "github.com/bookmart/bookstore/internal/app"
	"github.com/bookmart/bookstore/internal/app/domain/catalog"
	"github.com/bookmart/bookstore/internal/app/domain/order"
	"github.com/bookmart/bookstore/internal/app/domain/user"
	"github.com/bookmart/bookstore/internal/app/metrics"
)

// Domain failures map onto distinct status codes so clients can react
// without parsing error strings. 528 and 530 are reserved for server-side
// faults; client policy rejections stay in the 4xx/51x family.
const (
	statusUnknownUser       = 511
	statusUserExists        = 512
	statusUnknownStore      = 513
	statusStoreExists       = 514
	statusUnknownBook       = 515
	statusBookExists        = 516
	statusInsufficientStock = 517
	statusUnknownOrder      = 518
	statusInsufficientFunds = 519
	statusNotOrderOwner     = 520
	statusStorageFault      = 528
	statusUnexpectedFault   = 530
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns a router exposing the core REST API. Requests are
// instrumented and recorded in the audit log; AUDIT_LOG_PATH selects an
// optional JSONL sink.
func NewHandler(application *app.Application) http.Handler {
	sink, err := newFileAuditSink(os.Getenv("AUDIT_LOG_PATH"))
	if err != nil {
		sink = nil
	}
	h := &handler{app: application, audit: newAuditLog(0, sink)}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/admin/audit", h.auditEntries).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", h.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", h.login).Methods(http.MethodPost)
	auth.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	auth.HandleFunc("/unregister", h.unregister).Methods(http.MethodPost)
	auth.HandleFunc("/password", h.changePassword).Methods(http.MethodPost)

	buyer := r.PathPrefix("/buyer").Subrouter()
	buyer.HandleFunc("/new_order", h.newOrder).Methods(http.MethodPost)
	buyer.HandleFunc("/payment", h.payment).Methods(http.MethodPost)
	buyer.HandleFunc("/add_funds", h.addFunds).Methods(http.MethodPost)
	buyer.HandleFunc("/confirm_receipt", h.confirmReceipt).Methods(http.MethodPost)
	buyer.HandleFunc("/cancel_order", h.cancelOrder).Methods(http.MethodPost)
	buyer.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	buyer.HandleFunc("/orders/{id}", h.getOrder).Methods(http.MethodGet)

	seller := r.PathPrefix("/seller").Subrouter()
	seller.HandleFunc("/create_store", h.createStore).Methods(http.MethodPost)
	seller.HandleFunc("/add_book", h.addBook).Methods(http.MethodPost)
	seller.HandleFunc("/add_stock_level", h.addStock).Methods(http.MethodPost)
	seller.HandleFunc("/set_price", h.setPrice).Methods(http.MethodPost)
	seller.HandleFunc("/stores", h.listStores).Methods(http.MethodGet)
	seller.HandleFunc("/confirm_shipping", h.confirmShipping).Methods(http.MethodPost)

	r.HandleFunc("/stores/{id}/books", h.storeBooks).Methods(http.MethodGet)

	var handler http.Handler = r
	if rps, _ := strconv.Atoi(os.Getenv("RATE_LIMIT_RPS")); rps > 0 {
		handler = newRateLimiter(rps, 2*rps).middleware(handler)
	}
	return metrics.InstrumentHandler(corsMiddleware(h.auditMiddleware(handler)))
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if !h.requireToken(w, r, r.URL.Query().Get("user_id")) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- auth -------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Users.Register(r.Context(), payload.UserID, payload.Password)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":  u.ID,
		"token":    u.Token,
		"terminal": u.Terminal,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
		Terminal string `json:"terminal"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, err := h.app.Users.Login(r.Context(), payload.UserID, payload.Password, payload.Terminal)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Users.Logout(r.Context(), payload.UserID, r.Header.Get("token")); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": payload.UserID})
}

func (h *handler) unregister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Users.Unregister(r.Context(), payload.UserID, payload.Password); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": payload.UserID})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID      string `json:"user_id"`
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Users.ChangePassword(r.Context(), payload.UserID, payload.OldPassword, payload.NewPassword); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": payload.UserID})
}

// --- buyer ------------------------------------------------------------------

func (h *handler) newOrder(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string `json:"user_id"`
		StoreID string `json:"store_id"`
		Books   []struct {
			ID    string `json:"id"`
			Count int    `json:"count"`
		} `json:"books"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, "", payload.StoreID)

	items := make([]order.Item, 0, len(payload.Books))
	for _, b := range payload.Books {
		items = append(items, order.Item{BookID: b.ID, Quantity: b.Count})
	}
	ord, err := h.app.Orders.Create(r.Context(), payload.UserID, payload.StoreID, items)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	annotateAudit(r.Context(), payload.UserID, ord.ID, payload.StoreID)
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":    ord.ID,
		"total_price": ord.TotalPrice,
	})
}

func (h *handler) payment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
		OrderID  string `json:"order_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	annotateAudit(r.Context(), payload.UserID, payload.OrderID, "")
	if err := h.app.Orders.Pay(r.Context(), payload.UserID, payload.Password, payload.OrderID); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": payload.OrderID})
}

func (h *handler) addFunds(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
		AddValue int64  `json:"add_value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	annotateAudit(r.Context(), payload.UserID, "", "")
	if err := h.app.Users.Deposit(r.Context(), payload.UserID, payload.Password, payload.AddValue); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": payload.UserID})
}

func (h *handler) confirmReceipt(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string `json:"user_id"`
		OrderID string `json:"order_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, payload.OrderID, "")
	if err := h.app.Orders.ConfirmReceipt(r.Context(), payload.UserID, payload.OrderID); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": payload.OrderID})
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string `json:"user_id"`
		OrderID string `json:"order_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, payload.OrderID, "")
	if err := h.app.Orders.Cancel(r.Context(), payload.UserID, payload.OrderID); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": payload.OrderID})
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !h.requireToken(w, r, userID) {
		return
	}
	orders, err := h.app.Orders.List(r.Context(), userID)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !h.requireToken(w, r, userID) {
		return
	}
	orderID := mux.Vars(r)["id"]
	annotateAudit(r.Context(), userID, orderID, "")
	ord, err := h.app.Orders.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	if ord.BuyerID != userID {
		writeError(w, statusNotOrderOwner, order.ErrNotOwner)
		return
	}
	lines, err := h.app.Orders.Lines(r.Context(), orderID)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order": ord,
		"lines": lines,
	})
}

// --- seller -----------------------------------------------------------------

func (h *handler) createStore(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string `json:"user_id"`
		StoreID string `json:"store_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, "", payload.StoreID)
	st, err := h.app.Catalog.CreateStore(r.Context(), payload.UserID, payload.StoreID)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"store_id": st.ID})
}

func (h *handler) addBook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID     string `json:"user_id"`
		StoreID    string `json:"store_id"`
		BookID     string `json:"book_id"`
		Title      string `json:"title"`
		Author     string `json:"author"`
		Price      int64  `json:"price"`
		StockLevel int    `json:"stock_level"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, "", payload.StoreID)
	l, err := h.app.Catalog.AddBook(r.Context(), payload.UserID, catalog.Listing{
		StoreID: payload.StoreID,
		BookID:  payload.BookID,
		Title:   payload.Title,
		Author:  payload.Author,
		Price:   payload.Price,
		Stock:   payload.StockLevel,
	})
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"store_id": l.StoreID, "book_id": l.BookID})
}

func (h *handler) addStock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID        string `json:"user_id"`
		StoreID       string `json:"store_id"`
		BookID        string `json:"book_id"`
		AddStockLevel int    `json:"add_stock_level"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, "", payload.StoreID)
	if err := h.app.Catalog.AddStock(r.Context(), payload.UserID, payload.StoreID, payload.BookID, payload.AddStockLevel); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"book_id": payload.BookID})
}

func (h *handler) setPrice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string `json:"user_id"`
		StoreID string `json:"store_id"`
		BookID  string `json:"book_id"`
		Price   int64  `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, "", payload.StoreID)
	if err := h.app.Catalog.SetPrice(r.Context(), payload.UserID, payload.StoreID, payload.BookID, payload.Price); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"book_id": payload.BookID})
}

func (h *handler) listStores(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !h.requireToken(w, r, userID) {
		return
	}
	stores, err := h.app.Catalog.Stores(r.Context(), userID)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (h *handler) confirmShipping(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string `json:"user_id"`
		OrderID string `json:"order_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.requireToken(w, r, payload.UserID) {
		return
	}
	annotateAudit(r.Context(), payload.UserID, payload.OrderID, "")
	if err := h.app.Orders.ConfirmShipping(r.Context(), payload.UserID, payload.OrderID); err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": payload.OrderID})
}

// --- public -----------------------------------------------------------------

func (h *handler) storeBooks(w http.ResponseWriter, r *http.Request) {
	storeID := mux.Vars(r)["id"]
	listings, err := h.app.Catalog.Listings(r.Context(), storeID)
	if err != nil {
		writeError(w, mapStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// --- plumbing ---------------------------------------------------------------

func (h *handler) requireToken(w http.ResponseWriter, r *http.Request, userID string) bool {
	if err := h.app.Users.CheckToken(r.Context(), userID, r.Header.Get("token")); err != nil {
		writeError(w, mapStatus(err), err)
		return false
	}
	return true
}

func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := &auditEntry{
			Time:       time.Now().UTC(),
			User:       r.URL.Query().Get("user_id"),
			Path:       r.URL.Path,
			Method:     r.Method,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(newAuditContext(r.Context(), entry)))
		entry.Status = rec.status
		h.audit.add(*entry)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed == "*" || allowed == "" || originAllowed(allowed, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, token")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed, origin string) bool {
	for _, candidate := range strings.Split(allowed, ",") {
		if strings.TrimSpace(candidate) == origin {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func mapStatus(err error) int {
	switch {
	case errors.Is(err, user.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, user.ErrNotFound):
		return statusUnknownUser
	case errors.Is(err, user.ErrExists):
		return statusUserExists
	case errors.Is(err, catalog.ErrStoreNotFound):
		return statusUnknownStore
	case errors.Is(err, catalog.ErrStoreExists):
		return statusStoreExists
	case errors.Is(err, catalog.ErrBookNotFound):
		return statusUnknownBook
	case errors.Is(err, catalog.ErrBookExists):
		return statusBookExists
	case errors.Is(err, catalog.ErrInsufficientStock):
		return statusInsufficientStock
	case errors.Is(err, order.ErrNotFound):
		return statusUnknownOrder
	case errors.Is(err, order.ErrNotOwner):
		return statusNotOrderOwner
	case errors.Is(err, user.ErrInsufficientFunds):
		return statusInsufficientFunds
	case errors.Is(err, order.ErrInvalidState):
		// Rejected by lifecycle policy, not a fault.
		return http.StatusBadRequest
	case errors.Is(err, user.ErrInvalidArgument),
		errors.Is(err, catalog.ErrInvalidArgument),
		errors.Is(err, order.ErrInvalidArgument):
		return http.StatusBadRequest
	case isStorageFault(err):
		return statusStorageFault
	default:
		return statusUnexpectedFault
	}
}

// isStorageFault reports whether the error originated in the database layer
// rather than in request handling.
func isStorageFault(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return true
	}
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, context.DeadlineExceeded)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
