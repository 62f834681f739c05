package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cscannon/barter/internal/auth"
	"github.com/cscannon/barter/internal/chain"
	"github.com/cscannon/barter/internal/engine"
	"github.com/cscannon/barter/internal/ledger"
	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
	"github.com/cscannon/barter/internal/view"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Engine      *engine.Engine
	Store       store.Store
	Ledger      *ledger.Ledger
	View        *view.Builder
	AuthService *auth.AuthService

	// DataSource is optional; without it balance syncing is unavailable.
	DataSource chain.DataSource
}

// NewHandler creates a new handler
func NewHandler(eng *engine.Engine, st store.Store, ldg *ledger.Ledger, vb *view.Builder, authService *auth.AuthService) *Handler {
	return &Handler{Engine: eng, Store: st, Ledger: ldg, View: vb, AuthService: authService}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlaceOrder handles barter order creation
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source         string `json:"source"`
		SellContract   string `json:"sell_contract"`
		SellSpecifier  string `json:"sell_specifier"`
		SellAmount     int64  `json:"sell_amount"`
		BuyContract    string `json:"buy_contract"`
		BuySpecifier   string `json:"buy_specifier"`
		BuyAmount      int64  `json:"buy_amount"`
		TxHash         string `json:"tx_hash"`
		Timestamp      int64  `json:"timestamp"`
		BlockHeight    int64  `json:"block_height"`
		BuyDestination string `json:"buy_destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	order, err := h.Engine.CreateOrder(r.Context(), engine.OrderTerms{
		Source:         req.Source,
		SellContract:   req.SellContract,
		SellSpecifier:  req.SellSpecifier,
		SellAmount:     req.SellAmount,
		BuyContract:    req.BuyContract,
		BuySpecifier:   req.BuySpecifier,
		BuyAmount:      req.BuyAmount,
		TxHash:         req.TxHash,
		Timestamp:      req.Timestamp,
		BlockHeight:    req.BlockHeight,
		BuyDestination: req.BuyDestination,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidOrderTerms) {
			http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error": "Failed to create order"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Order placed",
		"order_id": order.ID,
	})
}

// QueryOrders retrieves orders matching the filter query parameters:
// status=present|absent|OPEN|CLOSE, buy_destination=true|false,
// matched=true|false. Unset parameters apply no predicate.
func (h *Handler) QueryOrders(w http.ResponseWriter, r *http.Request) {
	var filter models.OrderFilter

	switch status := r.URL.Query().Get("status"); status {
	case "":
	case "present":
		present := true
		filter.StatusPresent = &present
	case "absent":
		present := false
		filter.StatusPresent = &present
	default:
		s := models.OrderStatus(status)
		if s != models.StatusOpen && s != models.StatusClose {
			http.Error(w, `{"error": "Invalid status filter"}`, http.StatusBadRequest)
			return
		}
		filter.StatusEquals = &s
	}
	if v := r.URL.Query().Get("buy_destination"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, `{"error": "Invalid buy_destination filter"}`, http.StatusBadRequest)
			return
		}
		filter.HasBuyDestination = &b
	}
	if v := r.URL.Query().Get("matched"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, `{"error": "Invalid matched filter"}`, http.StatusBadRequest)
			return
		}
		filter.HasMatch = &b
	}

	orders, err := h.Store.Orders().Query(r.Context(), filter)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	json.NewEncoder(w).Encode(orders)
}

// MatchNext settles at most one compatible pair
func (h *Handler) MatchNext(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.MatchNext(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Matching failed"}`, http.StatusInternalServerError)
		return
	}
	if result == nil {
		json.NewEncoder(w).Encode(map[string]interface{}{"matched": false})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"matched":    true,
		"order_id":   result.Order.ID,
		"counter_id": result.CounterOrder.ID,
		"events":     result.Events,
	})
}

// MatchAll settles every outstanding compatible pair
func (h *Handler) MatchAll(w http.ResponseWriter, r *http.Request) {
	touched, err := h.Engine.MatchAll(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Matching failed"}`, http.StatusInternalServerError)
		return
	}

	ids := make([]string, 0, len(touched))
	for _, o := range touched {
		ids = append(ids, o.ID)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"touched": ids})
}

// GetMatchedView renders every matched order as display rows
func (h *Handler) GetMatchedView(w http.ResponseWriter, r *http.Request) {
	nested := r.URL.Query().Get("nested") == "true"

	matches, err := h.Engine.GetAllMatches(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve matches"}`, http.StatusInternalServerError)
		return
	}

	rows, err := h.View.RenderMatches(r.Context(), matches, nested)
	if err != nil {
		http.Error(w, `{"error": "Failed to render matches"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(rows)
}

// SyncBalances refreshes an address's holdings from the chain indexer. The
// snapshot overwrites tracked balances; with from_block set, confirmed
// transfers at or after that block are applied on top.
func (h *Handler) SyncBalances(w http.ResponseWriter, r *http.Request) {
	if h.DataSource == nil {
		http.Error(w, `{"error": "No chain indexer configured"}`, http.StatusServiceUnavailable)
		return
	}
	address := chi.URLParam(r, "address")
	if address == "" {
		http.Error(w, `{"error": "Address required"}`, http.StatusBadRequest)
		return
	}

	entries, err := h.DataSource.FetchBalances(r.Context(), address)
	if err != nil {
		http.Error(w, `{"error": "Failed to fetch balances"}`, http.StatusBadGateway)
		return
	}

	var transfers []models.SettlementEvent
	if v := r.URL.Query().Get("from_block"); v != "" {
		fromBlock, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error": "Invalid from_block"}`, http.StatusBadRequest)
			return
		}
		transfers, err = h.DataSource.FetchTransfers(r.Context(), address, fromBlock)
		if err != nil {
			http.Error(w, `{"error": "Failed to fetch transfers"}`, http.StatusBadGateway)
			return
		}
	}

	// Ingestion runs in the matching critical section; a sweep never
	// observes a half-applied sync.
	err = h.Engine.Ingest(func(ldg *ledger.Ledger) error {
		if err := ldg.ApplySnapshot(r.Context(), entries); err != nil {
			return err
		}
		for _, event := range transfers {
			if err := ldg.ApplyTransfer(r.Context(), event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		http.Error(w, `{"error": "Failed to apply balances"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"balances":  len(entries),
		"transfers": len(transfers),
	})
}

// GetBalances lists an address's holdings
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		http.Error(w, `{"error": "Address required"}`, http.StatusBadRequest)
		return
	}

	entries, err := h.Store.Balances().List(r.Context(), address)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve balances"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.BalanceEntry{}
	}

	json.NewEncoder(w).Encode(entries)
}
