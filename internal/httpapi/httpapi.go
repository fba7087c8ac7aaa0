// Package httpapi is the thin operator-facing surface the spec allows
// alongside the core trio (spec §4, supplemented): health, Prometheus
// scrape, and a direct order-placement passthrough for manual testing
// and the bot's own self-checks. It deliberately does not implement
// request-body validation or identity-token auth — both are out of
// scope (spec §1 Non-goals) and assumed to sit in front of this
// service in a real deployment.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradingcore/internal/domain"
	"tradingcore/internal/matching"
)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req matching.PlaceOrderRequest) matching.PlaceOrderResult
}

// NewMux wires /health, /metrics, /place-order and the websocket
// endpoint (registered by the caller via wsHandler) into a single mux.
func NewMux(placer OrderPlacer, wsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/place-order", handlePlaceOrder(placer))
	mux.Handle("/ws", wsHandler)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "time": time.Now().UTC()})
}

type placeOrderBody struct {
	AccountID      string   `json:"account_id"`
	UserID         string   `json:"user_id"`
	Symbol         string   `json:"symbol"`
	Side           string   `json:"side"`
	Quantity       float64  `json:"quantity"`
	Type           string   `json:"type"`
	LimitPrice     float64  `json:"limit_price"`
	StopLoss       *float64 `json:"stop_loss"`
	TakeProfit     *float64 `json:"take_profit"`
	IdempotencyKey string   `json:"idempotency_key"`
}

func handlePlaceOrder(placer OrderPlacer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body placeOrderBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}

		result := placer.PlaceOrder(r.Context(), matching.PlaceOrderRequest{
			AccountID: body.AccountID, UserID: body.UserID, Symbol: body.Symbol,
			Side: domain.Side(body.Side), Quantity: body.Quantity, Type: domain.OrderType(body.Type),
			LimitPrice: body.LimitPrice, StopLoss: body.StopLoss, TakeProfit: body.TakeProfit,
			IdempotencyKey: body.IdempotencyKey,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
