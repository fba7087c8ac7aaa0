// FILE: metrics.go
// Package metrics – Prometheus metrics for the trading execution core.
//
// Exposes counters/gauges the matching engine, risk engine and price
// hub update during operation:
//   • core_ticks_total{symbol}             – accepted ticks per symbol
//   • core_fills_total{side,type}          – fills by side/order type
//   • core_partial_fills_total             – partial-fill cascades
//   • core_trade_closes_total{reason}      – closes by exit reason
//   • core_order_rejects_total{code}       – rejections by risk/validation code
//   • core_account_breaches_total{reason}  – breach liquidations by reason
//   • core_broadcast_dropped_total         – WS broadcasts dropped by rate limiter
//   • core_ws_clients                      – connected downstream WS clients (gauge)
//   • core_open_trades                     – currently open trades (gauge)
//
// Registered in init() and served by promhttp.Handler at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_ticks_total", Help: "Accepted ticks per symbol"},
		[]string{"symbol"},
	)

	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_fills_total", Help: "Fills by side and order type"},
		[]string{"side", "type"},
	)

	PartialFills = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "core_partial_fills_total", Help: "Partial-fill cascades"},
	)

	TradeCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_trade_closes_total", Help: "Trade closes by exit reason"},
		[]string{"reason"},
	)

	OrderRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_order_rejects_total", Help: "Order rejections by code"},
		[]string{"code"},
	)

	AccountBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_account_breaches_total", Help: "Breach liquidations by reason"},
		[]string{"reason"},
	)

	BroadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "core_broadcast_dropped_total", Help: "WS broadcasts dropped by the rate limiter or slow-consumer guard"},
	)

	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "core_ws_clients", Help: "Connected downstream WS clients"},
	)

	OpenTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "core_open_trades", Help: "Currently open trades"},
	)
)

func init() {
	prometheus.MustRegister(Ticks, Fills, PartialFills, TradeCloses, OrderRejects,
		AccountBreaches, BroadcastDropped, WSClients, OpenTrades)
}
