// Package pricehub implements the Price Fan-Out Hub (spec §4.C):
// upstream exchange ingest, tick normalization and publication to the
// KV store/event bus, and the downstream per-client websocket
// broadcaster. The upstream reconnect loop is grounded on the
// teacher's BinanceFutures.Start in main.go — a raw gorilla/websocket
// dial wrapped in a retry-on-error for loop — generalized to run one
// supervised goroutine per upstream stream under an errgroup instead
// of a single bare `go` statement per feed.
package pricehub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"tradingcore/internal/config"
	"tradingcore/internal/domain"
	"tradingcore/internal/eventbus"
	"tradingcore/internal/instrument"
	"tradingcore/internal/kv"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	watchdogInterval   = 15 * time.Second
)

// TickSink is what the matching engine exposes to receive normalized
// ticks without pricehub importing matching (spec §9 keeps the core
// trio's dependency edges one-directional: pricehub -> matching).
type TickSink interface {
	ProcessTick(ctx context.Context, symbol string, price float64)
}

type Hub struct {
	cfg         *config.Config
	instruments *instrument.Registry
	kv          *kv.Store
	bus         *eventbus.Bus
	sink        TickSink
	rest        *resty.Client
	broadcaster *Broadcaster
}

func New(cfg *config.Config, instruments *instrument.Registry, kvStore *kv.Store, bus *eventbus.Bus, sink TickSink) *Hub {
	return &Hub{
		cfg: cfg, instruments: instruments, kv: kvStore, bus: bus, sink: sink,
		rest:        resty.New().SetTimeout(5 * time.Second),
		broadcaster: NewBroadcaster(cfg, bus, kvStore),
	}
}

// Broadcaster exposes the downstream WS hub so cmd/coreengine can wire
// it into the HTTP mux.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// Run supervises one goroutine per upstream feed URL under an
// errgroup (spec §3.C implementation note). Each feed retries its own
// dial and read errors and returns only when ctx is canceled, so Run
// returns only on cancellation.
func (h *Hub) Run(ctx context.Context) error {
	if len(h.cfg.UpstreamFeedURLs) == 0 {
		log.Println("pricehub: no UPSTREAM_FEED_URLS configured, ingest disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, url := range h.cfg.UpstreamFeedURLs {
		url := url
		g.Go(func() error { return h.runFeed(ctx, url) })
	}
	return g.Wait()
}

// runFeed is the reconnect loop: dial, stream, and on any read/dial
// error back off exponentially (capped) and retry, exactly like the
// teacher's BinanceFutures.Start "Connection error ... Retrying" loop.
func (h *Hub) runFeed(ctx context.Context, url string) error {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := h.streamOnce(ctx, url); err != nil {
			log.Printf("pricehub: feed %s error: %v, retrying in %s", url, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (h *Hub) streamOnce(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{}
	if h.cfg.FeedAPIKey != "" {
		header["X-API-Key"] = []string{h.cfg.FeedAPIKey}
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Printf("pricehub: connected to %s", url)

	lastMsg := time.Now()
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-watchdog.C:
				if time.Since(lastMsg) > watchdogInterval {
					log.Printf("pricehub: feed %s silent for %s, forcing reconnect", url, watchdogInterval)
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		lastMsg = time.Now()
		h.handleMessage(ctx, raw)
	}
}

// upstreamMessage is the normalized envelope we expect from any
// upstream feed: either a trade tick or a depth snapshot, tagged by type.
type upstreamMessage struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
	Price  json.Number     `json:"price"`
	TSMs   int64           `json:"ts"`
	Bids   [][2]json.Number `json:"bids"`
	Asks   [][2]json.Number `json:"asks"`
}

func (h *Hub) handleMessage(ctx context.Context, raw []byte) {
	var msg upstreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	symbol := h.instruments.NormalizeSymbol(msg.Symbol)
	if symbol == "" {
		return
	}
	if _, ok := h.instruments.GetContract(symbol); !ok {
		return
	}

	switch strings.ToLower(msg.Type) {
	case "depth":
		h.handleDepth(ctx, symbol, msg)
	default:
		h.handleTrade(ctx, symbol, msg)
	}
}

func (h *Hub) handleTrade(ctx context.Context, symbol string, msg upstreamMessage) {
	price, err := msg.Price.Float64()
	if err != nil || price <= 0 {
		return
	}
	ts := msg.TSMs
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	if err := h.kv.SetLatestPrice(ctx, symbol, price, ts); err != nil {
		log.Printf("pricehub: set latest price failed: %v", err)
	}
	if err := h.kv.PushTick(ctx, symbol, price, ts, int64(h.cfg.TickHistoryLimit)); err != nil {
		log.Printf("pricehub: push tick failed: %v", err)
	}

	tick := domain.Tick{Symbol: symbol, Price: price, TSMs: ts}
	h.bus.Publish(eventbus.TopicPriceTicks, tick)
	h.broadcaster.BroadcastTick(tick)

	h.sink.ProcessTick(ctx, symbol, price)
}

func (h *Hub) handleDepth(ctx context.Context, symbol string, msg upstreamMessage) {
	snap := domain.DepthSnapshot{Symbol: symbol, TSMs: msg.TSMs}
	for _, lvl := range msg.Bids {
		snap.Bids = append(snap.Bids, parseLevel(lvl))
	}
	for _, lvl := range msg.Asks {
		snap.Asks = append(snap.Asks, parseLevel(lvl))
	}
	if err := h.kv.SetOrderbook(ctx, snap, 10*time.Second); err != nil {
		log.Printf("pricehub: set orderbook failed: %v", err)
	}
	h.bus.Publish(eventbus.TopicOrderbook+"_"+eventbus.Topic(symbol), snap)
	h.broadcaster.BroadcastOrderbook(snap)
}

func parseLevel(raw [2]json.Number) domain.DepthLevel {
	price, _ := raw[0].Float64()
	qty, _ := raw[1].Float64()
	return domain.DepthLevel{Price: price, Qty: qty}
}

// RESTQuote fetches a synchronous quote: a plain GET against the REST
// quote endpoint baseURL for symbol, built with go-resty the way the
// rest of the pack's HTTP clients are. The matching engine's stale-price
// path does not call it.
func (h *Hub) RESTQuote(ctx context.Context, baseURL, symbol string) (float64, error) {
	var body struct {
		Price string `json:"price"`
	}
	resp, err := h.rest.R().SetContext(ctx).SetResult(&body).
		Get(fmt.Sprintf("%s?symbol=%s", baseURL, symbol))
	if err != nil {
		return 0, fmt.Errorf("pricehub: rest quote request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("pricehub: rest quote status %d", resp.StatusCode())
	}
	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("pricehub: rest quote parse: %w", err)
	}
	return price, nil
}
