package pricehub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradingcore/internal/config"
	"tradingcore/internal/domain"
	"tradingcore/internal/eventbus"
	"tradingcore/internal/kv"
	"tradingcore/internal/metrics"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1 << 20 // 1MB read limit on inbound client messages
	clientSendBufSize = 256
)

// client is one connected downstream subscriber. Grounded on the
// teacher's Hub client-set pattern in hub.go, generalized with a
// send buffer per client and a subscription filter instead of a
// single unconditional broadcast to every connection.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	symbols map[string]bool // nil/empty means "subscribed to everything"
}

func (c *client) wants(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.symbols) == 0 {
		return true
	}
	return c.symbols[symbol]
}

func (c *client) subscribe(symbol string) {
	if symbol == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbols == nil {
		c.symbols = make(map[string]bool)
	}
	c.symbols[symbol] = true
}

func (c *client) unsubscribe(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.symbols, symbol)
}

// snapshotSymbols returns the client's current subscription set, or nil
// for "everything" (used to scope the welcome snapshot, spec §6).
func (c *client) snapshotSymbols() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.symbols) == 0 {
		return nil
	}
	out := make(map[string]bool, len(c.symbols))
	for s := range c.symbols {
		out[s] = true
	}
	return out
}

// Broadcaster is the downstream websocket hub (spec §4.C): heartbeats,
// per-client subscription filtering and a shared token-bucket rate
// limiter capping broadcast throughput at MAX_BROADCAST_TPS.
type Broadcaster struct {
	cfg      *config.Config
	bus      *eventbus.Bus
	kv       *kv.Store
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool

	tokens   chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
}

func NewBroadcaster(cfg *config.Config, bus *eventbus.Bus, kvStore *kv.Store) *Broadcaster {
	b := &Broadcaster{
		cfg:     cfg,
		bus:     bus,
		kv:      kvStore,
		clients: make(map[*client]bool),
		tokens:  make(chan struct{}, cfg.MaxBroadcastTPS),
		stop:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	go b.refillTokens()
	return b
}

func (b *Broadcaster) refillTokens() {
	if b.cfg.MaxBroadcastTPS <= 0 {
		return
	}
	interval := time.Second / time.Duration(b.cfg.MaxBroadcastTPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			select {
			case b.tokens <- struct{}{}:
			default:
			}
		}
	}
}

func (b *Broadcaster) Close() { b.stopOnce.Do(func() { close(b.stop) }) }

// ServeHTTP upgrades a connection and requires a static API key when
// one is configured (spec §4.C: "websocket auth uses a static API
// key, not an identity token").
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.cfg.FeedAPIKey != "" && r.Header.Get("X-API-Key") != b.cfg.FeedAPIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("pricehub: upgrade error: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBufSize)}
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		c.symbols = make(map[string]bool)
		for _, s := range splitCSV(raw) {
			c.symbols[s] = true
		}
	}

	b.register(c)
	metrics.WSClients.Inc()
	defer func() {
		b.unregister(c)
		metrics.WSClients.Dec()
		conn.Close()
	}()

	b.sendWelcome(r.Context(), c)

	go c.writePump()
	c.readPump()
}

// sendWelcome pushes the spec §6 connect snapshot — the latest price
// and cached orderbook for every symbol the client is subscribed to (or
// all known symbols, if unfiltered) — so a reconnecting client can
// rebuild its view from welcome + subsequent events alone.
func (b *Broadcaster) sendWelcome(ctx context.Context, c *client) {
	prices, err := b.kv.GetAllLatestPrices(ctx)
	if err != nil {
		log.Printf("pricehub: welcome price snapshot failed: %v", err)
		return
	}
	want := c.snapshotSymbols()
	msg := welcomeMessage{
		Type:       "welcome",
		Prices:     make(map[string]priceSnapshot, len(prices)),
		Orderbooks: make(map[string]orderbookSnapshot, len(prices)),
	}
	for symbol, p := range prices {
		if want != nil && !want[symbol] {
			continue
		}
		msg.Prices[symbol] = priceSnapshot{Price: p.Price, TS: p.TS}
		if snap, ok, err := b.kv.GetOrderbook(ctx, symbol); err == nil && ok {
			msg.Orderbooks[symbol] = orderbookSnapshot{Bids: snap.Bids, Asks: snap.Asks}
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		metrics.BroadcastDropped.Inc()
	}
}

type priceSnapshot struct {
	Price float64 `json:"price"`
	TS    int64   `json:"ts"`
}

type orderbookSnapshot struct {
	Bids []domain.DepthLevel `json:"bids"`
	Asks []domain.DepthLevel `json:"asks"`
}

type welcomeMessage struct {
	Type       string                       `json:"type"`
	Prices     map[string]priceSnapshot     `json:"prices"`
	Orderbooks map[string]orderbookSnapshot `json:"orderbooks"`
}

// clientMessage is the inbound shape for subscribe/unsubscribe (spec §6).
type clientMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func splitCSV(s string) []string {
	out := []string{}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.Symbol)
		case "unsubscribe":
			c.unsubscribe(msg.Symbol)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) register(c *client) {
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
}

func (b *Broadcaster) unregister(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

type tickMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TSMs   int64   `json:"ts"`
}

// BroadcastTick fans a tick out to every subscribed client, rate
// limited by the shared token bucket; a dropped tick is counted, not
// retried (spec §5 back-pressure rule).
func (b *Broadcaster) BroadcastTick(t domain.Tick) {
	select {
	case <-b.tokens:
	default:
		metrics.BroadcastDropped.Inc()
		return
	}
	data, err := json.Marshal(tickMessage{Type: "price", Symbol: t.Symbol, Price: t.Price, TSMs: t.TSMs})
	if err != nil {
		return
	}
	b.fanOut(t.Symbol, data)
}

type orderbookMessage struct {
	Type   string               `json:"type"`
	Symbol string               `json:"symbol"`
	Bids   []domain.DepthLevel  `json:"bids"`
	Asks   []domain.DepthLevel  `json:"asks"`
	TSMs   int64                `json:"ts"`
}

// BroadcastOrderbook fans a depth snapshot out, bypassing the tick
// rate limiter since snapshots are already throttled at the source.
func (b *Broadcaster) BroadcastOrderbook(s domain.DepthSnapshot) {
	data, err := json.Marshal(orderbookMessage{Type: "orderbook", Symbol: s.Symbol, Bids: s.Bids, Asks: s.Asks, TSMs: s.TSMs})
	if err != nil {
		return
	}
	b.fanOut(s.Symbol, data)
}

func (b *Broadcaster) fanOut(symbol string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.send <- data:
		default:
			metrics.BroadcastDropped.Inc()
		}
	}
}
