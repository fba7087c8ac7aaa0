// Package kv is the key-value fan-out layer (spec §6, "KV store
// layout"): the latest_prices hash, the per-symbol tick ring, depth
// snapshots with a TTL, the idempotency-key dedup table, the bounded
// audit list, and a Publish helper for the pub/sub channels named
// below. Built on github.com/redis/go-redis/v9, grounded on
// the redis usage in the other_examples handikong-little_cex manifest.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradingcore/internal/domain"
)

const (
	hashLatestPrices = "latest_prices"
	keyOrderbookFmt  = "orderbook:%s"
	keyTicksFmt      = "ticks:%s"
	keyIdemFmt       = "idem:%s"
	listAuditOrders  = "audit:orders"

	ChannelPriceTicks = "price_ticks"
	ChannelTradeEvts  = "trade_events"
	ChannelOrderEvts  = "order_events"
	ChannelPrices     = "prices"
)

func ChannelOrderbook(symbol string) string { return "orderbook_" + symbol }

type Store struct {
	rdb *redis.Client
}

func Open(url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse url: %w", err)
	}
	return &Store{rdb: redis.NewClient(opt)}, nil
}

func WithClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) Close() error { return s.rdb.Close() }

type priceEntry struct {
	Price float64 `json:"price"`
	TS    int64   `json:"ts"`
}

// SetLatestPrice writes the last-price hash field for a symbol.
func (s *Store) SetLatestPrice(ctx context.Context, symbol string, price float64, tsMs int64) error {
	b, _ := json.Marshal(priceEntry{Price: price, TS: tsMs})
	if err := s.rdb.HSet(ctx, hashLatestPrices, symbol, b).Err(); err != nil {
		return fmt.Errorf("kv: set latest price: %w", err)
	}
	return nil
}

// GetLatestPrice reads the last-price hash field for a symbol.
func (s *Store) GetLatestPrice(ctx context.Context, symbol string) (price float64, tsMs int64, ok bool, err error) {
	raw, e := s.rdb.HGet(ctx, hashLatestPrices, symbol).Bytes()
	if e == redis.Nil {
		return 0, 0, false, nil
	}
	if e != nil {
		return 0, 0, false, fmt.Errorf("kv: get latest price: %w", e)
	}
	var entry priceEntry
	if e := json.Unmarshal(raw, &entry); e != nil {
		return 0, 0, false, fmt.Errorf("kv: decode latest price: %w", e)
	}
	return entry.Price, entry.TS, true, nil
}

// GetAllLatestPrices reads the whole latest_prices hash (used by the
// websocket "welcome" snapshot, spec §6).
func (s *Store) GetAllLatestPrices(ctx context.Context) (map[string]priceEntry, error) {
	raw, err := s.rdb.HGetAll(ctx, hashLatestPrices).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: get all latest prices: %w", err)
	}
	out := make(map[string]priceEntry, len(raw))
	for symbol, v := range raw {
		var entry priceEntry
		if json.Unmarshal([]byte(v), &entry) == nil {
			out[symbol] = entry
		}
	}
	return out, nil
}

// PushTick left-pushes a tick onto ticks:{symbol} and trims to limit.
func (s *Store) PushTick(ctx context.Context, symbol string, price float64, tsMs int64, limit int64) error {
	b, _ := json.Marshal(priceEntry{Price: price, TS: tsMs})
	pipe := s.rdb.TxPipeline()
	key := fmt.Sprintf(keyTicksFmt, symbol)
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: push tick: %w", err)
	}
	return nil
}

// SetOrderbook writes a depth snapshot with a bounded TTL.
func (s *Store) SetOrderbook(ctx context.Context, snap domain.DepthSnapshot, ttl time.Duration) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("kv: encode orderbook: %w", err)
	}
	key := fmt.Sprintf(keyOrderbookFmt, snap.Symbol)
	if err := s.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set orderbook: %w", err)
	}
	return nil
}

// GetOrderbook reads the cached depth snapshot, if still within TTL.
func (s *Store) GetOrderbook(ctx context.Context, symbol string) (domain.DepthSnapshot, bool, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(keyOrderbookFmt, symbol)).Bytes()
	if err == redis.Nil {
		return domain.DepthSnapshot{}, false, nil
	}
	if err != nil {
		return domain.DepthSnapshot{}, false, fmt.Errorf("kv: get orderbook: %w", err)
	}
	var snap domain.DepthSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.DepthSnapshot{}, false, fmt.Errorf("kv: decode orderbook: %w", err)
	}
	return snap, true, nil
}

// ReserveIdempotencyKey implements the spec §6 idem:{key}->order_id
// contract with a 300s TTL. Returns (existingOrderID, true) if the key
// was already claimed, or ("", false) if this call claimed it.
func (s *Store) ReserveIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) (existing string, already bool, err error) {
	redisKey := fmt.Sprintf(keyIdemFmt, key)
	ok, err := s.rdb.SetNX(ctx, redisKey, orderID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("kv: reserve idempotency key: %w", err)
	}
	if ok {
		return "", false, nil
	}
	existing, err = s.rdb.Get(ctx, redisKey).Result()
	if err != nil {
		return "", false, fmt.Errorf("kv: read idempotency key: %w", err)
	}
	return existing, true, nil
}

// AppendOrderAudit left-pushes onto audit:orders, trimmed to 10000.
func (s *Store) AppendOrderAudit(ctx context.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kv: encode order audit: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, listAuditOrders, b)
	pipe.LTrim(ctx, listAuditOrders, 0, 9999)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: append order audit: %w", err)
	}
	return nil
}

// Publish fans a JSON-encoded message out on a Redis pub/sub channel
// (spec §6 "Channels"), consumed by other service instances.
func (s *Store) Publish(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kv: encode publish payload: %w", err)
	}
	if err := s.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("kv: publish: %w", err)
	}
	return nil
}
