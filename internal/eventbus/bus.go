// Package eventbus implements the in-process publish/subscribe fabric
// (spec §4.F). Delivery is at-most-once per subscriber: a publish
// never blocks the publisher — a subscriber whose buffer is full
// silently misses the message, consistent with spec §5's back-pressure
// rule ("subscribers must tolerate message loss by always being able
// to recover from in-memory state and the KV latest_prices hash").
package eventbus

import "sync"

type Topic string

const (
	TopicPriceTicks    Topic = "price_ticks"
	TopicOrderbook     Topic = "orderbook" // per-symbol suffix applied by publisher
	TopicTradeEvents   Topic = "trade_events"
	TopicOrderEvents   Topic = "order_events"
	TopicAccountUpdate Topic = "account_update"
	TopicAccountUPnL   Topic = "account_upnl"
)

type TradeEventType string

const (
	TradeOpened TradeEventType = "TRADE_OPENED"
	TradeClosed TradeEventType = "TRADE_CLOSED"
)

type OrderEventType string

const (
	OrderEventPending  OrderEventType = "ORDER_PENDING"
	OrderEventFilled   OrderEventType = "ORDER_FILLED"
	OrderEventRejected OrderEventType = "ORDER_REJECTED"
)

// Message is the envelope delivered to subscribers.
type Message struct {
	Topic   Topic
	Payload any
}

type subscriber struct {
	ch chan Message
}

// Bus is a process-wide, fan-out, non-blocking publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
}

func New() *Bus {
	return &Bus{subs: make(map[Topic][]*subscriber)}
}

// Subscribe returns a channel of buffer size bufSize for the given topic.
func (b *Bus) Subscribe(topic Topic, bufSize int) <-chan Message {
	s := &subscriber{ch: make(chan Message, bufSize)}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s.ch
}

// Publish fans out to every subscriber of topic without blocking; a
// full subscriber channel simply drops this message for that subscriber.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
		}
	}
}
