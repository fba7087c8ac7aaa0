package eventbus

import "testing"

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	chA := b.Subscribe(TopicPriceTicks, 1)
	chB := b.Subscribe(TopicPriceTicks, 1)

	b.Publish(TopicPriceTicks, "tick-1")

	msgA := <-chA
	msgB := <-chB
	if msgA.Payload != "tick-1" || msgB.Payload != "tick-1" {
		t.Fatalf("both subscribers should receive the same payload, got %v and %v", msgA.Payload, msgB.Payload)
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicOrderEvents, 1)

	b.Publish(TopicOrderEvents, "first")
	b.Publish(TopicOrderEvents, "second") // buffer already full; must drop, not block

	msg := <-ch
	if msg.Payload != "first" {
		t.Fatalf("expected the first message to survive, got %v", msg.Payload)
	}
	select {
	case extra := <-ch:
		t.Fatalf("did not expect a second message, got %v", extra)
	default:
	}
}

func TestPublishToUnrelatedTopicDeliversNothing(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicAccountUpdate, 1)
	b.Publish(TopicTradeEvents, "irrelevant")

	select {
	case msg := <-ch:
		t.Fatalf("did not expect a message, got %v", msg)
	default:
	}
}
