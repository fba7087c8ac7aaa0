package notify

import "testing"

func TestNewWithoutTokenReturnsNil(t *testing.T) {
	if n := New("", 123); n != nil {
		t.Fatalf("expected nil Notifier when token is empty, got %+v", n)
	}
}

func TestAlertOnNilNotifierIsNoop(t *testing.T) {
	var n *Notifier
	n.Alert("should not panic") // must be safe to call on a nil receiver
}
