package api

import (
    "os"
    "testing"
    "time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
    b := NewBroker()
    topic := "t_test|2026-08-26"
    ch := b.Subscribe(topic)
    defer func() { recover() }() // ignore close panic if already closed

    evt := SSEEvent{Type: "test.event", Data: map[string]any{"x": 1}}
    b.Publish(topic, evt)

    select {
    case got := <-ch:
        if got.Type != evt.Type { t.Fatalf("got type %s, want %s", got.Type, evt.Type) }
        if got.Data["x"].(int) != 1 { t.Fatalf("bad payload: %+v", got.Data) }
    case <-time.After(200 * time.Millisecond):
        t.Fatal("timeout waiting for event")
    }

    b.Unsubscribe(topic, ch)
    select {
    case _, ok := <-ch:
        if ok { t.Fatal("channel should be closed after unsubscribe") }
    case <-time.After(50 * time.Millisecond):
        // acceptable if already drained and closed
    }
}

// Publishing after a subscriber leaves must never reach the dead channel.
func TestBrokerPublishAfterUnsubscribe(t *testing.T) {
    b := NewBroker()
    topic := "t_test|2026-08-26"
    ch := b.Subscribe(topic)
    keep := b.Subscribe(topic)
    b.Unsubscribe(topic, ch)

    b.Publish(topic, SSEEvent{Type: "plan.improved", Data: map[string]any{"n": 1}})

    select {
    case got := <-keep:
        if got.Type != "plan.improved" { t.Fatalf("got type %s", got.Type) }
    case <-time.After(200 * time.Millisecond):
        t.Fatal("remaining subscriber missed the event")
    }
}

func TestRedisBrokerUnsubscribeStopsFanout(t *testing.T) {
    if os.Getenv("REDIS_URL") == "" { t.Skip("REDIS_URL not set; skipping redis broker test") }
    b, err := NewRedisBroker()
    if err != nil { t.Fatalf("NewRedisBroker: %v", err) }
    topic := "t_test|2026-08-26"
    ch := b.Subscribe(topic)

    b.Publish(topic, SSEEvent{Type: "plan.improved", Data: map[string]any{"n": float64(1)}})
    select {
    case got := <-ch:
        if got.Type != "plan.improved" { t.Fatalf("got type %s", got.Type) }
    case <-time.After(2 * time.Second):
        t.Fatal("timeout waiting for published event")
    }

    b.Unsubscribe(topic, ch)
    // fanout goroutine closes ch once the PubSub shuts down
    select {
    case _, ok := <-ch:
        if ok { t.Fatal("expected closed channel after unsubscribe") }
    case <-time.After(2 * time.Second):
        t.Fatal("channel not closed after unsubscribe")
    }
    // one more publish on the topic must be a no-op for the gone subscriber
    b.Publish(topic, SSEEvent{Type: "plan.completed"})
    time.Sleep(100 * time.Millisecond)
}
