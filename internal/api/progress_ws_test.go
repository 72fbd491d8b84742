package api

import (
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/gorilla/websocket"
)

func dialWaveWS(t *testing.T, s *Server) (*websocket.Conn, func()) {
    t.Helper()
    srv := httptest.NewServer(http.HandlerFunc(s.WaveWSHandler))
    wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", "t_test")
    hdr.Set("X-Role", "planner")
    conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
    if err != nil {
        srv.Close()
        t.Fatalf("dial: %v", err)
    }
    return conn, func() { _ = conn.Close(); srv.Close() }
}

func TestWaveWSSubscribeAndFanout(t *testing.T) {
    s := newTestServer(t)
    conn, cleanup := dialWaveWS(t, s)
    defer cleanup()

    if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil { t.Fatal(err) }
    var ack wsMessage
    if err := conn.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
        t.Fatalf("ack: %+v, %v", ack, err)
    }

    pl, _ := json.Marshal(wsSubscribePayload{WaveDate: "2026-08-26"})
    if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil { t.Fatal(err) }
    time.Sleep(50 * time.Millisecond) // let the fanout goroutine attach

    // hammer the topic from several goroutines; every write funnels through
    // the connection's single writer
    topic := waveTopic("t_test", "2026-08-26")
    var wg sync.WaitGroup
    for g := 0; g < 4; g++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for i := 0; i < 25; i++ {
                s.Broker.Publish(topic, SSEEvent{Type: "plan.improved", Data: map[string]any{"iteration": i}})
            }
        }()
    }
    wg.Wait()

    _ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
    var next wsMessage
    for {
        if err := conn.ReadJSON(&next); err != nil { t.Fatalf("read: %v", err) }
        if next.Type == "next" { break }
    }
    if next.ID != "1" { t.Fatalf("next for sub %q", next.ID) }
    var body map[string]any
    if err := json.Unmarshal(next.Payload, &body); err != nil || body["event"] != "plan.improved" {
        t.Fatalf("payload: %s, %v", next.Payload, err)
    }

    // complete tears the subscription down; later publishes are dropped
    if err := conn.WriteJSON(wsMessage{Type: "complete", ID: "1"}); err != nil { t.Fatal(err) }
    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish(topic, SSEEvent{Type: "plan.completed"})
}

func TestWaveWSSubscribeRequiresWaveDate(t *testing.T) {
    s := newTestServer(t)
    conn, cleanup := dialWaveWS(t, s)
    defer cleanup()

    if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil { t.Fatal(err) }
    var ack wsMessage
    if err := conn.ReadJSON(&ack); err != nil { t.Fatal(err) }

    if err := conn.WriteJSON(wsMessage{Type: "subscribe", ID: "9", Payload: []byte(`{}`)}); err != nil { t.Fatal(err) }
    _ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
    var errMsg, complete wsMessage
    if err := conn.ReadJSON(&errMsg); err != nil || errMsg.Type != "error" || errMsg.ID != "9" {
        t.Fatalf("error msg: %+v, %v", errMsg, err)
    }
    if err := conn.ReadJSON(&complete); err != nil || complete.Type != "complete" {
        t.Fatalf("complete msg: %+v, %v", complete, err)
    }
}

func TestWaveWSForbiddenRole(t *testing.T) {
    s := newTestServer(t)
    srv := httptest.NewServer(http.HandlerFunc(s.WaveWSHandler))
    defer srv.Close()
    wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", "t_test")
    hdr.Set("X-Role", "worker")
    _, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
    if err == nil { t.Fatal("worker role should not upgrade") }
    if resp == nil || resp.StatusCode != http.StatusForbidden {
        t.Fatalf("expected 403, got %+v", resp)
    }
}
