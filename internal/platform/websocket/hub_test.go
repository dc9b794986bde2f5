package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newClient(hub *Hub, id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8), hub: hub}
}

func TestEncounterTopic(t *testing.T) {
	id := uuid.MustParse("7d1c0b0e-2f6a-4b39-9a51-0d8f0a7b3c21")
	if got := EncounterTopic(id); got != "encounter:7d1c0b0e-2f6a-4b39-9a51-0d8f0a7b3c21" {
		t.Errorf("unexpected topic %q", got)
	}
	if !validTopic(EncounterTopic(id)) {
		t.Error("encounter topic should be valid")
	}
	for _, bad := range []string{"", "encounter:", "encounter:abc", "Patient/123", id.String()} {
		if validTopic(bad) {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := EncounterTopic(uuid.New())
	c := newClient(hub, "c1", topic)

	hub.Register(c)
	if hub.ClientCount() != 1 || hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 client on topic, got %d/%d", hub.ClientCount(), hub.TopicCount(topic))
	}

	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 || hub.TopicCount(topic) != 0 {
		t.Fatalf("expected empty hub, got %d/%d", hub.ClientCount(), hub.TopicCount(topic))
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected Send channel to be closed")
	}
}

func TestHub_SubscribeFiltersTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient(hub, "c1")
	hub.Register(c)

	good := EncounterTopic(uuid.New())
	accepted := hub.Subscribe(c, []string{good, "Patient/1", good})
	if len(accepted) != 1 || accepted[0] != good {
		t.Fatalf("expected only %s accepted, got %v", good, accepted)
	}
	if len(c.Topics) != 1 {
		t.Errorf("expected 1 topic on client, got %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{good}})
	if hub.TopicCount(good) != 0 || len(c.Topics) != 0 {
		t.Errorf("expected unsubscribed, got count=%d topics=%v", hub.TopicCount(good), c.Topics)
	}
}

func TestHub_PublishOnlyToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	enc := uuid.New()
	sub := newClient(hub, "sub", EncounterTopic(enc))
	other := newClient(hub, "other", EncounterTopic(uuid.New()))
	hub.Register(sub)
	hub.Register(other)

	ev, err := NewEvent(EventSegmentAppended, enc, "seg-1", map[string]string{"speaker": "provider"})
	if err != nil {
		t.Fatal(err)
	}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-sub.Send:
		var got Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatal(err)
		}
		if got.Type != EventSegmentAppended || got.EncounterID != enc || got.ResourceID != "seg-1" {
			t.Errorf("unexpected event %+v", got)
		}
		if string(got.Data) != `{"speaker":"provider"}` {
			t.Errorf("unexpected data %s", got.Data)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("non-subscriber received event")
	default:
	}
}

func TestHub_PublishSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	enc := uuid.New()
	c := &Client{ID: "slow", Topics: []string{EncounterTopic(enc)}, Send: make(chan []byte, 1)}
	hub.Register(c)

	ev, _ := NewEvent(EventDraftGenerated, enc, "", nil)
	for i := 0; i < 3; i++ {
		if err := hub.Publish(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
	if len(c.Send) != 1 {
		t.Errorf("expected exactly one buffered event, got %d", len(c.Send))
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topic := EncounterTopic(uuid.New())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(hub, uuid.NewString(), topic)
			hub.Register(c)
			ev, _ := NewEvent(EventSegmentAppended, uuid.Nil, "", nil)
			ev.Topic = topic
			_ = hub.Publish(context.Background(), ev)
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("boom")
}

func TestEmit_SwallowsErrors(t *testing.T) {
	pub := &failingPublisher{}
	Emit(context.Background(), pub, zerolog.Nop(), EventSessionCompleted, uuid.New(), "s1", nil)
	if pub.calls != 1 {
		t.Errorf("expected one publish attempt, got %d", pub.calls)
	}
	Emit(context.Background(), nil, zerolog.Nop(), EventSessionCompleted, uuid.New(), "s1", nil)
}

func TestEmit_UnmarshalableData(t *testing.T) {
	pub := &failingPublisher{}
	Emit(context.Background(), pub, zerolog.Nop(), EventDraftUpdated, uuid.New(), "", func() {})
	if pub.calls != 0 {
		t.Errorf("expected no publish for unmarshalable data, got %d", pub.calls)
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://app.example"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.upgrader.CheckOrigin(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}

	open := NewHandler(NewHub(zerolog.Nop()), nil)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	if !open.upgrader.CheckOrigin(r) {
		t.Error("empty allow list should accept any origin")
	}
}

func TestHandler_RequiresUpgrade(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), rec)
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	if err := h.HandleConnect(c); err == nil {
		t.Error("expected an error for a plain HTTP request")
	}
}

func TestHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, nil).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	enc := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topic=" + EncounterTopic(enc)
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(EncounterTopic(enc)) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not subscribed from the query string")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second := uuid.New()
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{EncounterTopic(second)}}); err != nil {
		t.Fatal(err)
	}
	for hub.TopicCount(EncounterTopic(second)) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscribe message was not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev, _ := NewEvent(EventCodesSuggested, second, "", nil)
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != EventCodesSuggested || got.EncounterID != second {
		t.Errorf("unexpected event %+v", got)
	}
}
