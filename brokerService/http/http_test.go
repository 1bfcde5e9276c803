package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tanmay-xvx/meshbus/brokerService"
	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/config"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/registry"
)

type testBroker struct {
	broker  *brokerService.Broker
	handler *Handler
	server  *httptest.Server
	addr    string
}

func newTestBroker(t *testing.T, reg registry.TopicRegistry) *testBroker {
	t.Helper()

	cfg := config.NewConfig()
	cfg.RequestTimeout = 2 * time.Second
	broker := brokerService.NewBroker(reg, PeerDialer(cfg.RequestTimeout), cfg, nil, nil)
	handler := NewHandler(broker, cfg, nil)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testBroker{
		broker:  broker,
		handler: handler,
		server:  server,
		addr:    strings.TrimPrefix(server.URL, "http://"),
	}
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) models.Result {
	t.Helper()
	var result models.Result
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return result
}

func dialSubscriber(t *testing.T, tb *testBroker, user string) (*SubscriberClient, chan models.ServerMsg) {
	t.Helper()
	msgs := make(chan models.ServerMsg, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := DialSubscriber(ctx, tb.addr, tb.handler.cfg.WSPath, user, func(m models.ServerMsg) {
		msgs <- m
	})
	if err != nil {
		t.Fatalf("DialSubscriber failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, msgs
}

func waitMessage(t *testing.T, msgs chan models.ServerMsg) models.ServerMsg {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for delivery")
		return models.ServerMsg{}
	}
}

func TestCreateTopic_Success(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))

	body, _ := json.Marshal(models.CreateTopicRequest{ID: 1, Name: "news", User: "alice"})
	req := httptest.NewRequest("POST", "/pub/topics", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	result := decodeResult(t, w)
	if result.Result != "SUCCESS: Topic 1 created." {
		t.Errorf("Unexpected result %q", result.Result)
	}
	if result.Kind != "" {
		t.Errorf("Expected no kind on success, got %q", result.Kind)
	}
}

func TestCreateTopic_Duplicate(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))
	router := tb.server.Config.Handler

	for i, want := range []int{http.StatusOK, http.StatusConflict} {
		body, _ := json.Marshal(models.CreateTopicRequest{ID: 1, Name: "news", User: "alice"})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/pub/topics", bytes.NewBuffer(body)))
		if w.Code != want {
			t.Errorf("Request %d: expected status %d, got %d", i, want, w.Code)
		}
		if i == 1 {
			result := decodeResult(t, w)
			if result.Kind != "duplicate_topic" {
				t.Errorf("Expected kind duplicate_topic, got %q", result.Kind)
			}
			if result.Result != "ERROR: Topic ID already exists. Please choose a new ID" {
				t.Errorf("Unexpected result %q", result.Result)
			}
		}
	}
}

func TestCreateTopic_InvalidJSON(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))

	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/pub/topics", strings.NewReader("{")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if kind := decodeResult(t, w).Kind; kind != "invalid_argument" {
		t.Errorf("Expected kind invalid_argument, got %q", kind)
	}
}

func TestPublish_InvalidTopicID(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))

	body, _ := json.Marshal(models.PublishRequest{User: "alice", Message: "hi"})
	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/pub/topics/abc/messages", bytes.NewBuffer(body)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestDelete_MissingUser(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))

	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, httptest.NewRequest("DELETE", "/pub/topics/1", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestWebSocket_MissingUser(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))

	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, httptest.NewRequest("GET", tb.handler.cfg.WSPath, nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))

	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status healthy, got %q", resp.Status)
	}
}

func TestStats(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))

	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var stats map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	for _, key := range []string{"broker_id", "peers", "sessions", "recent_evictions", "metrics"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Expected stats key %q", key)
		}
	}
}

func TestPublisherClient_Lifecycle(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))
	pub := NewPublisherClient(tb.addr, 2*time.Second)
	ctx := context.Background()

	text, err := pub.Create(ctx, 7, "sports", "alice")
	if err != nil || text != "SUCCESS: Topic 7 created." {
		t.Fatalf("Create = %q, %v", text, err)
	}

	_, err = pub.Create(ctx, 7, "sports", "bob")
	if !errors.Is(err, buserr.ErrDuplicateTopic) {
		t.Errorf("Expected ErrDuplicateTopic, got %v", err)
	}
	if err != nil && err.Error() != "ERROR: Topic ID already exists. Please choose a new ID" {
		t.Errorf("Unexpected error text %q", err.Error())
	}

	if _, err := pub.Publish(ctx, 7, "goal", "bob"); !errors.Is(err, buserr.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}

	text, err = pub.Publish(ctx, 7, "goal", "alice")
	if err != nil || text != "SUCCESS: Message published for topic 7." {
		t.Errorf("Publish = %q, %v", text, err)
	}

	text, err = pub.Show(ctx, "alice")
	if err != nil || !strings.Contains(text, "sports") {
		t.Errorf("Show = %q, %v", text, err)
	}

	if err := pub.SendPubHeartbeat(ctx, "alice"); err != nil {
		t.Errorf("SendPubHeartbeat failed: %v", err)
	}

	text, err = pub.Delete(ctx, 7, "alice")
	if err != nil || text != "Topic id 7 successfully deleted." {
		t.Errorf("Delete = %q, %v", text, err)
	}

	if _, err := pub.Delete(ctx, 7, "alice"); !errors.Is(err, buserr.ErrNoSuchOwnership) {
		t.Errorf("Expected ErrNoSuchOwnership, got %v", err)
	}

	if err := pub.PubDisconnect(ctx, "alice"); err != nil {
		t.Errorf("PubDisconnect failed: %v", err)
	}
}

type discardCallback struct{}

func (discardCallback) ReceiveMessage(text string) error { return nil }

func TestUserNamesWithSlash(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))
	pub := NewPublisherClient(tb.addr, 2*time.Second)
	ctx := context.Background()

	if _, err := pub.Create(ctx, 1, "news", "team/alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := pub.SendPubHeartbeat(ctx, "team/alice"); err != nil {
		t.Errorf("SendPubHeartbeat failed: %v", err)
	}
	text, err := pub.Show(ctx, "team/alice")
	if err != nil || !strings.Contains(text, "news") {
		t.Errorf("Show = %q, %v", text, err)
	}

	if _, err := tb.broker.Sub(ctx, 1, discardCallback{}, "team/bob"); err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	w := httptest.NewRecorder()
	tb.server.Config.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/sub/subscribers/team%2Fbob/topics", nil))
	if result := decodeResult(t, w); !strings.Contains(result.Result, "1 : news : team/alice") {
		t.Errorf("Current = %q", result.Result)
	}

	if err := pub.PubDisconnect(ctx, "team/alice"); err != nil {
		t.Fatalf("PubDisconnect failed: %v", err)
	}
	if text, _ := tb.broker.List(ctx); strings.Contains(text, "team/alice") {
		t.Errorf("Expected team/alice's topics removed, got %q", text)
	}
	if tracked := tb.broker.Stats()["tracked_publishers"].(int); tracked != 0 {
		t.Errorf("Expected no tracked publishers, got %d", tracked)
	}
}

func TestPublisherClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	pub := NewPublisherClient(addr, time.Second)
	if _, err := pub.Create(context.Background(), 1, "news", "alice"); !errors.Is(err, buserr.ErrCommunication) {
		t.Errorf("Expected ErrCommunication, got %v", err)
	}
}

func TestPeerDialer_InvalidAddress(t *testing.T) {
	dial := PeerDialer(time.Second)
	if _, err := dial("no-port"); !errors.Is(err, buserr.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if _, err := dial("127.0.0.1:2001"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestSubscriberClient_Requests(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))
	ctx := context.Background()
	pub := NewPublisherClient(tb.addr, 2*time.Second)
	if _, err := pub.Create(ctx, 1, "news", "alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sub, _ := dialSubscriber(t, tb, "bob")

	if _, err := sub.Sub(ctx, 99); !errors.Is(err, buserr.ErrUnknownTopic) {
		t.Errorf("Expected ErrUnknownTopic, got %v", err)
	}
	if _, err := sub.Unsub(ctx, 1); !errors.Is(err, buserr.ErrNotSubscribed) {
		t.Errorf("Expected ErrNotSubscribed, got %v", err)
	}

	text, err := sub.Sub(ctx, 1)
	if err != nil || text != "SUCCESS: Successfully subscribed to topic 1." {
		t.Errorf("Sub = %q, %v", text, err)
	}
	if _, err := sub.Sub(ctx, 1); !errors.Is(err, buserr.ErrAlreadySubscribed) {
		t.Errorf("Expected ErrAlreadySubscribed, got %v", err)
	}

	text, err = sub.Current(ctx)
	if err != nil || !strings.Contains(text, "1 : news : alice") {
		t.Errorf("Current = %q, %v", text, err)
	}

	text, err = sub.List(ctx)
	if err != nil || !strings.Contains(text, "news") {
		t.Errorf("List = %q, %v", text, err)
	}

	if err := sub.SendSubHeartbeat(ctx); err != nil {
		t.Errorf("SendSubHeartbeat failed: %v", err)
	}

	text, err = sub.Unsub(ctx, 1)
	if err != nil || text != "SUCCESS: Successfully unsubscribed from topic 1." {
		t.Errorf("Unsub = %q, %v", text, err)
	}
}

func TestSubscriberClient_ReceivesLocalPublication(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))
	ctx := context.Background()
	pub := NewPublisherClient(tb.addr, 2*time.Second)
	if _, err := pub.Create(ctx, 3, "weather", "alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sub, msgs := dialSubscriber(t, tb, "bob")
	if _, err := sub.Sub(ctx, 3); err != nil {
		t.Fatalf("Sub failed: %v", err)
	}

	if _, err := pub.Publish(ctx, 3, "sunny", "alice"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	m := waitMessage(t, msgs)
	if m.Text != "3:weather: sunny" {
		t.Errorf("Expected %q, got %q", "3:weather: sunny", m.Text)
	}
	if m.Ts.IsZero() {
		t.Error("Expected a delivery timestamp")
	}
}

func TestSubscriberClient_ReceivesFederatedPublication(t *testing.T) {
	reg := registry.NewRegistry(nil)
	a := newTestBroker(t, reg)
	b := newTestBroker(t, reg)
	ctx := context.Background()

	if err := NewPeerClient(b.addr, time.Second).ReceiveConnection(ctx, a.addr); err != nil {
		t.Fatalf("ReceiveConnection failed: %v", err)
	}
	if err := NewPeerClient(a.addr, time.Second).ReceiveConnection(ctx, b.addr); err != nil {
		t.Fatalf("ReceiveConnection failed: %v", err)
	}

	pub := NewPublisherClient(a.addr, 2*time.Second)
	if _, err := pub.Create(ctx, 5, "markets", "alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sub, msgs := dialSubscriber(t, b, "bob")
	if _, err := sub.Sub(ctx, 5); err != nil {
		t.Fatalf("Sub failed: %v", err)
	}

	if _, err := pub.Publish(ctx, 5, "up", "alice"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if m := waitMessage(t, msgs); m.Text != "5:markets: up" {
		t.Errorf("Expected %q, got %q", "5:markets: up", m.Text)
	}

	if _, err := pub.Delete(ctx, 5, "alice"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	want := "5:markets: Topic 5 has been deleted and removed from your subscription list."
	if m := waitMessage(t, msgs); m.Text != want {
		t.Errorf("Expected %q, got %q", want, m.Text)
	}

	text, err := sub.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if strings.Contains(text, "markets") {
		t.Errorf("Deleted topic still listed: %q", text)
	}
}

func TestSubscriberClient_Disconnect(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))
	ctx := context.Background()

	sub, _ := dialSubscriber(t, tb, "bob")
	if err := sub.SendSubHeartbeat(ctx); err != nil {
		t.Fatalf("SendSubHeartbeat failed: %v", err)
	}

	if err := sub.SubDisconnect(ctx); err != nil {
		t.Errorf("SubDisconnect failed: %v", err)
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Client connection not closed after disconnect")
	}

	if _, err := sub.List(ctx); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tb.handler.SessionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := tb.handler.SessionCount(); n != 0 {
		t.Errorf("Expected 0 sessions, got %d", n)
	}
}

func TestHandlerShutdown_ClosesSessions(t *testing.T) {
	tb := newTestBroker(t, registry.NewRegistry(nil))
	client, _ := dialSubscriber(t, tb, "bob")

	if _, err := client.List(context.Background()); err != nil {
		t.Fatalf("List failed: %v", err)
	}

	tb.handler.Shutdown()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Client connection was not closed by Shutdown")
	}

	deadline := time.Now().Add(2 * time.Second)
	for tb.handler.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected no sessions after Shutdown, got %d", tb.handler.SessionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
