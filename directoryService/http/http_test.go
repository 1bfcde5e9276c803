package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"

	"github.com/tanmay-xvx/meshbus/brokerService"
	brokerhttp "github.com/tanmay-xvx/meshbus/brokerService/http"
	"github.com/tanmay-xvx/meshbus/directoryService"
	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/config"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/registry"
	"github.com/tanmay-xvx/meshbus/internals/topic"
)

func setupTestDirectory(t *testing.T) (*directoryService.Service, *httptest.Server) {
	t.Helper()

	svc := directoryService.NewService(registry.NewRegistry(nil), nil, nil)
	svc.SetResolver(func(ctx context.Context, host string) ([]string, error) {
		if host == "127.0.0.1" {
			return []string{host}, nil
		}
		return nil, errors.New("no such host")
	})

	router := mux.NewRouter()
	NewHandler(svc, nil).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return svc, server
}

func serverAddr(s *httptest.Server) string {
	return strings.TrimPrefix(s.URL, "http://")
}

func TestRegisterBroker_Route(t *testing.T) {
	_, server := setupTestDirectory(t)
	router := server.Config.Handler

	body, _ := json.Marshal(models.RegisterBrokerRequest{Host: "127.0.0.1", Port: 2001})
	req := httptest.NewRequest("POST", "/brokers", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	var reg models.Registration
	if err := json.NewDecoder(w.Body).Decode(&reg); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if reg.ID != 1 {
		t.Errorf("Expected id 1, got %d", reg.ID)
	}
}

func TestRegisterBroker_UnknownHost(t *testing.T) {
	_, server := setupTestDirectory(t)

	body, _ := json.Marshal(models.RegisterBrokerRequest{Host: "nowhere.invalid", Port: 2001})
	w := httptest.NewRecorder()
	server.Config.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/brokers", bytes.NewBuffer(body)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	var result models.Result
	json.NewDecoder(w.Body).Decode(&result)
	if result.Kind != "unknown_host" {
		t.Errorf("Expected kind unknown_host, got %q", result.Kind)
	}
}

func TestGetBroker_NotFoundRoute(t *testing.T) {
	_, server := setupTestDirectory(t)

	w := httptest.NewRecorder()
	server.Config.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/brokers/9", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	svc, server := setupTestDirectory(t)
	svc.RegisterBroker(context.Background(), "127.0.0.1", 2001)

	w := httptest.NewRecorder()
	server.Config.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" || resp.Brokers != 1 {
		t.Errorf("Unexpected health response %+v", resp)
	}
}

func TestDirectoryClient(t *testing.T) {
	_, server := setupTestDirectory(t)
	client := NewDirectoryClient(serverAddr(server), time.Second)
	ctx := context.Background()

	if _, err := client.RegisterBroker(ctx, "127.0.0.1", 2001); err != nil {
		t.Fatalf("RegisterBroker failed: %v", err)
	}
	reg, err := client.RegisterBroker(ctx, "127.0.0.1", 2002)
	if err != nil {
		t.Fatalf("RegisterBroker failed: %v", err)
	}
	want := []models.BrokerAddress{{Host: "127.0.0.1", Port: 2001}}
	if reg.ID != 2 || !reflect.DeepEqual(reg.Peers, want) {
		t.Errorf("Expected id 2 with peers %v, got %+v", want, reg)
	}

	listing, err := client.QueryBrokers(ctx)
	if err != nil {
		t.Fatalf("QueryBrokers failed: %v", err)
	}
	if listing.Listing != "Active brokers (ip:port):\n[1] 127.0.0.1 : 2001\n[2] 127.0.0.1 : 2002" {
		t.Errorf("Unexpected listing %q", listing.Listing)
	}

	entry, err := client.GetBroker(ctx, 2)
	if err != nil || entry.Port != 2002 {
		t.Errorf("GetBroker = %+v, %v", entry, err)
	}
	if _, err := client.GetBroker(ctx, 7); !errors.Is(err, buserr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := client.RegisterBroker(ctx, "nowhere.invalid", 2003); !errors.Is(err, buserr.ErrUnknownHost) {
		t.Errorf("Expected ErrUnknownHost, got %v", err)
	}
}

func TestDirectoryClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := serverAddr(server)
	server.Close()

	client := NewDirectoryClient(addr, time.Second)
	if _, err := client.QueryBrokers(context.Background()); !errors.Is(err, buserr.ErrCommunication) {
		t.Errorf("Expected ErrCommunication, got %v", err)
	}
}

func TestRegistryClient_RoundTrip(t *testing.T) {
	svc, server := setupTestDirectory(t)
	client := NewRegistryClient(serverAddr(server), time.Second)
	ctx := context.Background()

	if err := client.AddTopic(ctx, topic.Topic{ID: 2, Name: "b", Owner: "alice"}); err != nil {
		t.Fatalf("AddTopic failed: %v", err)
	}
	if err := client.AddTopic(ctx, topic.Topic{ID: 1, Name: "a", Owner: "bob"}); err != nil {
		t.Fatalf("AddTopic failed: %v", err)
	}
	if err := client.AddTopic(ctx, topic.Topic{ID: 1, Name: "dup", Owner: "carol"}); !errors.Is(err, registry.ErrTopicAlreadyExists) {
		t.Errorf("Expected ErrTopicAlreadyExists, got %v", err)
	}

	if err := client.AddSubscriber(ctx, 1, "sam"); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}
	if err := client.AddSubscriber(ctx, 2, "sam"); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}
	if err := client.AddSubscriber(ctx, 1, "sam"); !errors.Is(err, registry.ErrAlreadySubscribed) {
		t.Errorf("Expected ErrAlreadySubscribed, got %v", err)
	}
	if err := client.AddSubscriber(ctx, 9, "sam"); !errors.Is(err, registry.ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound, got %v", err)
	}

	topics, err := client.ListAllTopics(ctx)
	if err != nil {
		t.Fatalf("ListAllTopics failed: %v", err)
	}
	if len(topics) != 2 || topics[0].ID != 1 || topics[1].ID != 2 {
		t.Errorf("Expected topics ordered by id, got %+v", topics)
	}

	got, err := client.GetTopic(ctx, 1)
	if err != nil || got.Subscribers != 1 || got.Owner != "bob" {
		t.Errorf("GetTopic = %+v, %v", got, err)
	}
	if _, err := client.GetTopic(ctx, 9); !errors.Is(err, registry.ErrTopicNotFound) {
		t.Errorf("Expected ErrTopicNotFound, got %v", err)
	}

	names, err := client.GetAllSubscriberNames(ctx, 1)
	if err != nil || !reflect.DeepEqual(names, []string{"sam"}) {
		t.Errorf("GetAllSubscriberNames = %v, %v", names, err)
	}

	ids, err := client.GetSubscriptionsOf(ctx, "sam")
	if err != nil || !reflect.DeepEqual(ids, []int{1, 2}) {
		t.Errorf("GetSubscriptionsOf = %v, %v", ids, err)
	}

	if err := client.RemoveSubscriber(ctx, 1, "sam"); err != nil {
		t.Errorf("RemoveSubscriber failed: %v", err)
	}
	if err := client.DisconnectSubscriber(ctx, "sam"); err != nil {
		t.Errorf("DisconnectSubscriber failed: %v", err)
	}
	ids, err = client.GetSubscriptionsOf(ctx, "sam")
	if err != nil || ids == nil || len(ids) != 0 {
		t.Errorf("Expected empty non-nil subscriptions, got %v, %v", ids, err)
	}
	names, _ = client.GetAllSubscriberNames(ctx, 2)
	if names != nil {
		t.Errorf("Expected no subscribers, got %v", names)
	}

	if err := client.DeleteTopic(ctx, 2); err != nil {
		t.Errorf("DeleteTopic failed: %v", err)
	}
	local, _ := svc.Registry().ListAllTopics(ctx)
	if len(local) != 1 || local[0].ID != 1 {
		t.Errorf("Expected only topic 1 left, got %+v", local)
	}
}

type testBroker struct {
	broker *brokerService.Broker
	server *httptest.Server
	self   models.BrokerAddress
}

// startBroker wires a broker to the directory the way the broker command
// does: registry client, peer dialer, chi routes.
func startBroker(t *testing.T, dirAddr string) *testBroker {
	t.Helper()

	cfg := config.NewConfig()
	reg := NewRegistryClient(dirAddr, 2*time.Second)
	broker := brokerService.NewBroker(reg, brokerhttp.PeerDialer(2*time.Second), cfg, nil, nil)

	router := chi.NewRouter()
	brokerhttp.NewHandler(broker, cfg, nil).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	_, portText, _ := strings.Cut(serverAddr(server), ":")
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("bad port %q", portText)
	}
	self := models.BrokerAddress{Host: "127.0.0.1", Port: port}
	return &testBroker{broker: broker, server: server, self: self}
}

func TestRegistryClient_UserNamesWithSlash(t *testing.T) {
	_, server := setupTestDirectory(t)
	client := NewRegistryClient(serverAddr(server), time.Second)
	ctx := context.Background()

	if err := client.AddTopic(ctx, topic.Topic{ID: 1, Name: "news", Owner: "team/alice"}); err != nil {
		t.Fatalf("AddTopic failed: %v", err)
	}
	if err := client.AddSubscriber(ctx, 1, "team/bob"); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}

	ids, err := client.GetSubscriptionsOf(ctx, "team/bob")
	if err != nil || !reflect.DeepEqual(ids, []int{1}) {
		t.Errorf("GetSubscriptionsOf = %v, %v", ids, err)
	}

	if err := client.RemoveSubscriber(ctx, 1, "team/bob"); err != nil {
		t.Errorf("RemoveSubscriber failed: %v", err)
	}
	if names, _ := client.GetAllSubscriberNames(ctx, 1); len(names) != 0 {
		t.Errorf("Expected no subscribers after removal, got %v", names)
	}

	if err := client.AddSubscriber(ctx, 1, "team/bob"); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}
	if err := client.DisconnectSubscriber(ctx, "team/bob"); err != nil {
		t.Errorf("DisconnectSubscriber failed: %v", err)
	}
	if names, _ := client.GetAllSubscriberNames(ctx, 1); len(names) != 0 {
		t.Errorf("Expected no subscribers after disconnect, got %v", names)
	}
}

func TestMeshThroughDirectory(t *testing.T) {
	_, dir := setupTestDirectory(t)
	dirClient := NewDirectoryClient(serverAddr(dir), 2*time.Second)
	ctx := context.Background()

	a := startBroker(t, serverAddr(dir))
	if _, err := a.broker.Join(ctx, dirClient, a.self); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	a.broker.Announce(ctx)

	b := startBroker(t, serverAddr(dir))
	reg, err := b.broker.Join(ctx, dirClient, b.self)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if reg.ID != 2 || len(reg.Peers) != 1 {
		t.Fatalf("Expected id 2 with one peer, got %+v", reg)
	}
	b.broker.Announce(ctx)

	if peers := a.broker.Peers(); len(peers) != 1 || peers[0] != b.self.String() {
		t.Errorf("Expected broker A to know B after announce, got %v", peers)
	}

	pub := brokerhttp.NewPublisherClient(a.self.String(), 2*time.Second)
	if _, err := pub.Create(ctx, 1, "news", "alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// topic is visible to a subscriber on the other broker
	msgs := make(chan models.ServerMsg, 4)
	sub, err := brokerhttp.DialSubscriber(ctx, b.self.String(), config.NewConfig().WSPath, "sam",
		func(m models.ServerMsg) { msgs <- m })
	if err != nil {
		t.Fatalf("DialSubscriber failed: %v", err)
	}
	defer sub.Close()

	list, err := sub.List(ctx)
	if err != nil || !strings.Contains(list, "news") {
		t.Errorf("List = %q, %v", list, err)
	}
	if _, err := sub.Sub(ctx, 1); err != nil {
		t.Fatalf("Sub failed: %v", err)
	}

	if _, err := pub.Publish(ctx, 1, "hello", "alice"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case m := <-msgs:
		if m.Text != "1:news: hello" {
			t.Errorf("Expected %q, got %q", "1:news: hello", m.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for federated delivery")
	}
}
