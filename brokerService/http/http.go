// Package http exposes a broker over HTTP and websockets, and provides the
// clients publishers, subscribers and peer brokers use to reach it.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/tanmay-xvx/meshbus/brokerService"
	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/config"
	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/subscriber"
)

// Broker is what the handlers need from the broker core.
type Broker interface {
	brokerService.PublisherOps
	brokerService.SubscriberOps
	brokerService.PeerOps
	DetachCallback(user string, cb brokerService.Callback)
	Stats() map[string]interface{}
}

// Handler serves the publisher, subscriber and peer APIs of one broker.
type Handler struct {
	broker    Broker
	cfg       *config.Config
	log       logging.Logger
	upgrader  websocket.Upgrader
	startTime time.Time

	sessionsMu sync.RWMutex
	sessions   map[*subscriber.Session]struct{}

	// closing is cancelled by Shutdown to end hijacked websocket sessions.
	closing  context.Context
	closeAll context.CancelFunc
}

// NewHandler creates a handler for broker.
func NewHandler(broker Broker, cfg *config.Config, log logging.Logger) *Handler {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if log == nil {
		log = logging.NewNop()
	}
	closing, closeAll := context.WithCancel(context.Background())
	return &Handler{
		broker: broker,
		cfg:    cfg,
		log:    log.WithField("component", "broker-http"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		startTime: time.Now(),
		sessions:  make(map[*subscriber.Session]struct{}),
		closing:   closing,
		closeAll:  closeAll,
	}
}

// Shutdown cancels in-flight subscriber requests and closes every websocket.
// Register it with http.Server.RegisterOnShutdown.
func (h *Handler) Shutdown() {
	h.closeAll()
}

// RegisterRoutes registers all broker routes with the chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/pub", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Post("/topics", h.Create)
		r.Post("/topics/{id}/messages", h.Publish)
		r.Delete("/topics/{id}", h.Delete)
		r.Get("/publishers/{user}/topics", h.Show)
		r.Post("/publishers/{user}/disconnect", h.PubDisconnect)
		r.Post("/publishers/{user}/heartbeat", h.PubHeartbeat)
	})

	r.Route("/sub", func(r chi.Router) {
		r.Get("/topics", h.List)
		r.Get("/subscribers/{user}/topics", h.Current)
	})
	r.Get(h.cfg.WSPath, h.HandleWebSocket)

	r.Route("/peer", func(r chi.Router) {
		r.Post("/messages", h.ReceiveMessage)
		r.Post("/connections", h.ReceiveConnection)
	})

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
}

// Create handles POST /pub/topics.
// Expects JSON body: {"id": 1, "name": "news", "user": "alice"}
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "Invalid JSON"))
		return
	}
	if req.User == "" || req.Name == "" {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "Topic name and user are required"))
		return
	}

	text, err := h.broker.Create(r.Context(), req.ID, req.Name, req.User)
	h.writeResult(w, text, err)
}

// Publish handles POST /pub/topics/{id}/messages.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := h.topicID(w, r)
	if !ok {
		return
	}

	var req models.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "Invalid JSON"))
		return
	}

	text, err := h.broker.Publish(r.Context(), id, req.Message, req.User)
	h.writeResult(w, text, err)
}

// Delete handles DELETE /pub/topics/{id}?user=.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.topicID(w, r)
	if !ok {
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "User is required"))
		return
	}

	text, err := h.broker.Delete(r.Context(), id, user)
	h.writeResult(w, text, err)
}

// Show handles GET /pub/publishers/{user}/topics.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}
	text, err := h.broker.Show(r.Context(), user)
	h.writeResult(w, text, err)
}

// PubDisconnect handles POST /pub/publishers/{user}/disconnect.
func (h *Handler) PubDisconnect(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}
	err := h.broker.PubDisconnect(r.Context(), user)
	h.writeResult(w, "", err)
}

// PubHeartbeat handles POST /pub/publishers/{user}/heartbeat.
func (h *Handler) PubHeartbeat(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}
	err := h.broker.SendPubHeartbeat(r.Context(), user)
	h.writeResult(w, "", err)
}

// List handles GET /sub/topics.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	text, err := h.broker.List(r.Context())
	h.writeResult(w, text, err)
}

// Current handles GET /sub/subscribers/{user}/topics.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}
	text, err := h.broker.Current(r.Context(), user)
	h.writeResult(w, text, err)
}

// ReceiveMessage handles POST /peer/messages from a peer broker.
func (h *Handler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	var req models.PeerMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "Invalid JSON"))
		return
	}

	err := h.broker.ReceiveMessageFromBroker(r.Context(), req.TopicID, req.Message)
	h.writeResult(w, "", err)
}

// ReceiveConnection handles POST /peer/connections from a joining broker.
func (h *Handler) ReceiveConnection(w http.ResponseWriter, r *http.Request) {
	var req models.PeerConnection
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "Peer address is required"))
		return
	}

	err := h.broker.ReceiveConnection(r.Context(), req.Address)
	h.writeResult(w, "", err)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Sessions      int     `json:"sessions"`
	Timestamp     string  `json:"timestamp"`
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Sessions:      h.SessionCount(),
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}

// Stats handles GET /stats requests.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.broker.Stats()
	stats["sessions"] = h.SessionCount()
	stats["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, stats)
}

// SessionCount returns the number of open subscriber websockets.
func (h *Handler) SessionCount() int {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return len(h.sessions)
}

func (h *Handler) topicID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "Invalid topic ID. Please enter a valid number."))
		return 0, false
	}
	return id, true
}

// userParam returns the decoded {user} segment. chi matches on the raw path
// when the URL carries escapes, so the segment is unescaped here.
func (h *Handler) userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := chi.URLParam(r, "user")
	if r.URL.RawPath != "" {
		var err error
		if user, err = url.PathUnescape(user); err != nil {
			h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "Invalid user %q", chi.URLParam(r, "user")))
			return "", false
		}
	}
	return user, true
}

// writeResult renders an operation outcome. Business failures carry their
// user-facing text and kind; the status code follows the kind.
func (h *Handler) writeResult(w http.ResponseWriter, text string, err error) {
	if err != nil {
		status := buserr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.WithError(err).Warn("Request failed")
		}
		writeJSON(w, status, models.Result{Result: err.Error(), Kind: buserr.KindName(err)})
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Result: text})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
