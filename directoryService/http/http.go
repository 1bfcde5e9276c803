// Package http exposes the directory over HTTP and provides the clients
// brokers and end users use to reach it.
package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tanmay-xvx/meshbus/directoryService"
	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/topic"
)

// Handler serves the broker directory and the topic registry.
type Handler struct {
	svc       directoryService.DirectoryService
	log       logging.Logger
	startTime time.Time
}

// NewHandler creates a handler for svc.
func NewHandler(svc directoryService.DirectoryService, log logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{
		svc:       svc,
		log:       log.WithField("component", "directory-http"),
		startTime: time.Now(),
	}
}

// RegisterRoutes registers the directory routes with the mux router. The
// router matches on the escaped path so user names may contain '/'.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.UseEncodedPath()

	r.HandleFunc("/brokers", h.RegisterBroker).Methods(http.MethodPost)
	r.HandleFunc("/brokers", h.QueryBrokers).Methods(http.MethodGet)
	r.HandleFunc("/brokers/{id:[0-9]+}", h.GetBroker).Methods(http.MethodGet)

	reg := r.PathPrefix("/registry").Subrouter()
	reg.HandleFunc("/topics", h.AddTopic).Methods(http.MethodPost)
	reg.HandleFunc("/topics", h.ListAllTopics).Methods(http.MethodGet)
	reg.HandleFunc("/topics/{id}", h.GetTopic).Methods(http.MethodGet)
	reg.HandleFunc("/topics/{id}", h.DeleteTopic).Methods(http.MethodDelete)
	reg.HandleFunc("/topics/{id}/subscribers", h.GetAllSubscriberNames).Methods(http.MethodGet)
	reg.HandleFunc("/topics/{id}/subscribers", h.AddSubscriber).Methods(http.MethodPost)
	reg.HandleFunc("/topics/{id}/subscribers/{user}", h.RemoveSubscriber).Methods(http.MethodDelete)
	reg.HandleFunc("/subscribers/{user}/topics", h.GetSubscriptionsOf).Methods(http.MethodGet)
	reg.HandleFunc("/subscribers/{user}", h.DisconnectSubscriber).Methods(http.MethodDelete)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
}

// RegisterBroker handles POST /brokers.
// Expects JSON body: {"host": "127.0.0.1", "port": 2001}
func (h *Handler) RegisterBroker(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterBrokerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, buserr.New(buserr.ErrInvalidArgument, "Invalid JSON"))
		return
	}

	reg, err := h.svc.RegisterBroker(r.Context(), req.Host, req.Port)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// QueryBrokers handles GET /brokers.
func (h *Handler) QueryBrokers(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.QueryBrokers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// GetBroker handles GET /brokers/{id}.
func (h *Handler) GetBroker(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.GetBroker(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// AddTopic handles POST /registry/topics.
func (h *Handler) AddTopic(w http.ResponseWriter, r *http.Request) {
	var t topic.Topic
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		h.writeError(w, buserr.New(buserr.ErrInvalidArgument, "Invalid JSON"))
		return
	}
	if err := h.svc.Registry().AddTopic(r.Context(), t); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.Result{Result: "created"})
}

// ListAllTopics handles GET /registry/topics.
func (h *Handler) ListAllTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.svc.Registry().ListAllTopics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if topics == nil {
		topics = []topic.Topic{}
	}
	writeJSON(w, http.StatusOK, topics)
}

// GetTopic handles GET /registry/topics/{id}.
func (h *Handler) GetTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Registry().GetTopic(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTopic handles DELETE /registry/topics/{id}.
func (h *Handler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Registry().DeleteTopic(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Result: "deleted"})
}

// GetAllSubscriberNames handles GET /registry/topics/{id}/subscribers.
func (h *Handler) GetAllSubscriberNames(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	names, err := h.svc.Registry().GetAllSubscriberNames(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// AddSubscriber handles POST /registry/topics/{id}/subscribers.
func (h *Handler) AddSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req models.SubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.User == "" {
		h.writeError(w, buserr.New(buserr.ErrInvalidArgument, "User is required"))
		return
	}
	if err := h.svc.Registry().AddSubscriber(r.Context(), id, req.User); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.Result{Result: "subscribed"})
}

// RemoveSubscriber handles DELETE /registry/topics/{id}/subscribers/{user}.
func (h *Handler) RemoveSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	user, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Registry().RemoveSubscriber(r.Context(), id, user); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Result: "unsubscribed"})
}

// GetSubscriptionsOf handles GET /registry/subscribers/{user}/topics.
func (h *Handler) GetSubscriptionsOf(w http.ResponseWriter, r *http.Request) {
	user, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	ids, err := h.svc.Registry().GetSubscriptionsOf(r.Context(), user)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// DisconnectSubscriber handles DELETE /registry/subscribers/{user}.
func (h *Handler) DisconnectSubscriber(w http.ResponseWriter, r *http.Request) {
	user, ok := h.pathUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Registry().DisconnectSubscriber(r.Context(), user); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Result: "disconnected"})
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Brokers       int     `json:"brokers"`
	Timestamp     string  `json:"timestamp"`
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
	}
	if listing, err := h.svc.QueryBrokers(r.Context()); err == nil {
		resp.Brokers = len(listing.Brokers)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /stats requests.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	if s, ok := h.svc.(interface{ Stats() map[string]interface{} }); ok {
		stats = s.Stats()
	}
	stats["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, buserr.New(buserr.ErrInvalidArgument, "Invalid id %q", mux.Vars(r)["id"]))
		return 0, false
	}
	return id, true
}

func (h *Handler) pathUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := mux.Vars(r)["user"]
	user, err := url.PathUnescape(raw)
	if err != nil || user == "" {
		h.writeError(w, buserr.New(buserr.ErrInvalidArgument, "Invalid user %q", raw))
		return "", false
	}
	return user, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := buserr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, models.Result{Result: err.Error(), Kind: buserr.KindName(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
