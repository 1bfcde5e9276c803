package http

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/models"
	"github.com/tanmay-xvx/meshbus/internals/subscriber"
)

// HandleWebSocket attaches a subscriber. The session it creates is the
// callback handle the broker delivers to; subscriber requests arrive as
// JSON frames on the same connection.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		h.writeResult(w, "", buserr.New(buserr.ErrInvalidArgument, "User is required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.closing, func() {
		cancel()
		conn.Close()
	})
	defer stop()

	session := subscriber.NewSession(user, conn, h.cfg.SendBufferSize, h.log)
	session.StartWriter(ctx, h.cfg.WriteTimeout)

	h.sessionsMu.Lock()
	h.sessions[session] = struct{}{}
	h.sessionsMu.Unlock()

	defer func() {
		h.broker.DetachCallback(user, session)
		h.sessionsMu.Lock()
		delete(h.sessions, session)
		h.sessionsMu.Unlock()
		session.Close()
		h.log.WithField("user", user).Info("Subscriber connection closed")
	}()

	h.log.WithField("user", user).Info("Subscriber connected")
	h.handleMessages(ctx, session)
}

// handleMessages reads subscriber requests until the connection closes or
// the subscriber disconnects.
func (h *Handler) handleMessages(ctx context.Context, session *subscriber.Session) {
	for {
		var msg models.WSClientMsg
		if err := session.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).WithField("user", session.User).Warn("WebSocket read error")
			}
			return
		}

		if done := h.dispatch(ctx, session, msg); done {
			return
		}
	}
}

// dispatch runs one request and queues its reply. It reports whether the
// session should end.
func (h *Handler) dispatch(ctx context.Context, session *subscriber.Session, msg models.WSClientMsg) bool {
	user := session.User

	var (
		text string
		err  error
		done bool
	)
	switch msg.Type {
	case models.MsgTypeSub:
		text, err = h.broker.Sub(ctx, msg.TopicID, session, user)
	case models.MsgTypeUnsub:
		text, err = h.broker.Unsub(ctx, msg.TopicID, user)
	case models.MsgTypeCurrent:
		text, err = h.broker.Current(ctx, user)
	case models.MsgTypeList:
		text, err = h.broker.List(ctx)
	case models.MsgTypeHeartbeat:
		err = h.broker.SendSubHeartbeat(ctx, user)
	case models.MsgTypeDisconnect:
		err = h.broker.SubDisconnect(ctx, user)
		done = true
	default:
		err = buserr.New(buserr.ErrInvalidArgument, "Unknown message type: %s", msg.Type)
	}

	if msg.RequestID == "" && err == nil {
		return done
	}

	reply := models.NewServerMsg(models.MsgTypeResult, msg.RequestID, text)
	if err != nil {
		reply = models.NewServerError(msg.RequestID, buserr.KindName(err), err.Error())
	}
	if rerr := session.Reply(reply); rerr != nil {
		h.log.WithError(rerr).WithField("user", user).Warnf("Failed to reply to %s", msg.Type)
	}

	if done {
		// let the writer flush the reply before the connection goes away
		session.Close()
	}
	return done
}
