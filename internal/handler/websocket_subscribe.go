package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mssola/user_agent"
	"github.com/tripzi-app/calling/pkg/logger"
	"github.com/tripzi-app/calling/pkg/response"
	"github.com/tripzi-app/calling/pkg/signaling"
	"go.uber.org/zap"
)

var subscribeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second

	// events queued per subscriber before the connection is dropped as
	// too slow to keep up
	wsSendBuffer = 64
)

// handleSubscribe upgrades to a websocket and streams change-feed events
// as JSON frames. By default the feed covers every call the user takes
// part in; scope=incoming narrows it to calls ringing at the user, and
// callId pins it to one record.
//
// Credentials arrive as query parameters because browsers cannot set
// headers on websocket upgrades.
func (h *Handlers) handleSubscribe(c *gin.Context) {
	user, ok := h.authenticate(c)
	if !ok {
		response.Unauthorized(c, "Invalid credentials")
		return
	}

	var pred signaling.Predicate
	switch {
	case c.Query("callId") != "":
		callID := c.Query("callId")
		record, err := h.channel.Get(c.Request.Context(), callID)
		if err != nil {
			response.NotFound(c, "Call not found")
			return
		}
		if record.CallerID != user.UID && record.ReceiverID != user.UID {
			response.FailWithStatus(c, http.StatusForbidden, "Not a participant of this call")
			return
		}
		pred = signaling.ForCall(callID)
	case c.Query("scope") == "incoming":
		pred = signaling.ForReceiver(user.UID)
	default:
		pred = signaling.ForParticipant(user.UID)
	}

	conn, err := subscribeUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade subscription", zap.Error(err))
		return
	}

	ua := user_agent.New(c.Request.UserAgent())
	browser, _ := ua.Browser()
	logger.Info("Change-feed subscription opened",
		zap.String("uid", user.UID),
		zap.String("os", ua.OS()),
		zap.String("browser", browser),
		zap.Bool("mobile", ua.Mobile()))

	h.metrics.SubscriptionOpened()
	defer h.metrics.SubscriptionClosed()

	send := make(chan signaling.Event, wsSendBuffer)
	unsubscribe := h.channel.Subscribe(pred, func(ev signaling.Event) {
		select {
		case send <- ev:
		default:
			// slow consumer, the reader loop will notice the close
			conn.Close()
		}
	})
	defer unsubscribe()
	defer conn.Close()

	// the reader only services pongs and surfaces disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("Subscription write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
