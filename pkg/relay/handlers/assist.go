// Package handlers implements the relay's HTTP surface.
package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearline/assist/pkg/relay/config"
	"github.com/clearline/assist/pkg/relay/protocol"
	"github.com/clearline/assist/pkg/relay/session"
	"github.com/clearline/assist/pkg/relay/sessions"
	"github.com/clearline/assist/pkg/relay/upstream"
)

// AssistHandler terminates /v1/assist websocket sessions: one client
// connection, one upstream backend session.
type AssistHandler struct {
	Config   config.Config
	Dialer   upstream.Dialer
	Logger   *slog.Logger
	Sessions *sessions.Tracker
	Draining *atomic.Bool
}

func (h AssistHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Draining != nil && h.Draining.Load() {
		http.Error(w, "relay is draining", http.StatusServiceUnavailable)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sessionID := "as_" + randHex(8)

	up, err := h.Dialer.Dial(r.Context())
	if err != nil {
		// The client always hears why the session never opened; it is never
		// silently dropped.
		logger.Warn("upstream dial failed", "session_id", sessionID, "error", err)
		_ = conn.WriteJSON(protocol.NewServerError("could not reach the assist backend"))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable"),
			time.Now().Add(2*time.Second))
		_ = conn.Close()
		return
	}

	bridge, err := session.New(session.Dependencies{
		Conn:      conn,
		Upstream:  up,
		Logger:    logger,
		SessionID: sessionID,
		Config: session.Config{
			WriteTimeout:  h.Config.WriteTimeout,
			ReadLimit:     h.Config.MaxJSONMessageBytes,
			MaxAudioBytes: h.Config.MaxAudioFrameBytes,
		},
	})
	if err != nil {
		_ = up.Close()
		_ = conn.Close()
		return
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{Cancel: bridge.Cancel})
	}
	defer unregister()

	logger.Info("assist session started", "session_id", sessionID)
	if err := bridge.Run(); err != nil {
		logger.Warn("assist session ended with error", "session_id", sessionID, "error", err)
		return
	}
	logger.Info("assist session ended", "session_id", sessionID)
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
