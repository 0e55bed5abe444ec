// Package session bridges one client websocket to one upstream backend
// session, translating messages in both directions.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearline/assist/pkg/relay/protocol"
	"github.com/clearline/assist/pkg/relay/upstream"
)

type Config struct {
	WriteTimeout   time.Duration
	ReadLimit      int64
	MaxAudioBytes  int
	CloseGraceWait time.Duration
}

// Conn is the subset of *websocket.Conn the bridge needs. Tests substitute
// a fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Dependencies struct {
	Conn      Conn
	Upstream  upstream.Session
	Logger    *slog.Logger
	SessionID string
	Config    Config
}

// Bridge is the per-connection relay. It holds no conversation state of
// its own beyond the single upstream handle.
type Bridge struct {
	conn      Conn
	up        upstream.Session
	logger    *slog.Logger
	sessionID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	closing atomic.Bool
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, errors.New("connection is required")
	}
	if deps.Upstream == nil {
		return nil, errors.New("upstream session is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if deps.Config.CloseGraceWait <= 0 {
		deps.Config.CloseGraceWait = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conn:      deps.Conn,
		up:        deps.Upstream,
		logger:    deps.Logger,
		sessionID: deps.SessionID,
		cfg:       deps.Config,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Run relays until either side closes. It always tears down both sides
// before returning.
func (b *Bridge) Run() error {
	defer b.teardown()

	if b.cfg.ReadLimit > 0 {
		b.conn.SetReadLimit(b.cfg.ReadLimit)
	}

	inbound := make(chan inboundFrame, 1)
	go b.readLoop(inbound)

	for {
		select {
		case <-b.ctx.Done():
			return nil

		case ev, ok := <-b.up.Events():
			if !ok {
				// Backend side ended; mirror the close to the client.
				return nil
			}
			if err := b.handleUpstreamEvent(ev); err != nil {
				return err
			}

		case frame := <-inbound:
			if frame.err != nil {
				if b.closing.Load() || websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("client read: %w", frame.err)
			}
			b.handleClientFrame(frame)
		}
	}
}

// Cancel aborts the session from outside (server drain).
func (b *Bridge) Cancel() {
	b.cancel()
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	for {
		messageType, data, err := b.conn.ReadMessage()
		select {
		case out <- inboundFrame{messageType: messageType, data: data, err: err}:
		case <-b.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *Bridge) handleClientFrame(frame inboundFrame) {
	if frame.messageType != websocket.TextMessage {
		b.logger.Debug("dropping non-text client frame", "session_id", b.sessionID)
		return
	}

	decoded, err := protocol.DecodeClientMessage(frame.data)
	if err != nil {
		// Malformed frames are dropped individually; they never terminate
		// the connection.
		b.logger.Warn("dropping malformed client frame", "session_id", b.sessionID, "error", err)
		return
	}

	switch msg := decoded.(type) {
	case protocol.ClientAudio:
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable audio frame", "session_id", b.sessionID, "error", err)
			return
		}
		if b.cfg.MaxAudioBytes > 0 && len(pcm) > b.cfg.MaxAudioBytes {
			b.logger.Warn("dropping oversized audio frame", "session_id", b.sessionID, "bytes", len(pcm))
			return
		}
		if err := b.up.SendAudio(pcm); err != nil {
			b.logger.Warn("upstream audio send failed", "session_id", b.sessionID, "error", err)
		}
	case protocol.ClientImage:
		jpeg, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable image frame", "session_id", b.sessionID, "error", err)
			return
		}
		if err := b.up.SendImage(jpeg); err != nil {
			b.logger.Warn("upstream image send failed", "session_id", b.sessionID, "error", err)
		}
	}
}

func (b *Bridge) handleUpstreamEvent(ev upstream.Event) error {
	switch ev.Kind {
	case upstream.EventReady:
		return b.sendJSON(protocol.NewServerReady())
	case upstream.EventAudio:
		return b.sendJSON(protocol.NewServerAudio(base64.StdEncoding.EncodeToString(ev.Audio)))
	case upstream.EventText:
		return b.sendJSON(protocol.NewServerText(ev.Text))
	case upstream.EventUserText:
		return b.sendJSON(protocol.NewServerUserText(ev.Text))
	case upstream.EventTurnComplete:
		return b.sendJSON(protocol.NewServerTurnComplete())
	case upstream.EventInterrupted:
		return b.sendJSON(protocol.NewServerInterrupted())
	case upstream.EventToolCall:
		if ev.Tool.Name != upstream.EndSessionTool {
			return nil
		}
		if err := b.up.AckTool(ev.Tool); err != nil {
			b.logger.Warn("tool ack failed", "session_id", b.sessionID, "error", err)
		}
		return b.sendJSON(protocol.NewServerEndSession(ev.Tool.Summary))
	case upstream.EventError:
		b.logger.Warn("upstream error", "session_id", b.sessionID, "error", ev.Err)
		_ = b.sendJSON(protocol.NewServerError("backend session failed"))
		return ev.Err
	default:
		return nil
	}
}

// sendJSON writes one outbound message. The mutex keeps at most one
// message in flight; there is no outbound queue.
func (b *Bridge) sendJSON(v any) error {
	if b.closing.Load() {
		return nil
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	return b.conn.WriteJSON(v)
}

// teardown closes both sides exactly once; a second call is a no-op.
func (b *Bridge) teardown() {
	if b.closing.Swap(true) {
		return
	}
	b.cancel()
	_ = b.up.Close()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(b.cfg.CloseGraceWait))
	_ = b.conn.Close()
}
