// Package client maintains the websocket connection from the assist client
// to the relay and translates wire messages into controller events.
package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearline/assist/pkg/assist/capture"
	"github.com/clearline/assist/pkg/assist/controller"
	"github.com/clearline/assist/pkg/relay/protocol"
)

// Client is one live connection to the relay. Reads happen from a single
// goroutine via ReadEvent; writes are serialized internally.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  sync.Once
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// SendAudioFrame ships one capture frame upstream.
func (c *Client) SendAudioFrame(frame []int16) error {
	msg := protocol.ClientAudio{
		Type: protocol.TypeAudio,
		Data: base64.StdEncoding.EncodeToString(capture.Bytes(frame)),
	}
	return c.writeJSON(msg)
}

// SendImage ships one JPEG camera frame upstream.
func (c *Client) SendImage(jpeg []byte) error {
	msg := protocol.ClientImage{
		Type: protocol.TypeImage,
		Data: base64.StdEncoding.EncodeToString(jpeg),
	}
	return c.writeJSON(msg)
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// ReadEvent blocks for the next server message and maps it to a controller
// event. A read failure or connection close surfaces as an upstream-error
// event alongside the error.
func (c *Client) ReadEvent() (controller.Event, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return controller.Event{
				Kind:    controller.EventUpstreamError,
				Message: "connection closed",
			}, err
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			// Unknown or malformed server frames are skipped, not fatal.
			continue
		}
		switch m := msg.(type) {
		case protocol.ServerReady:
			return controller.Event{Kind: controller.EventReady}, nil
		case protocol.ServerAudio:
			pcm, err := base64.StdEncoding.DecodeString(m.Data)
			if err != nil {
				continue
			}
			return controller.Event{Kind: controller.EventAudio, Audio: pcm}, nil
		case protocol.ServerText:
			return controller.Event{Kind: controller.EventText, Text: m.Data}, nil
		case protocol.ServerUserText:
			return controller.Event{Kind: controller.EventUserTranscript, Text: m.Data}, nil
		case protocol.ServerTurnComplete:
			return controller.Event{Kind: controller.EventTurnComplete}, nil
		case protocol.ServerInterrupted:
			return controller.Event{Kind: controller.EventInterrupted}, nil
		case protocol.ServerEndSession:
			return controller.Event{Kind: controller.EventEndSession, Summary: m.Summary}, nil
		case protocol.ServerError:
			return controller.Event{Kind: controller.EventUpstreamError, Message: m.Message}, nil
		}
	}
}

func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		err = c.conn.Close()
	})
	return err
}

func closeDeadline() time.Time {
	return time.Now().Add(2 * time.Second)
}
