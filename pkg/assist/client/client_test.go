package client

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/clearline/assist/pkg/assist/controller"
	"github.com/clearline/assist/pkg/relay/protocol"
)

// wsTestServer upgrades one connection and hands it to fn.
func wsTestServer(t *testing.T, fn func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendImageWritesImageFrame(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	received := make(chan protocol.ClientImage, 1)
	url := wsTestServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		var msg protocol.ClientImage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Errorf("decode image frame: %v", err)
			return
		}
		received <- msg
	})

	c, err := Dial(t.Context(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.SendImage(jpeg); err != nil {
		t.Fatalf("send image: %v", err)
	}
	msg := <-received
	if msg.Type != protocol.TypeImage {
		t.Fatalf("type = %q, want %q", msg.Type, protocol.TypeImage)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if string(decoded) != string(jpeg) {
		t.Fatalf("payload = %v, want %v", decoded, jpeg)
	}
}

func TestReadEventMapsServerMessages(t *testing.T) {
	url := wsTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(protocol.NewServerUserText("my wifi is down"))
		_ = conn.WriteJSON(protocol.NewServerText("let's check the router"))
		// Unknown frame types are skipped, not surfaced.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))
		_ = conn.WriteJSON(protocol.NewServerTurnComplete())
	})

	c, err := Dial(t.Context(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	want := []controller.Event{
		{Kind: controller.EventUserTranscript, Text: "my wifi is down"},
		{Kind: controller.EventText, Text: "let's check the router"},
		{Kind: controller.EventTurnComplete},
	}
	for i, w := range want {
		ev, err := c.ReadEvent()
		if err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		if ev.Kind != w.Kind || ev.Text != w.Text {
			t.Fatalf("event %d = %+v, want %+v", i, ev, w)
		}
	}
}
