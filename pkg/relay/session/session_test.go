package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clearline/assist/pkg/relay/protocol"
	"github.com/clearline/assist/pkg/relay/upstream"
)

type readResult struct {
	messageType int
	data        []byte
	err         error
}

type fakeConn struct {
	reads chan readResult

	mu     sync.Mutex
	writes []any
	closes int
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("read on closed fake conn")
	}
	return r.messageType, r.data, r.err
}

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(int64)               {}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.writes))
	copy(out, c.writes)
	return out
}

type fakeUpstream struct {
	events chan upstream.Event

	mu     sync.Mutex
	audio  [][]byte
	images [][]byte
	acked  []upstream.ToolInvocation
	closes int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan upstream.Event, 16)}
}

func (u *fakeUpstream) Events() <-chan upstream.Event { return u.events }

func (u *fakeUpstream) SendAudio(pcm []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.audio = append(u.audio, pcm)
	return nil
}

func (u *fakeUpstream) SendImage(jpeg []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.images = append(u.images, jpeg)
	return nil
}

func (u *fakeUpstream) AckTool(inv upstream.ToolInvocation) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.acked = append(u.acked, inv)
	return nil
}

func (u *fakeUpstream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closes++
	return nil
}

func (u *fakeUpstream) audioFrames() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([][]byte, len(u.audio))
	copy(out, u.audio)
	return out
}

func newTestBridge(t *testing.T) (*Bridge, *fakeConn, *fakeUpstream) {
	t.Helper()
	conn := newFakeConn()
	up := newFakeUpstream()
	b, err := New(Dependencies{
		Conn:      conn,
		Upstream:  up,
		SessionID: "as_test",
		Config:    Config{MaxAudioBytes: 8192},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, conn, up
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runBridge(b *Bridge) chan error {
	done := make(chan error, 1)
	go func() { done <- b.Run() }()
	return done
}

func clientFrame(t *testing.T, typ string, data string) readResult {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"type": typ, "data": data})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return readResult{messageType: websocket.TextMessage, data: raw}
}

func TestRunTranslatesUpstreamEvents(t *testing.T) {
	b, conn, up := newTestBridge(t)
	done := runBridge(b)

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	up.events <- upstream.Event{Kind: upstream.EventReady}
	up.events <- upstream.Event{Kind: upstream.EventAudio, Audio: pcm}
	up.events <- upstream.Event{Kind: upstream.EventText, Text: "hel"}
	up.events <- upstream.Event{Kind: upstream.EventUserText, Text: "my wifi "}
	up.events <- upstream.Event{Kind: upstream.EventTurnComplete}
	up.events <- upstream.Event{Kind: upstream.EventInterrupted}
	close(up.events)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := conn.written()
	if len(writes) != 6 {
		t.Fatalf("expected 6 writes, got %d: %#v", len(writes), writes)
	}
	if _, ok := writes[0].(protocol.ServerReady); !ok {
		t.Fatalf("expected ServerReady first, got %T", writes[0])
	}
	audio, ok := writes[1].(protocol.ServerAudio)
	if !ok {
		t.Fatalf("expected ServerAudio, got %T", writes[1])
	}
	if audio.Data != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatalf("audio payload mismatch: %q", audio.Data)
	}
	text, ok := writes[2].(protocol.ServerText)
	if !ok || text.Data != "hel" {
		t.Fatalf("expected text fragment, got %#v", writes[2])
	}
	userText, ok := writes[3].(protocol.ServerUserText)
	if !ok || userText.Data != "my wifi " {
		t.Fatalf("expected user text fragment, got %#v", writes[3])
	}
	if _, ok := writes[4].(protocol.ServerTurnComplete); !ok {
		t.Fatalf("expected ServerTurnComplete, got %T", writes[4])
	}
	if _, ok := writes[5].(protocol.ServerInterrupted); !ok {
		t.Fatalf("expected ServerInterrupted, got %T", writes[5])
	}
}

func TestRunForwardsClientAudio(t *testing.T) {
	b, conn, up := newTestBridge(t)
	done := runBridge(b)

	pcm := []byte{1, 2, 3, 4, 5, 6}
	conn.reads <- clientFrame(t, "audio", base64.StdEncoding.EncodeToString(pcm))

	waitFor(t, "audio forwarded", func() bool { return len(up.audioFrames()) == 1 })
	if got := up.audioFrames()[0]; string(got) != string(pcm) {
		t.Fatalf("forwarded audio mismatch: %v", got)
	}

	close(up.events)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunDropsMalformedFrames(t *testing.T) {
	b, conn, up := newTestBridge(t)
	done := runBridge(b)

	conn.reads <- readResult{messageType: websocket.TextMessage, data: []byte(`{{{`)}
	conn.reads <- readResult{messageType: websocket.TextMessage, data: []byte(`{"type":"bogus"}`)}
	conn.reads <- readResult{messageType: websocket.BinaryMessage, data: []byte{1, 2, 3}}
	// A well-formed frame after the garbage still goes through.
	conn.reads <- clientFrame(t, "audio", base64.StdEncoding.EncodeToString([]byte{9, 9}))

	waitFor(t, "good frame forwarded", func() bool { return len(up.audioFrames()) == 1 })

	close(up.events)
	if err := <-done; err != nil {
		t.Fatalf("malformed frames must not kill the session: %v", err)
	}
}

func TestRunDropsOversizedAudio(t *testing.T) {
	conn := newFakeConn()
	up := newFakeUpstream()
	b, err := New(Dependencies{
		Conn:     conn,
		Upstream: up,
		Config:   Config{MaxAudioBytes: 4},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := runBridge(b)

	conn.reads <- clientFrame(t, "audio", base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5}))
	conn.reads <- clientFrame(t, "audio", base64.StdEncoding.EncodeToString([]byte{1, 2}))

	waitFor(t, "small frame forwarded", func() bool { return len(up.audioFrames()) == 1 })
	if got := up.audioFrames()[0]; len(got) != 2 {
		t.Fatalf("oversized frame should have been dropped, got %v", got)
	}

	close(up.events)
	<-done
}

func TestRunEndSessionToolCall(t *testing.T) {
	b, conn, up := newTestBridge(t)
	done := runBridge(b)

	up.events <- upstream.Event{Kind: upstream.EventToolCall, Tool: upstream.ToolInvocation{
		ID:      "call_1",
		Name:    upstream.EndSessionTool,
		Summary: "Router rebooted, issue resolved",
	}}
	close(up.events)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	up.mu.Lock()
	acked := len(up.acked)
	up.mu.Unlock()
	if acked != 1 {
		t.Fatalf("expected 1 tool ack, got %d", acked)
	}

	writes := conn.written()
	if len(writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(writes))
	}
	end, ok := writes[0].(protocol.ServerEndSession)
	if !ok {
		t.Fatalf("expected ServerEndSession, got %T", writes[0])
	}
	if end.Summary != "Router rebooted, issue resolved" {
		t.Fatalf("summary mismatch: %q", end.Summary)
	}
}

func TestRunUpstreamErrorNotifiesClient(t *testing.T) {
	b, conn, up := newTestBridge(t)
	done := runBridge(b)

	up.events <- upstream.Event{Kind: upstream.EventError, Err: errors.New("backend gone")}

	if err := <-done; err == nil {
		t.Fatal("expected Run to surface the upstream error")
	}

	writes := conn.written()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one error write, got %d", len(writes))
	}
	if _, ok := writes[0].(protocol.ServerError); !ok {
		t.Fatalf("expected ServerError, got %T", writes[0])
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	b, conn, up := newTestBridge(t)
	done := runBridge(b)

	close(up.events)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Racing closes after Run already tore down must be no-ops.
	b.teardown()
	b.Cancel()
	b.teardown()

	up.mu.Lock()
	upCloses := up.closes
	up.mu.Unlock()
	if upCloses != 1 {
		t.Fatalf("upstream closed %d times, want 1", upCloses)
	}
	conn.mu.Lock()
	connCloses := conn.closes
	conn.mu.Unlock()
	if connCloses != 1 {
		t.Fatalf("conn closed %d times, want 1", connCloses)
	}
}

func TestCancelStopsRun(t *testing.T) {
	b, _, up := newTestBridge(t)
	done := runBridge(b)

	b.Cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Cancel")
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if up.closes != 1 {
		t.Fatalf("upstream closed %d times, want 1", up.closes)
	}
}
