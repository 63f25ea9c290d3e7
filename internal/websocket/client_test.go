package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/authoritative"
	"github.com/luciancaetano/authoritative/internal/connection"
)

// clientPair returns a server-side Client and the dialed peer.
func clientPair(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()

	clients := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		clients <- NewClient(conn, uuid.NewString(), r.RemoteAddr, nil)
	}))
	t.Cleanup(srv.Close)

	peer, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { peer.Close() })

	select {
	case c := <-clients:
		t.Cleanup(func() {
			c.Close(authoritative.CloseNormal, "")
			<-c.Done()
		})
		return c, peer
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
		return nil, nil
	}
}

func TestClientIDFormat(t *testing.T) {
	t.Parallel()

	client, _ := clientPair(t)
	if _, err := uuid.Parse(client.ID()); err != nil {
		t.Errorf("ID %s is not a valid UUID: %v", client.ID(), err)
	}
	if client.RemoteAddr() == "" {
		t.Error("RemoteAddr() is empty")
	}
}

func TestCloseFollowsQueuedFrames(t *testing.T) {
	t.Parallel()

	client, peer := clientPair(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := client.WriteText(ctx, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("WriteText(%d) error = %v", i, err)
		}
	}
	if err := client.Close(authoritative.CloseSessionInvalidated, authoritative.ReasonSessionInvalidated); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 20; i++ {
		_, data, err := peer.ReadMessage()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if want := fmt.Sprintf(`{"n":%d}`, i); string(data) != want {
			t.Fatalf("frame %d = %s, want %s", i, data, want)
		}
	}

	_, _, err := peer.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("read error = %v, want close frame", err)
	}
	if closeErr.Code != authoritative.CloseSessionInvalidated || closeErr.Text != authoritative.ReasonSessionInvalidated {
		t.Errorf("close = %d %q", closeErr.Code, closeErr.Text)
	}
}

func TestWriteAfterClose(t *testing.T) {
	t.Parallel()

	client, _ := clientPair(t)
	if err := client.Close(authoritative.CloseNormal, ""); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(authoritative.CloseNormal, ""); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if client.IsAlive() {
		t.Error("IsAlive() = true after Close")
	}
	if err := client.WriteText(context.Background(), []byte(`{}`)); err == nil {
		t.Error("WriteText() after Close succeeded")
	}
}

func TestReadPumpTranslatesFrames(t *testing.T) {
	t.Parallel()

	client, peer := clientPair(t)
	inbound := make(chan connection.Inbound, 4)
	go client.readPump(inbound)

	if err := peer.WriteMessage(websocket.TextMessage, []byte(`hello`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := peer.WriteMessage(websocket.BinaryMessage, []byte{7}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	msg := websocket.FormatCloseMessage(authoritative.CloseGoingAway, "")
	if err := peer.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close: %v", err)
	}

	want := []connection.Inbound{
		{Data: []byte(`hello`)},
		{Data: []byte{7}, Binary: true},
		{Closed: true, CloseCode: authoritative.CloseGoingAway},
	}
	for i, w := range want {
		select {
		case got := <-inbound:
			if string(got.Data) != string(w.Data) || got.Binary != w.Binary || got.Closed != w.Closed || got.CloseCode != w.CloseCode {
				t.Errorf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}
