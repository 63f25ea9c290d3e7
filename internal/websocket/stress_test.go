package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/authoritative/internal/packet"
)

// TestStressConcurrentLogins authenticates many sockets at once and walks
// each of them through client_ready.
func TestStressConcurrentLogins(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	const numClients = 500

	ts := startServer(t, false, 10*time.Second)
	tokens := make([]string, numClients)
	for i := range tokens {
		tokens[i] = ts.issue(t, fmt.Sprintf("player_%d", i)).AccessToken
	}

	var (
		connected atomic.Int64
		welcomed  atomic.Int64
		ready     atomic.Int64
		failures  atomic.Int64
		latency   atomic.Int64
		wg        sync.WaitGroup
	)

	// expect reads one packet and reports whether its tag is want.
	expect := func(conn *websocket.Conn, want packet.Tag) bool {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		p, err := packet.DecodeClientbound(data)
		return err == nil && p.Tag() == want
	}

	start := time.Now()
	for i, token := range tokens {
		i, token := i, token
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			header := http.Header{}
			header.Set("Authorization", "Bearer "+token)
			dialStart := time.Now()
			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, ts.url(), header)
			if err != nil {
				failures.Add(1)
				return
			}
			resp.Body.Close()
			defer conn.Close()
			connected.Add(1)

			conn.SetReadDeadline(time.Now().Add(20 * time.Second))
			if !expect(conn, packet.TagAcknowledge) || !expect(conn, packet.TagWelcome) {
				failures.Add(1)
				return
			}
			latency.Add(time.Since(dialStart).Microseconds())
			welcomed.Add(1)

			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"client_ready"}`)); err != nil {
				failures.Add(1)
				return
			}
			if !expect(conn, packet.TagSetEnforcedState) || !expect(conn, packet.TagForceScene) {
				failures.Add(1)
				return
			}
			ready.Add(1)
		}()

		// Stagger connection attempts
		if i%100 == 0 && i > 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	wg.Wait()

	duration := time.Since(start)
	avgLatency := int64(0)
	if n := welcomed.Load(); n > 0 {
		avgLatency = latency.Load() / n
	}

	t.Logf("duration=%v connected=%d welcomed=%d ready=%d failures=%d avg_login=%dµs",
		duration, connected.Load(), welcomed.Load(), ready.Load(), failures.Load(), avgLatency)

	if ready.Load() != numClients {
		t.Errorf("%d/%d clients reached ready (%d failures)", ready.Load(), numClients, failures.Load())
	}
}
