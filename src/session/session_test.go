package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
)

type testGateway struct {
	srv *httptest.Server
	url string

	mu        sync.Mutex
	conns     []*websocket.Conn
	onFrame   func(conn *websocket.Conn, frame map[string]interface{})
	authReply map[string]interface{}
}

func newTestGateway(t *testing.T) *testGateway {
	g := &testGateway{}

	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var auth map[string]interface{}
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}

		g.mu.Lock()
		authReply := g.authReply
		g.mu.Unlock()

		if authReply != nil {
			conn.WriteJSON(authReply)
			conn.Close()
			return
		}

		if err := conn.WriteJSON(map[string]interface{}{"status": "ok"}); err != nil {
			return
		}

		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()

		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}

			g.mu.Lock()
			onFrame := g.onFrame
			g.mu.Unlock()

			if onFrame != nil {
				onFrame(conn, frame)
			}
		}
	}))

	g.url = "ws" + strings.TrimPrefix(g.srv.URL, "http")
	t.Cleanup(g.srv.Close)

	return g
}

func (g *testGateway) setOnFrame(fn func(conn *websocket.Conn, frame map[string]interface{})) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.onFrame = fn
}

func (g *testGateway) latestConn(t *testing.T) *websocket.Conn {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		n := len(g.conns)
		g.mu.Unlock()

		if n > 0 {
			g.mu.Lock()
			defer g.mu.Unlock()
			return g.conns[n-1]
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("gateway never accepted a connection")
	return nil
}

func (g *testGateway) push(t *testing.T, event map[string]interface{}) {
	conn := g.latestConn(t)
	require.NoError(t, conn.WriteJSON(event))
}

type recordingListener struct {
	events chan eventmodels.TerminalEvent
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan eventmodels.TerminalEvent, 16)}
}

func (l *recordingListener) OnTerminalEvent(event eventmodels.TerminalEvent) error {
	l.events <- event
	return nil
}

func (l *recordingListener) next(t *testing.T) eventmodels.TerminalEvent {
	select {
	case event := <-l.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

type failingListener struct {
	calls int32
}

func (l *failingListener) OnTerminalEvent(event eventmodels.TerminalEvent) error {
	atomic.AddInt32(&l.calls, 1)
	return fmt.Errorf("deliberately broken listener")
}

func TestSessionConnect(t *testing.T) {
	t.Run("connect is idempotent", func(t *testing.T) {
		g := newTestGateway(t)

		s := NewTerminalSession(g.url, "token")
		defer s.Close()

		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Connect(context.Background()))
		assert.True(t, s.IsConnected())
	})

	t.Run("rejected token surfaces as a typed error", func(t *testing.T) {
		g := newTestGateway(t)
		g.authReply = map[string]interface{}{"error": "UnauthorizedError", "message": "token rejected"}

		s := NewTerminalSession(g.url, "bad-token")
		defer s.Close()

		err := s.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, eventmodels.HasErrorKind(err, eventmodels.ErrorKindUnauthorized))
	})

	t.Run("calling before connect fails fast", func(t *testing.T) {
		g := newTestGateway(t)

		s := NewTerminalSession(g.url, "token")
		defer s.Close()

		_, err := s.Call(context.Background(), "account-1", eventmodels.RpcRequest{"type": "subscribe"})
		assert.ErrorIs(t, err, NotConnectedErr)
	})
}

func TestSessionCall(t *testing.T) {
	t.Run("resolves against the matching response", func(t *testing.T) {
		g := newTestGateway(t)
		g.setOnFrame(func(conn *websocket.Conn, frame map[string]interface{}) {
			require.Equal(t, "account-1", frame["accountId"], "session injects the account id")

			conn.WriteJSON(map[string]interface{}{
				"requestId": frame["requestId"],
				"balance":   7319.9,
			})
		})

		s := NewTerminalSession(g.url, "token")
		defer s.Close()
		require.NoError(t, s.Connect(context.Background()))

		payload, err := s.Call(context.Background(), "account-1", eventmodels.RpcRequest{"type": "getAccountInformation"})
		require.NoError(t, err)

		var body struct {
			Balance float64 `json:"balance"`
		}
		require.NoError(t, json.Unmarshal(payload, &body))
		assert.Equal(t, 7319.9, body.Balance)
	})

	t.Run("error frames map to typed errors", func(t *testing.T) {
		g := newTestGateway(t)
		g.setOnFrame(func(conn *websocket.Conn, frame map[string]interface{}) {
			conn.WriteJSON(map[string]interface{}{
				"requestId": frame["requestId"],
				"error":     "NotSynchronizedError",
				"message":   "terminal state is not synchronized",
			})
		})

		s := NewTerminalSession(g.url, "token")
		defer s.Close()
		require.NoError(t, s.Connect(context.Background()))

		_, err := s.Call(context.Background(), "account-1", eventmodels.RpcRequest{"type": "getPositions"})
		require.Error(t, err)
		assert.True(t, eventmodels.HasErrorKind(err, eventmodels.ErrorKindNotSynchronized))
	})

	t.Run("caller timeout abandons the pending slot", func(t *testing.T) {
		g := newTestGateway(t)
		// The gateway swallows every request.

		s := NewTerminalSession(g.url, "token")
		defer s.Close()
		require.NoError(t, s.Connect(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := s.Call(ctx, "account-1", eventmodels.RpcRequest{"type": "getPositions"})
		require.Error(t, err)
		assert.True(t, eventmodels.HasErrorKind(err, eventmodels.ErrorKindTimeout))
		assert.Contains(t, err.Error(), "account-1")

		s.mu.Lock()
		pending := len(s.pending)
		s.mu.Unlock()
		assert.Zero(t, pending, "timed-out slot must not leak")
	})

	t.Run("close fails pending calls", func(t *testing.T) {
		g := newTestGateway(t)

		s := NewTerminalSession(g.url, "token")
		require.NoError(t, s.Connect(context.Background()))

		errCh := make(chan error, 1)
		go func() {
			_, err := s.Call(context.Background(), "account-1", eventmodels.RpcRequest{"type": "getPositions"})
			errCh <- err
		}()

		time.Sleep(50 * time.Millisecond)
		s.Close()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, eventmodels.ConnectionClosedErr)
		case <-time.After(2 * time.Second):
			t.Fatal("pending call was not failed by close")
		}
	})
}

func TestSessionPushDispatch(t *testing.T) {
	t.Run("events reach every listener in order", func(t *testing.T) {
		g := newTestGateway(t)

		s := NewTerminalSession(g.url, "token")
		defer s.Close()

		faulty := &failingListener{}
		recorder := newRecordingListener()
		s.AddListener("account-1", faulty)
		s.AddListener("account-1", recorder)

		require.NoError(t, s.Connect(context.Background()))

		g.push(t, map[string]interface{}{
			"accountId": "account-1",
			"type":      "positionUpdated",
			"position":  map[string]interface{}{"id": "p1", "symbol": "EURUSD", "type": "POSITION_TYPE_BUY"},
		})
		g.push(t, map[string]interface{}{
			"accountId":  "account-1",
			"type":       "positionRemoved",
			"positionId": "p1",
		})

		first := recorder.next(t)
		assert.Equal(t, eventmodels.TerminalEventTypePositionUpdated, first.GetEventType())

		second := recorder.next(t)
		assert.Equal(t, eventmodels.TerminalEventTypePositionRemoved, second.GetEventType())

		assert.Equal(t, int32(2), atomic.LoadInt32(&faulty.calls), "a broken listener never blocks delivery")
	})

	t.Run("events for unregistered accounts are dropped", func(t *testing.T) {
		g := newTestGateway(t)

		s := NewTerminalSession(g.url, "token")
		defer s.Close()

		recorder := newRecordingListener()
		s.AddListener("account-1", recorder)

		require.NoError(t, s.Connect(context.Background()))

		g.push(t, map[string]interface{}{"accountId": "account-2", "type": "connected"})
		g.push(t, map[string]interface{}{"accountId": "account-1", "type": "connected"})

		event := recorder.next(t)
		assert.Equal(t, "account-1", event.GetAccountID())
	})
}

func TestSessionReconnect(t *testing.T) {
	g := newTestGateway(t)

	s := NewTerminalSession(g.url, "token")
	s.backoff = 50 * time.Millisecond
	defer s.Close()

	recorder := newRecordingListener()
	s.AddListener("account-1", recorder)

	reconnected := make(chan struct{}, 1)
	require.NoError(t, s.AddReconnectListener(func() {
		reconnected <- struct{}{}
	}))

	require.NoError(t, s.Connect(context.Background()))

	// Drop the connection from the server side.
	g.latestConn(t).Close()

	event := recorder.next(t)
	assert.Equal(t, eventmodels.TerminalEventTypeDisconnected, event.GetEventType(), "transport drop synthesizes a disconnected event")

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("session never reconnected")
	}

	assert.True(t, s.IsConnected())
}
