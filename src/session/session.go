package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
	"github.com/jiaming2012/terminal-sync/src/eventpubsub"
	"github.com/jiaming2012/terminal-sync/src/metrics"
)

const (
	defaultBackoff    = 1 * time.Second
	handshakeTimeout  = 15 * time.Second
	dispatchQueueSize = 1024
)

var NotConnectedErr = errors.New("not connected")

// Listener receives decoded push events for one account. Delivery is strictly
// ordered per account; a listener's failure is reported and does not stop
// delivery to the remaining listeners.
type Listener interface {
	OnTerminalEvent(event eventmodels.TerminalEvent) error
}

// LatencyRecorder receives request round-trip timestamps. Optional.
type LatencyRecorder interface {
	RecordRequest(requestType string, timestamps eventmodels.LatencyTimestamps)
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// TerminalSession owns the physical duplex connection shared by every account
// registered against this client. It frames outbound requests with correlation
// ids, resolves them against asynchronous responses or typed errors, fans
// decoded push events out to per-account listener sets, and recovers the
// connection after transport drops with a fixed backoff.
type TerminalSession struct {
	url     string
	token   string
	backoff time.Duration

	pubsub          *eventpubsub.PubSub
	latencyRecorder LatencyRecorder

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	connecting bool
	closed     bool
	pending    map[string]chan callResult
	listeners  map[string][]Listener
	queues     map[string]chan eventmodels.TerminalEvent
	done       chan struct{}

	writeMu sync.Mutex
}

func NewTerminalSession(url, token string) *TerminalSession {
	return &TerminalSession{
		url:       url,
		token:     token,
		backoff:   defaultBackoff,
		pubsub:    eventpubsub.New(),
		pending:   make(map[string]chan callResult),
		listeners: make(map[string][]Listener),
		queues:    make(map[string]chan eventmodels.TerminalEvent),
		done:      make(chan struct{}),
	}
}

// SetLatencyRecorder wires a latency monitor into the request/response path.
// Must be called before Connect.
func (s *TerminalSession) SetLatencyRecorder(r LatencyRecorder) {
	s.latencyRecorder = r
}

// Connect establishes the transport and completes the auth handshake. It is
// idempotent: a no-op when already connected or while a connect is in flight.
func (s *TerminalSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return eventmodels.ConnectionClosedErr
	}
	if s.connected || s.connecting {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.mu.Unlock()

	conn, err := s.dial(ctx)

	s.mu.Lock()
	s.connecting = false
	if err == nil {
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return eventmodels.ConnectionClosedErr
		}
		s.conn = conn
		s.connected = true
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}

	metrics.Connected.Set(1)
	log.Infof("TerminalSession: connected to %s", s.url)

	go s.readLoop(conn)

	return nil
}

// dial opens the websocket and authenticates before any other traffic. The
// server answers the auth frame with either an empty success frame or a typed
// error frame.
func (s *TerminalSession) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("TerminalSession.dial: failed to dial %s: %w", s.url, err)
	}

	if err := conn.WriteJSON(map[string]interface{}{"type": "auth", "token": s.token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TerminalSession.dial: failed to send auth frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("TerminalSession.dial: failed to read handshake reply: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var reply eventmodels.RpcResponse
	if err := json.Unmarshal(message, &reply); err != nil {
		conn.Close()
		return nil, eventmodels.NewInternalError(fmt.Sprintf("malformed handshake reply: %v", err))
	}

	if reply.Error != "" {
		conn.Close()
		return nil, eventmodels.DecodeError(reply.Error, reply.Message, reply.Details)
	}

	return conn, nil
}

// Call sends a correlated request and blocks until the matching response or
// error frame arrives, or ctx expires. On expiry the pending slot is dropped
// and a timeout error carrying the account id is returned; the request itself
// is not cancelled on the wire.
func (s *TerminalSession) Call(ctx context.Context, accountID string, request eventmodels.RpcRequest) (json.RawMessage, error) {
	requestID := uuid.New().String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, eventmodels.ConnectionClosedErr
	}
	if !s.connected || s.conn == nil {
		s.mu.Unlock()
		return nil, NotConnectedErr
	}
	ch := make(chan callResult, 1)
	s.pending[requestID] = ch
	conn := s.conn
	s.mu.Unlock()

	metrics.PendingCalls.Inc()
	defer metrics.PendingCalls.Dec()

	frame := make(map[string]interface{}, len(request)+2)
	for k, v := range request {
		frame[k] = v
	}
	frame["accountId"] = accountID
	frame["requestId"] = requestID

	s.writeMu.Lock()
	err := conn.WriteJSON(frame)
	s.writeMu.Unlock()

	if err != nil {
		s.removePending(requestID)
		return nil, fmt.Errorf("TerminalSession.Call: failed to send %v request: %w", request["type"], err)
	}

	select {
	case result := <-ch:
		if result.err == nil {
			s.recordRequestLatency(request, result.payload)
		}
		return result.payload, result.err
	case <-ctx.Done():
		s.removePending(requestID)
		return nil, eventmodels.NewTimeoutError(fmt.Sprintf("account %s: %v request %s timed out", accountID, request["type"], requestID))
	}
}

func (s *TerminalSession) recordRequestLatency(request eventmodels.RpcRequest, payload json.RawMessage) {
	if s.latencyRecorder == nil {
		return
	}

	var reply eventmodels.RpcResponse
	if err := json.Unmarshal(payload, &reply); err != nil || reply.Timestamps == nil {
		return
	}

	now := time.Now()
	reply.Timestamps.ClientProcessingFinished = &now

	requestType, _ := request["type"].(string)
	s.latencyRecorder.RecordRequest(requestType, *reply.Timestamps)
}

// AddListener registers a push listener for an account. Listeners are invoked
// in registration order.
func (s *TerminalSession) AddListener(accountID string, listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.listeners[accountID] = append(s.listeners[accountID], listener)

	if _, found := s.queues[accountID]; !found {
		queue := make(chan eventmodels.TerminalEvent, dispatchQueueSize)
		s.queues[accountID] = queue
		go s.dispatchWorker(accountID, queue)
	}
}

func (s *TerminalSession) RemoveListener(accountID string, listener Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered := s.listeners[accountID]
	for i, l := range registered {
		if l == listener {
			s.listeners[accountID] = append(registered[:i:i], registered[i+1:]...)
			return
		}
	}
}

// AddReconnectListener registers a handler fired after a successful reconnect,
// used to re-subscribe accounts. This set is distinct from push listeners.
func (s *TerminalSession) AddReconnectListener(handler func()) error {
	return s.pubsub.Subscribe(eventpubsub.TopicReconnected, handler)
}

func (s *TerminalSession) RemoveReconnectListener(handler func()) error {
	return s.pubsub.Unsubscribe(eventpubsub.TopicReconnected, handler)
}

// Close fails all pending calls with a connection-closed error, clears the
// listener registries and tears down the transport. Replica and ledger state
// held by listeners stays readable after close.
func (s *TerminalSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connected = false

	pending := s.pending
	s.pending = make(map[string]chan callResult)

	s.queues = make(map[string]chan eventmodels.TerminalEvent)
	s.listeners = make(map[string][]Listener)
	s.mu.Unlock()

	// Stops every dispatch worker and any in-flight queue send.
	close(s.done)

	for _, ch := range pending {
		ch <- callResult{err: eventmodels.ConnectionClosedErr}
	}

	if conn != nil {
		conn.Close()
	}

	metrics.Connected.Set(0)
	log.Info("TerminalSession: closed")
}

func (s *TerminalSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

func (s *TerminalSession) removePending(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, requestID)
}

func (s *TerminalSession) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}

		s.handleFrame(message)
	}
}

// handleFrame routes one inbound frame: frames carrying a requestId resolve a
// pending call, everything else is a push event.
func (s *TerminalSession) handleFrame(message []byte) {
	var probe struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		log.Errorf("TerminalSession: malformed frame: %v", err)
		return
	}

	if probe.RequestID != "" {
		s.resolvePending(message)
		return
	}

	event, err := eventmodels.ParseTerminalEvent(message)
	if err != nil {
		log.Errorf("TerminalSession: failed to decode push frame: %v", err)
		return
	}

	s.mu.Lock()
	queue, found := s.queues[event.GetAccountID()]
	s.mu.Unlock()

	if !found {
		return
	}

	metrics.EventsDispatched.WithLabelValues(event.GetAccountID(), string(event.GetEventType())).Inc()

	select {
	case queue <- event:
	case <-s.done:
	}
}

func (s *TerminalSession) resolvePending(message []byte) {
	var reply eventmodels.RpcResponse
	if err := json.Unmarshal(message, &reply); err != nil {
		log.Errorf("TerminalSession: malformed response frame: %v", err)
		return
	}
	reply.Payload = message

	s.mu.Lock()
	ch, found := s.pending[reply.RequestID]
	delete(s.pending, reply.RequestID)
	s.mu.Unlock()

	if !found {
		// The caller's timeout abandoned the slot before the reply arrived.
		log.Warnf("TerminalSession: unmatched response %s", reply.RequestID)
		return
	}

	if reply.Error != "" {
		apiErr := eventmodels.DecodeError(reply.Error, reply.Message, reply.Details)
		ch <- callResult{err: apiErr}

		if apiErr.Kind == eventmodels.ErrorKindUnauthorized {
			log.Errorf("TerminalSession: token rejected: %v", apiErr)
			go s.Close()
		}
		return
	}

	ch <- callResult{payload: reply.Payload}
}

// dispatchWorker delivers events to one account's listeners, preserving event
// order. Workers for different accounts run independently.
func (s *TerminalSession) dispatchWorker(accountID string, queue chan eventmodels.TerminalEvent) {
	for {
		var event eventmodels.TerminalEvent

		select {
		case <-s.done:
			return
		case event = <-queue:
		}

		s.mu.Lock()
		registered := append([]Listener(nil), s.listeners[accountID]...)
		s.mu.Unlock()

		for _, listener := range registered {
			s.deliver(accountID, listener, event)
		}
	}
}

func (s *TerminalSession) deliver(accountID string, listener Listener, event eventmodels.TerminalEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerFailures.WithLabelValues(accountID).Inc()
			s.pubsub.PublishError(fmt.Sprintf("listener for account %s", accountID), fmt.Errorf("panic handling %s event: %v", event.GetEventType(), r))
		}
	}()

	if err := listener.OnTerminalEvent(event); err != nil {
		metrics.ListenerFailures.WithLabelValues(accountID).Inc()
		s.pubsub.PublishError(fmt.Sprintf("listener for account %s", accountID), fmt.Errorf("failed to handle %s event: %w", event.GetEventType(), err))
	}
}

// handleDisconnect marks the session disconnected, synthesizes a disconnected
// event for every registered account and starts the reconnect loop. Pending
// calls are left to the callers' own timeouts.
func (s *TerminalSession) handleDisconnect(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil

	accounts := make([]string, 0, len(s.queues))
	for accountID := range s.queues {
		accounts = append(accounts, accountID)
	}
	s.mu.Unlock()

	conn.Close()
	metrics.Connected.Set(0)
	log.Errorf("TerminalSession: connection lost: %v", cause)

	for _, accountID := range accounts {
		event := &eventmodels.DisconnectedEvent{
			TerminalEventMeta: eventmodels.NewTerminalEventMeta(accountID, eventmodels.TerminalEventTypeDisconnected),
		}

		s.mu.Lock()
		queue, found := s.queues[accountID]
		s.mu.Unlock()

		if found {
			select {
			case queue <- event:
			case <-s.done:
			}
		}
	}

	go s.reconnectLoop()
}

// reconnectLoop retries with a fixed backoff until the session is connected or
// closed. A server-declared authentication failure is terminal.
func (s *TerminalSession) reconnectLoop() {
	for {
		s.mu.Lock()
		if s.closed || s.connected || s.connecting {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		time.Sleep(s.backoff)

		err := s.Connect(context.Background())
		if err == nil {
			s.pubsub.Publish(eventpubsub.TopicReconnected)
			return
		}

		if eventmodels.HasErrorKind(err, eventmodels.ErrorKindUnauthorized) ||
			eventmodels.HasErrorKind(err, eventmodels.ErrorKindNotAuthenticated) {
			log.Errorf("TerminalSession: authentication rejected during reconnect, closing: %v", err)
			s.Close()
			return
		}

		if errors.Is(err, eventmodels.ConnectionClosedErr) {
			return
		}

		log.Warnf("TerminalSession: reconnect attempt failed: %v", err)
	}
}
