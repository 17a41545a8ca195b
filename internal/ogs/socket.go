package ogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrSocketClosed = errors.New("ogs: socket not connected")

// Frame is one realtime message, encoded on the wire as [event, payload].
type Frame struct {
	Event   string
	Payload json.RawMessage
}

func (f Frame) MarshalJSON() ([]byte, error) {
	payload := f.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal([]any{f.Event, payload})
}

func (f *Frame) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	if len(parts) == 0 {
		return errors.New("frame: empty array")
	}
	if err := json.Unmarshal(parts[0], &f.Event); err != nil {
		return fmt.Errorf("frame event: %w", err)
	}
	f.Payload = nil
	if len(parts) > 1 {
		f.Payload = parts[1]
	}
	return nil
}

type SocketOption func(*Socket)

func WithSocketLogger(l *zap.Logger) SocketOption {
	return func(s *Socket) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithReconnect(maxAttempts int) SocketOption {
	return func(s *Socket) { s.maxReconnectAttempts = maxAttempts }
}

func WithPingInterval(d time.Duration) SocketOption {
	return func(s *Socket) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// Socket is the realtime connection. It reconnects with backoff after read
// or ping failures and calls the reconnect callback once a new connection
// is up.
type Socket struct {
	wsURL  string
	logger *zap.Logger

	conn  *websocket.Conn
	connM sync.RWMutex
	// writes must not interleave on one connection
	writeM sync.Mutex

	onFrame     func(Frame)
	onReconnect func(context.Context)
	cbM         sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewSocket(wsURL string, opts ...SocketOption) *Socket {
	s := &Socket{
		wsURL:                wsURL,
		logger:               zap.NewNop(),
		maxReconnectAttempts: 10,
		pingInterval:         25 * time.Second,
		stopCh:               make(chan struct{}),
	}
	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Socket) OnFrame(cb func(Frame)) {
	s.cbM.Lock()
	s.onFrame = cb
	s.cbM.Unlock()
}

func (s *Socket) OnReconnect(cb func(context.Context)) {
	s.cbM.Lock()
	s.onReconnect = cb
	s.cbM.Unlock()
}

func (s *Socket) Connected() bool {
	s.connM.RLock()
	defer s.connM.RUnlock()
	return s.conn != nil
}

func (s *Socket) Connect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := s.dial(dialCtx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	s.attach(conn)
	s.logger.Info("ogs_socket_connected", zap.String("url", s.wsURL))
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, s.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(4 << 20)
	return conn, nil
}

func (s *Socket) attach(conn *websocket.Conn) {
	s.connM.Lock()
	s.conn = conn
	s.connM.Unlock()

	s.wg.Add(2)
	go s.listen(conn)
	go s.pingLoop(conn)
}

// Send writes one [event, payload] frame.
func (s *Socket) Send(ctx context.Context, event string, payload any) error {
	s.connM.RLock()
	conn := s.conn
	s.connM.RUnlock()
	if conn == nil {
		return ErrSocketClosed
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	s.writeM.Lock()
	defer s.writeM.Unlock()
	if err := wsjson.Write(ctx, conn, Frame{Event: event, Payload: raw}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (s *Socket) listen(conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		_, data, err := conn.Read(s.rootCtx)
		if err != nil {
			if s.isStopping() {
				return
			}
			s.logger.Warn("ogs_socket_read_failed", zap.Error(err))
			s.dropConn(conn, websocket.StatusGoingAway, "reconnect")
			s.scheduleReconnect()
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("ogs_frame_invalid", zap.Error(err), zap.String("raw", truncate(string(data), 256)))
			continue
		}

		s.cbM.RLock()
		cb := s.onFrame
		s.cbM.RUnlock()
		if cb != nil {
			cb(frame)
		}
	}
}

func (s *Socket) pingLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			if !s.isCurrent(conn) {
				return
			}
			ctx, cancel := context.WithTimeout(s.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if s.isStopping() {
					return
				}
				s.logger.Warn("ogs_socket_ping_failed", zap.Error(err))
				// closing makes listen fail and schedule the reconnect
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Socket) isCurrent(conn *websocket.Conn) bool {
	s.connM.RLock()
	defer s.connM.RUnlock()
	return s.conn == conn
}

func (s *Socket) dropConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	s.connM.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connM.Unlock()
	_ = conn.Close(code, reason)
}

func (s *Socket) scheduleReconnect() {
	if s.maxReconnectAttempts <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}

			dialCtx, cancel := context.WithTimeout(s.rootCtx, 10*time.Second)
			conn, err := s.dial(dialCtx)
			cancel()
			if err != nil {
				s.logger.Warn("ogs_socket_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if s.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			s.attach(conn)
			s.logger.Info("ogs_socket_reconnected", zap.Int("attempt", attempt))

			s.cbM.RLock()
			cb := s.onReconnect
			s.cbM.RUnlock()
			if cb != nil {
				cb(s.rootCtx)
			}
			return
		}
		s.logger.Error("ogs_socket_reconnect_exhausted", zap.Int("attempts", s.maxReconnectAttempts))
	}()
}

// Close stops reconnects, closes the connection and waits for the
// background goroutines.
func (s *Socket) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.connM.Lock()
	conn := s.conn
	s.conn = nil
	s.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		s.rootCancel()
		return ctx.Err()
	case <-done:
		s.rootCancel()
		return nil
	}
}

func (s *Socket) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}
