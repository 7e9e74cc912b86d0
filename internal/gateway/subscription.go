package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

// graphql-transport-ws 协议消息类型
const (
	subprotocol = "graphql-transport-ws"

	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
	msgKeepAlive      = "ka"
)

const writeWait = 5 * time.Second

// ErrSubscriptionClosed 服务端结束了订阅
var ErrSubscriptionClosed = errors.New("gateway: subscription completed by server")

// Subscription 一个推送订阅句柄
type Subscription interface {
	// Events 推送读数，订阅结束后关闭
	Events() <-chan models.Reading
	// Err Events 关闭后的结束原因，主动 Close 时为 nil
	Err() error
	// Close 同步关闭，返回后不会再有读数送达
	Close() error
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type nextPayload struct {
	Data struct {
		OnCreateWatchData *models.Reading `json:"onCreateWatchData"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type wsSubscription struct {
	id       string
	deviceID string
	conn     *websocket.Conn
	logger   *zap.Logger

	events   chan models.Reading
	done     chan struct{}
	finished chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe 打开新读数推送订阅，deviceID 非空时只投递该设备的读数
func (c *Client) Subscribe(ctx context.Context, deviceID string) (Subscription, error) {
	const op = "onCreateWatchData"

	token, err := c.token(ctx, op)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
		Subprotocols:     []string{subprotocol},
	}
	conn, resp, err := dialer.DialContext(ctx, c.opts.RealtimeURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &Error{Op: op, Kind: KindUnauthorized, StatusCode: resp.StatusCode, Err: err}
		}
		return nil, newError(op, KindTransport, err)
	}

	sub := &wsSubscription{
		id:       uuid.New().String(),
		deviceID: deviceID,
		conn:     conn,
		logger:   c.logger,
		events:   make(chan models.Reading, 16),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	if err := sub.handshake(ctx, token, c.opts.HandshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	go sub.readLoop()

	c.logger.Info("Subscription opened",
		zap.String("device_id", deviceID),
		zap.String("subscription_id", sub.id),
	)
	return sub, nil
}

// handshake connection_init -> connection_ack -> subscribe
func (s *wsSubscription) handshake(ctx context.Context, token string, timeout time.Duration) error {
	const op = "onCreateWatchData"

	initPayload := map[string]string{}
	if token != "" {
		initPayload["Authorization"] = token
	}
	payload, _ := json.Marshal(initPayload)
	if err := s.write(wsMessage{Type: msgConnectionInit, Payload: payload}); err != nil {
		return newError(op, KindTransport, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == 4403 {
				return newError(op, KindUnauthorized, err)
			}
			return newError(op, KindTransport, err)
		}
		if msg.Type == msgConnectionAck {
			break
		}
		if msg.Type == msgPing {
			if err := s.write(wsMessage{Type: msgPong}); err != nil {
				return newError(op, KindTransport, err)
			}
			continue
		}
		if msg.Type == msgKeepAlive {
			continue
		}
		return newError(op, KindUnauthorized, fmt.Errorf("unexpected handshake message %q", msg.Type))
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	subPayload, _ := json.Marshal(graphQLRequest{Query: onCreateWatchDataSubscription})
	if err := s.write(wsMessage{ID: s.id, Type: msgSubscribe, Payload: subPayload}); err != nil {
		return newError(op, KindTransport, err)
	}
	return nil
}

func (s *wsSubscription) write(msg wsMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *wsSubscription) readLoop() {
	defer close(s.finished)
	defer close(s.events)

	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(newError("onCreateWatchData", KindTransport, err))
			return
		}

		switch msg.Type {
		case msgNext:
			if msg.ID != s.id {
				continue
			}
			var p nextPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				s.logger.Warn("Failed to decode subscription payload", zap.Error(err))
				continue
			}
			if len(p.Errors) > 0 {
				s.fail(graphQLFailure("onCreateWatchData", p.Errors))
				return
			}
			r := p.Data.OnCreateWatchData
			if r == nil || (s.deviceID != "" && r.DeviceID != s.deviceID) {
				continue
			}
			select {
			case s.events <- *r:
			case <-s.done:
				return
			}
		case msgError:
			var errs []graphQLError
			_ = json.Unmarshal(msg.Payload, &errs)
			s.fail(graphQLFailure("onCreateWatchData", errs))
			return
		case msgComplete:
			s.fail(ErrSubscriptionClosed)
			return
		case msgPing:
			if err := s.write(wsMessage{Type: msgPong}); err != nil {
				s.fail(newError("onCreateWatchData", KindTransport, err))
				return
			}
		}
	}
}

// fail 记录结束原因，主动关闭导致的错误不记录
func (s *wsSubscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *wsSubscription) Events() <-chan models.Reading {
	return s.events
}

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close 通知服务端结束订阅并等待读循环退出
func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.write(wsMessage{ID: s.id, Type: msgComplete})
		err = s.conn.Close()
		<-s.finished
		s.logger.Debug("Subscription closed",
			zap.String("device_id", s.deviceID),
			zap.String("subscription_id", s.id),
		)
	})
	return err
}
