package mesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/version"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// WSLink is a Mesh backed by a websocket connection to a gateway.
type WSLink struct {
	url    string
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	handlers Handlers
	done     chan struct{}
	stop     chan struct{}
	once     sync.Once
}

// NewWSLink creates a link to the gateway at url (ws:// or wss://).
func NewWSLink(url string) *WSLink {
	return &WSLink{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeWait,
		},
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

// Init dials the gateway, announces the node and starts delivering events.
func (l *WSLink) Init(ctx context.Context, cfg Config, h Handlers) error {
	if l.conn != nil {
		return errors.New("mesh link already initialised")
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	conn, _, err := l.dialer.DialContext(ctx, l.url, header)
	if err != nil {
		return fmt.Errorf("failed to dial mesh gateway %s: %w", l.url, err)
	}
	l.conn = conn
	l.handlers = h

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := l.write(message{Type: MsgInit, Node: newInitPayload(cfg)}); err != nil {
		conn.Close()
		return err
	}

	logging.Info("Mesh gateway connected",
		zap.String("url", l.url),
		zap.Stringer("guid", cfg.GUID),
		zap.Uint8("channel", cfg.Channel))

	go l.readLoop()
	go l.pingLoop()
	return nil
}

// Done is closed when the connection ends.
func (l *WSLink) Done() <-chan struct{} {
	return l.done
}

// Send transmits a frame through the gateway.
func (l *WSLink) Send(_ context.Context, f Frame) error {
	return l.write(message{Type: MsgSend, Frame: &f})
}

// StartPairing asks the gateway to accept pairing for window.
func (l *WSLink) StartPairing(_ context.Context, window time.Duration) error {
	return l.write(message{Type: MsgPair, WindowMS: window.Milliseconds()})
}

// Close sends a close frame and waits for the read loop to exit.
func (l *WSLink) Close() error {
	if l.conn == nil {
		return nil
	}
	var err error
	l.once.Do(func() {
		close(l.stop)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		l.writeMu.Unlock()
		err = l.conn.Close()
		<-l.done
	})
	return err
}

func (l *WSLink) write(m message) error {
	if l.conn == nil {
		return errors.New("mesh link not initialised")
	}
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", m.Type, err)
	}
	return nil
}

func (l *WSLink) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			l.writeMu.Unlock()
			if err != nil {
				logging.Debug("Mesh gateway ping failed", zap.Error(err))
				return
			}
		case <-l.stop:
			return
		case <-l.done:
			return
		}
	}
}

func (l *WSLink) readLoop() {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info("Mesh gateway closed the link")
			} else {
				select {
				case <-l.stop:
				default:
					logging.Warn("Mesh gateway link lost", zap.Error(err))
				}
			}
			return
		}

		m, err := decodeMessage(data)
		if err != nil {
			logging.Warn("Ignoring malformed gateway message",
				zap.Error(err),
				zap.String("ascii", logging.ASCIIDump(data)))
			continue
		}
		l.dispatch(m)
	}
}

func (l *WSLink) dispatch(m message) {
	switch m.Type {
	case MsgFrame:
		if m.Frame != nil && l.handlers.OnReceive != nil {
			l.handlers.OnReceive(*m.Frame)
		}
	case MsgAttach:
		if m.Attach != nil && l.handlers.OnNetworkAttach != nil {
			l.handlers.OnNetworkAttach(*m.Attach)
		}
	case MsgPaired:
		if m.Paired != nil && l.handlers.OnPaired != nil {
			l.handlers.OnPaired(*m.Paired)
		}
	default:
		logging.Warn("Unknown gateway message type", zap.String("type", m.Type))
	}
}
