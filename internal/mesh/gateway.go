package mesh

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
)

// ErrUnknownNode is returned when no node with the given GUID is connected.
var ErrUnknownNode = errors.New("mesh: unknown node")

// Gateway is the server end of WSLink. It tracks connected nodes and lets
// the caller inject attach, pairing and frame events.
type Gateway struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	nodes map[string]*gatewayConn

	// OnNode is called when a node announces itself.
	OnNode func(NodeInfo)
	// OnFrame is called for every frame a node sends.
	OnFrame func(guid string, f Frame)
	// OnPair is called when a node opens a pairing window.
	OnPair func(guid string, window time.Duration)
}

type gatewayConn struct {
	info    NodeInfo
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewGateway creates a gateway with no nodes.
func NewGateway() *Gateway {
	return &Gateway{nodes: make(map[string]*gatewayConn)}
}

// ServeHTTP upgrades the request and serves one node until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	gc := &gatewayConn{conn: conn}
	defer func() {
		conn.Close()
		if gc.info.GUID != "" {
			g.mu.Lock()
			if g.nodes[gc.info.GUID] == gc {
				delete(g.nodes, gc.info.GUID)
			}
			g.mu.Unlock()
		}
		logging.Info("Node disconnected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("guid", gc.info.GUID))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m, err := decodeMessage(data)
		if err != nil {
			logging.Warn("Ignoring malformed node message",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			continue
		}
		g.handle(gc, m)
	}
}

func (g *Gateway) handle(gc *gatewayConn, m message) {
	switch m.Type {
	case MsgInit:
		if m.Node == nil {
			return
		}
		gc.info = *m.Node
		g.mu.Lock()
		g.nodes[gc.info.GUID] = gc
		g.mu.Unlock()
		logging.Info("Node joined",
			zap.String("guid", gc.info.GUID),
			zap.String("name", gc.info.Name),
			zap.Uint8("channel", gc.info.Channel))
		if g.OnNode != nil {
			g.OnNode(gc.info)
		}
	case MsgSend:
		if m.Frame != nil && g.OnFrame != nil {
			g.OnFrame(gc.info.GUID, *m.Frame)
		}
	case MsgPair:
		if g.OnPair != nil {
			g.OnPair(gc.info.GUID, time.Duration(m.WindowMS)*time.Millisecond)
		}
	default:
		logging.Warn("Unknown node message type", zap.String("type", m.Type))
	}
}

// Nodes lists connected nodes sorted by GUID.
func (g *Gateway) Nodes() []NodeInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]NodeInfo, 0, len(g.nodes))
	for _, gc := range g.nodes {
		out = append(out, gc.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// Attach tells a node it attached on channel.
func (g *Gateway) Attach(guid string, channel uint8) error {
	return g.send(guid, message{Type: MsgAttach, Attach: &ChannelInfo{Channel: channel}})
}

// Paired reports a pairing outcome to a node.
func (g *Gateway) Paired(guid string, res PairingResult) error {
	return g.send(guid, message{Type: MsgPaired, Paired: &res})
}

// Deliver hands a frame to a node.
func (g *Gateway) Deliver(guid string, f Frame) error {
	return g.send(guid, message{Type: MsgFrame, Frame: &f})
}

func (g *Gateway) send(guid string, m message) error {
	g.mu.Lock()
	gc, ok := g.nodes[guid]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, guid)
	}

	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	gc.writeMu.Lock()
	defer gc.writeMu.Unlock()
	_ = gc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return gc.conn.WriteMessage(websocket.TextMessage, data)
}
