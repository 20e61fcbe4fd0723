package mesh

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over the websocket link.
const (
	MsgInit   = "init"
	MsgSend   = "send"
	MsgPair   = "pair"
	MsgFrame  = "frame"
	MsgAttach = "attach"
	MsgPaired = "paired"
)

// message is the JSON envelope of the websocket link. Only the fields for
// Type are set.
type message struct {
	Type     string         `json:"type"`
	Node     *NodeInfo   `json:"node,omitempty"`
	Frame    *Frame         `json:"frame,omitempty"`
	Attach   *ChannelInfo   `json:"attach,omitempty"`
	Paired   *PairingResult `json:"paired,omitempty"`
	WindowMS int64          `json:"window_ms,omitempty"`
}

// NodeInfo is what a node announces to the gateway. Keys stay on the node.
type NodeInfo struct {
	GUID       string `json:"guid"`
	Name       string `json:"name"`
	Channel    uint8  `json:"channel"`
	TTL        uint8  `json:"ttl"`
	LongRange  bool   `json:"long_range"`
	Forwarding bool   `json:"forwarding"`
	Encryption string `json:"encryption"`
}

func newInitPayload(cfg Config) *NodeInfo {
	return &NodeInfo{
		GUID:       cfg.GUID.String(),
		Name:       cfg.NodeName,
		Channel:    cfg.Channel,
		TTL:        cfg.TTL,
		LongRange:  cfg.LongRange,
		Forwarding: cfg.Forwarding,
		Encryption: cfg.Encryption.String(),
	}
}

func encodeMessage(m message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", m.Type, err)
	}
	return data, nil
}

func decodeMessage(data []byte) (message, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return message{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if m.Type == "" {
		return message{}, fmt.Errorf("message has no type field")
	}
	return m, nil
}
