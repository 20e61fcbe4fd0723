package nodeconfig

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MaxNodeNameLen bounds the node name in bytes.
	MaxNodeNameLen = 32
	// KeySize is the size of the local and primary keys.
	KeySize = 32
	// GUIDSize is the size of the node GUID.
	GUIDSize = 16
	// HardwareIDSize is the size of the hardware suffix of the GUID.
	HardwareIDSize = 8
)

// guidPrefix is the fixed first half of every node GUID.
var guidPrefix = [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE}

// Key is a 32-byte symmetric secret.
type Key [KeySize]byte

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Hex returns the key as lowercase hex.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// String never prints the key material.
func (k Key) String() string {
	if k.IsZero() {
		return "<unset>"
	}
	return "<redacted>"
}

// GUID is the 16-byte node identifier.
type GUID [GUIDSize]byte

// IsZero reports whether the GUID is unset.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// String formats the GUID as colon separated hex bytes.
func (g GUID) String() string {
	parts := make([]string, len(g))
	for i, b := range g {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// NewGUID builds a GUID from the fixed prefix and a hardware suffix.
func NewGUID(suffix [HardwareIDSize]byte) GUID {
	var g GUID
	copy(g[:8], guidPrefix[:])
	copy(g[8:], suffix[:])
	return g
}

// EncryptionMode selects the mesh payload cipher.
type EncryptionMode uint8

const (
	EncryptionNone EncryptionMode = iota
	EncryptionAES128
	EncryptionAES192
	EncryptionAES256
)

func (m EncryptionMode) String() string {
	switch m {
	case EncryptionNone:
		return "none"
	case EncryptionAES128:
		return "aes128"
	case EncryptionAES192:
		return "aes192"
	case EncryptionAES256:
		return "aes256"
	default:
		return fmt.Sprintf("EncryptionMode(%d)", uint8(m))
	}
}

// Valid reports whether m is a known mode.
func (m EncryptionMode) Valid() bool {
	return m <= EncryptionAES256
}

// ParseEncryptionMode parses the names returned by String.
func ParseEncryptionMode(s string) (EncryptionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return EncryptionNone, nil
	case "aes128", "1":
		return EncryptionAES128, nil
	case "aes192", "2":
		return EncryptionAES192, nil
	case "aes256", "3":
		return EncryptionAES256, nil
	default:
		return 0, fmt.Errorf("unknown encryption mode %q (want none, aes128, aes192 or aes256)", s)
	}
}

// MeshConfig holds the mesh parameters handed to the mesh collaborator.
type MeshConfig struct {
	LongRange              bool
	Channel                uint8
	TTL                    uint8
	QueueSize              uint8
	Forwarding             bool
	Encryption             EncryptionMode
	AdjacentChannelFilter  bool
	SwitchChannelOnForward bool
	// WeakSignalThreshold drops frames weaker than this many dBm.
	WeakSignalThreshold int8
}

// Record is the node's configuration as loaded from the store.
type Record struct {
	Provisioned bool
	NodeName    string
	LocalKey    Key
	PrimaryKey  Key
	GUID        GUID
	// StartDelay is in seconds.
	StartDelay uint8
	BootCount  uint32
	Mesh       MeshConfig
}

// Defaults returns the compiled-in defaults. Identity fields are zero; they
// are generated, not defaulted.
func Defaults() Record {
	return Record{
		Provisioned: false,
		NodeName:    "Sensor Node",
		StartDelay:  2,
		BootCount:   0,
		Mesh: MeshConfig{
			LongRange:              false,
			Channel:                1,
			TTL:                    32,
			QueueSize:              32,
			Forwarding:             true,
			Encryption:             EncryptionAES128,
			AdjacentChannelFilter:  true,
			SwitchChannelOnForward: false,
			WeakSignalThreshold:    -100,
		},
	}
}
