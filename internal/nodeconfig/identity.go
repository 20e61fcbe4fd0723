package nodeconfig

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
)

// IdentityPolicy decides what Load does when identity material exists but
// cannot be read.
type IdentityPolicy int

const (
	// RegenerateOnCorruption treats unreadable identity like first boot.
	RegenerateOnCorruption IdentityPolicy = iota
	// FailOnCorruption keeps the field zero and reports ErrTypeIdentityUnreadable.
	FailOnCorruption
)

func (p IdentityPolicy) String() string {
	switch p {
	case RegenerateOnCorruption:
		return "regenerate"
	case FailOnCorruption:
		return "fail"
	default:
		return fmt.Sprintf("IdentityPolicy(%d)", int(p))
	}
}

// ParseIdentityPolicy parses "regenerate" or "fail".
func ParseIdentityPolicy(s string) (IdentityPolicy, error) {
	switch s {
	case "regenerate", "":
		return RegenerateOnCorruption, nil
	case "fail":
		return FailOnCorruption, nil
	default:
		return 0, fmt.Errorf("unknown identity policy %q", s)
	}
}

// HardwareID supplies the hardware-unique GUID suffix.
type HardwareID interface {
	HardwareID() ([HardwareIDSize]byte, error)
}

// StaticHardwareID is a fixed suffix, used in tests and on hosts without a
// stable interface.
type StaticHardwareID [HardwareIDSize]byte

func (s StaticHardwareID) HardwareID() ([HardwareIDSize]byte, error) {
	return s, nil
}

// MACHardwareID derives the suffix from a network interface MAC address:
// six MAC bytes followed by two zero bytes.
type MACHardwareID struct {
	// Interface selects the interface by name. Empty picks the first
	// non-loopback interface with a 6-byte address, by name order.
	Interface string
}

var errNoHardwareAddr = errors.New("no interface with a hardware address")

func (m MACHardwareID) HardwareID() ([HardwareIDSize]byte, error) {
	var out [HardwareIDSize]byte

	ifaces, err := net.Interfaces()
	if err != nil {
		return out, fmt.Errorf("listing interfaces: %w", err)
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })

	for _, iface := range ifaces {
		if m.Interface != "" && iface.Name != m.Interface {
			continue
		}
		if m.Interface == "" && iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		copy(out[:], iface.HardwareAddr)
		return out, nil
	}

	if m.Interface != "" {
		return out, fmt.Errorf("%w: %s", errNoHardwareAddr, m.Interface)
	}
	return out, errNoHardwareAddr
}

// Options configures a Store.
type Options struct {
	HardwareID HardwareID
	// Random is the source for key generation.
	Random io.Reader
	Policy IdentityPolicy
	// OnWriteFailure is called for every failed write or commit.
	OnWriteFailure func(f Field, err error)
}

// DefaultOptions returns options using the first MAC address and crypto/rand.
func DefaultOptions() *Options {
	return &Options{
		HardwareID: MACHardwareID{},
		Random:     rand.Reader,
		Policy:     RegenerateOnCorruption,
	}
}

func generateKey(r io.Reader) (Key, error) {
	var k Key
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return Key{}, fmt.Errorf("reading random source: %w", err)
	}
	return k, nil
}
