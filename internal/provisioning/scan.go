package provisioning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultScanTimeout is the default timeout for node discovery
const DefaultScanTimeout = 5 * time.Second

// Node is a node found in a pairing window.
type Node struct {
	Instance string
	GUID     string
	Name     string
	Version  string

	// Hostname is the mDNS hostname
	Hostname string
	IP       string
	Port     int

	// Metadata holds every TXT record, including guid, name and ver.
	Metadata map[string]string

	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the node
func (n *Node) String() string {
	return fmt.Sprintf("%s [%s] at %s:%d", n.Name, n.GUID, n.IP, n.Port)
}

// Scanner browses for nodes in a pairing window.
type Scanner struct {
	// Timeout is the maximum time to wait for responses
	Timeout time.Duration
	Service string
	Domain  string

	now func() time.Time
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		Service: ServiceType,
		Domain:  ServiceDomain,
		now:     time.Now,
	}
}

// Scan collects nodes until the timeout or ctx ends.
func (s *Scanner) Scan(ctx context.Context) ([]*Node, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		nodes []*Node
		seen  = make(map[string]bool)
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			n := s.parseServiceEntry(entry)
			if n == nil || seen[n.GUID] {
				continue
			}
			seen[n.GUID] = true
			nodes = append(nodes, n)
		}
	}()

	if err := resolver.Browse(ctx, s.Service, s.Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once ctx is done.
	wg.Wait()
	return nodes, nil
}

// parseServiceEntry converts a zeroconf entry to a Node. Entries without a
// guid TXT record or an address are ignored.
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Node {
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	guid := metadata["guid"]
	if guid == "" {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Node{
		Instance:     entry.Instance,
		GUID:         guid,
		Name:         metadata["name"],
		Version:      metadata["ver"],
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: s.now(),
	}
}
