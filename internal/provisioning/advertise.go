package provisioning

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/sensornode/internal/logging"
)

const (
	// ServiceType is the mDNS service type nodes advertise while pairing
	ServiceType = "_sensornode._udp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultPort is the port announced with the service
	DefaultPort = 5683
)

// Info describes the node being advertised.
type Info struct {
	GUID    string
	Name    string
	Version string
}

// TXT returns the TXT records for info.
func (i Info) TXT() []string {
	return []string{
		"guid=" + i.GUID,
		"name=" + i.Name,
		"ver=" + i.Version,
	}
}

// Advertiser publishes a service until the returned stop function is called.
type Advertiser interface {
	Advertise(info Info) (stop func(), err error)
}

// ZeroconfAdvertiser advertises over mDNS.
type ZeroconfAdvertiser struct {
	Service string
	Domain  string
	Port    int
}

// NewZeroconfAdvertiser returns an advertiser with the default service.
func NewZeroconfAdvertiser() *ZeroconfAdvertiser {
	return &ZeroconfAdvertiser{
		Service: ServiceType,
		Domain:  ServiceDomain,
		Port:    DefaultPort,
	}
}

// Advertise registers the service on all multicast interfaces.
func (a *ZeroconfAdvertiser) Advertise(info Info) (func(), error) {
	instance := info.Name
	if instance == "" {
		instance = info.GUID
	}
	server, err := zeroconf.Register(instance, a.Service, a.Domain, a.Port, info.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Debug("mDNS service registered",
		zap.String("instance", instance),
		zap.String("service", a.Service),
		zap.Int("port", a.Port))
	return server.Shutdown, nil
}
