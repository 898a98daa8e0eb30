package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Browser produces raw service entries until ctx is done.
type Browser interface {
	Browse(ctx context.Context) (<-chan Entry, error)
}

// Advertiser publishes a speaker service.
type Advertiser interface {
	Advertise(ctx context.Context, info *SpeakerInfo) error
	Stop() error
}

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &MDNSAdvertiser{config: config}
}

// Advertise starts advertising info, replacing any earlier registration.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *SpeakerInfo) error {
	instanceName := info.InstanceName
	if instanceName == "" {
		instanceName = "yandexio-" + info.DeviceID
	}
	if len(instanceName) > MaxInstanceNameLen {
		instanceName = instanceName[:MaxInstanceNameLen]
	}
	if _, _, _, err := DecodeTXT(EncodeTXT(info)); err != nil {
		return err
	}

	port := info.Port
	if port == 0 {
		port = DefaultPort
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeTXT(info)),
		interfaces(a.config.Interface),
		zeroconf.TTL(uint32(a.config.TTL.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("failed to register speaker service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement.
func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	return &MDNSBrowser{config: config}
}

// Browse streams every _yandexio._tcp entry seen until ctx is done.
// Removals are not reported.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan Entry, error) {
	out := make(chan Entry)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				select {
				case out <- toEntry(entry):
				case <-ctx.Done():
					return
				}
			case <-removed:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

func toEntry(entry *zeroconf.ServiceEntry) Entry {
	e := Entry{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		Text:     entry.Text,
	}
	for _, ip := range entry.AddrIPv4 {
		e.IPv4 = append(e.IPv4, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		e.IPv6 = append(e.IPv6, ip.String())
	}
	return e
}

// interfaces returns the interfaces to use, or nil for all of them.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

var (
	_ Browser    = (*MDNSBrowser)(nil)
	_ Advertiser = (*MDNSAdvertiser)(nil)
)
