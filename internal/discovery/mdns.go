// ABOUTME: mDNS service discovery for soundcast nodes
// ABOUTME: Advertises TCP servers and UDP relays and browses for them
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// ServiceTCP is advertised by TCP servers
	ServiceTCP = "_soundcast._tcp"
	// ServiceUDP is advertised by UDP relays
	ServiceUDP = "_soundcast._udp"

	browseTimeout = 3 * time.Second
)

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Service     string // ServiceTCP or ServiceUDP
	Port        int
	Info        []string // TXT records, e.g. "codec=opus"
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
	server  *mdns.Server
}

// ServerInfo describes a discovered node
type ServerInfo struct {
	Name string
	Host string
	Port int
	Info []string
}

// Addr returns host:port
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Service == "" {
		config.Service = ServiceTCP
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces this node until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		m.config.Service,
		"",
		"",
		m.config.Port,
		ips,
		m.config.Info,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, m.config.Service)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for nodes of the configured service type until Stop.
// Results arrive on Servers.
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		for _, server := range query(m.config.Service) {
			log.Printf("Discovered %s at %s", server.Name, server.Addr())
			select {
			case m.servers <- server:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// Servers returns the channel of discovered nodes
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop ends advertisement and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Lookup runs one query and returns the first node found, or an error when
// nothing answers before ctx ends
func Lookup(ctx context.Context, service string) (*ServerInfo, error) {
	for {
		if found := query(service); len(found) > 0 {
			return found[0], nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no %s service found: %w", service, ctx.Err())
		default:
		}
	}
}

// query runs a single mDNS query for service
func query(service string) []*ServerInfo {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []*ServerInfo

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if !strings.Contains(entry.Name, service) || entry.AddrV4 == nil {
				continue
			}
			found = append(found, &ServerInfo{
				Name: instanceName(entry.Name, service),
				Host: entry.AddrV4.String(),
				Port: entry.Port,
				Info: entry.InfoFields,
			})
		}
	}()

	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = browseTimeout
	params.DisableIPv6 = true
	if err := mdns.Query(params); err != nil {
		log.Printf("mDNS query failed: %v", err)
	}
	close(entries)
	<-done

	return found
}

// instanceName strips the service suffix from an mDNS entry name
func instanceName(name, service string) string {
	if i := strings.Index(name, "."+service); i > 0 {
		return strings.ReplaceAll(name[:i], `\ `, " ")
	}
	return name
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
