package bootworker

import (
	"fmt"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/rs/zerolog"
)

// DHCPMode selects how the DHCP service answers on its interface. Exactly
// one mode is active per BootWorker instance; it never changes at runtime.
type DHCPMode string

const (
	// DHCPModeFull leases addresses from LeaseRange and answers PXE
	// clients directly, for sites with no existing DHCP infrastructure.
	DHCPModeFull DHCPMode = "full"
	// DHCPModeProxy never assigns an address; it only supplies boot
	// file/server info alongside a site's existing DHCP server, per
	// RFC 4578's ProxyDHCP convention (answers on UDP/4011).
	DHCPModeProxy DHCPMode = "proxy"
	// DHCPModeDisabled runs no DHCP listener at all; the worker serves
	// only TFTP/HTTP for sites whose DHCP already points at it.
	DHCPModeDisabled DHCPMode = "disabled"
)

// The clientArch* constants are option 93 (RFC 4578 Client System
// Architecture Type) values this worker distinguishes boot file names by.
// Other architectures fall back to the BIOS loader.
const (
	clientArchBIOSx86   = 0
	clientArchEFIx86    = 6
	clientArchEFIx64    = 7
	clientArchEFIx64Alt = 9
)

// LeaseRange bounds the addresses DHCPModeFull may hand out.
type LeaseRange struct {
	Start       net.IP
	End         net.IP
	SubnetMask  net.IPMask
	Gateway     net.IP
	DNSServers  []net.IP
	LeaseTime   time.Duration
}

// DHCPConfig configures the DHCP service.
type DHCPConfig struct {
	Mode          DHCPMode
	Interface     string
	ServerIP      net.IP
	LeaseRange    LeaseRange
	BIOSBootFile  string // e.g. "undionly.kpxe"
	UEFIBootFile  string // e.g. "ipxe.efi"
	TFTPServerIP  net.IP
}

// DHCPServer answers DHCP/ProxyDHCP requests for PXE-booting machines. It
// never assigns leases in proxy or disabled mode.
type DHCPServer struct {
	cfg     DHCPConfig
	logger  zerolog.Logger
	server  *server4.Server
	leases  map[string]net.IP // MAC -> assigned IP, full mode only
}

// NewDHCPServer constructs a DHCPServer without starting it.
func NewDHCPServer(cfg DHCPConfig, logger zerolog.Logger) *DHCPServer {
	return &DHCPServer{
		cfg:    cfg,
		logger: logger.With().Str("component", "dhcp").Logger(),
		leases: make(map[string]net.IP),
	}
}

// Start begins serving. Disabled mode returns immediately with no listener.
func (d *DHCPServer) Start() error {
	if d.cfg.Mode == DHCPModeDisabled {
		d.logger.Info().Msg("dhcp service disabled")
		return nil
	}

	port := 67
	if d.cfg.Mode == DHCPModeProxy {
		port = 4011
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	srv, err := server4.NewServer(d.cfg.Interface, addr, d.handle)
	if err != nil {
		return fmt.Errorf("dhcp server: %w", err)
	}
	d.server = srv

	d.logger.Info().Str("mode", string(d.cfg.Mode)).Int("port", port).Msg("starting dhcp service")
	go func() {
		if err := d.server.Serve(); err != nil {
			d.logger.Error().Err(err).Msg("dhcp server stopped")
		}
	}()
	return nil
}

// Stop closes the underlying listener, if any is running.
func (d *DHCPServer) Stop() error {
	if d.server == nil {
		return nil
	}
	return d.server.Close()
}

func (d *DHCPServer) handle(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4) {
	if m == nil || m.OpCode != dhcpv4.OpcodeBootRequest {
		return
	}

	bootFile, isPXE := selectBootFile(m, d.cfg.BIOSBootFile, d.cfg.UEFIBootFile)
	if !isPXE {
		return
	}

	switch d.cfg.Mode {
	case DHCPModeProxy:
		d.replyProxy(conn, peer, m, bootFile)
	case DHCPModeFull:
		d.replyFull(conn, peer, m, bootFile)
	}
}

func (d *DHCPServer) replyProxy(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4, bootFile string) {
	mt := m.MessageType()
	if mt != dhcpv4.MessageTypeDiscover && mt != dhcpv4.MessageTypeRequest {
		return
	}

	reply, err := dhcpv4.NewReplyFromRequest(m)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to build proxydhcp reply")
		return
	}
	reply.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeOffer))
	reply.UpdateOption(dhcpv4.OptServerIdentifier(d.cfg.ServerIP))
	reply.ServerIPAddr = d.cfg.ServerIP
	reply.BootFileName = bootFile
	if d.cfg.TFTPServerIP != nil {
		reply.UpdateOption(dhcpv4.OptTFTPServerName(d.cfg.TFTPServerIP.String()))
	}
	reply.YourIPAddr = net.IPv4zero

	if _, err := conn.WriteTo(reply.ToBytes(), peer); err != nil {
		d.logger.Warn().Err(err).Msg("failed to send proxydhcp reply")
	}
}

func (d *DHCPServer) replyFull(conn net.PacketConn, peer net.Addr, m *dhcpv4.DHCPv4, bootFile string) {
	mac := m.ClientHWAddr.String()

	reply, err := dhcpv4.NewReplyFromRequest(m)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to build dhcp reply")
		return
	}

	mt := m.MessageType()
	switch mt {
	case dhcpv4.MessageTypeDiscover:
		reply.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeOffer))
	case dhcpv4.MessageTypeRequest:
		reply.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeAck))
	default:
		return
	}

	ip := d.leases[mac]
	if ip == nil {
		ip = d.allocate(mac)
		if ip == nil {
			d.logger.Warn().Str("mac", mac).Msg("no addresses available in lease range")
			return
		}
		d.leases[mac] = ip
	}

	reply.YourIPAddr = ip
	reply.ServerIPAddr = d.cfg.ServerIP
	reply.BootFileName = bootFile
	reply.UpdateOption(dhcpv4.OptServerIdentifier(d.cfg.ServerIP))
	reply.UpdateOption(dhcpv4.OptSubnetMask(d.cfg.LeaseRange.SubnetMask))
	if d.cfg.LeaseRange.Gateway != nil {
		reply.UpdateOption(dhcpv4.OptRouter(d.cfg.LeaseRange.Gateway))
	}
	if len(d.cfg.LeaseRange.DNSServers) > 0 {
		reply.UpdateOption(dhcpv4.OptDNS(d.cfg.LeaseRange.DNSServers...))
	}
	leaseTime := d.cfg.LeaseRange.LeaseTime
	if leaseTime <= 0 {
		leaseTime = time.Hour
	}
	reply.UpdateOption(dhcpv4.OptIPAddressLeaseTime(leaseTime))
	if d.cfg.TFTPServerIP != nil {
		reply.UpdateOption(dhcpv4.OptTFTPServerName(d.cfg.TFTPServerIP.String()))
	}

	if _, err := conn.WriteTo(reply.ToBytes(), peer); err != nil {
		d.logger.Warn().Err(err).Msg("failed to send dhcp reply")
	}
}

// allocate walks LeaseRange linearly for the first address not already
// assigned to a different MAC. It is intentionally simple: full DHCP mode
// is meant for small bring-up sites, not large fleets with an existing
// DHCP/IPAM system.
func (d *DHCPServer) allocate(mac string) net.IP {
	start := d.cfg.LeaseRange.Start
	end := d.cfg.LeaseRange.End
	if start == nil || end == nil {
		return nil
	}

	used := make(map[string]bool, len(d.leases))
	for _, ip := range d.leases {
		used[ip.String()] = true
	}

	for ip := cloneIP(start); ipLessOrEqual(ip, end); ip = nextIP(ip) {
		if !used[ip.String()] {
			return ip
		}
	}
	return nil
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func nextIP(ip net.IP) net.IP {
	out := cloneIP(ip.To4())
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func ipLessOrEqual(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	for i := 0; i < len(a4); i++ {
		if a4[i] != b4[i] {
			return a4[i] < b4[i]
		}
	}
	return true
}

// selectBootFile inspects option 60 (vendor class) and option 93 (client
// system architecture) to decide whether m is a PXE client request and,
// if so, which loader to hand back. It touches no network state, so it
// is exercised directly in tests.
func selectBootFile(m *dhcpv4.DHCPv4, biosFile, uefiFile string) (string, bool) {
	vendorClass := m.Options.Get(dhcpv4.OptionClassIdentifier)
	if len(vendorClass) == 0 {
		return "", false
	}

	archOpt := m.Options.Get(dhcpv4.GenericOptionCode(93))
	if len(archOpt) < 2 {
		return biosFile, true
	}

	arch := int(archOpt[0])<<8 | int(archOpt[1])
	switch arch {
	case clientArchEFIx86, clientArchEFIx64, clientArchEFIx64Alt:
		return uefiFile, true
	default:
		return biosFile, true
	}
}
