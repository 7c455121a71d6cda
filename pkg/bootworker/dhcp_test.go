package bootworker

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

func TestSelectBootFileNonPXEClientIsIgnored(t *testing.T) {
	m := &dhcpv4.DHCPv4{Options: dhcpv4.Options{}}
	_, ok := selectBootFile(m, "undionly.kpxe", "ipxe.efi")
	if ok {
		t.Fatal("expected non-PXE request to be ignored")
	}
}

func TestSelectBootFileBIOSDefaultsWithoutArchOption(t *testing.T) {
	m := &dhcpv4.DHCPv4{Options: dhcpv4.Options{
		uint8(dhcpv4.OptionClassIdentifier.Code()): []byte("PXEClient"),
	}}
	file, ok := selectBootFile(m, "undionly.kpxe", "ipxe.efi")
	if !ok || file != "undionly.kpxe" {
		t.Fatalf("expected bios fallback, got %q ok=%v", file, ok)
	}
}

func TestSelectBootFileUEFIx64(t *testing.T) {
	m := &dhcpv4.DHCPv4{Options: dhcpv4.Options{
		uint8(dhcpv4.OptionClassIdentifier.Code()): []byte("PXEClient"),
		93: {0x00, 0x07},
	}}
	file, ok := selectBootFile(m, "undionly.kpxe", "ipxe.efi")
	if !ok || file != "ipxe.efi" {
		t.Fatalf("expected uefi loader, got %q ok=%v", file, ok)
	}
}

func TestSelectBootFileBIOSArch(t *testing.T) {
	m := &dhcpv4.DHCPv4{Options: dhcpv4.Options{
		uint8(dhcpv4.OptionClassIdentifier.Code()): []byte("PXEClient"),
		93: {0x00, 0x00},
	}}
	file, ok := selectBootFile(m, "undionly.kpxe", "ipxe.efi")
	if !ok || file != "undionly.kpxe" {
		t.Fatalf("expected bios loader, got %q ok=%v", file, ok)
	}
}

func TestAllocateSkipsUsedAddresses(t *testing.T) {
	d := NewDHCPServer(DHCPConfig{
		LeaseRange: LeaseRange{
			Start: net.ParseIP("192.168.1.10").To4(),
			End:   net.ParseIP("192.168.1.12").To4(),
		},
	}, testLogger())
	d.leases["aa:aa:aa:aa:aa:aa"] = net.ParseIP("192.168.1.10").To4()

	got := d.allocate("bb:bb:bb:bb:bb:bb")
	if got == nil || got.String() != "192.168.1.11" {
		t.Fatalf("expected next free address, got %v", got)
	}
}

func TestAllocateReturnsNilWhenExhausted(t *testing.T) {
	d := NewDHCPServer(DHCPConfig{
		LeaseRange: LeaseRange{
			Start: net.ParseIP("192.168.1.10").To4(),
			End:   net.ParseIP("192.168.1.10").To4(),
		},
	}, testLogger())
	d.leases["aa:aa:aa:aa:aa:aa"] = net.ParseIP("192.168.1.10").To4()

	if got := d.allocate("bb:bb:bb:bb:bb:bb"); got != nil {
		t.Fatalf("expected no addresses available, got %v", got)
	}
}
