package power

import (
	"bytes"
	"context"
	"testing"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

func TestMagicPacketStructure(t *testing.T) {
	packet, err := magicPacket("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("magicPacket() error = %v", err)
	}
	if len(packet) != 102 {
		t.Fatalf("packet length = %d, want 102", len(packet))
	}
	if !bytes.Equal(packet[:6], bytes.Repeat([]byte{0xFF}, 6)) {
		t.Error("expected 6 leading 0xFF sync bytes")
	}
	mac := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for i := 0; i < 16; i++ {
		got := packet[6+i*6 : 6+(i+1)*6]
		if !bytes.Equal(got, mac) {
			t.Errorf("repetition %d = %x, want %x", i, got, mac)
		}
	}
}

func TestMagicPacketInvalidMAC(t *testing.T) {
	if _, err := magicPacket("not-a-mac"); err == nil {
		t.Error("expected an error for a malformed MAC address")
	}
}

func TestWoLUnsupportedOperations(t *testing.T) {
	d := NewWoLDriver()
	ctx := context.Background()
	target := Target{MAC: "AA:BB:CC:DD:EE:FF"}

	if err := d.Off(ctx, target); ferrors.CodeOf(err) != ferrors.Invalid {
		t.Errorf("Off() code = %v, want Invalid", ferrors.CodeOf(err))
	}
	if err := d.Cycle(ctx, target); ferrors.CodeOf(err) != ferrors.Invalid {
		t.Errorf("Cycle() code = %v, want Invalid", ferrors.CodeOf(err))
	}
	if err := d.Reset(ctx, target); ferrors.CodeOf(err) != ferrors.Invalid {
		t.Errorf("Reset() code = %v, want Invalid", ferrors.CodeOf(err))
	}
	if _, err := d.Status(ctx, target); ferrors.CodeOf(err) != ferrors.Invalid {
		t.Errorf("Status() code = %v, want Invalid", ferrors.CodeOf(err))
	}
	if err := d.SetNextBoot(ctx, target, DevicePXE, PersistenceOneShot); ferrors.CodeOf(err) != ferrors.Invalid {
		t.Errorf("SetNextBoot() code = %v, want Invalid", ferrors.CodeOf(err))
	}
}

func TestWoLBackendName(t *testing.T) {
	if NewWoLDriver().Backend() != "wol" {
		t.Error("expected backend name \"wol\"")
	}
	if NewIPMIDriver().Backend() != "ipmi" {
		t.Error("expected backend name \"ipmi\"")
	}
	if NewRedfishDriver(nil).Backend() != "redfish" {
		t.Error("expected backend name \"redfish\"")
	}
}
