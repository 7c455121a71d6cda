package power

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

// WoLDriver powers a machine on via a Wake-on-LAN magic packet broadcast.
// Every other operation is unsupported by the protocol.
type WoLDriver struct {
	// BroadcastAddr is the UDP broadcast address to send the magic packet
	// to (default "255.255.255.255:9").
	BroadcastAddr string
}

// NewWoLDriver creates a WoLDriver using the default broadcast address.
func NewWoLDriver() *WoLDriver {
	return &WoLDriver{BroadcastAddr: "255.255.255.255:9"}
}

func (d *WoLDriver) Backend() string { return "wol" }

func (d *WoLDriver) broadcastAddr() string {
	if d.BroadcastAddr != "" {
		return d.BroadcastAddr
	}
	return "255.255.255.255:9"
}

func magicPacket(mac string) ([]byte, error) {
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(mac)
	hw, err := hex.DecodeString(cleaned)
	if err != nil || len(hw) != 6 {
		return nil, fmt.Errorf("invalid MAC address %q", mac)
	}

	packet := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

func (d *WoLDriver) On(ctx context.Context, target Target) error {
	packet, err := magicPacket(target.MAC)
	if err != nil {
		return ferrors.Wrap(ferrors.Invalid, "power_backend", err)
	}

	callCtx, cancel := withCallTimeout(ctx)
	defer cancel()

	raddr, err := net.ResolveUDPAddr("udp", d.broadcastAddr())
	if err != nil {
		return ferrors.Wrap(ferrors.Transient, "power_backend", err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return ferrors.Wrap(ferrors.Transient, "power_backend", err)
	}
	defer conn.Close()

	type writeResult struct {
		err error
	}
	done := make(chan writeResult, 1)
	go func() {
		_, err := conn.Write(packet)
		done <- writeResult{err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return ferrors.Wrap(ferrors.Transient, "power_backend", res.err)
		}
		return nil
	case <-callCtx.Done():
		return ferrors.Wrap(ferrors.Transient, "power_timeout", callCtx.Err())
	}
}

func (d *WoLDriver) unsupported(op Op) error {
	return ferrors.New(ferrors.Invalid, "power_unsupported", fmt.Sprintf("wake-on-lan does not support %q", op))
}

func (d *WoLDriver) Off(ctx context.Context, target Target) error {
	return d.unsupported(OpOff)
}

func (d *WoLDriver) Cycle(ctx context.Context, target Target) error {
	return d.unsupported(OpCycle)
}

func (d *WoLDriver) Reset(ctx context.Context, target Target) error {
	return d.unsupported(OpReset)
}

func (d *WoLDriver) Status(ctx context.Context, target Target) (State, error) {
	return StateUnknown, d.unsupported(OpStatus)
}

func (d *WoLDriver) SetNextBoot(ctx context.Context, target Target, device BootDevice, persistence Persistence) error {
	return ferrors.New(ferrors.Invalid, "power_unsupported", "wake-on-lan does not support next-boot override")
}
