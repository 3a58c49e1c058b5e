package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nickw444/miio-go/protocol/packet"
)

const (
	// probePort is the UDP port miio devices answer hello packets on
	probePort = 54321

	// helloReplyLength is the fixed size of a handshake reply
	helloReplyLength = 32
)

// Prober finds miio devices by broadcasting a protocol hello packet and
// collecting the replies. Devices answer the hello without a token, so
// this finds devices that suppress their mDNS announcement, at the cost
// of not learning the model.
type Prober struct {
	// Timeout is how long to collect replies after the broadcast
	Timeout time.Duration

	// BroadcastAddr overrides the target address, for tests
	BroadcastAddr string
}

// NewProber creates a prober with default settings
func NewProber() *Prober {
	return &Prober{
		Timeout:       DefaultScanTimeout,
		BroadcastAddr: "255.255.255.255",
	}
}

// Probe broadcasts a hello packet and returns every device that answered
// before the timeout, deduplicated by device ID.
func (p *Prober) Probe(ctx context.Context) ([]*Device, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to open probe socket: %w", err)
	}
	defer conn.Close()

	target := &net.UDPAddr{IP: net.ParseIP(p.BroadcastAddr), Port: probePort}
	if target.IP == nil {
		return nil, fmt.Errorf("invalid broadcast address %q", p.BroadcastAddr)
	}

	hello := packet.NewHello().Serialize()
	if _, err := conn.WriteToUDP(hello, target); err != nil {
		return nil, fmt.Errorf("failed to send hello broadcast: %w", err)
	}

	deadline := time.Now().Add(p.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	devices := make([]*Device, 0)
	seen := make(map[string]bool)
	buf := make([]byte, 1024)

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return devices, nil
			}
			return devices, err
		}
		if n != helloReplyLength {
			continue
		}

		reply, err := packet.Decode(buf[:n], nil)
		if err != nil {
			continue
		}

		deviceID := strconv.FormatUint(uint64(reply.Header.DeviceID), 10)
		if seen[deviceID] {
			continue
		}
		seen[deviceID] = true

		devices = append(devices, &Device{
			DeviceID:     deviceID,
			IP:           addr.IP.String(),
			Source:       SourceProbe,
			DiscoveredAt: time.Now(),
		})
	}
}
