package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Pinger issues single ICMP echo probes against one host. Construction
// validates the binding interface; per-probe failures are absorbed.
type Pinger struct {
	host    string
	bind    string
	timeout time.Duration
	seq     int
}

func NewPinger(host, iface string, timeout time.Duration) (*Pinger, error) {
	bind := "0.0.0.0"
	if ip, err := localAddr(iface); err != nil {
		return nil, err
	} else if ip != nil {
		bind = ip.String()
	}

	return &Pinger{host: host, bind: bind, timeout: timeout}, nil
}

// Probe sends one echo request and waits for the matching reply.
func (p *Pinger) Probe(ctx context.Context) bool {
	ipAddr, err := net.ResolveIPAddr("ip4", p.host)
	if err != nil {
		return false
	}

	conn, err := icmp.ListenPacket("ip4:icmp", p.bind)
	if err != nil {
		return false
	}
	defer conn.Close()

	id := os.Getpid() & 0xffff
	p.seq++
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  p.seq,
			Data: []byte("gatewatch"),
		},
	}

	b, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	if _, err := conn.WriteTo(b, ipAddr); err != nil {
		return false
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	// Raw ICMP sockets see unrelated traffic too; keep reading until
	// our reply or the deadline.
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return false
		}

		recv, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), buf[:n])
		if err != nil {
			continue
		}
		if recv.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if echo, ok := recv.Body.(*icmp.Echo); ok && echo.ID == id && echo.Seq == p.seq {
			return true
		}
	}
}

// CheckICMPSupport reports whether a raw ICMP socket can be opened, so
// startup can fail fast with a useful message instead of silently
// probing into the void.
func CheckICMPSupport() error {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("icmp listen requires root or CAP_NET_RAW: %w", err)
		}
		return fmt.Errorf("icmp listen: %w", err)
	}

	return conn.Close()
}
