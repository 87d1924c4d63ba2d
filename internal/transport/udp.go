package transport

import (
	"context"
	"fmt"
	"net"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"google.golang.org/protobuf/proto"
)

const udpRecvBufferSize = 2 * 512

// Multicast configures an interface to join for multicast UDP reception.
// InterfaceName resolves to an *net.Interface at Connect time; an empty name
// means "let the kernel choose" (unspecified/any interface).
type Multicast struct {
	GroupAddr     *net.UDPAddr
	InterfaceName string
}

// UDP sends and receives raw MeshPacket protobufs over a single UDP socket,
// optionally joined to a multicast group with the link-local TTL/loopback
// settings the firmware itself uses (TTL 1, loopback disabled).
type UDP struct {
	BindAddr   *net.UDPAddr
	RemoteAddr *net.UDPAddr
	Multicast  *Multicast

	conn *net.UDPConn
}

// NewUDP constructs a UDP transport bound to bindAddr, sending to
// remoteAddr, optionally joining a multicast group.
func NewUDP(bindAddr, remoteAddr *net.UDPAddr, multicast *Multicast) *UDP {
	return &UDP{BindAddr: bindAddr, RemoteAddr: remoteAddr, Multicast: multicast}
}

func (u *UDP) String() string {
	return fmt.Sprintf("udp(%s)", u.BindAddr)
}

// Connect binds the socket and, if configured, joins the multicast group
// with multicast loopback disabled and TTL/hop-limit set to 1 so beacons
// never cross a router onto another segment.
func (u *UDP) Connect(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", u.BindAddr)
	if err != nil {
		return fmt.Errorf("udp: binding %s: %w", u.BindAddr, err)
	}

	if u.Multicast != nil {
		if err := u.joinMulticast(conn); err != nil {
			conn.Close()
			return err
		}
	}

	u.conn = conn
	return nil
}

func (u *UDP) joinMulticast(conn *net.UDPConn) error {
	var iface *net.Interface
	if u.Multicast.InterfaceName != "" {
		found, err := net.InterfaceByName(u.Multicast.InterfaceName)
		if err != nil {
			return fmt.Errorf("udp: resolving multicast interface %q: %w", u.Multicast.InterfaceName, err)
		}
		iface = found
	}

	group := u.Multicast.GroupAddr
	switch {
	case group.IP.To4() != nil:
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
			return fmt.Errorf("udp: joining ipv4 multicast group %s: %w", group.IP, err)
		}
		if err := pc.SetMulticastLoopback(false); err != nil {
			return fmt.Errorf("udp: disabling ipv4 multicast loopback: %w", err)
		}
		if err := pc.SetMulticastTTL(1); err != nil {
			return fmt.Errorf("udp: setting ipv4 multicast ttl: %w", err)
		}
		if iface != nil {
			if err := pc.SetMulticastInterface(iface); err != nil {
				return fmt.Errorf("udp: setting ipv4 multicast interface: %w", err)
			}
		}
	default:
		pc := ipv6.NewPacketConn(conn)
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err != nil {
			return fmt.Errorf("udp: joining ipv6 multicast group %s: %w", group.IP, err)
		}
		if err := pc.SetMulticastLoopback(false); err != nil {
			return fmt.Errorf("udp: disabling ipv6 multicast loopback: %w", err)
		}
		if err := pc.SetMulticastHopLimit(1); err != nil {
			return fmt.Errorf("udp: setting ipv6 multicast hop limit: %w", err)
		}
		if iface != nil {
			if err := pc.SetMulticastInterface(iface); err != nil {
				return fmt.Errorf("udp: setting ipv6 multicast interface: %w", err)
			}
		}
	}
	return nil
}

// Recv blocks for one datagram and decodes it as a MeshPacket. A ctx
// deadline becomes the socket's read deadline; cancelling ctx without a
// deadline does not interrupt a blocked read, while Disconnect closing the
// socket does.
func (u *UDP) Recv(ctx context.Context) (Inbound, error) {
	if u.conn == nil {
		return Inbound{}, ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		u.conn.SetReadDeadline(deadline)
	}

	buf := make([]byte, udpRecvBufferSize)
	n, _, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		return Inbound{}, fmt.Errorf("udp: reading datagram: %w", err)
	}

	var packet meshtastic.MeshPacket
	if err := proto.Unmarshal(buf[:n], &packet); err != nil {
		return Inbound{}, fmt.Errorf("udp: decoding MeshPacket: %w", err)
	}
	return Inbound{Packet: &packet}, nil
}

// Send marshals packet and writes it to RemoteAddr.
func (u *UDP) Send(ctx context.Context, packet *meshtastic.MeshPacket) error {
	if u.conn == nil {
		return ErrNotConnected
	}
	buf, err := proto.Marshal(packet)
	if err != nil {
		return fmt.Errorf("udp: encoding MeshPacket: %w", err)
	}
	if _, err := u.conn.WriteToUDP(buf, u.RemoteAddr); err != nil {
		return fmt.Errorf("udp: writing datagram: %w", err)
	}
	return nil
}

// Disconnect closes the socket.
func (u *UDP) Disconnect(ctx context.Context) error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
