package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Port is the well-known discovery port.
const Port = 22222

// PacketSize is the total length of an identity packet.
const PacketSize = 302

// lengthOffset locates the big-endian packet length.
const lengthOffset = 24

var (
	// ErrNotIPv4 is returned when the responder address is not IPv4.
	ErrNotIPv4 = errors.New("discovery address is not IPv4")
	// ErrBadMAC is returned for a hardware address that is not 6 bytes.
	ErrBadMAC = errors.New("discovery hardware address must be 6 bytes")
)

// field is one fixed-width slot, zero-padded on the right.
type field struct {
	width int
	value []byte
}

// BuildPacket assembles the identity packet announcing ip and mac. The
// gateway slot repeats ip and the netmask is all ones.
func BuildPacket(mac net.HardwareAddr, ip net.IP) ([]byte, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotIPv4, ip)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%w: %v", ErrBadMAC, mac)
	}

	fields := []field{
		{16, []byte("STR_BCAST")},
		{8, []byte("RS1.0.1")},
		{2, nil}, // length
		{10, nil},
		{16, []byte("TSP100LAN")},
		{8, []byte("V2.1")},
		{8, []byte("V2.1")},
		{10, nil},
		{10, mac},
		{4, v4},
		{16, []byte("DHCP")},
		{4, []byte{0xff, 0xff, 0xff, 0xff}},
		{4, v4}, // gateway
		{24, nil},
		{32, []byte("Star")},
		{32, []byte("STAR")},
		{64, []byte("TSP143 (STR_T-001)")},
		{32, []byte("PRINTER")},
		{2, nil},
	}

	packet := make([]byte, 0, PacketSize)
	for _, f := range fields {
		slot := make([]byte, f.width)
		copy(slot, f.value)
		packet = append(packet, slot...)
	}
	binary.BigEndian.PutUint16(packet[lengthOffset:], uint16(len(packet)))
	return packet, nil
}

// HardwareAddr returns the address of the first up, non-loopback interface
// with a 6-byte hardware address.
func HardwareAddr() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) == 6 {
			return iface.HardwareAddr, nil
		}
	}
	return nil, errors.New("no interface with a hardware address")
}

// RandomHardwareAddr returns a random unicast, locally administered address.
func RandomHardwareAddr() net.HardwareAddr {
	id := uuid.New()
	mac := net.HardwareAddr(append([]byte(nil), id[:6]...))
	mac[0] = (mac[0] | 0x02) &^ 0x01
	return mac
}

// ResolveHardwareAddr picks the announced MAC: override when set, else the
// first interface address, else a random one.
func ResolveHardwareAddr(override string, logger *zap.Logger) (net.HardwareAddr, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if override != "" {
		mac, err := net.ParseMAC(override)
		if err != nil {
			return nil, fmt.Errorf("parse discovery mac: %w", err)
		}
		if len(mac) != 6 {
			return nil, fmt.Errorf("%w: %v", ErrBadMAC, mac)
		}
		return mac, nil
	}
	mac, err := HardwareAddr()
	if err != nil {
		mac = RandomHardwareAddr()
		logger.Warn("using generated hardware address", zap.Stringer("mac", mac), zap.Error(err))
	}
	return mac, nil
}

// LocalAddrFor returns the local IPv4 address the kernel would use to reach
// peer.
func LocalAddrFor(peer *net.UDPAddr) (net.IP, error) {
	conn, err := net.DialUDP("udp4", nil, peer)
	if err != nil {
		return nil, fmt.Errorf("route to %v: %w", peer, err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
