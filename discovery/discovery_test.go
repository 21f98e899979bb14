package discovery

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nixxel-company-limited/starlan-emulator/metrics"
)

var testMAC = net.HardwareAddr{0x00, 0x11, 0x62, 0xaa, 0xbb, 0xcc}

func TestBuildPacketLayout(t *testing.T) {
	packet, err := BuildPacket(testMAC, net.ParseIP("192.168.1.50"))
	require.NoError(t, err)

	require.Len(t, packet, PacketSize)
	assert.Equal(t, uint16(PacketSize), binary.BigEndian.Uint16(packet[24:26]))

	assert.Equal(t, []byte("STR_BCAST\x00\x00\x00\x00\x00\x00\x00"), packet[0:16])
	assert.Equal(t, []byte("RS1.0.1\x00"), packet[16:24])
	assert.Equal(t, []byte("TSP100LAN"), packet[36:45])
	assert.Equal(t, []byte("V2.1"), packet[52:56])
	assert.Equal(t, []byte("V2.1"), packet[60:64])
	assert.Equal(t, []byte(testMAC), packet[78:84])
	assert.Equal(t, make([]byte, 4), packet[84:88], "mac slot is zero padded")
	assert.Equal(t, []byte{192, 168, 1, 50}, packet[88:92])
	assert.Equal(t, []byte("DHCP"), packet[92:96])
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, packet[108:112])
	assert.Equal(t, []byte{192, 168, 1, 50}, packet[112:116], "gateway repeats the address")
	assert.Equal(t, []byte("Star"), packet[140:144])
	assert.Equal(t, []byte("STAR"), packet[172:176])
	assert.Equal(t, []byte("TSP143 (STR_T-001)"), packet[204:222])
	assert.Equal(t, []byte("PRINTER"), packet[268:275])
	assert.Equal(t, []byte{0, 0}, packet[300:302])
}

func TestBuildPacketLengthForAnyAddress(t *testing.T) {
	for _, addr := range []string{"0.0.0.0", "10.0.0.1", "127.0.0.1", "255.255.255.255"} {
		packet, err := BuildPacket(testMAC, net.ParseIP(addr))
		require.NoError(t, err, addr)
		assert.Equal(t, uint16(len(packet)), binary.BigEndian.Uint16(packet[24:26]), addr)
	}
}

func TestBuildPacketRejects(t *testing.T) {
	_, err := BuildPacket(testMAC, net.ParseIP("::1"))
	assert.ErrorIs(t, err, ErrNotIPv4)

	_, err = BuildPacket(net.HardwareAddr{1, 2, 3}, net.ParseIP("10.0.0.1"))
	assert.ErrorIs(t, err, ErrBadMAC)
}

func TestLocalAddrForLoopback(t *testing.T) {
	ip, err := LocalAddrFor(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: Port})
	require.NoError(t, err)
	assert.True(t, ip.IsLoopback())
}

func startResponder(t *testing.T, limiter *RateLimiter) (*Responder, *metrics.AppMetrics) {
	t.Helper()
	m := metrics.NewAppMetrics(prometheus.NewRegistry())
	r, err := Listen("127.0.0.1:0", testMAC, limiter, m, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return r, m
}

func probe(t *testing.T, r *Responder) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, r.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Write([]byte("STR_BCAST\x00probe"))
	require.NoError(t, err)
	return conn
}

func TestResponderAnswersProbe(t *testing.T) {
	r, m := startResponder(t, NewRateLimiter(100, 100))

	conn := probe(t, r)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	packet := buf[:n]
	require.Len(t, packet, PacketSize)
	assert.Equal(t, []byte{127, 0, 0, 1}, packet[88:92])
	assert.Equal(t, []byte{127, 0, 0, 1}, packet[112:116])
	assert.Equal(t, []byte(testMAC), packet[78:84])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryReplies))
}

func TestResponderDropsOverLimit(t *testing.T) {
	r, m := startResponder(t, NewRateLimiter(1, 1))

	conn := probe(t, r)
	for i := 0; i < 2; i++ {
		_, err := conn.Write([]byte("again"))
		require.NoError(t, err)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, PacketSize, n)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DiscoveryDropped) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryReplies))
}

func TestRateLimiterDefaults(t *testing.T) {
	l := NewRateLimiter(0, 0)
	assert.Equal(t, 20, l.ratePerSec)
	assert.Equal(t, 40, l.burst)

	l = NewRateLimiter(1, 1)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, int64(1), l.AllowedCount())
	assert.Equal(t, int64(1), l.RejectedCount())
}

func TestServeStopsOnClose(t *testing.T) {
	r, err := Listen("127.0.0.1:0", testMAC, nil, metrics.NewAppMetrics(prometheus.NewRegistry()), zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Serve(context.Background()) }()
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after Close()")
	}
}

func TestRandomHardwareAddr(t *testing.T) {
	a, b := RandomHardwareAddr(), RandomHardwareAddr()
	require.Len(t, a, 6)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte(0x02), a[0]&0x03, "locally administered unicast")
}

func TestResolveHardwareAddr(t *testing.T) {
	mac, err := ResolveHardwareAddr("00:11:62:aa:bb:cc", nil)
	require.NoError(t, err)
	assert.Equal(t, testMAC, mac)

	_, err = ResolveHardwareAddr("not-a-mac", nil)
	assert.Error(t, err)

	_, err = ResolveHardwareAddr("00:00:5e:00:53:01:02:03", nil)
	assert.ErrorIs(t, err, ErrBadMAC)

	// with or without a usable interface an address is always produced
	mac, err = ResolveHardwareAddr("", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Len(t, mac, 6)
}
