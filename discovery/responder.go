package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/nixxel-company-limited/starlan-emulator/metrics"
	"github.com/nixxel-company-limited/starlan-emulator/protocol"
)

// maxProbe bounds a single probe datagram.
const maxProbe = 1024

// Responder answers discovery probes with the identity packet.
type Responder struct {
	conn    *net.UDPConn
	mac     net.HardwareAddr
	limiter *RateLimiter
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// Listen binds the discovery socket on addr.
func Listen(addr string, mac net.HardwareAddr, limiter *RateLimiter, m *metrics.AppMetrics, logger *zap.Logger) (*Responder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%w: %v", ErrBadMAC, mac)
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve discovery addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen discovery: %w", err)
	}

	logger.Info("discovery listening", zap.String("addr", conn.LocalAddr().String()), zap.Stringer("mac", mac))
	return &Responder{conn: conn, mac: mac, limiter: limiter, metrics: m, logger: logger}, nil
}

// LocalAddr returns the bound socket address.
func (r *Responder) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Close releases the socket; a running Serve returns.
func (r *Responder) Close() error { return r.conn.Close() }

// Serve answers probes until ctx is cancelled or the socket is closed.
func (r *Responder) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, maxProbe)
	for {
		n, peer, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info("discovery stopped")
				return nil
			}
			return fmt.Errorf("read probe: %w", err)
		}

		r.logger.Debug("discovery request",
			zap.Stringer("peer", peer),
			zap.Int("len", n),
			zap.String("data", protocol.Printable(buf[:n])))

		if !r.limiter.Allow() {
			r.metrics.DiscoveryDropped.Inc()
			r.logger.Debug("discovery probe dropped", zap.Stringer("peer", peer))
			continue
		}
		if err := r.reply(peer); err != nil {
			r.logger.Warn("discovery reply failed", zap.Stringer("peer", peer), zap.Error(err))
		}
	}
}

func (r *Responder) reply(peer *net.UDPAddr) error {
	ip, err := LocalAddrFor(peer)
	if err != nil {
		return err
	}
	packet, err := BuildPacket(r.mac, ip)
	if err != nil {
		return err
	}
	if _, err := r.conn.WriteToUDP(packet, peer); err != nil {
		return fmt.Errorf("send identity: %w", err)
	}
	r.metrics.DiscoveryReplies.Inc()
	r.logger.Debug("discovery response",
		zap.Stringer("local", ip),
		zap.Int("len", len(packet)),
		zap.String("data", protocol.Printable(packet)))
	return nil
}
