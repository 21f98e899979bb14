package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/nixxel-company-limited/starlan-emulator/adapter"
	"github.com/nixxel-company-limited/starlan-emulator/metrics"
	"github.com/nixxel-company-limited/starlan-emulator/printer"
	"github.com/nixxel-company-limited/starlan-emulator/protocol"
)

// QueueHandler serves the print-data channel. Each connection holds the
// device session for its whole lifetime.
type QueueHandler struct {
	device  *printer.Device
	trie    *protocol.Node
	mirror  adapter.Adapter
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewQueueHandler creates the print-data handler. mirror may be nil.
func NewQueueHandler(device *printer.Device, trie *protocol.Node, mirror adapter.Adapter, m *metrics.AppMetrics, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{device: device, trie: trie, mirror: mirror, metrics: m, logger: logger}
}

// ServeConn captures one print job.
func (h *QueueHandler) ServeConn(ctx context.Context, conn net.Conn) (err error) {
	logger := h.logger.With(zap.String("peer", conn.RemoteAddr().String()))

	session, err := h.device.OpenSession()
	if err != nil {
		h.metrics.SessionConflicts.Inc()
		logger.Warn("print job rejected", zap.Error(err))
		return fmt.Errorf("open session: %w", err)
	}
	logger = logger.With(zap.String("session", session.ID()))
	logger.Info("print job started", zap.Time("started", session.Started()))

	defer func() {
		pending := session.Pending()
		if cerr := session.Close(); cerr != nil {
			h.metrics.PersistFailures.Inc()
			err = errors.Join(err, cerr)
		} else if pending > 0 {
			h.metrics.BlocksPersisted.Add(float64(pending))
			h.metrics.JobsPersisted.Inc()
		}
		h.metrics.EventToggle.Set(float64(h.device.EventToggle()))
		logger.Info("print job finished", zap.Int("blocks", pending))
	}()

	var src io.Reader = conn
	if h.mirror != nil && h.mirror.IsOpen() {
		src = io.TeeReader(conn, adapter.NewMirror(h.mirror, logger.Named("mirror")))
	}

	d := protocol.NewDispatcher(h.trie, session, logger.Named("dispatch"))
	d.SetMetricsCallbacks(
		func(name string) {
			h.metrics.Commands.WithLabelValues(name).Inc()
			h.metrics.EventToggle.Set(float64(h.device.EventToggle()))
		},
		func([]byte) { h.metrics.UnknownCommands.Inc() },
	)

	err = d.Run(ctx, bufio.NewReader(src))
	if errors.Is(err, protocol.ErrStreamClosed) {
		h.metrics.StreamsClosed.Inc()
		logger.Info("print stream ended inside a command", zap.Error(err))
	} else if err != nil {
		logger.Warn("print stream failed", zap.Error(err))
	}
	return err
}
