package server

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/nixxel-company-limited/starlan-emulator/metrics"
)

const (
	// StatusRequest asks for the automatic status frame.
	StatusRequest byte = 0x32
	// KeepAlive is sent by hosts between polls and needs no answer.
	KeepAlive byte = 0x00
)

// StatusSource supplies the status frame.
type StatusSource interface {
	StatusSnapshot() []byte
}

// StateHandler serves the status-poll channel.
type StateHandler struct {
	source  StatusSource
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewStateHandler creates the status-poll handler.
func NewStateHandler(source StatusSource, m *metrics.AppMetrics, logger *zap.Logger) *StateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateHandler{source: source, metrics: m, logger: logger}
}

// ServeConn answers polls until the client goes away.
func (h *StateHandler) ServeConn(ctx context.Context, conn net.Conn) error {
	logger := h.logger.With(zap.String("peer", conn.RemoteAddr().String()))
	r := bufio.NewReader(conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read poll: %w", err)
		}

		switch b {
		case StatusRequest:
			frame := h.source.StatusSnapshot()
			if _, err := conn.Write(frame); err != nil {
				return fmt.Errorf("write status: %w", err)
			}
			h.metrics.StatusPolls.Inc()
			logger.Debug("status", zap.String("frame", hex.EncodeToString(frame)))
		case KeepAlive:
		default:
			logger.Info("unrecognised poll", zap.String("byte", hex.EncodeToString([]byte{b})))
		}
	}
}
