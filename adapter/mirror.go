package adapter

import (
	"go.uber.org/zap"
)

// Mirror copies one job's raw stream to an Adapter. It is meant to sit behind
// io.TeeReader: Write never fails, and after the first adapter error the
// mirror detaches for the rest of the job so capture is unaffected.
type Mirror struct {
	adapter  Adapter
	logger   *zap.Logger
	detached bool
	written  int
}

// NewMirror creates a mirror for a single job.
func NewMirror(a Adapter, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{adapter: a, logger: logger}
}

// Write forwards p to the adapter unless the mirror has detached.
func (m *Mirror) Write(p []byte) (int, error) {
	if m.detached || len(p) == 0 {
		return len(p), nil
	}
	if !m.adapter.IsOpen() {
		m.detach(errNotOpen)
		return len(p), nil
	}
	n, err := m.adapter.Write(p)
	m.written += n
	if err != nil {
		m.detach(err)
	}
	return len(p), nil
}

// Written returns how many bytes reached the adapter.
func (m *Mirror) Written() int { return m.written }

// Detached reports whether mirroring stopped because of an error.
func (m *Mirror) Detached() bool { return m.detached }

func (m *Mirror) detach(err error) {
	m.detached = true
	m.logger.Warn("mirror detached", zap.Int("written", m.written), zap.Error(err))
}
