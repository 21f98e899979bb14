package printer

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxFeedLines caps a single vertical feed.
const MaxFeedLines = 1 << 16

// Session is one print connection's hold on the device. It implements
// protocol.Target; only the owning connection calls its mutators.
type Session struct {
	dev     *Device
	id      string
	started time.Time

	once     sync.Once
	closeErr error
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Started returns the session start time used to name the captured job.
func (s *Session) Started() time.Time { return s.started }

// Pending returns the number of blocks that Close will persist.
func (s *Session) Pending() int { return s.dev.Buffered() }

// UpdateEventToggle advances the ETB counter.
func (s *Session) UpdateEventToggle() { s.dev.updateEventToggle() }

// ResetEventToggle clears the ETB counter. The argument byte carries no
// meaning.
func (s *Session) ResetEventToggle([]byte) { s.dev.resetEventToggle() }

// RecordOutput appends data as one block.
func (s *Session) RecordOutput(data []byte) {
	s.dev.appendBlocks(append([]byte(nil), data...))
}

// VerticalFeed appends one empty block per line in the decimal payload.
func (s *Session) VerticalFeed(payload []byte) error {
	text := strings.TrimSpace(string(payload))
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 || n > MaxFeedLines {
		return fmt.Errorf("%w: %q", ErrMalformedFeed, text)
	}
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = []byte{}
	}
	s.dev.appendBlocks(blocks...)
	return nil
}

// Close flushes captured blocks to the store and releases the device; the
// next session opens once the settle delay has passed. The device is
// released even when persisting fails.
// Further calls return the first result.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.closeErr = s.dev.closeSession(s)
	})
	return s.closeErr
}
