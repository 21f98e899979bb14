package printer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionConflict is returned when a session is requested while another
	// one is still open.
	ErrSessionConflict = errors.New("printer session already open")
	// ErrMalformedFeed is returned for a vertical feed count that is not a
	// non-negative decimal integer.
	ErrMalformedFeed = errors.New("malformed vertical feed payload")
	// ErrPersistence wraps storage failures while flushing a session.
	ErrPersistence = errors.New("persist captured pages")
)

// EventToggleModulus bounds the event toggle (ETB) counter.
const EventToggleModulus = 32

// TimestampLayout names captured jobs after their session start time.
const TimestampLayout = "2006-01-02-15-04-05"

// Store persists the ordered blocks of one captured job.
type Store interface {
	Save(name string, blocks [][]byte) error
}

// Option configures a Device.
type Option func(*Device)

// WithSettleDelay sets the cool-down after a flush before the next session
// may open.
func WithSettleDelay(d time.Duration) Option {
	return func(dev *Device) { dev.settle = d }
}

// WithClock overrides the session start clock.
func WithClock(now func() time.Time) Option {
	return func(dev *Device) { dev.now = now }
}

// Device is the emulated printer shared by all connections.
type Device struct {
	store  Store
	settle time.Duration
	now    func() time.Time
	logger *zap.Logger

	counter atomic.Uint32

	mu          sync.Mutex
	open        bool
	session     *Session
	buffer      [][]byte
	settleUntil time.Time
}

// New creates a device persisting captured jobs to store.
func New(store Store, logger *zap.Logger, opts ...Option) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Device{
		store:  store,
		settle: time.Second,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EventToggle returns the current ETB counter.
func (d *Device) EventToggle() uint8 {
	return uint8(d.counter.Load())
}

// StatusSnapshot returns the 9-byte automatic status frame.
func (d *Device) StatusSnapshot() []byte {
	return StatusFrame(d.EventToggle())
}

// StatusFrame encodes counter into the status frame. Bits 0-2 of the counter
// land in bits 1-3 of byte 7 and bits 3-4 in bits 5-6.
func StatusFrame(counter uint8) []byte {
	frame := []byte{0x23, 0x86, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	frame[7] = (counter&0x07)<<1 | (counter&0x18)<<2
	return frame
}

// SessionOpen reports whether a print session currently holds the device.
func (d *Device) SessionOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Buffered returns the number of blocks captured by the open session.
func (d *Device) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// OpenSession acquires exclusive use of the page buffer. It waits out the
// cool-down of a previous session and fails only while another session is
// live. Every successful call must be paired with Session.Close.
func (d *Device) OpenSession() (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		if d.open {
			return nil, fmt.Errorf("%w (held by %s since %s)",
				ErrSessionConflict, d.session.id, d.session.started.Format(time.RFC3339))
		}
		wait := time.Until(d.settleUntil)
		if wait <= 0 {
			break
		}
		d.mu.Unlock()
		time.Sleep(wait)
		d.mu.Lock()
	}

	s := &Session{
		dev:     d,
		id:      uuid.NewString(),
		started: d.now(),
	}
	d.open = true
	d.session = s
	d.buffer = nil
	return s, nil
}

func (d *Device) updateEventToggle() {
	for {
		old := d.counter.Load()
		if d.counter.CompareAndSwap(old, (old+1)%EventToggleModulus) {
			return
		}
	}
}

func (d *Device) resetEventToggle() {
	d.counter.Store(0)
}

func (d *Device) appendBlocks(blocks ...[]byte) {
	d.mu.Lock()
	d.buffer = append(d.buffer, blocks...)
	d.mu.Unlock()
}

func (d *Device) closeSession(s *Session) error {
	d.mu.Lock()
	blocks := d.buffer
	d.buffer = nil
	d.mu.Unlock()

	var err error
	if len(blocks) > 0 {
		name := s.started.Format(TimestampLayout)
		if serr := d.store.Save(name, blocks); serr != nil {
			err = fmt.Errorf("%w %s: %w", ErrPersistence, name, serr)
			d.logger.Error("persist failed",
				zap.String("session", s.id),
				zap.String("name", name),
				zap.Int("blocks", len(blocks)),
				zap.Error(serr))
		} else {
			d.logger.Info("job persisted",
				zap.String("session", s.id),
				zap.String("name", name),
				zap.Int("blocks", len(blocks)))
		}
	}

	d.mu.Lock()
	d.open = false
	d.session = nil
	d.settleUntil = time.Now().Add(d.settle)
	d.mu.Unlock()
	return err
}
