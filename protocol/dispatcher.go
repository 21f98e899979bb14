package protocol

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Dispatcher walks the command trie over one connection's byte stream and
// applies matched commands to a Target. A Dispatcher is not safe for
// concurrent use; create one per connection.
type Dispatcher struct {
	root   *Node
	target Target
	logger *zap.Logger

	onCommand func(name string)
	onUnknown func(code []byte)
}

// NewDispatcher creates a dispatcher for root that mutates target.
func NewDispatcher(root *Node, target Target, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{root: root, target: target, logger: logger}
}

// SetMetricsCallbacks installs hooks for matched and unknown commands.
// onCommand runs after the command's handler.
func (d *Dispatcher) SetMetricsCallbacks(onCommand func(name string), onUnknown func(code []byte)) {
	d.onCommand, d.onUnknown = onCommand, onUnknown
}

// Run consumes r until it ends. It returns nil when the stream ends between
// commands and an error wrapping ErrStreamClosed when it ends inside one.
// Unknown sequences and handler failures are logged and skipped.
func (d *Dispatcher) Run(ctx context.Context, r Reader) error {
	node := d.root
	code := make([]byte, 0, 8)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if node != d.root {
					return fmt.Errorf("%w: incomplete command %x", ErrStreamClosed, code)
				}
				return nil
			}
			return fmt.Errorf("read command byte: %w", err)
		}

		code = append(code, b)
		next := node.Step(b)

		switch {
		case next == nil && node == d.root:
			// filler between commands
			d.logger.Debug("skip byte", zap.String("byte", hex.EncodeToString(code)))
		case next == nil:
			d.unknown(code)
			node = d.root
		case next.IsLeaf():
			if err := d.execute(next, r); err != nil {
				return err
			}
			node = d.root
		default:
			node = next
			continue
		}
		code = code[:0]
	}
}

func (d *Dispatcher) unknown(code []byte) {
	d.logger.Warn("unknown command", zap.String("code", hex.EncodeToString(code)))
	if d.onUnknown != nil {
		d.onUnknown(append([]byte(nil), code...))
	}
}

func (d *Dispatcher) execute(leaf *Node, r Reader) error {
	entry := leaf.Entry()
	args := make([][]byte, 0, len(entry.Args))
	for i, spec := range entry.Args {
		arg, err := Decode(r, spec)
		if err != nil {
			return fmt.Errorf("command %q (%x) argument %d: %w", entry.Name, leaf.Code(), i, err)
		}
		args = append(args, arg)
	}

	if ce := d.logger.Check(zapcore.DebugLevel, "command"); ce != nil {
		ce.Write(
			zap.String("code", hex.EncodeToString(leaf.Code())),
			zap.String("name", entry.Name),
			zap.Strings("args", describeArgs(entry.Args, args)),
		)
	}
	if entry.Handler != nil {
		if err := entry.Handler(d.target, args); err != nil {
			d.logger.Warn("command failed",
				zap.String("code", hex.EncodeToString(leaf.Code())),
				zap.String("name", entry.Name),
				zap.Error(err))
		}
	}
	if d.onCommand != nil {
		d.onCommand(entry.Name)
	}
	return nil
}

func describeArgs(specs []ArgSpec, args [][]byte) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		switch specs[i].Kind {
		case ArgUntil:
			out[i] = fmt.Sprintf("%x (%s)", arg, Printable(arg))
		case ArgSized:
			out[i] = fmt.Sprintf("(%d bytes)", len(arg))
		default:
			out[i] = hex.EncodeToString(arg)
		}
	}
	return out
}
