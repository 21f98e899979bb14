package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrStreamClosed is returned when the stream ends before a command or one of
// its arguments has been read completely.
var ErrStreamClosed = errors.New("stream closed")

// ArgKind selects how an argument payload is delimited on the wire.
type ArgKind uint8

const (
	// ArgExact reads a fixed number of bytes.
	ArgExact ArgKind = iota + 1
	// ArgUntil reads up to and including a terminator sequence.
	ArgUntil
	// ArgSized reads a little-endian length prefix followed by that many bytes.
	ArgSized
)

func (k ArgKind) String() string {
	switch k {
	case ArgExact:
		return "exact"
	case ArgUntil:
		return "until"
	case ArgSized:
		return "sized"
	default:
		return fmt.Sprintf("ArgKind(%d)", uint8(k))
	}
}

// ArgSpec describes one argument of a command.
//
// N is the byte count for ArgExact and the width of the length prefix for
// ArgSized. Terminator is only used by ArgUntil.
type ArgSpec struct {
	Kind       ArgKind
	N          int
	Terminator []byte
}

// DefaultTerminator ends Until arguments unless a command says otherwise.
var DefaultTerminator = []byte{0x00}

// Exact reads exactly n bytes.
func Exact(n int) ArgSpec {
	return ArgSpec{Kind: ArgExact, N: n}
}

// Until reads until terminator. With no terminator the default single NUL
// byte is used.
func Until(terminator ...byte) ArgSpec {
	if len(terminator) == 0 {
		terminator = DefaultTerminator
	}
	return ArgSpec{Kind: ArgUntil, Terminator: terminator}
}

// MaxSizedWidth bounds the length prefix so every announced size fits an
// int64 byte count.
const MaxSizedWidth = 4

// Sized reads a width-byte little-endian length and then the payload.
func Sized(width int) ArgSpec {
	return ArgSpec{Kind: ArgSized, N: width}
}

// Reader is the stream a command is decoded from.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Decode reads one argument payload described by spec from r.
func Decode(r Reader, spec ArgSpec) ([]byte, error) {
	switch spec.Kind {
	case ArgExact:
		return readExact(r, spec.N)
	case ArgUntil:
		return readUntil(r, spec.Terminator)
	case ArgSized:
		if spec.N <= 0 || spec.N > MaxSizedWidth {
			return nil, fmt.Errorf("invalid length prefix width %d", spec.N)
		}
		prefix, err := readExact(r, spec.N)
		if err != nil {
			return nil, err
		}
		var size uint64
		for i := len(prefix) - 1; i >= 0; i-- {
			size = size<<8 | uint64(prefix[i])
		}
		return readSized(r, size)
	default:
		return nil, fmt.Errorf("unsupported argument kind %s", spec.Kind)
	}
}

func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes", ErrStreamClosed, n)
		}
		return nil, err
	}
	return buf, nil
}

// readSized avoids allocating the announced size up front.
func readSized(r io.Reader, size uint64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, int64(size))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrStreamClosed, size, n)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func readUntil(r io.ByteReader, terminator []byte) ([]byte, error) {
	if len(terminator) == 0 {
		terminator = DefaultTerminator
	}
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: terminator %x not found", ErrStreamClosed, terminator)
			}
			return nil, err
		}
		out = append(out, b)
		if bytes.HasSuffix(out, terminator) {
			return out[:len(out)-len(terminator)], nil
		}
	}
}
