package protocol

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recorder is a Target that keeps everything it is told.
type recorder struct {
	toggles int
	resets  [][]byte
	blocks  [][]byte
}

func (r *recorder) UpdateEventToggle() { r.toggles++ }

func (r *recorder) ResetEventToggle(arg []byte) { r.resets = append(r.resets, arg) }

func (r *recorder) RecordOutput(data []byte) { r.blocks = append(r.blocks, data) }

func (r *recorder) VerticalFeed(payload []byte) error {
	n, err := strconv.Atoi(string(payload))
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		r.blocks = append(r.blocks, []byte{})
	}
	return nil
}

type run struct {
	target   *recorder
	commands []string
	unknown  [][]byte
	err      error
}

func dispatch(t *testing.T, stream []byte) run {
	t.Helper()
	res := run{target: &recorder{}}
	d := NewDispatcher(MustBuildTrie(DefaultTable()), res.target, zaptest.NewLogger(t))
	d.SetMetricsCallbacks(
		func(name string) { res.commands = append(res.commands, name) },
		func(code []byte) { res.unknown = append(res.unknown, code) },
	)
	res.err = d.Run(context.Background(), bufio.NewReader(bytes.NewReader(stream)))
	return res
}

func TestDispatchDumpBytes(t *testing.T) {
	res := dispatch(t, []byte{0x62, 0x03, 0x00, 'A', 'B', 'C'})

	require.NoError(t, res.err)
	assert.Equal(t, []string{"dump bytes"}, res.commands)
	assert.Equal(t, [][]byte{[]byte("ABC")}, res.target.blocks)
}

func TestDispatchEventToggle(t *testing.T) {
	res := dispatch(t, []byte{0x17, 0x17, 0x1b, 0x1e, 0x45, 0x99, 0x17})

	require.NoError(t, res.err)
	assert.Equal(t, 3, res.target.toggles)
	assert.Equal(t, [][]byte{{0x99}}, res.target.resets)
	assert.Equal(t, []string{"update etb", "update etb", "reset normal etb", "update etb"}, res.commands)
}

func TestDispatchCommandHookSeesHandlerEffect(t *testing.T) {
	target := &recorder{}
	var seen []int
	d := NewDispatcher(MustBuildTrie(DefaultTable()), target, zaptest.NewLogger(t))
	d.SetMetricsCallbacks(func(string) { seen = append(seen, target.toggles) }, nil)

	require.NoError(t, d.Run(context.Background(), bufio.NewReader(bytes.NewReader([]byte{0x17, 0x17}))))
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDispatchVerticalFeed(t *testing.T) {
	stream := append([]byte{0x1b, 0x2a, 0x72, 0x59}, []byte("123\x00\x00")...)
	res := dispatch(t, stream)

	require.NoError(t, res.err)
	assert.Len(t, res.target.blocks, 123)
	// the trailing NUL is a no-op command
	assert.Equal(t, []string{"move vertical position", "do nothing"}, res.commands)
}

func TestDispatchMalformedFeedContinues(t *testing.T) {
	stream := append([]byte{0x1b, 0x2a, 0x72, 0x59}, []byte("abc\x00")...)
	stream = append(stream, 0x17)
	res := dispatch(t, stream)

	require.NoError(t, res.err)
	assert.Empty(t, res.target.blocks)
	assert.Equal(t, 1, res.target.toggles)
}

func TestDispatchResyncAfterPartialMatch(t *testing.T) {
	res := dispatch(t, []byte{0x1b, 0x2a, 0x72, 0xff, 0x17})

	require.NoError(t, res.err)
	assert.Equal(t, [][]byte{{0x1b, 0x2a, 0x72, 0xff}}, res.unknown)
	assert.Equal(t, 1, res.target.toggles)
}

func TestDispatchSkipsFillerAtRoot(t *testing.T) {
	res := dispatch(t, []byte{0xff, 0x41, 0x17, 0xfe})

	require.NoError(t, res.err)
	assert.Empty(t, res.unknown)
	assert.Equal(t, 1, res.target.toggles)
}

func TestDispatchCommandsWithoutHandler(t *testing.T) {
	stream := []byte{
		0x1b, 0x1d, 0x03, 0x03, 0x00, 0x00, // start document
		0x1b, 0x2a, 0x72, 0x41, // enter raster mode
		0x1b, 0x2a, 0x72, 0x6d, 0x05, '1', '0', 0x00, // side margin
		0x1b, 0x07, 0x14, 0x14, // pulse
		0x1b, 0x2a, 0x72, 0x42, // quit raster mode
		0x1b, 0x1d, 0x03, 0x04, 0x00, 0x00, // end document
	}
	res := dispatch(t, stream)

	require.NoError(t, res.err)
	assert.Equal(t, []string{
		"start document",
		"enter raster mode",
		"set raster side margin",
		"set ext device 1 pulse",
		"quit raster mode",
		"end document",
	}, res.commands)
	assert.Empty(t, res.target.blocks)
}

func TestDispatchStreamClosed(t *testing.T) {
	testCases := []struct {
		name   string
		stream []byte
	}{
		{"MidCode", []byte{0x1b, 0x2a}},
		{"MidSizedPrefix", []byte{0x62, 0x05}},
		{"MidPayload", []byte{0x62, 0x05, 0x00, 'h', 'e'}},
		// 00 03 announces 0x0300 bytes, not 3
		{"BigEndianLength", []byte{0x62, 0x00, 0x03, 'A', 'B', 'C'}},
		{"MissingTerminator", []byte{0x1b, 0x2a, 0x72, 0x59, '1', '2'}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := dispatch(t, tc.stream)
			assert.ErrorIs(t, res.err, ErrStreamClosed)
			assert.Empty(t, res.target.blocks)
		})
	}
}

func TestDispatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(MustBuildTrie(DefaultTable()), &recorder{}, nil)
	err := d.Run(ctx, bufio.NewReader(bytes.NewReader([]byte{0x17})))
	assert.True(t, errors.Is(err, context.Canceled))
}
