package protocol

// Target receives the side effects of matched commands.
type Target interface {
	UpdateEventToggle()
	ResetEventToggle(arg []byte)
	RecordOutput(data []byte)
	VerticalFeed(payload []byte) error
}

// Handler applies a decoded command to a Target. args holds one payload per
// ArgSpec of the command, in declaration order.
type Handler func(t Target, args [][]byte) error

// CommandEntry is one row of the command table.
type CommandEntry struct {
	Name    string
	Handler Handler
	Args    []ArgSpec
}

// Table maps a raw command code to its entry. Keys are the code bytes
// converted to a string.
type Table map[string]CommandEntry

// DefaultTable returns the command set understood by the TSP100 emulation.
func DefaultTable() Table {
	return Table{
		"\x00": {Name: "do nothing"},
		"\x07": {Name: "ext device 1 command 1"},
		"\x1a": {Name: "ext device 2 command 1"},
		"\x17": {Name: "update etb", Handler: updateEventToggle},
		"\x62": {Name: "dump bytes", Handler: recordOutput, Args: []ArgSpec{Sized(2)}},

		"\x1b\x06\x01": {Name: "real-time status"},
		"\x1b\x07":     {Name: "set ext device 1 pulse", Args: []ArgSpec{Exact(1), Exact(1)}},
		"\x1b\x0c\x00": {Name: "execute ff mode"},
		"\x1b\x0c\x19": {Name: "execute em mode"},
		"\x1b\x1e\x45": {Name: "reset normal etb", Handler: resetEventToggle, Args: []ArgSpec{Exact(1)}},

		"\x1b\x2a\x72\x41": {Name: "enter raster mode"},
		"\x1b\x2a\x72\x42": {Name: "quit raster mode"},
		"\x1b\x2a\x72\x52": {Name: "initialize raster mode"},
		"\x1b\x2a\x72\x45": {Name: "set raster eot mode", Args: []ArgSpec{Until()}},
		"\x1b\x2a\x72\x46": {Name: "set raster ff mode", Args: []ArgSpec{Until()}},
		"\x1b\x2a\x72\x50": {Name: "set raster page length", Args: []ArgSpec{Until()}},
		"\x1b\x2a\x72\x51": {Name: "set raster print quality", Args: []ArgSpec{Until()}},
		"\x1b\x2a\x72\x54": {Name: "set raster top margin", Args: []ArgSpec{Until()}},
		"\x1b\x2a\x72\x65": {Name: "set raster em mode", Args: []ArgSpec{Until()}},
		"\x1b\x2a\x72\x59": {Name: "move vertical position", Handler: verticalFeed, Args: []ArgSpec{Until()}},
		"\x1b\x2a\x72\x6d": {Name: "set raster side margin", Args: []ArgSpec{Exact(1), Until()}},

		"\x1b\x1d\x03\x03": {Name: "start document", Args: []ArgSpec{Exact(1), Exact(1)}},
		"\x1b\x1d\x03\x04": {Name: "end document", Args: []ArgSpec{Exact(1), Exact(1)}},
	}
}

func updateEventToggle(t Target, _ [][]byte) error {
	t.UpdateEventToggle()
	return nil
}

func resetEventToggle(t Target, args [][]byte) error {
	t.ResetEventToggle(args[0])
	return nil
}

func recordOutput(t Target, args [][]byte) error {
	t.RecordOutput(args[0])
	return nil
}

func verticalFeed(t Target, args [][]byte) error {
	return t.VerticalFeed(args[0])
}
