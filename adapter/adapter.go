package adapter

// Adapter defines the interface for a physical printer that captured jobs
// can be mirrored to
type Adapter interface {
	// Open opens the connection to the printer
	Open() error

	// Write sends raw print data to the printer
	Write(data []byte) (int, error)

	// Close closes the connection to the printer
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool
}
