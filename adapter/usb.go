package adapter

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/gousb"
)

var (
	errNotOpen       = errors.New("device not open")
	errNoPrinter     = errors.New("cannot find printer")
	errNoPrinterIntf = errors.New("no printer interface found")
)

// USBAdapter forwards raw print data to a USB printer-class device
type USBAdapter struct {
	ctx         *gousb.Context
	device      *gousb.Device
	config      *gousb.Config
	iface       *gousb.Interface
	outEndpoint *gousb.OutEndpoint
	isOpen      bool
	mu          sync.Mutex
}

// NewUSBAdapter finds the printer with the given VID/PID. A zero vid selects
// the first printer-class device instead.
func NewUSBAdapter(vid, pid uint16) (*USBAdapter, error) {
	if vid == 0 {
		return NewUSBAdapterAuto()
	}

	ctx := gousb.NewContext()
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil || device == nil {
		ctx.Close()
		if err == nil {
			err = errNoPrinter
		}
		return nil, fmt.Errorf("open %04x:%04x: %w", vid, pid, err)
	}
	return &USBAdapter{ctx: ctx, device: device}, nil
}

// NewUSBAdapterAuto picks the first printer-class device on the bus
func NewUSBAdapterAuto() (*USBAdapter, error) {
	ctx := gousb.NewContext()

	devices := FindPrinters(ctx)
	if len(devices) == 0 {
		ctx.Close()
		return nil, errNoPrinter
	}
	for _, extra := range devices[1:] {
		extra.Close()
	}
	return &USBAdapter{ctx: ctx, device: devices[0]}, nil
}

// HasPrinterInterface reports whether any configuration of desc exposes a
// printer-class interface
func HasPrinterInterface(desc *gousb.DeviceDesc) bool {
	if desc == nil {
		return false
	}
	for _, cfg := range desc.Configs {
		if _, ok := printerInterface(cfg); ok {
			return true
		}
	}
	return false
}

// FindPrinters opens every printer-class device on the bus
func FindPrinters(ctx *gousb.Context) []*gousb.Device {
	devices, _ := ctx.OpenDevices(HasPrinterInterface)
	printers := make([]*gousb.Device, 0, len(devices))
	for _, dev := range devices {
		if dev != nil {
			printers = append(printers, dev)
		}
	}
	return printers
}

func printerInterface(cfg gousb.ConfigDesc) (int, bool) {
	for _, iface := range cfg.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == gousb.ClassPrinter {
				return iface.Number, true
			}
		}
	}
	return 0, false
}

// Open claims the printer interface and its bulk OUT endpoint
func (a *USBAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}
	if a.device == nil {
		return errNoPrinter
	}

	if runtime.GOOS == "linux" {
		_ = a.device.SetAutoDetach(true)
	}

	cfgNum, err := a.device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}
	ifaceNum, ok := printerInterface(a.device.Desc.Configs[cfgNum])
	if !ok {
		return errNoPrinterIntf
	}

	cfg, err := a.device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	var out *gousb.OutEndpoint
	for _, ep := range iface.Setting.Endpoints {
		if ep.Direction != gousb.EndpointDirectionOut {
			continue
		}
		if out, err = iface.OutEndpoint(ep.Number); err == nil {
			break
		}
	}
	if out == nil {
		iface.Close()
		cfg.Close()
		return errors.New("cannot find output endpoint from printer")
	}

	a.config, a.iface, a.outEndpoint = cfg, iface, out
	a.isOpen = true
	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errNotOpen
	}
	n, err := a.outEndpoint.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Close releases the interface, the device and the libusb context
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.iface != nil {
		a.iface.Close()
		a.iface = nil
	}
	if a.config != nil {
		if err := a.config.Close(); err != nil {
			errs = append(errs, err)
		}
		a.config = nil
	}
	if a.device != nil {
		if err := a.device.Close(); err != nil {
			errs = append(errs, err)
		}
		a.device = nil
	}
	if a.ctx != nil {
		if err := a.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		a.ctx = nil
	}
	a.outEndpoint = nil
	a.isOpen = false

	return errors.Join(errs...)
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}
