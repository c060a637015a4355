//go:build !mips && !mipsle

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"fwupdcore/pkg/ferrors"
)

// USBEndpointConfig names the VID/PID/config/interface/endpoint quad a
// Device's quirk entry supplies, generalizing the teacher's hard-coded
// Antminer S3 constants (internal/driver/device/usb_device.go) into a
// per-device configuration instead of package-level constants.
type USBEndpointConfig struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	ConfigNum int
	IntfNum   int
	AltNum    int
	EPOut     int
	EPIn      int
}

// USBTransport backs both the Bulk-USB and HID transport kinds: HID rides
// the same gousb interrupt endpoints, just with a feature-report framing
// layer applied by the caller before Write/Read see the bytes.
type USBTransport struct {
	cfg    USBEndpointConfig
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// NewUSBTransport builds a transport for the given endpoint configuration.
// The underlying gousb context is created lazily in Open so a Device can
// be constructed (and its capabilities queried) before any hardware
// access happens.
func NewUSBTransport(cfg USBEndpointConfig) *USBTransport {
	return &USBTransport{cfg: cfg}
}

func (t *USBTransport) Open(ctx context.Context) error {
	t.ctx = gousb.NewContext()

	dev, err := t.ctx.OpenDeviceWithVIDPID(t.cfg.VendorID, t.cfg.ProductID)
	if err != nil {
		t.ctx.Close()
		return fmt.Errorf("usb open: %w", ferrors.New(ferrors.NotFound, err.Error()))
	}
	if dev == nil {
		t.ctx.Close()
		return fmt.Errorf("usb open: %w", ferrors.New(ferrors.NotFound,
			fmt.Sprintf("no device VID:0x%04x PID:0x%04x", t.cfg.VendorID, t.cfg.ProductID)))
	}

	cfgNum := t.cfg.ConfigNum
	if cfgNum == 0 {
		cfgNum = 1
	}
	config, err := dev.Config(cfgNum)
	if err != nil {
		dev.Close()
		t.ctx.Close()
		return fmt.Errorf("usb open: %w", ferrors.New(ferrors.Internal, err.Error()))
	}

	intf, err := config.Interface(t.cfg.IntfNum, t.cfg.AltNum)
	if err != nil {
		config.Close()
		dev.Close()
		t.ctx.Close()
		return fmt.Errorf("usb open: %w", ferrors.New(ferrors.Busy, err.Error()))
	}

	epOut, err := intf.OutEndpoint(t.cfg.EPOut)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		t.ctx.Close()
		return fmt.Errorf("usb open: %w", ferrors.New(ferrors.Internal, err.Error()))
	}
	epIn, err := intf.InEndpoint(t.cfg.EPIn)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		t.ctx.Close()
		return fmt.Errorf("usb open: %w", ferrors.New(ferrors.Internal, err.Error()))
	}

	t.dev, t.config, t.intf, t.epOut, t.epIn = dev, config, intf, epOut, epIn
	return nil
}

func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}

func (t *USBTransport) Write(ctx context.Context, data []byte) error {
	if t.epOut == nil {
		return fmt.Errorf("usb write: %w", ferrors.Gone)
	}
	if _, err := t.epOut.WriteContext(ctx, data); err != nil {
		return fmt.Errorf("usb write: %w", ferrors.New(ferrors.Write, err.Error()))
	}
	return nil
}

func (t *USBTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	if t.epIn == nil {
		return 0, fmt.Errorf("usb read: %w", ferrors.Gone)
	}
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := t.epIn.ReadContext(readCtx, buf)
	if err != nil {
		return 0, fmt.Errorf("usb read: %w", ferrors.New(ferrors.Timeout, err.Error()))
	}
	return n, nil
}
