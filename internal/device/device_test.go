package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwupdcore/internal/device"
	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/progress"
)

type fakeTransport struct {
	opened  bool
	closed  bool
	written [][]byte
}

func (f *fakeTransport) Open(ctx context.Context) error  { f.opened = true; return nil }
func (f *fakeTransport) Close() error                     { f.closed = true; return nil }
func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	f.written = append(f.written, append([]byte{}, data...))
	return nil
}
func (f *fakeTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return 0, nil
}

func TestWriteFirmwareRunsFullLifecycle(t *testing.T) {
	tr := &fakeTransport{}
	q := &device.Quirk{Capabilities: device.CapDetach | device.CapAttach | device.CapReload, BlockSize: 4}
	d := device.New("test-device", tr, q)

	fw := firmware.NewRaw([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	prog := progress.New()

	err := d.WriteFirmware(context.Background(), fw, prog, nil, false)
	require.NoError(t, err)
	require.Equal(t, device.StateDone, d.State)
	require.True(t, tr.opened)
	require.Equal(t, float64(100), prog.Percent())
	require.Len(t, tr.written, 2) // two 4-byte chunks
}

func TestWriteFirmwareCleansUpOnFailure(t *testing.T) {
	tr := &failingTransport{}
	d := device.New("broken-device", tr, nil)
	prog := progress.New()

	err := d.WriteFirmware(context.Background(), firmware.NewRaw([]byte{1}), prog, nil, false)
	require.Error(t, err)
	require.True(t, tr.closed)
}

type failingTransport struct {
	closed bool
}

func (f *failingTransport) Open(ctx context.Context) error { return assertErr }
func (f *failingTransport) Close() error                    { f.closed = true; return nil }
func (f *failingTransport) Write(ctx context.Context, data []byte) error { return nil }
func (f *failingTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return 0, nil
}

var assertErr = errOpenFailed{}

type errOpenFailed struct{}

func (errOpenFailed) Error() string { return "open failed" }

func TestCompositeTransactionOrderingAndCleanupOnce(t *testing.T) {
	var writeOrder []string
	newMember := func(name string) *device.Device {
		tr := &orderTrackingTransport{name: name, order: &writeOrder}
		return device.New(name, tr, &device.Quirk{BlockSize: 4})
	}

	padL := newMember("PadL")
	padR := newMember("PadR")
	mcu := newMember("MCU")

	cleanupCalls := 0
	prepareCalls := 0

	fw := firmware.NewRaw([]byte{1, 2, 3, 4})
	prog := progress.New()

	err := device.CompositeTransaction(context.Background(), []*device.Device{padL, padR, mcu}, fw, prog, nil,
		func(context.Context) error { prepareCalls++; return nil },
		func(context.Context) error { cleanupCalls++; return nil },
		false,
	)
	require.NoError(t, err)
	require.Equal(t, []string{"PadL", "PadR", "MCU"}, writeOrder)
	require.Equal(t, 1, prepareCalls)
	require.Equal(t, 1, cleanupCalls)
}

type orderTrackingTransport struct {
	name  string
	order *[]string
}

func (f *orderTrackingTransport) Open(ctx context.Context) error {
	*f.order = append(*f.order, f.name)
	return nil
}
func (f *orderTrackingTransport) Close() error { return nil }
func (f *orderTrackingTransport) Write(ctx context.Context, data []byte) error { return nil }
func (f *orderTrackingTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return 0, nil
}

type fakeReplugWaiter struct {
	err error
}

func (w *fakeReplugWaiter) WaitForReplug(ctx context.Context, guid string, timeout time.Duration) error {
	return w.err
}

func TestAttachWaitsForReplugAndReloadsOnSuccess(t *testing.T) {
	tr := &fakeTransport{}
	q := &device.Quirk{Capabilities: device.CapAttach | device.CapWaitForReplug | device.CapReload}
	d := device.New("replug-device", tr, q)
	d.SetReplugWaiter(&fakeReplugWaiter{})

	var requested string
	onRequest := func(ctx context.Context, req device.InteractiveRequest) error {
		requested = req.Message
		return nil
	}

	err := d.WriteFirmware(context.Background(), firmware.NewRaw([]byte{1}), progress.New(), onRequest, false)
	require.NoError(t, err)
	require.Equal(t, "remove-usb-cable", requested)
	require.Equal(t, device.StateDone, d.State)
}

func TestAttachFailsTransactionOnReplugTimeout(t *testing.T) {
	tr := &fakeTransport{}
	q := &device.Quirk{Capabilities: device.CapAttach | device.CapWaitForReplug}
	d := device.New("replug-timeout-device", tr, q)
	d.SetReplugWaiter(&fakeReplugWaiter{err: errors.New("timeout waiting for replug")})

	err := d.WriteFirmware(context.Background(), firmware.NewRaw([]byte{1}), progress.New(), func(context.Context, device.InteractiveRequest) error { return nil }, false)
	require.Error(t, err)
}

func TestWriteFirmwareRejectsDowngradeUnlessForced(t *testing.T) {
	tr := &fakeTransport{}
	q := &device.Quirk{Capabilities: device.CapOnlyVersionUpgrade, VersionFmt: "triplet"}
	d := device.New("guarded-device", tr, q)
	d.Version = "2.0.0"

	older := &firmware.Firmware{Images: []*firmware.Image{{Bytes: []byte{1}, Version: "1.0.0"}}}

	err := d.WriteFirmware(context.Background(), older, progress.New(), nil, false)
	require.Error(t, err)
	require.Equal(t, "2.0.0", d.Version)

	err = d.WriteFirmware(context.Background(), older, progress.New(), nil, true)
	require.NoError(t, err)
}
