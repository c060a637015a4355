package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwupdcore/internal/device"
	"fwupdcore/internal/registry"
)

type fakeBackend struct {
	events chan registry.HotplugEvent
}

func newFakeBackend() *fakeBackend { return &fakeBackend{events: make(chan registry.HotplugEvent, 8)} }

func (f *fakeBackend) Events(ctx context.Context) (<-chan registry.HotplugEvent, error) {
	return f.events, nil
}
func (f *fakeBackend) Close() error { close(f.events); return nil }

func TestProbeLoopAddAndRemove(t *testing.T) {
	r := registry.New(20 * time.Millisecond)
	b := newFakeBackend()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = r.ProbeLoop(ctx, b, func(ev registry.HotplugEvent) (*device.Device, error) {
			return device.New("fake-"+ev.GUID, nil, nil), nil
		})
		close(done)
	}()

	b.events <- registry.HotplugEvent{Kind: registry.HotplugAdd, GUID: "usb:0001"}
	require.Eventually(t, func() bool { return r.Lookup("usb:0001") != nil }, time.Second, time.Millisecond)

	b.events <- registry.HotplugEvent{Kind: registry.HotplugRemove, GUID: "usb:0001"}
	require.Eventually(t, func() bool { return r.Lookup("usb:0001") == nil }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestRemoveDelayCancelledByReplug(t *testing.T) {
	r := registry.New(100 * time.Millisecond)
	d := device.New("dock", nil, nil)

	r.Add("usb:0002", d)
	r.Remove("usb:0002")
	require.NotNil(t, r.Lookup("usb:0002"), "device should remain during remove-delay window")

	r.Add("usb:0002", d) // replug cancels pending removal
	time.Sleep(150 * time.Millisecond)
	require.NotNil(t, r.Lookup("usb:0002"), "replug should have cancelled the scheduled removal")
}

func TestPlanUnknownDevice(t *testing.T) {
	r := registry.New(time.Second)
	_, err := r.Plan("missing")
	require.Error(t, err)
}

func TestWaitForReplugSucceedsOnReenumeration(t *testing.T) {
	r := registry.New(time.Second)

	done := make(chan error, 1)
	go func() {
		done <- r.WaitForReplug(context.Background(), "usb:0003", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Add("usb:0003", device.New("dock", nil, nil))

	require.NoError(t, <-done)
}

func TestWaitForReplugTimesOut(t *testing.T) {
	r := registry.New(time.Second)
	err := r.WaitForReplug(context.Background(), "usb:0004", 20*time.Millisecond)
	require.Error(t, err)
}
