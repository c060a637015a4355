package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwupdcore/internal/device"
	"fwupdcore/internal/registry"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := &InstallRequest{GUID: "usb:1234", FwBytes: []byte{1, 2, 3}}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	out := new(InstallRequest)
	require.NoError(t, c.Unmarshal(data, out))
	require.Equal(t, req.GUID, out.GUID)
	require.Equal(t, req.FwBytes, out.FwBytes)
	require.Equal(t, "json", c.Name())
}

func TestServerListDevicesAndInstall(t *testing.T) {
	reg := registry.New(time.Second)
	reg.Add("usb:1", device.New("widget", nil, nil))

	s := NewServer(reg)

	listResp, err := s.ListDevices(context.Background(), &ListDevicesRequest{})
	require.NoError(t, err)
	require.Len(t, listResp.Devices, 1)
	require.Equal(t, "widget", listResp.Devices[0].Name)

	installResp, err := s.Install(context.Background(), &InstallRequest{GUID: "missing"})
	require.NoError(t, err)
	require.False(t, installResp.Accepted)
	require.NotEmpty(t, installResp.Error)
}

func TestServerInstallCompositeAcceptsLiveMembersAndFailsFastOnMissingGUID(t *testing.T) {
	reg := registry.New(time.Second)
	reg.Add("usb:pad-l", device.New("PadL", &nopTransport{}, &device.Quirk{BlockSize: 4}))
	reg.Add("usb:pad-r", device.New("PadR", &nopTransport{}, &device.Quirk{BlockSize: 4}))

	s := NewServer(reg)

	resp, err := s.InstallComposite(context.Background(), &InstallCompositeRequest{
		GUIDs:   []string{"usb:pad-l", "usb:pad-r"},
		FwBytes: []byte{1, 2, 3, 4},
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	resp, err = s.InstallComposite(context.Background(), &InstallCompositeRequest{
		GUIDs: []string{"usb:pad-l", "usb:missing"},
	})
	require.NoError(t, err)
	require.False(t, resp.Accepted)
	require.NotEmpty(t, resp.Error)
}

type nopTransport struct{}

func (*nopTransport) Open(ctx context.Context) error  { return nil }
func (*nopTransport) Close() error                     { return nil }
func (*nopTransport) Write(ctx context.Context, data []byte) error { return nil }
func (*nopTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	return 0, nil
}
