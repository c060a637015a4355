package firmware_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
)

func TestExportBuildRoundTrip(t *testing.T) {
	fw := &firmware.Firmware{
		Kind: firmware.KindRaw,
		Images: []*firmware.Image{
			{
				ID:      "main",
				Addr:    0x1000,
				Version: "1.2.3",
				Bytes:   []byte{0xde, 0xad, 0xbe, 0xef},
				Children: []*firmware.Image{
					{ID: "header", Addr: 0x1000, Bytes: []byte{0xaa}},
				},
			},
		},
	}

	out, err := firmware.Export(fw, 0)
	require.NoError(t, err)

	rebuilt, err := firmware.Build(out)
	require.NoError(t, err)
	require.Equal(t, firmware.KindRaw, rebuilt.Kind)
	require.Len(t, rebuilt.Images, 1)
	require.Equal(t, "main", rebuilt.Images[0].ID)
	require.Equal(t, uint32(0x1000), rebuilt.Images[0].Addr)
	require.Equal(t, "1.2.3", rebuilt.Images[0].Version)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, rebuilt.Images[0].Bytes)
	require.Len(t, rebuilt.Images[0].Children, 1)
	require.Equal(t, []byte{0xaa}, rebuilt.Images[0].Children[0].Bytes)
}

// TestExportIgnoresOffsetAndSize models the golden-file comparator's
// {offset, flags, size} ignore-list: with ExportNoOffset|ExportNoSize the
// addr and size attributes are left out of both exports, while the
// base64-encoded data of the two differently padded images still differs.
func TestExportIgnoresOffsetAndSize(t *testing.T) {
	a := &firmware.Firmware{Kind: firmware.KindRaw, Images: []*firmware.Image{
		{ID: "main", Addr: 0x1000, Bytes: []byte{1, 2, 3}},
	}}
	b := &firmware.Firmware{Kind: firmware.KindRaw, Images: []*firmware.Image{
		{ID: "main", Addr: 0x2000, Bytes: []byte{1, 2, 3, 0, 0}},
	}}

	outA, err := firmware.Export(a, firmware.ExportNoOffset|firmware.ExportNoSize)
	require.NoError(t, err)
	outB, err := firmware.Export(b, firmware.ExportNoOffset|firmware.ExportNoSize)
	require.NoError(t, err)

	require.NotEqual(t, outA, outB) // data itself still differs
	require.NotContains(t, string(outA), "addr=")
	require.NotContains(t, string(outB), "size=")
}

func TestBuildRejectsBadBase64(t *testing.T) {
	_, err := firmware.Build([]byte(`<firmware kind="raw"><image id="x"><data>not-base64!!</data></image></firmware>`))
	require.Error(t, err)
}
