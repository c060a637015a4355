package firmware_test

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func buildVendorBundle(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := `{"vendor":"wacom","parts":[{"role":"dock","version":"1.2","offset":0,"length":4},{"role":"cable","version":"0.9","offset":4,"length":4}]}`
	w, _ := zw.Create("manifest.json")
	w.Write([]byte(manifest))

	w, _ = zw.Create("payload.bin")
	w.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE})

	zw.Close()
	return buf.Bytes()
}

func TestVendorBundleSlicesPayload(t *testing.T) {
	fw, err := firmware.Parse(firmware.KindVendorBundle, stream.New(buildVendorBundle(t)))
	require.NoError(t, err)

	require.Len(t, fw.Images[0].Children, 2)
	require.Equal(t, "dock", fw.Images[0].Children[0].ID)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, fw.Images[0].Children[0].Bytes)
	require.Equal(t, "cable", fw.Images[0].Children[1].ID)
	require.Equal(t, []byte{0xCA, 0xFE, 0xBA, 0xBE}, fw.Images[0].Children[1].Bytes)
}

func TestVendorBundleMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("payload.bin")
	w.Write([]byte{1, 2, 3})
	zw.Close()

	_, err := firmware.Parse(firmware.KindVendorBundle, stream.New(buf.Bytes()))
	require.Error(t, err)
}
