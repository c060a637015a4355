package firmware_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func buildNVMeIdentify(sn, mn, sr string, fwug byte) []byte {
	buf := make([]byte, 0x1000)
	copy(buf[4:24], sn)
	copy(buf[24:64], mn)
	copy(buf[64:72], sr)
	buf[319] = fwug
	return buf
}

func TestNVMeIdentifyParseScenario(t *testing.T) {
	raw := buildNVMeIdentify("37RSDEADBEEF", "TOSHIBA THNSN5512GPU7", "410557LA", 0xff)

	fw, err := firmware.Parse(firmware.KindNVMeIdentify, stream.New(raw))
	require.NoError(t, err)

	id, ok := fw.Parsed.(firmware.NVMeIdentity)
	require.True(t, ok)
	require.Equal(t, "37RSDEADBEEF", id.Serial)
	require.Equal(t, "THNSN5512GPU7 TOSHIBA", id.DeviceName)
	require.Equal(t, "410557LA", id.Version)
	require.NotEmpty(t, id.InstanceGUID)
	require.Empty(t, id.FRUGUID)
}

func TestNVMeIdentifyWriteBlockSize(t *testing.T) {
	raw := buildNVMeIdentify("SN", "VENDOR MODEL", "VER", 0x04)
	fw, err := firmware.Parse(firmware.KindNVMeIdentify, stream.New(raw))
	require.NoError(t, err)
	id := fw.Parsed.(firmware.NVMeIdentity)
	require.Equal(t, uint64(0x04*0x1000), id.WriteBlockSz)
}

func TestNVMeIdentifyWriteBlockSizeUnsetSentinels(t *testing.T) {
	for _, fwug := range []byte{0x00, 0xff} {
		raw := buildNVMeIdentify("SN", "VENDOR MODEL", "VER", fwug)
		fw, err := firmware.Parse(firmware.KindNVMeIdentify, stream.New(raw))
		require.NoError(t, err)
		id := fw.Parsed.(firmware.NVMeIdentity)
		require.Zero(t, id.WriteBlockSz)
	}
}

func TestNVMeIdentifyFRUGUIDPreferredOverHash(t *testing.T) {
	raw := buildNVMeIdentify("SN", "VENDOR MODEL", "VER", 0x00)
	copy(raw[127:143], []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	})

	fw, err := firmware.Parse(firmware.KindNVMeIdentify, stream.New(raw))
	require.NoError(t, err)
	id := fw.Parsed.(firmware.NVMeIdentity)
	require.NotEmpty(t, id.FRUGUID)
	require.Equal(t, id.FRUGUID, id.InstanceGUID)
}

func TestNVMeIdentifyNoVendorSpaceKeepsNameAsIs(t *testing.T) {
	raw := buildNVMeIdentify("SN", "SOLOMODEL", "VER", 0x00)
	fw, err := firmware.Parse(firmware.KindNVMeIdentify, stream.New(raw))
	require.NoError(t, err)
	id := fw.Parsed.(firmware.NVMeIdentity)
	require.Equal(t, "SOLOMODEL", id.DeviceName)
}

func TestNVMeIdentifyRejectsWrongSize(t *testing.T) {
	_, err := firmware.Parse(firmware.KindNVMeIdentify, stream.New([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestNVMeIdentifyModelNumberIsPrintableASCII(t *testing.T) {
	raw := buildNVMeIdentify("SN", "  TOSHIBA THNSN5512GPU7  ", "VER", 0x00)
	fw, err := firmware.Parse(firmware.KindNVMeIdentify, stream.New(raw))
	require.NoError(t, err)
	id := fw.Parsed.(firmware.NVMeIdentity)
	for _, r := range id.DeviceName {
		require.True(t, r >= 0x20 && r < 0x7f)
	}
}
