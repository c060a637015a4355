package firmware_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func putU32(buf []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

func putU16(buf []byte, off uint32, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:off+2], v)
}

func TestAMDPSPWalksDirectoryTree(t *testing.T) {
	buf := make([]byte, 0x2000)
	putU32(buf, 0, 0x55AA55AA) // EFS signature
	putU32(buf, 0x14, 0x100)   // psp_dir_loc

	// L1 directory at 0x100: header + 1 entry pointing at ISH at 0x400.
	putU32(buf, 0x100, 0xAAAA) // cookie
	putU32(buf, 0x104, 0)      // checksum
	putU32(buf, 0x108, 1)      // total_entries
	putU32(buf, 0x110, 0x40)   // fw_id = ISH_A
	putU32(buf, 0x114, 0)      // size
	putU32(buf, 0x118, 0x400)  // loc

	// Image slot header at 0x400: fw_id=partition A, loc_csm=0x500, loc=0x600, slot_max_size=0x100
	putU32(buf, 0x400, 0x50)
	putU32(buf, 0x404, 0x500)
	putU32(buf, 0x408, 0x600)
	putU32(buf, 0x40C, 0x100)

	copy(buf[0x500:], []byte("ATOMBIOSBK-AMD VER"))
	// ATOM string table: num_strings=1 and str_loc=0x300 at the usual
	// rom-header-relative offsets, one part-number string at 0x500+0x300.
	buf[0x500+0x4A] = 1
	putU16(buf, 0x500+0x4B, 0x300)
	copy(buf[0x800:], []byte("PN-TEST"))

	// L2 directory at 0x600: header + 0 entries
	putU32(buf, 0x600, 0xBBBB)
	putU32(buf, 0x604, 0)
	putU32(buf, 0x608, 0)

	fw, err := firmware.Parse(firmware.KindAMDPSP, stream.New(buf))
	require.NoError(t, err)
	require.Len(t, fw.Images, 1)
	require.Len(t, fw.Images[0].Children, 1)

	ish := fw.Images[0].Children[0]
	require.Equal(t, "ISH_A", ish.ID)
	require.Len(t, ish.Children, 2) // CSM image + L2 partition image
	require.Equal(t, "PN-TEST", ish.Children[0].ID, "CSM part number must propagate up to gate update acceptance")
}

func TestAMDPSPRejectsBadSignature(t *testing.T) {
	buf := make([]byte, 32)
	_, err := firmware.Parse(firmware.KindAMDPSP, stream.New(buf))
	require.Error(t, err)
}
