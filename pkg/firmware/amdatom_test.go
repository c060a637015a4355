package firmware_test

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

// writeAMDAtomStringTable writes a num_strings/str_loc ATOM ROM header at
// base+0x48 plus the four-string table and model name it points at, the
// fixture every ParseAMDAtom test needs since the string table is now a
// mandatory part of the parse.
func writeAMDAtomStringTable(buf []byte, base int, strLoc uint16, strs []string, model string) {
	buf[base+0x4A] = byte(len(strs))
	binary.LittleEndian.PutUint16(buf[base+0x4B:], strLoc)

	idx := base + int(strLoc)
	for _, s := range strs {
		copy(buf[idx:], s)
		idx += len(s) + 1
	}
	idx += 2 // CR LF separator before the model name
	copy(buf[idx:], model)
}

func TestAMDAtomFindsAnchorAtBase(t *testing.T) {
	version := strings.Repeat("9", 43)
	buf := make([]byte, 0x1000)
	copy(buf[0x100:], []byte("garbage"))
	copy(buf[0x200:], append([]byte("ATOMBIOSBK-AMD VER"), []byte(version)...))
	writeAMDAtomStringTable(buf, 0x200, 0x300, []string{"PN-ABC", "NAVI31", "PCIE4", "GDDR6"}, "Radeon Pro Test Card")

	fw, err := firmware.ParseAMDAtom(stream.New(buf), 0x200)
	require.NoError(t, err)
	require.Equal(t, version, fw.Images[0].Version)
	require.Equal(t, "PN-ABC", fw.Images[0].ID)

	strs, ok := fw.Parsed.(*firmware.AMDAtomStrings)
	require.True(t, ok)
	require.Equal(t, "PN-ABC", strs.PartNumber)
	require.Equal(t, "NAVI31", strs.ASIC)
	require.Equal(t, "PCIE4", strs.PCIType)
	require.Equal(t, "GDDR6", strs.MemoryType)
	require.Equal(t, "Radeon Pro Test Card", strs.ModelName)
}

func TestAMDAtomMissingAnchor(t *testing.T) {
	_, err := firmware.ParseAMDAtom(stream.New(make([]byte, 64)), 0)
	require.Error(t, err)
}

func TestAMDAtomRejectsZeroStringCount(t *testing.T) {
	buf := make([]byte, 0x1000)
	copy(buf[0x200:], []byte("ATOMBIOSBK-AMD VER"))
	// num_strings left at 0, str_loc left at 0: both invalid.
	_, err := firmware.ParseAMDAtom(stream.New(buf), 0x200)
	require.Error(t, err)
}
