package firmware_test

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func ihexLine(byteCount int, addr uint16, typ byte, data []byte) string {
	rec := append([]byte{byte(byteCount), byte(addr >> 8), byte(addr)}, typ)
	rec = append(rec, data...)
	var cksum byte
	for _, b := range rec {
		cksum += b
	}
	cksum = byte(0x100 - int(cksum))
	return ":" + strings.ToUpper(hex.EncodeToString(rec)) + strings.ToUpper(hex.EncodeToString([]byte{cksum}))
}

func TestIHexParseSimple(t *testing.T) {
	var b strings.Builder
	fmt.Fprintln(&b, ihexLine(4, 0x0000, 0x00, []byte{0xDE, 0xAD, 0xBE, 0xEF}))
	fmt.Fprintln(&b, ihexLine(0, 0x0000, 0x01, nil))

	fw, err := firmware.Parse(firmware.KindIHex, stream.New([]byte(b.String())))
	require.NoError(t, err)
	require.Len(t, fw.Images, 1)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, fw.Images[0].Bytes)
}

func TestIHexRejectsMissingEOF(t *testing.T) {
	var b strings.Builder
	fmt.Fprintln(&b, ihexLine(2, 0x0000, 0x00, []byte{0x01, 0x02}))

	_, err := firmware.Parse(firmware.KindIHex, stream.New([]byte(b.String())))
	require.Error(t, err)
}

func TestIHexHailuckSwap(t *testing.T) {
	buf := make([]byte, 0x3800)
	buf[0] = 0xAA
	buf[1] = 0x38
	buf[2] = 0x00
	buf[0x37FB] = 0x11
	buf[0x37FC] = 0x22
	buf[0x37FD] = 0x33

	var b strings.Builder
	off := 0
	for off < len(buf) {
		n := 16
		if len(buf)-off < n {
			n = len(buf) - off
		}
		fmt.Fprintln(&b, ihexLine(n, uint16(off), 0x00, buf[off:off+n]))
		off += n
	}
	fmt.Fprintln(&b, ihexLine(0, 0x0000, 0x01, nil))

	fw, err := firmware.Parse(firmware.KindIHex, stream.New([]byte(b.String())))
	require.NoError(t, err)
	out := fw.Images[0].Bytes
	require.Equal(t, byte(0x11), out[0])
	require.Equal(t, byte(0x22), out[1])
	require.Equal(t, byte(0x33), out[2])
	require.Equal(t, byte(0x00), out[0x37FB])
	require.Equal(t, byte(0x00), out[0x37FC])
	require.Equal(t, byte(0x00), out[0x37FD])
}
