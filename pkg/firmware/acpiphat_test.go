package firmware_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func buildPHAT(t *testing.T, records []byte) []byte {
	t.Helper()
	length := 36 + len(records)
	buf := make([]byte, length)
	copy(buf[0:4], "PHAT")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(length))
	buf[8] = 1 // revision
	copy(buf[36:], records)

	buf[9] = 0xFF
	buf[9] = 0xFF - stream.Sum8(buf)
	return buf
}

func TestACPIPhatRoundTrip(t *testing.T) {
	raw := buildPHAT(t, nil)

	fw, err := firmware.Parse(firmware.KindACPIPhat, stream.New(raw))
	require.NoError(t, err)

	out, err := firmware.Write(fw)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestACPIPhatRejectsBadChecksum(t *testing.T) {
	raw := buildPHAT(t, nil)
	raw[9] ^= 0xFF // corrupt checksum

	_, err := firmware.Parse(firmware.KindACPIPhat, stream.New(raw))
	require.Error(t, err)
}

func TestACPIPhatRejectsBadSignature(t *testing.T) {
	raw := buildPHAT(t, nil)
	raw[0] = 'X'
	_, err := firmware.Parse(firmware.KindACPIPhat, stream.New(raw))
	require.Error(t, err)
}

func TestACPIPhatRejectsBadChecksumUnlessIgnored(t *testing.T) {
	raw := buildPHAT(t, nil)
	raw[9] ^= 0xFF

	_, err := firmware.ParseWithFlags(firmware.KindACPIPhat, stream.New(raw), firmware.IgnoreChecksum)
	require.NoError(t, err)
}

func TestACPIPhatRejectsBadRevisionUnlessForced(t *testing.T) {
	raw := buildPHAT(t, nil)
	raw[8] = 2 // unsupported revision
	raw[9] = 0xFF
	raw[9] = 0xFF - stream.Sum8(raw)

	_, err := firmware.Parse(firmware.KindACPIPhat, stream.New(raw))
	require.Error(t, err)

	_, err = firmware.ParseWithFlags(firmware.KindACPIPhat, stream.New(raw), firmware.Force)
	require.NoError(t, err)
}
