package firmware_test

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func buildTPMItem(pcr, typ uint32, sha1digest [20]byte, data []byte) []byte {
	hdr := make([]byte, 32)
	binary.LittleEndian.PutUint32(hdr[0:4], pcr)
	binary.LittleEndian.PutUint32(hdr[4:8], typ)
	copy(hdr[8:28], sha1digest[:])
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(len(data)))
	return append(hdr, data...)
}

func TestTPMEventLogParseAndFold(t *testing.T) {
	d1 := sha1.Sum([]byte("event-one"))
	d2 := sha1.Sum([]byte("event-two"))

	var log []byte
	log = append(log, buildTPMItem(0, 0x0d, d1, nil)...)
	log = append(log, buildTPMItem(0, 0x0d, d2, nil)...)

	fw, err := firmware.Parse(firmware.KindTPMEventLog, stream.New(log))
	require.NoError(t, err)
	items := fw.Parsed.([]firmware.TPMEventLogItem)
	require.Len(t, items, 2)

	checksums, err := firmware.CalcTPMChecksums(items, 0)
	require.NoError(t, err)
	require.Contains(t, checksums, firmware.AlgoSHA1)
	require.Len(t, checksums[firmware.AlgoSHA1], 20)
}

func TestTPMEventLogRejectsOversizedData(t *testing.T) {
	hdr := make([]byte, 32)
	binary.LittleEndian.PutUint32(hdr[28:32], 2*1024*1024)
	_, err := firmware.Parse(firmware.KindTPMEventLog, stream.New(hdr))
	require.Error(t, err)
}

func TestCalcTPMChecksumsFailsWithNoMeasurements(t *testing.T) {
	_, err := firmware.CalcTPMChecksums(nil, 0)
	require.Error(t, err)
}

func TestTPMEventLogFoldsAllZeroDigest(t *testing.T) {
	var zero [20]byte
	log := buildTPMItem(0, 0x0d, zero, nil)

	fw, err := firmware.Parse(firmware.KindTPMEventLog, stream.New(log))
	require.NoError(t, err)
	items := fw.Parsed.([]firmware.TPMEventLogItem)

	checksums, err := firmware.CalcTPMChecksums(items, 0)
	require.NoError(t, err)
	require.Equal(t, sha1.Sum(append(make([]byte, 20), zero[:]...)), [20]byte(checksums[firmware.AlgoSHA1]))
}

func buildTPMV2Item(pcr, typ uint32, digests map[uint16][]byte, data []byte) []byte {
	var buf []byte
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:4], pcr)
	binary.LittleEndian.PutUint32(hdr[4:8], typ)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(digests)))
	buf = append(buf, hdr...)
	for alg, digest := range digests {
		algBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(algBuf, alg)
		buf = append(buf, algBuf...)
		buf = append(buf, digest...)
	}
	sz := make([]byte, 4)
	binary.LittleEndian.PutUint32(sz, uint32(len(data)))
	buf = append(buf, sz...)
	buf = append(buf, data...)
	return buf
}

func buildTPMV2SpecIDPrologue() []byte {
	body := append([]byte("Spec ID Event03\x00"), make([]byte, 16)...)
	hdr := make([]byte, 32)
	binary.LittleEndian.PutUint32(hdr[4:8], 0x00000003) // EV_NO_ACTION
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(len(body)))
	return append(hdr, body...)
}

func TestTPMEventLogV2ParseAndFold(t *testing.T) {
	digest := sha256.Sum256([]byte("v2-event"))

	log := buildTPMV2SpecIDPrologue()
	log = append(log, buildTPMV2Item(0, 0x0d, map[uint16][]byte{0x000B: digest[:]}, nil)...)

	fw, err := firmware.Parse(firmware.KindTPMEventLog, stream.New(log))
	require.NoError(t, err)
	items := fw.Parsed.([]firmware.TPMEventLogItem)
	require.Len(t, items, 1)
	require.Equal(t, digest[:], items[0].Checksums[firmware.AlgoSHA256])

	checksums, err := firmware.CalcTPMChecksums(items, 0)
	require.NoError(t, err)
	require.Contains(t, checksums, firmware.AlgoSHA256)
	// a v2 item only folds the banks it actually carries a digest for.
	require.Equal(t, make([]byte, 20), checksums[firmware.AlgoSHA1])
}
