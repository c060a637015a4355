package firmware_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/ferrors"
	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func buildUF2Block(blockNo, numBlocks, targetAddr uint32, payload []byte) []byte {
	block := make([]byte, 512)
	binary.LittleEndian.PutUint32(block[0:4], 0x0A324655)
	binary.LittleEndian.PutUint32(block[4:8], 0x9E5D5157)
	binary.LittleEndian.PutUint32(block[12:16], targetAddr)
	binary.LittleEndian.PutUint32(block[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint32(block[20:24], blockNo)
	binary.LittleEndian.PutUint32(block[24:28], numBlocks)
	copy(block[32:], payload)
	binary.LittleEndian.PutUint32(block[508:512], 0x0AB16F30)
	return block
}

func TestUF2ParseMinimal(t *testing.T) {
	payload := []byte("firmware-bytes")
	raw := buildUF2Block(0, 1, 0x08000000, payload)

	fw, err := firmware.Parse(firmware.KindUF2, stream.New(raw))
	require.NoError(t, err)
	require.Len(t, fw.Images, 1)
	require.Equal(t, payload, fw.Images[0].Bytes)
	require.Equal(t, uint32(0x08000000), fw.Images[0].Addr)
}

func TestUF2ParseRejectsBadBlockOrder(t *testing.T) {
	raw := buildUF2Block(1, 2, 0, []byte("x"))
	_, err := firmware.Parse(firmware.KindUF2, stream.New(raw))
	require.Error(t, err)
}

func TestUF2ParseRejectsOversizedPayload(t *testing.T) {
	block := buildUF2Block(0, 1, 0, make([]byte, 10))
	binary.LittleEndian.PutUint32(block[16:20], 500)
	_, err := firmware.Parse(firmware.KindUF2, stream.New(block))
	require.Error(t, err)
}

func TestUF2ParseRejectsFileContainerAsNotSupported(t *testing.T) {
	block := buildUF2Block(0, 1, 0, []byte("x"))
	binary.LittleEndian.PutUint32(block[8:12], 0x00001000) // uf2FlagFileCont
	_, err := firmware.Parse(firmware.KindUF2, stream.New(block))
	require.Error(t, err)
	require.True(t, ferrors.Is(err, ferrors.NotSupported))
}
