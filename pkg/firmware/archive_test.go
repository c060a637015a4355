package firmware_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/firmware"
	"fwupdcore/pkg/stream"
)

func TestArchiveZipRoundTrip(t *testing.T) {
	fw := &firmware.Firmware{
		Kind: firmware.KindArchive,
		Images: []*firmware.Image{{
			Children: []*firmware.Image{
				{ID: "firmware.bin", Bytes: []byte{1, 2, 3, 4}},
				{ID: "metainfo.xml", Bytes: []byte("<component/>")},
			},
		}},
	}

	raw, err := firmware.Write(fw)
	require.NoError(t, err)

	parsed, err := firmware.Parse(firmware.KindArchive, stream.New(raw))
	require.NoError(t, err)

	it := parsed.Entries()
	var names []string
	for img, ok := it.Next(); ok; img, ok = it.Next() {
		names = append(names, img.ID)
	}
	require.ElementsMatch(t, []string{"firmware.bin", "metainfo.xml"}, names)

	it.Reset()
	first, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "firmware.bin", first.ID)
}

func TestArchiveRejectsGarbage(t *testing.T) {
	_, err := firmware.Parse(firmware.KindArchive, stream.New([]byte("not an archive")))
	require.Error(t, err)
}
