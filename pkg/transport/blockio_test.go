package transport_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fwupdcore/pkg/transport"
)

func TestBlockIOWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0644))

	tr := transport.NewBlockIOTransport(path, 4)
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()

	require.NoError(t, tr.Write(ctx, []byte{1, 2, 3, 4}))

	buf := make([]byte, 4)
	n, err := tr.Read(ctx, buf, time.Second)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestBlockIORejectsUnalignedWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.bin")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	tr := transport.NewBlockIOTransport(path, 4)
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()

	require.Error(t, tr.Write(ctx, []byte{1, 2, 3}))
}

func TestReadSysfsLineTrims(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attr")
	require.NoError(t, os.WriteFile(path, []byte("512\n"), 0644))

	v, err := transport.ReadSysfsLine(path)
	require.NoError(t, err)
	require.Equal(t, "512", v)
}
