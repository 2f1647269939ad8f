package report

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/multiadc/ringbuffer"
)

func readNPY(t *testing.T, filename string) ([]int, []uint16) {
	t.Helper()
	fp, err := os.Open(filename)
	require.NoError(t, err)
	defer fp.Close()
	r, err := npyio.NewReader(fp)
	require.NoError(t, err)
	assert.Equal(t, nativeDescr(), r.Header.Descr.Type)
	assert.False(t, r.Header.Descr.Fortran)
	var data []uint16
	if r.Header.Descr.Shape[0] > 0 {
		require.NoError(t, r.Read(&data))
	}
	return r.Header.Descr.Shape, data
}

func TestNPYReporter(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "capture.npy")
	nr, err := CreateNPY(filename, 3)
	require.NoError(t, err)

	info, err := os.Stat(filename)
	require.NoError(t, err)
	assert.Zero(t, info.Size()%headerUnits)
	shape, _ := readNPY(t, filename)
	assert.Equal(t, []int{0, 3}, shape)

	ctx := context.Background()
	f := testFrame(0, 1, 2, 3, 4, 5, 6)
	f.Converters, f.Stride = 3, 1
	require.NoError(t, nr.Report(ctx, f))
	f.Samples = []ringbuffer.RawType{7, 8, 9}
	require.NoError(t, nr.Report(ctx, f))
	assert.Equal(t, 3, nr.Rows())

	f.Samples = []ringbuffer.RawType{1, 2}
	assert.Error(t, nr.Report(ctx, f))
	require.NoError(t, nr.Close())

	shape, data := readNPY(t, filename)
	assert.Equal(t, []int{3, 3}, shape)
	assert.Equal(t, []uint16{1, 2, 3, 4, 5, 6, 7, 8, 9}, data)
}

func TestNPYPayloadMatchesDescr(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "order.npy")
	nr, err := CreateNPY(filename, 2)
	require.NoError(t, err)
	f := testFrame(0, 0x0102, 0x0a0b)
	f.Converters, f.Stride = 2, 1
	require.NoError(t, nr.Report(context.Background(), f))
	require.NoError(t, nr.Close())

	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	payload := raw[nr.headerSize:]
	require.Len(t, payload, 4)
	var order binary.ByteOrder = binary.LittleEndian
	if nativeDescr()[0] == '>' {
		order = binary.BigEndian
	}
	assert.Equal(t, uint16(0x0102), order.Uint16(payload[0:]))
	assert.Equal(t, uint16(0x0a0b), order.Uint16(payload[2:]))
}

func TestCreateNPYErrors(t *testing.T) {
	_, err := CreateNPY(filepath.Join(t.TempDir(), "x.npy"), 0)
	assert.Error(t, err)
	_, err = CreateNPY(filepath.Join(t.TempDir(), "missing", "x.npy"), 2)
	assert.Error(t, err)
}
