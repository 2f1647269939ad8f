package report

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/usnistgov/multiadc/getbytes"
)

// npy file header must be a multiple of 64 bytes
const headerUnits = 64

var npyMagic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y', 0x01, 0x00}

// nativeDescr is the npy dtype of a uint16 in host byte order, the order in
// which getbytes lays out the samples.
func nativeDescr() string {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return "<u2"
	}
	return ">u2"
}

// NPYReporter appends every frame to a .npy file of uint16 samples in host
// byte order with shape (rows, width), one row per conversion cycle. The
// header is rewritten after each frame so the file is always readable.
type NPYReporter struct {
	file       *os.File
	width      int
	rows       int
	headerSize int
}

// CreateNPY creates (or truncates) filename for frames width samples wide.
func CreateNPY(filename string, width int) (*NPYReporter, error) {
	if width <= 0 {
		return nil, fmt.Errorf("npy row width %d must be positive", width)
	}
	fp, err := os.Create(filename)
	if err != nil {
		return nil, maskAny(err)
	}
	nr := &NPYReporter{file: fp, width: width}
	// Leave room for the longest row count.
	longest := len(npyMagic) + 2 + len(nr.dict(1<<62)) + 1
	nr.headerSize = (longest + headerUnits - 1) / headerUnits * headerUnits
	if err := nr.writeHeader(); err != nil {
		fp.Close()
		return nil, err
	}
	return nr, nil
}

func (nr *NPYReporter) dict(rows int) string {
	return fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d), }", nativeDescr(), rows, nr.width)
}

func (nr *NPYReporter) writeHeader() error {
	dict := nr.dict(nr.rows)
	prefix := len(npyMagic) + 2
	npad := nr.headerSize - prefix - len(dict) - 1
	header := make([]byte, 0, nr.headerSize)
	header = append(header, npyMagic...)
	header = append(header, byte((nr.headerSize-prefix)%256), byte((nr.headerSize-prefix)/256))
	header = append(header, dict...)
	header = append(header, strings.Repeat(" ", npad)...)
	header = append(header, '\n')
	if _, err := nr.file.WriteAt(header, 0); err != nil {
		return errors.Wrap(err, "cannot write npy header")
	}
	return nil
}

// Report appends f's samples, which must be a whole number of rows.
func (nr *NPYReporter) Report(ctx context.Context, f Frame) error {
	if len(f.Samples)%nr.width != 0 {
		return fmt.Errorf("frame of %d samples is not a whole number of %d-sample rows",
			len(f.Samples), nr.width)
	}
	if _, err := nr.file.Seek(0, io.SeekEnd); err != nil {
		return maskAny(err)
	}
	if _, err := nr.file.Write(getbytes.FromSlice(f.Samples)); err != nil {
		return maskAny(err)
	}
	nr.rows += len(f.Samples) / nr.width
	return nr.writeHeader()
}

// Rows returns the number of rows written.
func (nr *NPYReporter) Rows() int {
	return nr.rows
}

// Close closes the file.
func (nr *NPYReporter) Close() error {
	return maskAny(nr.file.Close())
}
