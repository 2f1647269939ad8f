package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/usnistgov/multiadc/packets"
	"github.com/usnistgov/multiadc/report"
)

func dumpFrame(w io.Writer, f *packets.Frame, max int) {
	h := f.Header
	fmt.Fprintf(w, "source %d  seq %6d  offset %4d  index %10d  %dx%d  full=%t  %d samples\n",
		h.SourceID, h.Sequence, h.Offset, h.Index, h.Converters, h.Stride, f.Full(), len(f.Samples))
	if max > len(f.Samples) {
		max = len(f.Samples)
	}
	width := int(h.Converters) * int(h.Stride)
	if width <= 0 {
		width = 8
	}
	for i := 0; i < max; i += width {
		end := min(i+width, max)
		for _, v := range f.Samples[i:end] {
			fmt.Fprintf(w, "%4.4x ", v)
		}
		fmt.Fprintln(w)
	}
}

// dump reads frames from r until EOF or until count frames were shown.
func dump(w io.Writer, r io.Reader, count, max int) error {
	for n := 0; count <= 0 || n < count; n++ {
		f, err := packets.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		dumpFrame(w, f, max)
	}
	return nil
}

func main() {
	port := pflag.StringP("port", "p", "", "serial port to read frames from")
	baud := pflag.Int("baud", report.DefaultBaudRate, "serial baud rate")
	file := pflag.StringP("file", "f", "", "file of frames to read")
	count := pflag.IntP("count", "n", 0, "stop after this many frames (0 = all)")
	max := pflag.Int("max", 24, "maximum samples shown per frame")
	pflag.Usage = func() {
		fmt.Println("framedump, a program to dump binary multiadc frames")
		fmt.Println("Usage:")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	var r io.ReadCloser
	var err error
	switch {
	case *port != "":
		r, err = report.OpenSerial(*port, *baud)
	case *file != "":
		r, err = os.Open(*file)
	default:
		r = os.Stdin
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer r.Close()

	if err := dump(os.Stdout, r, *count, *max); err != nil {
		fmt.Println("dump returned error: ", err)
	}
}
