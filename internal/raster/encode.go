package raster

import (
	"bufio"
	"io"
	"strconv"

	"golang.org/x/xerrors"
)

// Encode writes img as a P3 raster with one image row per line.
func Encode(w io.Writer, img *Image) error {
	bw := bufio.NewWriter(w)

	header := magicNumber + "\n" +
		strconv.Itoa(img.width) + " " + strconv.Itoa(img.height) + "\n" +
		strconv.Itoa(MaxValue) + "\n"
	if _, err := bw.WriteString(header); err != nil {
		return xerrors.Errorf("failed to write header: %w", err)
	}

	buf := make([]byte, 0, 4)
	for y := 0; y < img.height; y++ {
		for x, sample := range img.Row(y) {
			if x > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return xerrors.Errorf("failed to write samples: %w", err)
				}
			}
			if _, err := bw.Write(strconv.AppendUint(buf[:0], uint64(sample), 10)); err != nil {
				return xerrors.Errorf("failed to write samples: %w", err)
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return xerrors.Errorf("failed to write samples: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return xerrors.Errorf("failed to flush raster: %w", err)
	}
	return nil
}
