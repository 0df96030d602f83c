package raster

import (
	"math"

	"golang.org/x/xerrors"
)

const (
	// Channels is the number of samples stored per pixel (red, green, blue).
	Channels = 3
	// MaxValue is the only channel maximum the decoder accepts.
	MaxValue = 255
)

// Image is a decoded RGB raster. Samples are row-major with three interleaved
// channels per pixel. An Image is never modified after construction.
type Image struct {
	width   int
	height  int
	samples []uint8
}

// New builds an Image from a sample buffer, taking ownership of samples.
func New(width int, height int, samples []uint8) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, xerrors.Errorf("invalid dimensions %dx%d", width, height)
	}
	expected, ok := sampleCount(width, height)
	if !ok {
		return nil, xerrors.Errorf("dimensions %dx%d overflow sample buffer", width, height)
	}
	if len(samples) != expected {
		return nil, xerrors.Errorf("sample buffer holds %d values, %dx%d needs %d", len(samples), width, height, expected)
	}

	return &Image{
		width:   width,
		height:  height,
		samples: samples,
	}, nil
}

func (i *Image) Width() int {
	return i.width
}

func (i *Image) Height() int {
	return i.height
}

// Pixels returns width*height.
func (i *Image) Pixels() int {
	return i.width * i.height
}

// Samples returns a copy of the sample buffer.
func (i *Image) Samples() []uint8 {
	samples := make([]uint8, len(i.samples))
	copy(samples, i.samples)
	return samples
}

// Row returns a read-only view of row y. Callers must not write to it.
func (i *Image) Row(y int) []uint8 {
	stride := i.width * Channels
	return i.samples[y*stride : (y+1)*stride : (y+1)*stride]
}

// SameSize reports whether both images have identical width and height.
func (i *Image) SameSize(other *Image) bool {
	return i.width == other.width && i.height == other.height
}

func sampleCount(width int, height int) (int, bool) {
	if width <= 0 || height <= 0 {
		return 0, false
	}
	if width > math.MaxInt/Channels/height {
		return 0, false
	}
	return width * height * Channels, true
}
