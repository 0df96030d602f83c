package compare

import (
	"fmt"
	"image"
	"math"
	"raster-check/internal/raster"
)

// Heatmap renders where generated deviates from reference. Matching pixels
// show the reference faded toward white. Deviating pixels are red when the
// generated pixel is brighter, blue when it is darker and magenta when the
// brightness is equal, with intensity rising with the pixel diff.
func Heatmap(generated *raster.Image, reference *raster.Image) *image.RGBA {
	if !generated.SameSize(reference) {
		panic(fmt.Sprintf("compare: dimension mismatch %dx%d vs %dx%d", generated.Width(), generated.Height(), reference.Width(), reference.Height()))
	}

	width := generated.Width()
	height := generated.Height()
	heatmap := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		rowG := generated.Row(y)
		rowR := reference.Row(y)
		pixRow := heatmap.Pix[heatmap.PixOffset(0, y):]

		for x := 0; x < width; x++ {
			offset := x * raster.Channels
			gr, gg, gb := rowG[offset], rowG[offset+1], rowG[offset+2]
			rr, rg, rb := rowR[offset], rowR[offset+1], rowR[offset+2]

			dr, dg, db := heatColor(gr, gg, gb, rr, rg, rb)
			pixRow[x*4] = dr
			pixRow[x*4+1] = dg
			pixRow[x*4+2] = db
			pixRow[x*4+3] = 255
		}
	}

	return heatmap
}

func heatColor(gr uint8, gg uint8, gb uint8, rr uint8, rg uint8, rb uint8) (uint8, uint8, uint8) {
	diff := PixelDiff(gr, gg, gb, rr, rg, rb)
	if diff == 0 {
		return fade(rr), fade(rg), fade(rb)
	}

	level := uint8(math.Round(96 + 159*diff/255.0))

	generatedBrightness := int(gr) + int(gg) + int(gb)
	referenceBrightness := int(rr) + int(rg) + int(rb)
	switch {
	case generatedBrightness > referenceBrightness:
		return level, 0, 0
	case generatedBrightness < referenceBrightness:
		return 0, 0, level
	default:
		return level, 0, level
	}
}

func fade(c uint8) uint8 {
	return 255 - (255-c)/4
}
