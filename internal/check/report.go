package check

import (
	"errors"
	"fmt"
	"io"
	"raster-check/internal/compare"
)

// Report renders progress and results as text. Errors and failure detail go
// to Stderr, everything else to Stdout.
type Report struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r *Report) Usage(program string) {
	fmt.Fprintf(r.Stderr, "Usage: %s [flags] <generated.ppm> <reference.ppm>\n", program)
}

func (r *Report) Start(generatedPath string, referencePath string) {
	fmt.Fprintf(r.Stdout, "INFO: Comparing '%s' (generated) vs '%s' (reference)\n", generatedPath, referencePath)
}

func (r *Report) Error(err error) {
	var mismatch *DimensionMismatchError
	if errors.As(err, &mismatch) {
		fmt.Fprintln(r.Stderr, "Error: image dimensions do not match.")
		fmt.Fprintf(r.Stderr, "  %s: %dx%d\n", mismatch.GeneratedPath, mismatch.GeneratedWidth, mismatch.GeneratedHeight)
		fmt.Fprintf(r.Stderr, "  %s: %dx%d\n", mismatch.ReferencePath, mismatch.ReferenceWidth, mismatch.ReferenceHeight)
		return
	}

	fmt.Fprintf(r.Stderr, "Error: %v\n", err)
}

func (r *Report) Result(result *compare.Result) {
	fmt.Fprintln(r.Stdout, "  Comparison results:")
	fmt.Fprintf(r.Stdout, "    - Max pixel diff: %.4f (threshold: < %.1f)\n", result.MaxPixelDiff, result.Thresholds.MaxPixelDiff)
	fmt.Fprintf(r.Stdout, "    - RMSE:           %.4f (threshold: < %.1f)\n", result.RMSE, result.Thresholds.RMSE)

	if result.Passed {
		fmt.Fprintln(r.Stdout, "  VERDICT: ACCEPTABLE (both thresholds met)")
		return
	}

	fmt.Fprintln(r.Stdout, "  VERDICT: FAILED (at least one threshold not met)")
	if !result.MaxPixelDiffPassed {
		fmt.Fprintf(r.Stderr, "    - FAILED: max pixel diff %.4f >= %.1f at pixel (%d, %d)\n",
			result.MaxPixelDiff, result.Thresholds.MaxPixelDiff, result.WorstX, result.WorstY)
	}
	if !result.RMSEPassed {
		fmt.Fprintf(r.Stderr, "    - FAILED: RMSE %.4f >= %.1f\n", result.RMSE, result.Thresholds.RMSE)
	}
}

func (r *Report) Artifact(kind string, url string) {
	fmt.Fprintf(r.Stdout, "INFO: Wrote %s to %s\n", kind, url)
}
