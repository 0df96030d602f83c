package raster

import (
	"fmt"
)

// Kind classifies a FormatError.
type Kind int

const (
	BadMagic Kind = iota + 1
	BadDimensions
	UnsupportedMaxVal
	IncompleteData
	NonNumericSample
	SampleOutOfRange
)

func (k Kind) String() string {
	switch k {
	case BadMagic:
		return "BadMagic"
	case BadDimensions:
		return "BadDimensions"
	case UnsupportedMaxVal:
		return "UnsupportedMaxVal"
	case IncompleteData:
		return "IncompleteData"
	case NonNumericSample:
		return "NonNumericSample"
	case SampleOutOfRange:
		return "SampleOutOfRange"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// FormatError reports input that is readable but not a valid P3 raster.
type FormatError struct {
	Path   string
	Kind   Kind
	Line   int
	Detail string
	// Expected and Actual are set for IncompleteData.
	Expected int
	Actual   int
}

func (e *FormatError) Error() string {
	switch {
	case e.Kind == IncompleteData:
		return fmt.Sprintf("%s: %s: expected %d values, read %d", e.Path, e.Kind, e.Expected, e.Actual)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", e.Path, e.Line, e.Kind, e.Detail)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Detail)
	}
}

// IOError reports a file that could not be opened or read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
