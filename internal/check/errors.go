package check

import (
	"errors"
	"fmt"
)

const (
	ExitAcceptable = 0
	ExitFailed     = 1
	ExitUsage      = 2
	ExitFileError  = 3
)

// UsageError reports a wrong number of positional arguments.
type UsageError struct {
	Got int
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("expected 2 arguments, got %d", e.Got)
}

// DimensionMismatchError reports two valid images that cannot be compared.
type DimensionMismatchError struct {
	GeneratedPath   string
	GeneratedWidth  int
	GeneratedHeight int
	ReferencePath   string
	ReferenceWidth  int
	ReferenceHeight int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimensions do not match: %s is %dx%d, %s is %dx%d",
		e.GeneratedPath, e.GeneratedWidth, e.GeneratedHeight,
		e.ReferencePath, e.ReferenceWidth, e.ReferenceHeight)
}

// ExitCode maps the result of Run to the process exit status.
func ExitCode(outcome *Outcome, err error) int {
	if err != nil {
		var usageError *UsageError
		if errors.As(err, &usageError) {
			return ExitUsage
		}
		return ExitFileError
	}
	if outcome == nil || outcome.Result == nil || !outcome.Result.Passed {
		return ExitFailed
	}
	return ExitAcceptable
}

// ParseArgs returns the generated and reference paths.
func ParseArgs(args []string) (string, string, error) {
	if len(args) != 2 {
		return "", "", &UsageError{Got: len(args)}
	}
	return args[0], args[1], nil
}
