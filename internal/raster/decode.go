package raster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	magicNumber = "P3"
	// initialSampleCapacity bounds the up-front allocation so a header claiming
	// huge dimensions cannot force a large buffer before any data is read.
	initialSampleCapacity = 1 << 16
	maxTokenSize          = 1 << 20
)

// Open decodes the P3 raster at path. The file is closed before Open returns.
func Open(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	defer file.Close()

	return Decode(file, path)
}

// Decode reads a strict P3 raster from r. name identifies the source in errors.
//
// The header is consumed line by line through the states MagicNumber,
// Dimensions and MaxVal; comment lines are skipped only while a header field
// is being searched for. Everything after the MaxVal line is pixel data split
// on whitespace.
func Decode(r io.Reader, name string) (*Image, error) {
	d := &decoder{
		name: name,
		r:    bufio.NewReader(r),
	}
	for state := lexMagicNumber; state != nil; {
		state = state(d)
	}
	if d.err != nil {
		return nil, d.err
	}

	return New(d.width, d.height, d.samples)
}

type decoder struct {
	name    string
	r       *bufio.Reader
	line    int
	width   int
	height  int
	samples []uint8
	err     error
}

type stateFn func(*decoder) stateFn

func lexMagicNumber(d *decoder) stateFn {
	line, ok := d.readLine()
	if d.err != nil {
		return nil
	}
	if !ok {
		return d.fail(BadMagic, "empty input")
	}

	magic := strings.TrimRight(line, " \t\r\n")
	if magic != magicNumber {
		return d.fail(BadMagic, fmt.Sprintf("magic number %q, want %q", magic, magicNumber))
	}

	return lexDimensions
}

func lexDimensions(d *decoder) stateFn {
	line, ok := d.nextHeaderLine()
	if d.err != nil {
		return nil
	}
	if !ok {
		return d.fail(BadDimensions, "missing dimensions line")
	}

	fields := strings.Fields(line)
	if len(fields) != 2 {
		return d.fail(BadDimensions, fmt.Sprintf("dimensions header %q", line))
	}
	width, err := strconv.Atoi(fields[0])
	if err != nil {
		return d.fail(BadDimensions, fmt.Sprintf("width %q is not an integer", fields[0]))
	}
	height, err := strconv.Atoi(fields[1])
	if err != nil {
		return d.fail(BadDimensions, fmt.Sprintf("height %q is not an integer", fields[1]))
	}
	if width <= 0 || height <= 0 {
		return d.fail(BadDimensions, fmt.Sprintf("dimensions %dx%d must be positive", width, height))
	}
	if _, ok := sampleCount(width, height); !ok {
		return d.fail(BadDimensions, fmt.Sprintf("dimensions %dx%d are too large", width, height))
	}

	d.width = width
	d.height = height
	return lexMaxVal
}

func lexMaxVal(d *decoder) stateFn {
	line, ok := d.nextHeaderLine()
	if d.err != nil {
		return nil
	}
	if !ok {
		return d.fail(UnsupportedMaxVal, "missing MaxVal line")
	}

	maxVal, err := strconv.Atoi(line)
	if err != nil {
		return d.fail(UnsupportedMaxVal, fmt.Sprintf("MaxVal header %q is not an integer", line))
	}
	if maxVal != MaxValue {
		return d.fail(UnsupportedMaxVal, fmt.Sprintf("only MaxVal=%d is supported, found %d", MaxValue, maxVal))
	}

	return lexPixelData
}

func lexPixelData(d *decoder) stateFn {
	expected, _ := sampleCount(d.width, d.height)
	samples := make([]uint8, 0, min(expected, initialSampleCapacity))

	scanner := bufio.NewScanner(d.r)
	scanner.Buffer(make([]byte, 0, 4096), maxTokenSize)
	scanner.Split(bufio.ScanWords)

	// The token count is authoritative, so the first bad token is only
	// remembered until the whole stream has been counted.
	var invalid *FormatError
	actual := 0
	for scanner.Scan() {
		actual++
		if invalid != nil || actual > expected {
			continue
		}

		token := scanner.Text()
		value, err := strconv.Atoi(token)
		switch {
		case errors.Is(err, strconv.ErrRange):
			invalid = d.sampleError(SampleOutOfRange, fmt.Sprintf("sample %d is %s, want 0..%d", actual-1, token, MaxValue))
			continue
		case err != nil:
			invalid = d.sampleError(NonNumericSample, fmt.Sprintf("sample %d is %q", actual-1, token))
			continue
		case value < 0 || value > MaxValue:
			invalid = d.sampleError(SampleOutOfRange, fmt.Sprintf("sample %d is %d, want 0..%d", actual-1, value, MaxValue))
			continue
		}
		samples = append(samples, uint8(value))
	}
	if err := scanner.Err(); err != nil {
		d.err = &IOError{Path: d.name, Err: err}
		return nil
	}

	if actual != expected {
		d.err = &FormatError{
			Path:     d.name,
			Kind:     IncompleteData,
			Expected: expected,
			Actual:   actual,
		}
		return nil
	}
	if invalid != nil {
		d.err = invalid
		return nil
	}

	d.samples = samples
	return nil
}

// readLine returns the next line without its terminator. ok is false at EOF.
func (d *decoder) readLine() (string, bool) {
	line, err := d.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		d.err = &IOError{Path: d.name, Err: err}
		return "", false
	}
	if errors.Is(err, io.EOF) && line == "" {
		return "", false
	}

	d.line++
	return strings.TrimRight(line, "\r\n"), true
}

// nextHeaderLine skips comment lines and returns the next trimmed line.
func (d *decoder) nextHeaderLine() (string, bool) {
	for {
		line, ok := d.readLine()
		if !ok {
			return "", false
		}

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		return line, true
	}
}

func (d *decoder) formatError(kind Kind, detail string) *FormatError {
	return &FormatError{
		Path:   d.name,
		Kind:   kind,
		Line:   d.line,
		Detail: detail,
	}
}

// sampleError has no line number since pixel data is not tracked by line.
func (d *decoder) sampleError(kind Kind, detail string) *FormatError {
	return &FormatError{
		Path:   d.name,
		Kind:   kind,
		Detail: detail,
	}
}

func (d *decoder) fail(kind Kind, detail string) stateFn {
	d.err = d.formatError(kind, detail)
	return nil
}
