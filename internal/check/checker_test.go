package check_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"raster-check/internal/check"
	"raster-check/internal/compare"
	"raster-check/internal/raster"
	"raster-check/internal/storage"
	"runtime"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
)

func writeRaster(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func uniformRaster(width int, height int, value int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "P3\n%d %d\n255\n", width, height)
	for i := 0; i < width*height*3; i++ {
		fmt.Fprintf(&b, "%d\n", value)
	}
	return b.String()
}

func newChecker() *check.Checker {
	return &check.Checker{
		Log:        logr.Discard(),
		Comparator: compare.NewComparator(compare.DefaultThresholds),
		Loader:     &check.Loader{},
	}
}

func TestChecker_Run(t *testing.T) {
	type in struct {
		generated string
		reference string
	}

	type want struct {
		exitCode int
	}

	tests := []struct {
		name string
		in   in
		want want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				"P3\n2 1\n255\n255 0 0 0 255 0\n",
				"P3\n2 1\n255\n250 0 0 0 250 0\n",
			},
			want{
				check.ExitAcceptable,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				uniformRaster(3, 3, 0),
				uniformRaster(3, 3, 255),
			},
			want{
				check.ExitFailed,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				uniformRaster(3, 2, 0),
				uniformRaster(2, 3, 0),
			},
			want{
				check.ExitFileError,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				"P3\n1 1\n100\n0 0 0\n",
				uniformRaster(1, 1, 0),
			},
			want{
				check.ExitFileError,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				uniformRaster(1, 1, 0),
				"P6\n1 1\n255\n0 0 0\n",
			},
			want{
				check.ExitFileError,
			},
		},
	}
	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			generated := writeRaster(t, "generated.ppm", in.generated)
			reference := writeRaster(t, "reference.ppm", in.reference)

			outcome, err := newChecker().Run(context.Background(), generated, reference)

			got := want
			got.exitCode = check.ExitCode(outcome, err)
			if diff := cmp.Diff(want, got, cmp.AllowUnexported(want)); diff != "" {
				t.Errorf("(-want +got):\n%s (err: %v)", diff, err)
			}
		})
	}
}

func TestChecker_Run_ReportsGeneratedFirst(t *testing.T) {
	generated := filepath.Join(t.TempDir(), "missing-generated.ppm")
	reference := filepath.Join(t.TempDir(), "missing-reference.ppm")

	_, err := newChecker().Run(context.Background(), generated, reference)

	var ioError *raster.IOError
	if !errors.As(err, &ioError) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if ioError.Path != generated {
		t.Errorf("Expected error for %q, got %q", generated, ioError.Path)
	}
}

func TestChecker_Run_DimensionMismatch(t *testing.T) {
	generated := writeRaster(t, "generated.ppm", uniformRaster(4, 2, 0))
	reference := writeRaster(t, "reference.ppm", uniformRaster(2, 4, 0))

	_, err := newChecker().Run(context.Background(), generated, reference)

	var mismatch *check.DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	want := &check.DimensionMismatchError{
		GeneratedPath:   generated,
		GeneratedWidth:  4,
		GeneratedHeight: 2,
		ReferencePath:   reference,
		ReferenceWidth:  2,
		ReferenceHeight: 4,
	}
	if diff := cmp.Diff(want, mismatch); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

type memoryStorage struct {
	objects map[string][]byte
}

func (m *memoryStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	m.objects["s3://bucket/"+key] = data
	return "s3://bucket/" + key, nil
}

func (m *memoryStorage) Get(ctx context.Context, url string) ([]byte, error) {
	data, ok := m.objects[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func TestChecker_Run_StorageInputs(t *testing.T) {
	s := &memoryStorage{objects: map[string][]byte{
		"s3://bucket/reference.ppm": []byte(uniformRaster(2, 2, 10)),
	}}
	checker := newChecker()
	checker.Loader = &check.Loader{Storage: s, Backend: storage.BackendS3}
	generated := writeRaster(t, "generated.ppm", uniformRaster(2, 2, 13))

	outcome, err := checker.Run(context.Background(), generated, "s3://bucket/reference.ppm")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Result.MaxPixelDiff != 3.0 {
		t.Errorf("Expected MaxPixelDiff to be 3.0, got %f", outcome.Result.MaxPixelDiff)
	}

	_, err = checker.Run(context.Background(), generated, "s3://bucket/missing.ppm")
	var ioError *raster.IOError
	if !errors.As(err, &ioError) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if diff := cmp.Diff(check.ExitFileError, check.ExitCode(nil, err)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoader_S3RequiresS3Backend(t *testing.T) {
	s := &memoryStorage{objects: map[string][]byte{
		"s3://bucket/reference.ppm": []byte(uniformRaster(1, 1, 0)),
	}}

	for _, backend := range []string{"", storage.BackendFile} {
		loader := &check.Loader{Storage: s, Backend: backend}

		_, err := loader.Load(context.Background(), "s3://bucket/reference.ppm")

		var ioError *raster.IOError
		if !errors.As(err, &ioError) {
			t.Fatalf("backend=%q: expected IOError, got %v", backend, err)
		}
		if !strings.Contains(err.Error(), "s3 backend not configured") {
			t.Errorf("backend=%q: unexpected message %q", backend, err.Error())
		}
	}

	if _, err := (&check.Loader{Backend: storage.BackendS3}).Load(context.Background(), "s3://bucket/reference.ppm"); err == nil {
		t.Error("Expected error without a storage client")
	}
}

func TestParseArgs(t *testing.T) {
	generated, reference, err := check.ParseArgs([]string{"a.ppm", "b.ppm"})
	if err != nil || generated != "a.ppm" || reference != "b.ppm" {
		t.Errorf("unexpected result: %q %q %v", generated, reference, err)
	}

	for _, args := range [][]string{nil, {"a.ppm"}, {"a.ppm", "b.ppm", "c.ppm"}} {
		_, _, err := check.ParseArgs(args)
		if diff := cmp.Diff(check.ExitUsage, check.ExitCode(nil, err)); diff != "" {
			t.Errorf("args=%v (-want +got):\n%s", args, diff)
		}
	}
}

func TestReport(t *testing.T) {
	t.Run("Acceptable", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		r := &check.Report{Stdout: &stdout, Stderr: &stderr}

		r.Start("gen.ppm", "ref.ppm")
		r.Result(&compare.Result{
			MaxPixelDiff:       5.0 / 3.0,
			RMSE:               5.0 / 3.0,
			MaxPixelDiffPassed: true,
			RMSEPassed:         true,
			Passed:             true,
			Thresholds:         compare.DefaultThresholds,
		})

		want := "INFO: Comparing 'gen.ppm' (generated) vs 'ref.ppm' (reference)\n" +
			"  Comparison results:\n" +
			"    - Max pixel diff: 1.6667 (threshold: < 150.0)\n" +
			"    - RMSE:           1.6667 (threshold: < 10.0)\n" +
			"  VERDICT: ACCEPTABLE (both thresholds met)\n"
		if diff := cmp.Diff(want, stdout.String()); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
		if stderr.Len() != 0 {
			t.Errorf("Expected empty stderr, got %q", stderr.String())
		}
	})

	t.Run("Failed", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		r := &check.Report{Stdout: &stdout, Stderr: &stderr}

		r.Result(&compare.Result{
			MaxPixelDiff: 255,
			RMSE:         255,
			WorstX:       1,
			WorstY:       2,
			Thresholds:   compare.DefaultThresholds,
		})

		if !strings.Contains(stdout.String(), "VERDICT: FAILED") {
			t.Errorf("Expected FAILED verdict on stdout, got %q", stdout.String())
		}
		want := "    - FAILED: max pixel diff 255.0000 >= 150.0 at pixel (1, 2)\n" +
			"    - FAILED: RMSE 255.0000 >= 10.0\n"
		if diff := cmp.Diff(want, stderr.String()); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		r := &check.Report{Stdout: &stdout, Stderr: &stderr}

		r.Error(&check.DimensionMismatchError{
			GeneratedPath:   "gen.ppm",
			GeneratedWidth:  4,
			GeneratedHeight: 3,
			ReferencePath:   "ref.ppm",
			ReferenceWidth:  3,
			ReferenceHeight: 4,
		})

		want := "Error: image dimensions do not match.\n  gen.ppm: 4x3\n  ref.ppm: 3x4\n"
		if diff := cmp.Diff(want, stderr.String()); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})
}

func TestArtifacts_Save(t *testing.T) {
	ctx := context.Background()
	directory := t.TempDir()
	s, err := storage.NewFileStorage(ctx, storage.FileConfig{Directory: directory})
	if err != nil {
		t.Fatal(err)
	}

	generated := writeRaster(t, "generated.ppm", uniformRaster(2, 2, 0))
	reference := writeRaster(t, "reference.ppm", uniformRaster(2, 2, 255))
	outcome, err := newChecker().Run(ctx, generated, reference)
	if err != nil {
		t.Fatal(err)
	}

	artifacts := &check.Artifacts{
		Storage:    s,
		HeatmapKey: "out/heatmap.png",
		ReportKey:  "out/report.json",
	}
	urls, err := artifacts.Save(ctx, outcome)
	if err != nil {
		t.Fatal(err)
	}

	heatmap, err := os.ReadFile(urls["heatmap"])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(heatmap, []byte("\x89PNG")) {
		t.Error("Expected heatmap to be a PNG")
	}

	data, err := os.ReadFile(urls["report"])
	if err != nil {
		t.Fatal(err)
	}
	var report check.JSONReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Verdict != check.VerdictFailed || report.MaxPixelDiff != 255 || report.Width != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}
