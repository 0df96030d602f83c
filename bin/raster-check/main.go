package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"raster-check/internal/check"
	"raster-check/internal/compare"
	"raster-check/internal/storage"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
)

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return any(floatValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return any(durationValue).(T)
		}
	}

	return defaultValue
}

func newLogger(stderr io.Writer, level string) (logr.Logger, error) {
	logLevel := slog.LevelInfo
	var err error
	if level != "" {
		if err = logLevel.UnmarshalText([]byte(level)); err != nil {
			logLevel = slog.LevelInfo
			err = xerrors.Errorf("failed to parse log level %q: %w", level, err)
		}
	}
	return logr.FromSlogHandler(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})), err
}

// loadDotEnv loads .env files when present. A file that exists but cannot be
// read or parsed is a file error.
func loadDotEnv(stderr io.Writer, filenames ...string) int {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "Error: failed to load .env: %v\n", err)
		return check.ExitFileError
	}
	return check.ExitAcceptable
}

func run(ctx context.Context, program string, args []string, stdout io.Writer, stderr io.Writer) int {
	report := &check.Report{Stdout: stdout, Stderr: stderr}

	var storageBackend string
	var directory string
	var heatmap string
	var reportKey string
	var workers int

	flags := flag.NewFlagSet(program, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		report.Usage(program)
		flags.PrintDefaults()
	}
	flags.StringVar(&storageBackend, "storage-backend", envOrDefaultValue("STORAGE_BACKEND", storage.BackendFile), "Storage backend for s3:// inputs and artifacts (file or s3)")
	flags.StringVar(&directory, "directory", envOrDefaultValue("DIRECTORY", "."), "Output directory for the file backend")
	flags.StringVar(&heatmap, "heatmap", envOrDefaultValue("HEATMAP", ""), "Key of the PNG heatmap to write, empty to skip")
	flags.StringVar(&reportKey, "report", envOrDefaultValue("REPORT", ""), "Key of the JSON report to write, empty to skip")
	flags.IntVar(&workers, "workers", envOrDefaultValue("WORKERS", 0), "Number of comparison goroutines, 0 for GOMAXPROCS")
	if err := flags.Parse(args); err != nil {
		return check.ExitUsage
	}

	generatedPath, referencePath, err := check.ParseArgs(flags.Args())
	if err != nil {
		flags.Usage()
		return check.ExitCode(nil, err)
	}

	logger, err := newLogger(stderr, os.Getenv("GO_LOG"))
	if err != nil {
		fmt.Fprintf(stderr, "WARN: %v, using info\n", err)
	}

	s, err := storage.New(ctx, storage.Config{
		Backend: storageBackend,
		File: storage.FileConfig{
			Directory: directory,
		},
		S3: storage.S3Config{
			Bucket: envOrDefaultValue("S3_BUCKET", ""),
		},
	})
	if err != nil {
		report.Error(err)
		return check.ExitFileError
	}

	checker := &check.Checker{
		Log:        logger,
		Comparator: compare.NewComparator(compare.DefaultThresholds).WithWorkers(workers),
		Loader:     &check.Loader{Storage: s, Backend: storageBackend},
	}

	report.Start(generatedPath, referencePath)
	outcome, err := checker.Run(ctx, generatedPath, referencePath)
	if err != nil {
		report.Error(err)
		return check.ExitCode(nil, err)
	}
	report.Result(outcome.Result)

	artifacts := &check.Artifacts{
		Storage:    s,
		HeatmapKey: heatmap,
		ReportKey:  reportKey,
	}
	urls, err := artifacts.Save(ctx, outcome)
	if err != nil {
		report.Error(err)
		return check.ExitFileError
	}
	for _, kind := range []string{"heatmap", "report"} {
		if url, ok := urls[kind]; ok {
			report.Artifact(kind, url)
		}
	}

	return check.ExitCode(outcome, nil)
}

func main() {
	if code := loadDotEnv(os.Stderr); code != check.ExitAcceptable {
		os.Exit(code)
	}

	os.Exit(run(context.Background(), os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}
