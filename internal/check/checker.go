package check

import (
	"context"
	"raster-check/internal/compare"
	"raster-check/internal/raster"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type Outcome struct {
	GeneratedPath string
	ReferencePath string
	Generated     *raster.Image
	Reference     *raster.Image
	Result        *compare.Result
}

type Checker struct {
	Log        logr.Logger
	Comparator *compare.Comparator
	Loader     *Loader
}

// Run loads both images, checks that their dimensions agree and compares them.
// A threshold failure is not an error; it is reported through Outcome.Result.
func (c *Checker) Run(ctx context.Context, generatedPath string, referencePath string) (*Outcome, error) {
	outcome := &Outcome{
		GeneratedPath: generatedPath,
		ReferencePath: referencePath,
	}

	var generatedErr error
	var referenceErr error
	{
		// Both loads always run to completion so a failure is reported for
		// the generated image first regardless of timing.
		var eg errgroup.Group

		eg.Go(func() error {
			outcome.Generated, generatedErr = c.load(ctx, generatedPath)
			return generatedErr
		})

		eg.Go(func() error {
			outcome.Reference, referenceErr = c.load(ctx, referencePath)
			return referenceErr
		})

		_ = eg.Wait()
	}
	if generatedErr != nil {
		return nil, xerrors.Errorf("failed to load generated image: %w", generatedErr)
	}
	if referenceErr != nil {
		return nil, xerrors.Errorf("failed to load reference image: %w", referenceErr)
	}

	if !outcome.Generated.SameSize(outcome.Reference) {
		return nil, &DimensionMismatchError{
			GeneratedPath:   generatedPath,
			GeneratedWidth:  outcome.Generated.Width(),
			GeneratedHeight: outcome.Generated.Height(),
			ReferencePath:   referencePath,
			ReferenceWidth:  outcome.Reference.Width(),
			ReferenceHeight: outcome.Reference.Height(),
		}
	}

	outcome.Result = c.comparator().Compare(outcome.Generated, outcome.Reference)
	c.Log.V(1).Info("compared images",
		"maxPixelDiff", outcome.Result.MaxPixelDiff,
		"rmse", outcome.Result.RMSE,
		"passed", outcome.Result.Passed,
	)

	return outcome, nil
}

func (c *Checker) load(ctx context.Context, path string) (*raster.Image, error) {
	loader := c.Loader
	if loader == nil {
		loader = &Loader{}
	}

	img, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	c.Log.V(1).Info("decoded image", "path", path, "width", img.Width(), "height", img.Height())
	return img, nil
}

func (c *Checker) comparator() *compare.Comparator {
	if c.Comparator != nil {
		return c.Comparator
	}
	return compare.NewComparator(compare.DefaultThresholds)
}
