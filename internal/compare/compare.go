package compare

import (
	"fmt"
	"math"
	"raster-check/internal/raster"
	"runtime"
	"sync"

	"golang.org/x/exp/constraints"
)

// Thresholds are exclusive upper bounds: a metric equal to its threshold fails.
type Thresholds struct {
	MaxPixelDiff float64
	RMSE         float64
}

// DefaultThresholds are the acceptance limits used by the CLI and the server.
var DefaultThresholds = Thresholds{
	MaxPixelDiff: 150.0,
	RMSE:         10.0,
}

type Result struct {
	MaxPixelDiff       float64
	RMSE               float64
	MaxPixelDiffPassed bool
	RMSEPassed         bool
	Passed             bool
	Pixels             int
	// WorstX and WorstY locate the first pixel, in row-major order, whose
	// deviation equals MaxPixelDiff.
	WorstX     int
	WorstY     int
	Thresholds Thresholds
}

type Comparator struct {
	thresholds Thresholds
	workers    int
}

func NewComparator(thresholds Thresholds) *Comparator {
	return &Comparator{
		thresholds: thresholds,
	}
}

// WithWorkers returns a copy of c that splits rows across n goroutines.
// n <= 0 means runtime.GOMAXPROCS(0).
func (c *Comparator) WithWorkers(n int) *Comparator {
	copied := *c
	copied.workers = n
	return &copied
}

// band accumulates integer channel sums so merging is exact. A pixel's diff
// is channelSum/3, so the squared diff is channelSum²/9.
type band struct {
	maxChannelSum int
	worst         int
	sumSquared    uint64
}

// Compare computes the max pixel diff and RMSE of a against b. Both images
// must have the same dimensions; callers check this first.
func (c *Comparator) Compare(a *raster.Image, b *raster.Image) *Result {
	if !a.SameSize(b) {
		panic(fmt.Sprintf("compare: dimension mismatch %dx%d vs %dx%d", a.Width(), a.Height(), b.Width(), b.Height()))
	}

	height := a.Height()
	numWorkers := c.numWorkers(height)
	rowsPerWorker := height / numWorkers

	bands := make([]band, numWorkers)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = height
		}

		go func(i int, startY int, endY int) {
			defer wg.Done()
			bands[i] = processRows(a, b, startY, endY)
		}(i, startY, endY)
	}
	wg.Wait()

	// Merge in band order so ties resolve to the first pixel in row-major order.
	merged := band{worst: 0}
	for _, current := range bands {
		if current.maxChannelSum > merged.maxChannelSum {
			merged.maxChannelSum = current.maxChannelSum
			merged.worst = current.worst
		}
		merged.sumSquared += current.sumSquared
	}

	pixels := a.Pixels()
	rmse := math.Sqrt(float64(merged.sumSquared) / (9 * float64(pixels)))

	result := &Result{
		MaxPixelDiff: float64(merged.maxChannelSum) / 3.0,
		RMSE:         rmse,
		Pixels:       pixels,
		WorstX:       merged.worst % a.Width(),
		WorstY:       merged.worst / a.Width(),
		Thresholds:   c.thresholds,
	}
	result.MaxPixelDiffPassed = result.MaxPixelDiff < c.thresholds.MaxPixelDiff
	result.RMSEPassed = result.RMSE < c.thresholds.RMSE
	result.Passed = result.MaxPixelDiffPassed && result.RMSEPassed

	return result
}

func (c *Comparator) numWorkers(height int) int {
	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
	n := c.workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return max(1, min(n, height))
}

func processRows(a *raster.Image, b *raster.Image, startY int, endY int) band {
	width := a.Width()
	result := band{worst: startY * width}

	for y := startY; y < endY; y++ {
		rowA := a.Row(y)
		rowB := b.Row(y)

		for x := 0; x < width; x++ {
			offset := x * raster.Channels
			sum := channelSum(
				rowA[offset], rowA[offset+1], rowA[offset+2],
				rowB[offset], rowB[offset+1], rowB[offset+2],
			)

			if sum > result.maxChannelSum {
				result.maxChannelSum = sum
				result.worst = y*width + x
			}
			result.sumSquared += uint64(sum * sum)
		}
	}

	return result
}

// PixelDiff is the mean of the absolute per-channel differences of two pixels.
func PixelDiff(r1 uint8, g1 uint8, b1 uint8, r2 uint8, g2 uint8, b2 uint8) float64 {
	return float64(channelSum(r1, g1, b1, r2, g2, b2)) / 3.0
}

// channelSum is the sum of the absolute per-channel differences, 0..765.
func channelSum(r1 uint8, g1 uint8, b1 uint8, r2 uint8, g2 uint8, b2 uint8) int {
	return absDiff(r1, r2) + absDiff(g1, g2) + absDiff(b1, b2)
}

func absDiff[T constraints.Integer](l T, r T) int {
	if l > r {
		return int(l - r)
	}
	return int(r - l)
}
