package check

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"raster-check/internal/compare"
	"raster-check/internal/storage"

	"golang.org/x/xerrors"
)

const (
	VerdictAcceptable = "ACCEPTABLE"
	VerdictFailed     = "FAILED"
)

type JSONReport struct {
	Generated             string  `json:"generated,omitempty"`
	Reference             string  `json:"reference,omitempty"`
	Width                 int     `json:"width"`
	Height                int     `json:"height"`
	MaxPixelDiff          float64 `json:"maxPixelDiff"`
	MaxPixelDiffThreshold float64 `json:"maxPixelDiffThreshold"`
	MaxPixelDiffPassed    bool    `json:"maxPixelDiffPassed"`
	RMSE                  float64 `json:"rmse"`
	RMSEThreshold         float64 `json:"rmseThreshold"`
	RMSEPassed            bool    `json:"rmsePassed"`
	WorstX                int     `json:"worstX"`
	WorstY                int     `json:"worstY"`
	Passed                bool    `json:"passed"`
	Verdict               string  `json:"verdict"`
}

func NewJSONReport(outcome *Outcome) *JSONReport {
	result := outcome.Result

	verdict := VerdictFailed
	if result.Passed {
		verdict = VerdictAcceptable
	}

	return &JSONReport{
		Generated:             outcome.GeneratedPath,
		Reference:             outcome.ReferencePath,
		Width:                 outcome.Generated.Width(),
		Height:                outcome.Generated.Height(),
		MaxPixelDiff:          result.MaxPixelDiff,
		MaxPixelDiffThreshold: result.Thresholds.MaxPixelDiff,
		MaxPixelDiffPassed:    result.MaxPixelDiffPassed,
		RMSE:                  result.RMSE,
		RMSEThreshold:         result.Thresholds.RMSE,
		RMSEPassed:            result.RMSEPassed,
		WorstX:                result.WorstX,
		WorstY:                result.WorstY,
		Passed:                result.Passed,
		Verdict:               verdict,
	}
}

// EncodeHeatmap returns the PNG heatmap of the outcome's images.
func EncodeHeatmap(outcome *Outcome) ([]byte, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, compare.Heatmap(outcome.Generated, outcome.Reference)); err != nil {
		return nil, xerrors.Errorf("failed to encode heatmap: %w", err)
	}
	return buffer.Bytes(), nil
}

// Artifacts persists optional outputs of a run. Empty keys are skipped.
type Artifacts struct {
	Storage    storage.Storage
	HeatmapKey string
	ReportKey  string
}

// Save writes the configured artifacts and returns their URLs by kind.
func (a *Artifacts) Save(ctx context.Context, outcome *Outcome) (map[string]string, error) {
	urls := map[string]string{}

	if a.HeatmapKey != "" {
		data, err := EncodeHeatmap(outcome)
		if err != nil {
			return nil, err
		}
		url, err := a.Storage.Put(ctx, a.HeatmapKey, data)
		if err != nil {
			return nil, xerrors.Errorf("failed to save heatmap: %w", err)
		}
		urls["heatmap"] = url
	}

	if a.ReportKey != "" {
		data, err := json.MarshalIndent(NewJSONReport(outcome), "", "  ")
		if err != nil {
			return nil, xerrors.Errorf("failed to marshal report: %w", err)
		}
		url, err := a.Storage.Put(ctx, a.ReportKey, data)
		if err != nil {
			return nil, xerrors.Errorf("failed to save report: %w", err)
		}
		urls["report"] = url
	}

	return urls, nil
}
