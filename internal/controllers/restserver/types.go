package restserver

import (
	"github.com/chrissnell/alphastep/internal/steps"
	"github.com/chrissnell/alphastep/internal/storage"
	"github.com/chrissnell/alphastep/pkg/config"
)

// AnalyzeRequest is the body of POST /api/v1/analyze. Config, when given,
// replaces the named profile entirely.
type AnalyzeRequest struct {
	Name    string               `json:"name"`
	Profile string               `json:"profile,omitempty"`
	Samples []float64            `json:"samples"`
	Config  *config.AnalysisData `json:"config,omitempty"`
}

// AnalyzeResponse summarizes one analysis. ID is set when the run was
// queued for storage.
type AnalyzeResponse struct {
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name"`
	Samples      int                    `json:"samples"`
	Config       steps.Config           `json:"config"`
	ChangePoints []steps.ChangePoint    `json:"change_points"`
	Steps        []steps.Step           `json:"steps"`
	Table        steps.Table            `json:"table"`
	Stages       int                    `json:"stages"`
	Objective    float64                `json:"objective"`
	RMS          float64                `json:"rms"`
	Diverged     bool                   `json:"diverged"`
	Warnings     []string               `json:"warnings,omitempty"`
	Windows      *steps.WindowSelection `json:"windows,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// WindowsRequest is the body of POST /api/v1/windows.
type WindowsRequest struct {
	Profile   string                   `json:"profile,omitempty"`
	Samples   []float64                `json:"samples"`
	Config    *config.AnalysisData     `json:"config,omitempty"`
	Search    *config.WindowSearchData `json:"search,omitempty"`
	Smoothing bool                     `json:"smoothing,omitempty"`
}

// WindowsResponse reports the selected windows.
type WindowsResponse struct {
	Detection *steps.WindowSelection `json:"detection"`
	Smoothing *steps.WindowSpec      `json:"smoothing,omitempty"`
}

// RunsResponse lists stored runs, newest first.
type RunsResponse struct {
	Runs []storage.RunRecord `json:"runs"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string              `json:"status"`
	Storage *storage.HealthData `json:"storage,omitempty"`
}

func newAnalyzeResponse(name string, an *steps.Analysis) AnalyzeResponse {
	resp := AnalyzeResponse{
		Name:         name,
		Samples:      len(an.Padded),
		Config:       an.Config,
		ChangePoints: an.ChangePoints,
		Table:        an.Table,
		Warnings:     an.Warnings,
	}
	if an.Run != nil {
		resp.Stages = len(an.Run.Stages)
		resp.Diverged = an.Run.Diverged
	}
	if final := an.Final(); final != nil {
		resp.Steps = final.Steps
		resp.Objective = final.Objective
		resp.RMS = final.RMS
	}
	return resp
}
