package models

import "time"

// PipelineRun protokolliert einen Lauf der Pipeline samt Zählern.
type PipelineRun struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	StartedAt  time.Time  `json:"started_at" gorm:"index"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Category    string `json:"category"`
	WindowStart string `json:"window_start" gorm:"size:10"`
	WindowEnd   string `json:"window_end" gorm:"size:10"`

	Discovered    int `json:"discovered"`
	Upserted      int `json:"upserted"`
	ChunkFailures int `json:"chunk_failures"`
	Resolved      int `json:"resolved"`
	NotFound      int `json:"not_found"`
	Ambiguous     int `json:"ambiguous"`
	ResolveErrors int `json:"resolve_errors"`
	Polled        int `json:"polled"`
	Unavailable   int `json:"unavailable"`
	StarsWritten  int `json:"stars_written"`

	Error string `json:"error,omitempty" gorm:"type:text"`
}

func (PipelineRun) TableName() string { return "pipeline_runs" }
