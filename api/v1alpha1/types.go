// Package v1alpha1 defines the wire types of the public REST API.
package v1alpha1

import (
	"time"

	"github.com/conceptscan/conceptscan/internal/jobs"
)

type Error struct {
	Message string `json:"message"`
}

type Health struct {
	Status       string `json:"status"`
	WeightsReady bool   `json:"weights_ready"`
}

type DatasetCreate struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	RootPath string `json:"root_path" validate:"required"`
}

type Dataset struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"root_path"`
	CreatedAt time.Time `json:"created_at"`
}

type DatasetList []Dataset

type IndexResult struct {
	Total  int `json:"total"`
	Ready  int `json:"ready"`
	Failed int `json:"failed"`
}

type Image struct {
	ID      uint   `json:"id"`
	RelPath string `json:"rel_path"`
	AbsPath string `json:"abs_path"`
	Width   *int   `json:"width,omitempty"`
	Height  *int   `json:"height,omitempty"`
	Status  string `json:"status"`
}

type ImageList []Image

type ConceptCreate struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Family   string `json:"family" validate:"required"`
	ColorHex string `json:"color_hex" validate:"required,color_hex"`
	Level    int    `json:"level" validate:"omitempty,gte=1"`
}

type Concept struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Family   string `json:"family"`
	ColorHex string `json:"color_hex"`
	Level    int    `json:"level"`
}

type ConceptList []Concept

// JobCreate is the level-1 job submission. Params are passed through to the
// engine verbatim; defaulting happens at execution time so a stored job is
// self-describing.
type JobCreate struct {
	DatasetID uint `json:"dataset_id" validate:"required"`
	jobs.RawParams
}

type Job struct {
	ID              uint       `json:"id"`
	JobType         string     `json:"job_type"`
	DatasetID       uint       `json:"dataset_id"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ProcessedImages int        `json:"processed_images"`
	TotalImages     int        `json:"total_images"`
	CursorImageID   *uint      `json:"cursor_image_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`

	// Stats maps concept id to bucket name to counts. Present on single job
	// reads, omitted from listings.
	Stats map[uint]map[string]BucketCounts `json:"stats,omitempty"`
}

type JobList []Job

type BucketCounts struct {
	CountImages  int `json:"count_images"`
	CountRegions int `json:"count_regions"`
}

type CancelResponse struct {
	JobID  uint   `json:"job_id"`
	Status string `json:"status"`
}

type SampleRegion struct {
	RegionID    uint      `json:"region_id"`
	ConceptID   uint      `json:"concept_id"`
	ConceptName string    `json:"concept_name"`
	ColorHex    string    `json:"color_hex"`
	BBox        []float64 `json:"bbox"`
	BBoxCorners []float64 `json:"bbox_xyxy"`
	Score       float64   `json:"score"`
	MaskRef     *string   `json:"mask_ref,omitempty"`
	MaskURL     *string   `json:"mask_url,omitempty"`
	IsDemo      bool      `json:"is_demo"`
}

type SampleImage struct {
	ImageID uint           `json:"image_id"`
	RelPath string         `json:"rel_path"`
	AbsPath string         `json:"abs_path"`
	Regions []SampleRegion `json:"regions"`
}
