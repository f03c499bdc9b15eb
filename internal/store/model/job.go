package model

import (
	"time"
)

// Job status constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// validJobTransitions maps from-status to allowed to-statuses. Cancelled and
// failed jobs go back through pending on an explicit resume.
var validJobTransitions = map[string]map[string]bool{
	JobStatusPending: {
		JobStatusRunning:   true,
		JobStatusCancelled: true,
		JobStatusFailed:    true,
	},
	JobStatusRunning: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	},
	JobStatusCancelled: {
		JobStatusPending: true,
	},
	JobStatusFailed: {
		JobStatusPending: true,
	},
	// Terminal
	JobStatusCompleted: {},
}

// ValidJobTransition reports whether a job may move from one status to another.
func ValidJobTransition(from, to string) bool {
	allowed, ok := validJobTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// JobFinished reports whether the status is one a fresh execution unit may
// not be attached to without an explicit resume.
func JobFinished(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type Job struct {
	ID              uint   `gorm:"primaryKey"`
	JobType         string `gorm:"not null"`
	DatasetID       uint   `gorm:"index;not null"`
	Params          []byte `gorm:"type:jsonb"`
	Status          string `gorm:"index;default:pending"`
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ErrorMessage    string
	ProcessedImages int
	TotalImages     int
	CursorImageID   *uint
}

type JobList []Job

type Region struct {
	ID        uint `gorm:"primaryKey"`
	JobID     uint `gorm:"index:idx_regions_job_image;not null"`
	ImageID   uint `gorm:"index:idx_regions_job_image;not null"`
	ConceptID *uint
	X         float64
	Y         float64
	Width     float64
	Height    float64
	Score     float64 `gorm:"not null"`
	MaskRef   *string
	IsDemo    bool `gorm:"default:false"`
	CreatedAt time.Time
}

type RegionList []Region

type JobStat struct {
	ID           uint   `gorm:"primaryKey"`
	JobID        uint   `gorm:"index;not null"`
	ConceptID    uint   `gorm:"not null"`
	BucketName   string `gorm:"not null"`
	CountImages  int    `gorm:"default:0"`
	CountRegions int    `gorm:"default:0"`
}

type JobStatList []JobStat
