package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/store/model"
)

type JobStat interface {
	CreateBatch(ctx context.Context, stats []model.JobStat) error
	ListByJob(ctx context.Context, jobID uint) (model.JobStatList, error)
	DeleteForJob(ctx context.Context, jobID uint) error
}

type JobStatStore struct {
	db *gorm.DB
}

// Make sure we conform to JobStat interface
var _ JobStat = (*JobStatStore)(nil)

func NewJobStatStore(db *gorm.DB) JobStat {
	return &JobStatStore{db: db}
}

func (s *JobStatStore) CreateBatch(ctx context.Context, stats []model.JobStat) error {
	if len(stats) == 0 {
		return nil
	}
	if err := s.getDB(ctx).WithContext(ctx).Create(&stats).Error; err != nil {
		return fmt.Errorf("creating job stats: %w", err)
	}
	return nil
}

func (s *JobStatStore) ListByJob(ctx context.Context, jobID uint) (model.JobStatList, error) {
	var stats model.JobStatList
	result := s.getDB(ctx).WithContext(ctx).Model(&stats).Where("job_id = ?", jobID).Order("id").Find(&stats)
	if result.Error != nil {
		return nil, result.Error
	}
	return stats, nil
}

// DeleteForJob clears a job's statistics. They are a derived view and are
// fully recomputed at job completion.
func (s *JobStatStore) DeleteForJob(ctx context.Context, jobID uint) error {
	result := s.getDB(ctx).WithContext(ctx).Unscoped().Where("job_id = ?", jobID).Delete(&model.JobStat{})
	if result.Error != nil {
		return fmt.Errorf("deleting job stats: %w", result.Error)
	}
	return nil
}

func (s *JobStatStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
