package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/store/model"
)

type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uint) (*model.Job, error)
	List(ctx context.Context) (model.JobList, error)
	UpdateStatus(ctx context.Context, id uint, status string, errorMessage *string) error
	MarkStarted(ctx context.Context, id uint) error
	MarkFinished(ctx context.Context, id uint, status string, errorMessage *string) error
	UpdateTotals(ctx context.Context, id uint, totalImages int) error
	UpdateProgress(ctx context.Context, id uint, processedImages int, cursorImageID uint) error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if err := s.getDB(ctx).WithContext(ctx).Create(&job).Error; err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uint) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).WithContext(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context) (model.JobList, error) {
	var jobs model.JobList
	result := s.getDB(ctx).WithContext(ctx).Model(&jobs).Order("id").Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, id uint, status string, errorMessage *string) error {
	updates := map[string]any{"status": status}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	return s.update(ctx, id, updates)
}

func (s *JobStore) MarkStarted(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	return s.update(ctx, id, map[string]any{
		"status":     model.JobStatusRunning,
		"started_at": &now,
	})
}

func (s *JobStore) MarkFinished(ctx context.Context, id uint, status string, errorMessage *string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":      status,
		"finished_at": &now,
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	return s.update(ctx, id, updates)
}

func (s *JobStore) UpdateTotals(ctx context.Context, id uint, totalImages int) error {
	return s.update(ctx, id, map[string]any{"total_images": totalImages})
}

// UpdateProgress commits the cursor checkpoint after an image is fully
// persisted. Region writes for the image must have completed before this is
// called.
func (s *JobStore) UpdateProgress(ctx context.Context, id uint, processedImages int, cursorImageID uint) error {
	return s.update(ctx, id, map[string]any{
		"processed_images": processedImages,
		"cursor_image_id":  &cursorImageID,
	})
}

func (s *JobStore) update(ctx context.Context, id uint, updates map[string]any) error {
	result := s.getDB(ctx).WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
