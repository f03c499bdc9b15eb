package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/store/model"
)

type Image interface {
	CreateBatch(ctx context.Context, images []model.Image) ([]model.Image, error)
	Get(ctx context.Context, id uint) (*model.Image, error)
	List(ctx context.Context, filter *ImageQueryFilter, opts *ImageQueryOptions) (model.ImageList, error)
	Count(ctx context.Context, datasetID uint) (int64, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

type ImageStore struct {
	db *gorm.DB
}

// Make sure we conform to Image interface
var _ Image = (*ImageStore)(nil)

func NewImageStore(db *gorm.DB) Image {
	return &ImageStore{db: db}
}

func (s *ImageStore) CreateBatch(ctx context.Context, images []model.Image) ([]model.Image, error) {
	if len(images) == 0 {
		return images, nil
	}
	if err := s.getDB(ctx).WithContext(ctx).Create(&images).Error; err != nil {
		return nil, fmt.Errorf("creating images: %w", err)
	}
	return images, nil
}

func (s *ImageStore) Get(ctx context.Context, id uint) (*model.Image, error) {
	var image model.Image
	result := s.getDB(ctx).WithContext(ctx).First(&image, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying image: %w", result.Error)
	}
	return &image, nil
}

// List returns images in ascending id order. The job loop depends on this
// ordering for its cursor checkpoint.
func (s *ImageStore) List(ctx context.Context, filter *ImageQueryFilter, opts *ImageQueryOptions) (model.ImageList, error) {
	var images model.ImageList

	tx := s.getDB(ctx).WithContext(ctx).Model(&images)
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	tx = tx.Order("id")
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if result := tx.Find(&images); result.Error != nil {
		return nil, result.Error
	}
	return images, nil
}

func (s *ImageStore) Count(ctx context.Context, datasetID uint) (int64, error) {
	var count int64
	result := s.getDB(ctx).WithContext(ctx).Model(&model.Image{}).Where("dataset_id = ?", datasetID).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (s *ImageStore) UpdateStatus(ctx context.Context, id uint, status string) error {
	result := s.getDB(ctx).WithContext(ctx).Model(&model.Image{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("updating image status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *ImageStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
