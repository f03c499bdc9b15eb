package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/store/model"
)

type Dataset interface {
	Create(ctx context.Context, dataset model.Dataset) (*model.Dataset, error)
	Get(ctx context.Context, id uint) (*model.Dataset, error)
	List(ctx context.Context) (model.DatasetList, error)
	Delete(ctx context.Context, id uint) error
}

type DatasetStore struct {
	db *gorm.DB
}

// Make sure we conform to Dataset interface
var _ Dataset = (*DatasetStore)(nil)

func NewDatasetStore(db *gorm.DB) Dataset {
	return &DatasetStore{db: db}
}

func (s *DatasetStore) Create(ctx context.Context, dataset model.Dataset) (*model.Dataset, error) {
	if err := s.getDB(ctx).WithContext(ctx).Create(&dataset).Error; err != nil {
		return nil, fmt.Errorf("creating dataset: %w", err)
	}
	return &dataset, nil
}

func (s *DatasetStore) Get(ctx context.Context, id uint) (*model.Dataset, error) {
	var dataset model.Dataset
	result := s.getDB(ctx).WithContext(ctx).First(&dataset, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying dataset: %w", result.Error)
	}
	return &dataset, nil
}

func (s *DatasetStore) List(ctx context.Context) (model.DatasetList, error) {
	var datasets model.DatasetList
	result := s.getDB(ctx).WithContext(ctx).Model(&datasets).Order("id").Find(&datasets)
	if result.Error != nil {
		return nil, result.Error
	}
	return datasets, nil
}

func (s *DatasetStore) Delete(ctx context.Context, id uint) error {
	result := s.getDB(ctx).WithContext(ctx).Unscoped().Delete(&model.Dataset{ID: id})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}

func (s *DatasetStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
