// Package service implements the application logic behind the HTTP surface,
// validating requests and coordinating the store with the job engine.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/conceptscan/conceptscan/internal/datasets"
	"github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
)

type DatasetService struct {
	store   store.Store
	indexer *datasets.Indexer
	log     *zap.SugaredLogger
}

func NewDatasetService(s store.Store, indexer *datasets.Indexer, log *zap.SugaredLogger) *DatasetService {
	return &DatasetService{store: s, indexer: indexer, log: log}
}

func (s *DatasetService) Create(ctx context.Context, name, rootPath string) (*model.Dataset, error) {
	dataset, err := s.store.Dataset().Create(ctx, model.Dataset{Name: name, RootPath: rootPath})
	if err != nil {
		return nil, err
	}
	s.log.Infow("dataset created", "dataset", dataset.ID, "root", rootPath)
	return dataset, nil
}

func (s *DatasetService) Get(ctx context.Context, id uint) (*model.Dataset, error) {
	dataset, err := s.store.Dataset().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDatasetNotFound(id)
		}
		return nil, err
	}
	return dataset, nil
}

func (s *DatasetService) List(ctx context.Context) (model.DatasetList, error) {
	return s.store.Dataset().List(ctx)
}

func (s *DatasetService) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.Dataset().Delete(ctx, id)
}

// Index walks the dataset's directory and registers new image files.
func (s *DatasetService) Index(ctx context.Context, id uint) (*datasets.IndexResult, error) {
	dataset, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.indexer.Index(ctx, dataset)
	if err != nil {
		return nil, NewErrInvalidRequest(err.Error())
	}
	return result, nil
}

func (s *DatasetService) Images(ctx context.Context, id uint, limit int) (model.ImageList, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Image().List(ctx,
		store.NewImageQueryFilter().ByDatasetID(id),
		store.NewImageQueryOptions().WithLimit(limit))
}
