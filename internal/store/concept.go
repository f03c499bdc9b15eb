package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/store/model"
)

type Concept interface {
	Create(ctx context.Context, concept model.Concept) (*model.Concept, error)
	Get(ctx context.Context, id uint) (*model.Concept, error)
	GetByName(ctx context.Context, name string) (*model.Concept, error)
	List(ctx context.Context) (model.ConceptList, error)
}

type ConceptStore struct {
	db *gorm.DB
}

// Make sure we conform to Concept interface
var _ Concept = (*ConceptStore)(nil)

func NewConceptStore(db *gorm.DB) Concept {
	return &ConceptStore{db: db}
}

func (s *ConceptStore) Create(ctx context.Context, concept model.Concept) (*model.Concept, error) {
	if err := s.getDB(ctx).WithContext(ctx).Create(&concept).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating concept: %w", err)
	}
	return &concept, nil
}

func (s *ConceptStore) Get(ctx context.Context, id uint) (*model.Concept, error) {
	var concept model.Concept
	result := s.getDB(ctx).WithContext(ctx).First(&concept, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying concept: %w", result.Error)
	}
	return &concept, nil
}

func (s *ConceptStore) GetByName(ctx context.Context, name string) (*model.Concept, error) {
	var concept model.Concept
	result := s.getDB(ctx).WithContext(ctx).First(&concept, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying concept: %w", result.Error)
	}
	return &concept, nil
}

func (s *ConceptStore) List(ctx context.Context) (model.ConceptList, error) {
	var concepts model.ConceptList
	result := s.getDB(ctx).WithContext(ctx).Model(&concepts).Order("id").Find(&concepts)
	if result.Error != nil {
		return nil, result.Error
	}
	return concepts, nil
}

func (s *ConceptStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
