package service

import (
	"context"
	"errors"

	"github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
)

type ConceptService struct {
	store store.Store
}

func NewConceptService(s store.Store) *ConceptService {
	return &ConceptService{store: s}
}

func (s *ConceptService) Create(ctx context.Context, name, family, colorHex string, level int) (*model.Concept, error) {
	concept, err := s.store.Concept().Create(ctx, model.Concept{
		Name:     name,
		Family:   family,
		ColorHex: colorHex,
		Level:    level,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, NewErrDuplicateConcept(name)
		}
		return nil, err
	}
	return concept, nil
}

func (s *ConceptService) Get(ctx context.Context, id uint) (*model.Concept, error) {
	concept, err := s.store.Concept().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrConceptNotFound(id)
		}
		return nil, err
	}
	return concept, nil
}

func (s *ConceptService) List(ctx context.Context) (model.ConceptList, error) {
	return s.store.Concept().List(ctx)
}
