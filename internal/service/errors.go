package service

import (
	"fmt"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uint, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %d not found", resourceType, id)}
}

func NewErrDatasetNotFound(id uint) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "dataset")
}

func NewErrJobNotFound(id uint) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

func NewErrConceptNotFound(id uint) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "concept")
}

func NewErrImageNotFound(id uint) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "image")
}

type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(message string) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf("bad request: %s", message)}
}

func NewErrEmptyDataset(id uint) *ErrInvalidRequest {
	return NewErrInvalidRequest(fmt.Sprintf("dataset %d has no indexed images", id))
}

type ErrInvalidJobTransition struct {
	error
}

func NewErrInvalidJobTransition(id uint, from, to string) *ErrInvalidJobTransition {
	return &ErrInvalidJobTransition{fmt.Errorf("job %d cannot move from %s to %s", id, from, to)}
}

type ErrDuplicateResource struct {
	error
}

func NewErrDuplicateConcept(name string) *ErrDuplicateResource {
	return &ErrDuplicateResource{fmt.Errorf("concept %q already exists", name)}
}
