package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/store/model"
)

type Region interface {
	Create(ctx context.Context, region model.Region) (*model.Region, error)
	List(ctx context.Context, filter *RegionQueryFilter, opts *RegionQueryOptions) (model.RegionList, error)
	DeleteForImage(ctx context.Context, jobID, imageID uint) error
	UpdateMaskRef(ctx context.Context, id uint, maskRef string) error
}

type RegionStore struct {
	db *gorm.DB
}

// Make sure we conform to Region interface
var _ Region = (*RegionStore)(nil)

func NewRegionStore(db *gorm.DB) Region {
	return &RegionStore{db: db}
}

func (s *RegionStore) Create(ctx context.Context, region model.Region) (*model.Region, error) {
	if err := s.getDB(ctx).WithContext(ctx).Create(&region).Error; err != nil {
		return nil, fmt.Errorf("creating region: %w", err)
	}
	return &region, nil
}

func (s *RegionStore) List(ctx context.Context, filter *RegionQueryFilter, opts *RegionQueryOptions) (model.RegionList, error) {
	var regions model.RegionList

	tx := s.getDB(ctx).WithContext(ctx).Model(&regions)
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

	if result := tx.Find(&regions); result.Error != nil {
		return nil, result.Error
	}
	return regions, nil
}

// DeleteForImage removes every region of a (job, image) pair. The job loop
// calls this before reprocessing an image so that regions are replaced
// atomically rather than appended.
func (s *RegionStore) DeleteForImage(ctx context.Context, jobID, imageID uint) error {
	result := s.getDB(ctx).WithContext(ctx).Unscoped().
		Where("job_id = ? AND image_id = ?", jobID, imageID).
		Delete(&model.Region{})
	if result.Error != nil {
		return fmt.Errorf("deleting regions: %w", result.Error)
	}
	return nil
}

func (s *RegionStore) UpdateMaskRef(ctx context.Context, id uint, maskRef string) error {
	result := s.getDB(ctx).WithContext(ctx).Model(&model.Region{}).Where("id = ?", id).Update("mask_ref", &maskRef)
	if result.Error != nil {
		return fmt.Errorf("updating region mask ref: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *RegionStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
