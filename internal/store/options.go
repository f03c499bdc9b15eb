package store

import (
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type ImageQueryFilter BaseQuerier

func NewImageQueryFilter() *ImageQueryFilter {
	return &ImageQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *ImageQueryFilter) ByDatasetID(datasetID uint) *ImageQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("dataset_id = ?", datasetID)
	})
	return qf
}

// FromID restricts the result set to images with id >= cursor. Used by the
// job loop to resume from a checkpoint.
func (qf *ImageQueryFilter) FromID(cursor uint) *ImageQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id >= ?", cursor)
	})
	return qf
}

func (qf *ImageQueryFilter) BeforeID(cursor uint) *ImageQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id < ?", cursor)
	})
	return qf
}

type ImageQueryOptions BaseQuerier

func NewImageQueryOptions() *ImageQueryOptions {
	return &ImageQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *ImageQueryOptions) WithLimit(limit int) *ImageQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	})
	return o
}

type RegionQueryFilter BaseQuerier

func NewRegionQueryFilter() *RegionQueryFilter {
	return &RegionQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *RegionQueryFilter) ByJobID(jobID uint) *RegionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("job_id = ?", jobID)
	})
	return qf
}

func (qf *RegionQueryFilter) ByImageID(imageID uint) *RegionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("image_id = ?", imageID)
	})
	return qf
}

func (qf *RegionQueryFilter) ByConceptID(conceptID uint) *RegionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("concept_id = ?", conceptID)
	})
	return qf
}

// ExcludeDemo drops synthetic overlay regions. Statistics are always computed
// on the real detections only.
func (qf *RegionQueryFilter) ExcludeDemo() *RegionQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("is_demo IS NOT TRUE")
	})
	return qf
}

type RegionQueryOptions BaseQuerier

func NewRegionQueryOptions() *RegionQueryOptions {
	return &RegionQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *RegionQueryOptions) WithLimit(limit int) *RegionQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	})
	return o
}
