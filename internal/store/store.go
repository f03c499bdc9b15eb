package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/conceptscan/conceptscan/internal/store/model"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Dataset() Dataset
	Image() Image
	Concept() Concept
	Job() Job
	Region() Region
	JobStat() JobStat
	InitialMigration() error
	Seed() error
	Close() error
}

type DataStore struct {
	db      *gorm.DB
	dataset Dataset
	image   Image
	concept Concept
	job     Job
	region  Region
	jobStat JobStat
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		dataset: NewDatasetStore(db),
		image:   NewImageStore(db),
		concept: NewConceptStore(db),
		job:     NewJobStore(db),
		region:  NewRegionStore(db),
		jobStat: NewJobStatStore(db),
		db:      db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Dataset() Dataset {
	return s.dataset
}

func (s *DataStore) Image() Image {
	return s.image
}

func (s *DataStore) Concept() Concept {
	return s.concept
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Region() Region {
	return s.region
}

func (s *DataStore) JobStat() JobStat {
	return s.jobStat
}

func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.Dataset{},
		&model.Image{},
		&model.Concept{},
		&model.Job{},
		&model.Region{},
		&model.JobStat{},
	)
}

// Seed installs the default level-1 concepts when they are missing.
func (s *DataStore) Seed() error {
	defaults := []model.Concept{
		{Name: "facade", Family: "FACADE", ColorHex: "#ff9800", Level: 1},
		{Name: "roof", Family: "ROOF", ColorHex: "#4caf50", Level: 1},
		{Name: "window", Family: "OPENING", ColorHex: "#2196f3", Level: 1},
	}

	ctx := context.Background()
	for _, concept := range defaults {
		if _, err := s.concept.GetByName(ctx, concept.Name); err == nil {
			continue
		}
		if _, err := s.concept.Create(ctx, concept); err != nil {
			return err
		}
	}
	return nil
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
