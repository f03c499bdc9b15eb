package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/conceptscan/conceptscan/internal/jobs"
	"github.com/conceptscan/conceptscan/internal/stats"
	"github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
)

// JobTypeLevel1 is the single job type the engine currently runs: one pass
// over a dataset with level-1 concepts.
const JobTypeLevel1 = "level1"

type JobService struct {
	store     store.Store
	manager   *jobs.Manager
	masksRoot string
	log       *zap.SugaredLogger
}

func NewJobService(s store.Store, manager *jobs.Manager, masksRoot string, log *zap.SugaredLogger) *JobService {
	return &JobService{store: s, manager: manager, masksRoot: masksRoot, log: log}
}

// BucketCounts is one cell of a job's statistics rollup.
type BucketCounts struct {
	CountImages  int `json:"count_images"`
	CountRegions int `json:"count_regions"`
}

// JobStats maps concept id to bucket name to counts.
type JobStats map[uint]map[string]BucketCounts

// Create validates the submission, persists the job row and launches its
// execution unit. The dataset must have at least one indexed image and every
// referenced concept must exist.
func (s *JobService) Create(ctx context.Context, datasetID uint, params jobs.RawParams) (*model.Job, error) {
	count, err := s.store.Image().Count(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, NewErrEmptyDataset(datasetID)
	}
	for _, cp := range params.Concepts {
		if _, err := s.store.Concept().Get(ctx, cp.ConceptID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, NewErrConceptNotFound(cp.ConceptID)
			}
			return nil, err
		}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encoding job params")
	}
	job, err := s.store.Job().Create(ctx, model.Job{
		JobType:     JobTypeLevel1,
		DatasetID:   datasetID,
		Params:      raw,
		Status:      model.JobStatusPending,
		TotalImages: int(count),
	})
	if err != nil {
		return nil, err
	}

	if err := s.manager.Launch(job.ID); err != nil {
		return nil, err
	}
	s.log.Infow("job created", "job", job.ID, "dataset", datasetID, "concepts", len(params.Concepts))
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id uint) (*model.Job, JobStats, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, nil, NewErrJobNotFound(id)
		}
		return nil, nil, err
	}
	statRows, err := s.store.JobStat().ListByJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rollup := make(JobStats)
	for _, row := range statRows {
		if rollup[row.ConceptID] == nil {
			rollup[row.ConceptID] = make(map[string]BucketCounts)
		}
		rollup[row.ConceptID][row.BucketName] = BucketCounts{
			CountImages:  row.CountImages,
			CountRegions: row.CountRegions,
		}
	}
	return job, rollup, nil
}

func (s *JobService) List(ctx context.Context) (model.JobList, error) {
	return s.store.Job().List(ctx)
}

// Cancel signals the job's execution unit to stop at its next checkpoint.
// When no unit is alive the status transitions directly, which covers jobs
// that were never launched or crashed without finishing.
func (s *JobService) Cancel(ctx context.Context, id uint) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	if s.manager.Cancel(id) {
		s.log.Infow("job cancellation requested", "job", id)
		return job, nil
	}
	if !model.ValidJobTransition(job.Status, model.JobStatusCancelled) {
		return nil, NewErrInvalidJobTransition(id, job.Status, model.JobStatusCancelled)
	}
	if err := s.store.Job().UpdateStatus(ctx, id, model.JobStatusCancelled, nil); err != nil {
		return nil, err
	}
	job.Status = model.JobStatusCancelled
	return job, nil
}

// Resume relaunches a cancelled or failed job from its checkpoint. Fails
// with ErrJobActive while the previous execution unit is still draining.
func (s *JobService) Resume(ctx context.Context, id uint) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	if s.manager.Active(id) {
		return nil, jobs.NewErrJobActive(id)
	}
	if !model.ValidJobTransition(job.Status, model.JobStatusPending) {
		return nil, NewErrInvalidJobTransition(id, job.Status, model.JobStatusPending)
	}
	if err := s.store.Job().UpdateStatus(ctx, id, model.JobStatusPending, nil); err != nil {
		return nil, err
	}
	if err := s.manager.Launch(id); err != nil {
		return nil, err
	}
	job.Status = model.JobStatusPending
	job.ErrorMessage = ""
	s.log.Infow("job resumed", "job", id)
	return job, nil
}

// SampleQuery narrows the regions returned by Samples.
type SampleQuery struct {
	ConceptID *uint
	Bucket    string
	ImageID   *uint
	Limit     int
}

// SampleRegion is one region of a sample image, enriched with its concept's
// display attributes.
type SampleRegion struct {
	RegionID    uint      `json:"region_id"`
	ConceptID   uint      `json:"concept_id"`
	ConceptName string    `json:"concept_name"`
	ColorHex    string    `json:"color_hex"`
	BBox        []float64 `json:"bbox"`
	BBoxCorners []float64 `json:"bbox_xyxy"`
	Score       float64   `json:"score"`
	MaskRef     *string   `json:"mask_ref,omitempty"`
	IsDemo      bool      `json:"is_demo"`
}

// SampleImage groups a job's regions per image for review UIs.
type SampleImage struct {
	ImageID uint           `json:"image_id"`
	RelPath string         `json:"rel_path"`
	AbsPath string         `json:"abs_path"`
	Regions []SampleRegion `json:"regions"`
}

// Samples returns up to query.Limit images with their regions, optionally
// narrowed by concept, confidence bucket or a single image. Bucket names are
// derived from the job's own user confidence.
func (s *JobService) Samples(ctx context.Context, id uint, query SampleQuery) ([]SampleImage, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	userConfidence := 0.5
	if params, err := jobs.ResolveParams(job.Params, 0); err == nil {
		userConfidence = params.UserConfidence
	}
	bands := stats.Buckets(userConfidence)

	filter := store.NewRegionQueryFilter().ByJobID(id)
	if query.ConceptID != nil {
		filter = filter.ByConceptID(*query.ConceptID)
	}
	var target *model.Image
	if query.ImageID != nil {
		target, err = s.store.Image().Get(ctx, *query.ImageID)
		if err != nil || target.DatasetID != job.DatasetID {
			return nil, NewErrImageNotFound(*query.ImageID)
		}
		filter = filter.ByImageID(*query.ImageID)
	}
	regions, err := s.store.Region().List(ctx, filter, store.NewRegionQueryOptions())
	if err != nil {
		return nil, err
	}

	concepts, err := s.store.Concept().List(ctx)
	if err != nil {
		return nil, err
	}
	conceptByID := make(map[uint]model.Concept, len(concepts))
	for _, c := range concepts {
		conceptByID[c.ID] = c
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	var samples []SampleImage
	index := make(map[uint]int)
	for _, region := range regions {
		if region.ConceptID == nil {
			continue
		}
		if query.Bucket != "" && stats.Classify(region.Score, bands) != query.Bucket {
			continue
		}
		concept, ok := conceptByID[*region.ConceptID]
		if !ok {
			continue
		}

		pos, seen := index[region.ImageID]
		if !seen {
			if len(samples) >= limit {
				continue
			}
			img, err := s.store.Image().Get(ctx, region.ImageID)
			if err != nil {
				continue
			}
			index[region.ImageID] = len(samples)
			pos = len(samples)
			samples = append(samples, SampleImage{ImageID: img.ID, RelPath: img.RelPath, AbsPath: img.AbsPath})
		}
		samples[pos].Regions = append(samples[pos].Regions, SampleRegion{
			RegionID:    region.ID,
			ConceptID:   concept.ID,
			ConceptName: concept.Name,
			ColorHex:    concept.ColorHex,
			BBox:        []float64{region.X, region.Y, region.Width, region.Height},
			BBoxCorners: []float64{region.X, region.Y, region.X + region.Width, region.Y + region.Height},
			Score:       region.Score,
			MaskRef:     region.MaskRef,
			IsDemo:      region.IsDemo,
		})
	}
	if target != nil && len(samples) == 0 {
		samples = append(samples, SampleImage{ImageID: target.ID, RelPath: target.RelPath, AbsPath: target.AbsPath, Regions: []SampleRegion{}})
	}
	return samples, nil
}

// Images lists the dataset images the job has already processed, bounded by
// its cursor.
func (s *JobService) Images(ctx context.Context, id uint, limit int) (model.ImageList, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	filter := store.NewImageQueryFilter().ByDatasetID(job.DatasetID)
	opts := store.NewImageQueryOptions()
	if job.CursorImageID != nil {
		filter = filter.BeforeID(*job.CursorImageID)
	} else if job.ProcessedImages > 0 {
		opts = opts.WithLimit(job.ProcessedImages)
	}
	if limit > 0 {
		opts = opts.WithLimit(limit)
	}
	return s.store.Image().List(ctx, filter, opts)
}

// MaskPath resolves the on-disk path of a region's mask raster, verifying
// the region belongs to the job and image and that the resolved path stays
// under the masks root.
func (s *JobService) MaskPath(ctx context.Context, jobID, imageID, regionID uint) (string, error) {
	if _, err := s.store.Job().Get(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return "", NewErrJobNotFound(jobID)
		}
		return "", err
	}
	regions, err := s.store.Region().List(ctx,
		store.NewRegionQueryFilter().ByJobID(jobID).ByImageID(imageID),
		store.NewRegionQueryOptions())
	if err != nil {
		return "", err
	}
	for _, region := range regions {
		if region.ID != regionID {
			continue
		}
		if region.MaskRef == nil {
			return "", NewErrResourceNotFound(regionID, "mask for region")
		}
		return s.resolveMaskRef(*region.MaskRef)
	}
	return "", NewErrResourceNotFound(regionID, "region")
}

// resolveMaskRef joins a stored relative mask reference with the masks root,
// rejecting references that escape it.
func (s *JobService) resolveMaskRef(ref string) (string, error) {
	root, err := filepath.Abs(s.masksRoot)
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(root, filepath.FromSlash(ref))
	resolved = filepath.Clean(resolved)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", NewErrInvalidRequest("mask reference escapes the masks directory")
	}
	return resolved, nil
}
