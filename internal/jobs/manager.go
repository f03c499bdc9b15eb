package jobs

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/conceptscan/conceptscan/internal/config"
	imglib "github.com/conceptscan/conceptscan/internal/imaging"
	"github.com/conceptscan/conceptscan/internal/inference"
	"github.com/conceptscan/conceptscan/internal/stats"
	"github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
	"github.com/conceptscan/conceptscan/pkg/metrics"
)

// Manager owns job execution. Launch and Resume start one goroutine per job;
// admission is bounded by a weighted semaphore sized to the configured
// concurrency limit, and the shared backend is reached through leases so
// weight swaps serialize safely.
type Manager struct {
	store      store.Store
	backends   *inference.Manager
	dispatcher *inference.Dispatcher
	writer     *RegionWriter
	registry   *registry
	admission  *semaphore.Weighted
	cfg        *config.Config
	log        *zap.SugaredLogger
}

func NewManager(s store.Store, backends *inference.Manager, cfg *config.Config, log *zap.SugaredLogger) *Manager {
	var admission *semaphore.Weighted
	if n := cfg.Inference.MaxConcurrentJobs; n > 0 {
		admission = semaphore.NewWeighted(int64(n))
	}
	return &Manager{
		store:      s,
		backends:   backends,
		dispatcher: inference.NewDispatcher(log),
		writer:     NewRegionWriter(s, cfg.ResolveMasksDir(), log),
		registry:   newRegistry(),
		admission:  admission,
		cfg:        cfg,
		log:        log,
	}
}

// Launch starts an execution unit for the job. Fails with ErrJobActive while
// a previous unit for the same job id is still draining.
func (m *Manager) Launch(jobID uint) error {
	ctx, h, err := m.registry.begin(jobID)
	if err != nil {
		return err
	}
	go m.run(ctx, h, jobID)
	return nil
}

// Cancel signals the job's execution unit to stop at its next per-image
// checkpoint. Returns false when no unit is active.
func (m *Manager) Cancel(jobID uint) bool {
	return m.registry.cancel(jobID)
}

// Active reports whether an execution unit for the job is still alive.
func (m *Manager) Active(jobID uint) bool {
	return m.registry.active(jobID)
}

// Wait blocks until the job's execution unit exits. Used by tests and by
// graceful shutdown.
func (m *Manager) Wait(jobID uint) {
	m.registry.wait(jobID)
}

func (m *Manager) run(ctx context.Context, h *handle, jobID uint) {
	defer m.registry.finish(jobID, h)

	log := m.log.With("job", jobID)

	if m.admission != nil {
		if err := m.admission.Acquire(ctx, 1); err != nil {
			log.Infow("job cancelled while waiting for admission")
			m.finishJob(jobID, model.JobStatusCancelled, nil, log)
			return
		}
		defer m.admission.Release(1)
	}

	// Store writes below use a background context on purpose: cancellation
	// is observed only at the per-image checkpoint, never mid-commit.
	sctx := context.Background()

	job, err := m.store.Job().Get(sctx, jobID)
	if err != nil {
		log.Errorw("failed to load job", "error", err)
		return
	}

	params, err := ResolveParams(job.Params, m.cfg.Inference.TargetLongSide)
	if err != nil {
		m.failJob(jobID, err.Error(), log)
		return
	}

	concepts := params.Concepts
	if params.Method.SingleConceptOnly() && len(concepts) > 1 {
		log.Infow("method supports a single concept only, narrowing to first",
			"method", params.Method, "concept", concepts[0].ConceptID)
		concepts = concepts[:1]
	}

	weightsPath := m.cfg.WeightsPath()
	if weightsPath == "" || !pathExists(weightsPath) {
		m.failJob(jobID, "model weights not found, set SAM3_WEIGHTS_DIR or SAM3_CHECKPOINT_PATH", log)
		return
	}

	loadOpts := inference.LoadOptions{
		WeightsPath: weightsPath,
		Device:      params.Device,
		SafeMode:    params.SafeMode,
	}
	lease, err := m.backends.Acquire(ctx, loadOpts)
	if err != nil {
		if ctx.Err() != nil {
			m.finishJob(jobID, model.JobStatusCancelled, nil, log)
			return
		}
		m.failJob(jobID, err.Error(), log)
		return
	}
	defer lease.Release()
	backend := lease.Backend()

	log.Infow("starting job", "device", backend.Device(), "method", params.Method, "concepts", len(concepts))
	if err := m.store.Job().MarkStarted(sctx, jobID); err != nil {
		log.Errorw("failed to mark job started", "error", err)
		return
	}

	filter := store.NewImageQueryFilter().ByDatasetID(job.DatasetID)
	if job.CursorImageID != nil {
		filter = filter.FromID(*job.CursorImageID)
	}
	images, err := m.store.Image().List(sctx, filter, store.NewImageQueryOptions().WithLimit(params.MaxImages))
	if err != nil {
		m.failJob(jobID, fmt.Sprintf("listing dataset images: %v", err), log)
		return
	}
	if err := m.store.Job().UpdateTotals(sctx, jobID, len(images)); err != nil {
		log.Errorw("failed to update job totals", "error", err)
		return
	}

	processed := job.ProcessedImages
	buckets := stats.Buckets(params.UserConfidence)
	degraded := false

	for i := range images {
		img := &images[i]

		select {
		case <-ctx.Done():
			log.Infow("cancellation requested")
			m.finishJob(jobID, model.JobStatusCancelled, nil, log)
			return
		default:
		}

		if err := m.processImage(sctx, backend, jobID, img, concepts, params, &degraded, loadOpts, processed+1, log); err != nil {
			log.Errorw("image processing failed", "image", img.ID, "error", err)
			metrics.IncreaseImageErrorsMetric()
			continue
		}

		processed++
		metrics.IncreaseImagesProcessedMetric()
		log.Infow("processed image", "image", img.ID, "progress", fmt.Sprintf("%d/%d", processed, len(images)))

		if params.SleepBetween > 0 {
			time.Sleep(params.SleepBetween)
		}
	}

	if err := m.recomputeStats(sctx, jobID, buckets); err != nil {
		m.failJob(jobID, fmt.Sprintf("computing job statistics: %v", err), log)
		return
	}
	m.finishJob(jobID, model.JobStatusCompleted, nil, log)
	log.Infow("job completed", "processed", processed)
}

// conceptDetections holds one concept's detections, already mapped to the
// original pixel space, waiting to be persisted.
type conceptDetections struct {
	conceptID  uint
	detections []inference.Detection
}

// processImage runs one full pass over a single image. Inference happens on
// the resized pixel buffer and the results are mapped back to the original
// dimensions; region writes and the cursor checkpoint then commit in a single
// transaction, so a failed image leaves no partial region set behind and the
// cursor never moves past it.
func (m *Manager) processImage(ctx context.Context, backend inference.Backend, jobID uint, img *model.Image, concepts []ConceptPrompt, params *Params, degraded *bool, loadOpts inference.LoadOptions, processed int, log *zap.SugaredLogger) error {
	pix, err := imglib.Load(img.AbsPath)
	if err != nil {
		m.flagImageError(ctx, img.ID, log)
		return err
	}
	orig := pix.Bounds()
	pix = imglib.FitLongSide(pix, params.TargetLongSide)

	var results []conceptDetections
	realDetections := 0
	for _, cp := range concepts {
		req := inference.DetectRequest{
			Method:     params.Method,
			Prompt:     params.Prompt(cp.PromptText),
			Thresholds: params.Thresholds,
		}
		result, err := m.dispatch(ctx, backend, pix, req, degraded, loadOpts, log)
		if err != nil {
			log.Errorw("inference failed", "image", img.ID, "concept", cp.ConceptID, "error", err)
			m.flagImageError(ctx, img.ID, log)
			continue
		}

		detections := result.Detections
		sort.SliceStable(detections, func(i, j int) bool {
			return detections[i].Score > detections[j].Score
		})
		if params.MaxDetections > 0 && len(detections) > params.MaxDetections {
			detections = detections[:params.MaxDetections]
		}
		scaleDetections(detections, pix.Bounds(), orig)

		results = append(results, conceptDetections{conceptID: cp.ConceptID, detections: detections})
		realDetections += len(detections)
	}

	txCtx, err := m.store.NewTransactionContext(ctx)
	if err != nil {
		return err
	}
	if err := m.persistImage(txCtx, jobID, img, results, realDetections, concepts, params, orig, processed); err != nil {
		if _, rerr := store.Rollback(txCtx); rerr != nil {
			log.Errorw("failed to roll back image transaction", "image", img.ID, "error", rerr)
		}
		m.flagImageError(ctx, img.ID, log)
		return err
	}
	if _, err := store.Commit(txCtx); err != nil {
		m.flagImageError(ctx, img.ID, log)
		return err
	}
	return nil
}

// persistImage writes one image's outcome inside the caller's transaction:
// the idempotent delete, the region inserts, demo overlays when nothing real
// was found, and the cursor checkpoint.
func (m *Manager) persistImage(ctx context.Context, jobID uint, img *model.Image, results []conceptDetections, realDetections int, concepts []ConceptPrompt, params *Params, orig image.Rectangle, processed int) error {
	if err := m.writer.Prepare(ctx, jobID, img.ID); err != nil {
		return err
	}
	for _, r := range results {
		if _, err := m.writer.WriteDetections(ctx, jobID, img, r.conceptID, r.detections, params.ReturnBoxes, params.ReturnMasks); err != nil {
			return err
		}
	}
	if params.DemoMode && params.DemoEnabled && realDetections == 0 && len(concepts) > 0 {
		conceptID := concepts[0].ConceptID
		boxes := DemoBoxes(orig.Dx(), orig.Dy(), params.DemoCount)
		includeMasks := params.ReturnMasks && params.DemoMasks
		if err := m.writer.WriteDemo(ctx, jobID, img, &conceptID, boxes, includeMasks, orig.Dx(), orig.Dy()); err != nil {
			return err
		}
	}
	return m.store.Job().UpdateProgress(ctx, jobID, processed, img.ID+1)
}

// scaleDetections maps boxes and masks from the resized detection space back
// to the original pixel dimensions.
func scaleDetections(detections []inference.Detection, from, to image.Rectangle) {
	if from.Dx() == to.Dx() && from.Dy() == to.Dy() {
		return
	}
	sx := float64(to.Dx()) / float64(from.Dx())
	sy := float64(to.Dy()) / float64(from.Dy())
	for i := range detections {
		detections[i].BBox[0] *= sx
		detections[i].BBox[1] *= sy
		detections[i].BBox[2] *= sx
		detections[i].BBox[3] *= sy
		if detections[i].Mask != nil {
			detections[i].Mask = imglib.ScaleMask(detections[i].Mask, to.Dx(), to.Dy())
		}
	}
}

func (m *Manager) flagImageError(ctx context.Context, imageID uint, log *zap.SugaredLogger) {
	if err := m.store.Image().UpdateStatus(ctx, imageID, model.ImageStatusError); err != nil {
		log.Errorw("failed to flag image error", "image", imageID, "error", err)
	}
}

// dispatch forwards one detect call, degrading to CPU and retrying once when
// an accelerated device runs out of memory. The degrade sticks for the rest
// of the job.
func (m *Manager) dispatch(ctx context.Context, backend inference.Backend, pix image.Image, req inference.DetectRequest, degraded *bool, loadOpts inference.LoadOptions, log *zap.SugaredLogger) (*inference.Result, error) {
	result, err := m.dispatcher.Dispatch(ctx, backend, pix, req)
	if err == nil || *degraded || !errors.Is(err, inference.ErrDeviceOutOfMemory) {
		return result, err
	}

	log.Warnw("device out of memory, degrading to cpu and retrying once", "device", backend.Device())
	cpuOpts := loadOpts
	cpuOpts.Device = inference.DeviceCPU
	if lerr := backend.Load(ctx, cpuOpts); lerr != nil {
		return nil, inference.NewErrLoad(cpuOpts.WeightsPath, lerr)
	}
	*degraded = true
	return m.dispatcher.Dispatch(ctx, backend, pix, req)
}

// recomputeStats drops and rebuilds the job's bucket statistics from its
// non-demo regions. Regions without a concept are skipped.
func (m *Manager) recomputeStats(ctx context.Context, jobID uint, buckets []stats.Band) error {
	if err := m.store.JobStat().DeleteForJob(ctx, jobID); err != nil {
		return err
	}
	regions, err := m.store.Region().List(ctx,
		store.NewRegionQueryFilter().ByJobID(jobID).ExcludeDemo(),
		store.NewRegionQueryOptions())
	if err != nil {
		return err
	}

	type key struct {
		conceptID uint
		bucket    string
	}
	regionCounts := make(map[key]int)
	imageSets := make(map[key]map[uint]bool)
	for _, region := range regions {
		if region.ConceptID == nil {
			continue
		}
		bucket := stats.Classify(region.Score, buckets)
		if bucket == "" {
			continue
		}
		k := key{conceptID: *region.ConceptID, bucket: bucket}
		regionCounts[k]++
		if imageSets[k] == nil {
			imageSets[k] = make(map[uint]bool)
		}
		imageSets[k][region.ImageID] = true
	}

	rows := make([]model.JobStat, 0, len(regionCounts))
	for k, count := range regionCounts {
		rows = append(rows, model.JobStat{
			JobID:        jobID,
			ConceptID:    k.conceptID,
			BucketName:   k.bucket,
			CountImages:  len(imageSets[k]),
			CountRegions: count,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return m.store.JobStat().CreateBatch(ctx, rows)
}

func (m *Manager) failJob(jobID uint, message string, log *zap.SugaredLogger) {
	log.Errorw("job failed", "error", message)
	m.finishJob(jobID, model.JobStatusFailed, &message, log)
}

func (m *Manager) finishJob(jobID uint, status string, errorMessage *string, log *zap.SugaredLogger) {
	if err := m.store.Job().MarkFinished(context.Background(), jobID, status, errorMessage); err != nil {
		log.Errorw("failed to finish job", "status", status, "error", err)
		return
	}
	metrics.IncreaseJobsTotalMetric(status)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
