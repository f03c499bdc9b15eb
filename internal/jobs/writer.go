package jobs

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"go.uber.org/zap"

	imglib "github.com/conceptscan/conceptscan/internal/imaging"
	"github.com/conceptscan/conceptscan/internal/inference"
	"github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
	"github.com/conceptscan/conceptscan/pkg/metrics"
)

// RegionWriter persists detections as regions and writes their mask rasters
// under masksRoot/<jobID>/<imageID>/<regionID>.png. Mask references are
// stored relative to masksRoot so the output tree can be relocated.
type RegionWriter struct {
	store     store.Store
	masksRoot string
	log       *zap.SugaredLogger
}

func NewRegionWriter(s store.Store, masksRoot string, log *zap.SugaredLogger) *RegionWriter {
	return &RegionWriter{store: s, masksRoot: masksRoot, log: log}
}

// Prepare deletes any regions a previous pass left for this job and image,
// making a reprocess idempotent.
func (w *RegionWriter) Prepare(ctx context.Context, jobID, imageID uint) error {
	return w.store.Region().DeleteForImage(ctx, jobID, imageID)
}

// WriteDetections persists one concept's detections for an image. The box is
// converted from corner form to (x, y, width, height) with negative extents
// clamped to zero, or zeroed entirely when boxes were not requested. Returns
// the number of regions written.
func (w *RegionWriter) WriteDetections(ctx context.Context, jobID uint, img *model.Image, conceptID uint, detections []inference.Detection, returnBoxes, returnMasks bool) (int, error) {
	for _, det := range detections {
		region := model.Region{
			JobID:     jobID,
			ImageID:   img.ID,
			ConceptID: &conceptID,
			Score:     det.Score,
		}
		if returnBoxes {
			region.X, region.Y, region.Width, region.Height = cornerToRect(det.BBox)
		}
		created, err := w.store.Region().Create(ctx, region)
		if err != nil {
			return 0, err
		}
		if returnMasks && det.Mask != nil {
			if err := w.writeMask(ctx, jobID, img.ID, created.ID, det.Mask); err != nil {
				w.log.Warnw("failed to write region mask", "job", jobID, "image", img.ID, "region", created.ID, "error", err)
			}
		}
	}
	metrics.IncreaseRegionsWrittenMetric("detection", len(detections))
	return len(detections), nil
}

// WriteDemo persists synthetic overlay regions for an image that produced no
// real detections. Demo regions carry score zero and the is_demo flag so
// statistics ignore them.
func (w *RegionWriter) WriteDemo(ctx context.Context, jobID uint, img *model.Image, conceptID *uint, boxes []inference.Box, includeMasks bool, width, height int) error {
	for _, box := range boxes {
		x, y, bw, bh := cornerToRect(box)
		region := model.Region{
			JobID:     jobID,
			ImageID:   img.ID,
			ConceptID: conceptID,
			X:         x,
			Y:         y,
			Width:     bw,
			Height:    bh,
			Score:     0,
			IsDemo:    true,
		}
		created, err := w.store.Region().Create(ctx, region)
		if err != nil {
			return err
		}
		if includeMasks {
			rect := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3]))
			mask := imglib.RectMask(width, height, rect)
			if err := w.writeMask(ctx, jobID, img.ID, created.ID, mask); err != nil {
				w.log.Warnw("failed to write demo mask", "job", jobID, "image", img.ID, "region", created.ID, "error", err)
			}
		}
	}
	metrics.IncreaseRegionsWrittenMetric("demo", len(boxes))
	return nil
}

func (w *RegionWriter) writeMask(ctx context.Context, jobID, imageID, regionID uint, mask image.Image) error {
	dir := filepath.Join(w.masksRoot, fmt.Sprintf("%d", jobID), fmt.Sprintf("%d", imageID))
	name := fmt.Sprintf("%d.png", regionID)
	if _, err := imglib.WriteMaskPNG(dir, name, mask); err != nil {
		return err
	}
	rel := filepath.Join(fmt.Sprintf("%d", jobID), fmt.Sprintf("%d", imageID), name)
	return w.store.Region().UpdateMaskRef(ctx, regionID, rel)
}

func cornerToRect(box inference.Box) (x, y, width, height float64) {
	x, y = box[0], box[1]
	width = box[2] - box[0]
	height = box[3] - box[1]
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return x, y, width, height
}
