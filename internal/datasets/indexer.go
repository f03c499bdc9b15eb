// Package datasets walks dataset directories on disk and registers their
// image files in the store.
package datasets

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/conceptscan/conceptscan/internal/imaging"
	"github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/internal/store/model"
)

type Indexer struct {
	store store.Store
	log   *zap.SugaredLogger
}

func NewIndexer(s store.Store, log *zap.SugaredLogger) *Indexer {
	return &Indexer{store: s, log: log}
}

// IndexResult summarizes one indexing pass over a dataset directory.
type IndexResult struct {
	Total  int
	Ready  int
	Failed int
}

// Index scans the dataset's root directory for supported image files and
// creates one image row per file, recording pixel dimensions where the file
// decodes. Files that fail to decode are still registered with an error
// status so the dataset listing reflects them. Files already indexed (by
// relative path) are skipped.
func (i *Indexer) Index(ctx context.Context, dataset *model.Dataset) (*IndexResult, error) {
	info, err := os.Stat(dataset.RootPath)
	if err != nil || !info.IsDir() {
		return nil, pkgerrors.Errorf("dataset root %q is not a readable directory", dataset.RootPath)
	}

	existing, err := i.store.Image().List(ctx, store.NewImageQueryFilter().ByDatasetID(dataset.ID), store.NewImageQueryOptions())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "listing indexed images")
	}
	known := make(map[string]bool, len(existing))
	for _, img := range existing {
		known[img.RelPath] = true
	}

	var relPaths []string
	err = filepath.WalkDir(dataset.RootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !imaging.SupportedFile(path) {
			return nil
		}
		rel, err := filepath.Rel(dataset.RootPath, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "walking dataset directory")
	}
	sort.Strings(relPaths)

	result := &IndexResult{}
	batch := make([]model.Image, 0, len(relPaths))
	for _, rel := range relPaths {
		if known[rel] {
			continue
		}
		abs := filepath.Join(dataset.RootPath, rel)
		img := model.Image{
			DatasetID: dataset.ID,
			RelPath:   rel,
			AbsPath:   abs,
			Status:    model.ImageStatusReady,
		}
		w, h, err := imaging.Dimensions(abs)
		if err != nil {
			i.log.Warnw("failed to read image dimensions", "dataset", dataset.ID, "path", rel, "error", err)
			img.Status = model.ImageStatusError
			result.Failed++
		} else {
			img.Width = &w
			img.Height = &h
			result.Ready++
		}
		batch = append(batch, img)
	}
	result.Total = len(batch)

	if len(batch) > 0 {
		if _, err := i.store.Image().CreateBatch(ctx, batch); err != nil {
			return nil, pkgerrors.Wrap(err, "persisting indexed images")
		}
	}
	i.log.Infow("dataset indexed", "dataset", dataset.ID, "new", result.Total, "ready", result.Ready, "failed", result.Failed)
	return result, nil
}
