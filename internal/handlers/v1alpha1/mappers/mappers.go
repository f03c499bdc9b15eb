// Package mappers converts between store models and API wire types.
package mappers

import (
	"fmt"

	api "github.com/conceptscan/conceptscan/api/v1alpha1"
	"github.com/conceptscan/conceptscan/internal/service"
	"github.com/conceptscan/conceptscan/internal/store/model"
)

func DatasetToApi(d model.Dataset) api.Dataset {
	return api.Dataset{
		ID:        d.ID,
		Name:      d.Name,
		RootPath:  d.RootPath,
		CreatedAt: d.CreatedAt,
	}
}

func DatasetListToApi(datasets model.DatasetList) api.DatasetList {
	out := make(api.DatasetList, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, DatasetToApi(d))
	}
	return out
}

func ImageToApi(img model.Image) api.Image {
	return api.Image{
		ID:      img.ID,
		RelPath: img.RelPath,
		AbsPath: img.AbsPath,
		Width:   img.Width,
		Height:  img.Height,
		Status:  img.Status,
	}
}

func ImageListToApi(images model.ImageList) api.ImageList {
	out := make(api.ImageList, 0, len(images))
	for _, img := range images {
		out = append(out, ImageToApi(img))
	}
	return out
}

func ConceptToApi(c model.Concept) api.Concept {
	return api.Concept{
		ID:       c.ID,
		Name:     c.Name,
		Family:   c.Family,
		ColorHex: c.ColorHex,
		Level:    c.Level,
	}
}

func ConceptListToApi(concepts model.ConceptList) api.ConceptList {
	out := make(api.ConceptList, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, ConceptToApi(c))
	}
	return out
}

func JobToApi(job model.Job, stats service.JobStats) api.Job {
	out := api.Job{
		ID:              job.ID,
		JobType:         job.JobType,
		DatasetID:       job.DatasetID,
		Status:          job.Status,
		ErrorMessage:    job.ErrorMessage,
		ProcessedImages: job.ProcessedImages,
		TotalImages:     job.TotalImages,
		CursorImageID:   job.CursorImageID,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
	if len(stats) > 0 {
		out.Stats = make(map[uint]map[string]api.BucketCounts, len(stats))
		for conceptID, buckets := range stats {
			out.Stats[conceptID] = make(map[string]api.BucketCounts, len(buckets))
			for name, counts := range buckets {
				out.Stats[conceptID][name] = api.BucketCounts{
					CountImages:  counts.CountImages,
					CountRegions: counts.CountRegions,
				}
			}
		}
	}
	return out
}

func JobListToApi(jobs model.JobList) api.JobList {
	out := make(api.JobList, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, JobToApi(job, nil))
	}
	return out
}

func SampleImagesToApi(jobID uint, samples []service.SampleImage) []api.SampleImage {
	out := make([]api.SampleImage, 0, len(samples))
	for _, sample := range samples {
		regions := make([]api.SampleRegion, 0, len(sample.Regions))
		for _, region := range sample.Regions {
			mapped := api.SampleRegion{
				RegionID:    region.RegionID,
				ConceptID:   region.ConceptID,
				ConceptName: region.ConceptName,
				ColorHex:    region.ColorHex,
				BBox:        region.BBox,
				BBoxCorners: region.BBoxCorners,
				Score:       region.Score,
				MaskRef:     region.MaskRef,
				IsDemo:      region.IsDemo,
			}
			if region.MaskRef != nil {
				url := fmt.Sprintf("/api/v1/masks/%d/%d/%d.png", jobID, sample.ImageID, region.RegionID)
				mapped.MaskURL = &url
			}
			regions = append(regions, mapped)
		}
		out = append(out, api.SampleImage{
			ImageID: sample.ImageID,
			RelPath: sample.RelPath,
			AbsPath: sample.AbsPath,
			Regions: regions,
		})
	}
	return out
}
