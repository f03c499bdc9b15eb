package v1alpha1

import (
	"net/http"
	"os"

	"github.com/go-chi/render"

	api "github.com/conceptscan/conceptscan/api/v1alpha1"
	"github.com/conceptscan/conceptscan/internal/handlers/v1alpha1/mappers"
	"github.com/conceptscan/conceptscan/internal/handlers/validator"
	"github.com/conceptscan/conceptscan/internal/service"
)

// (POST /api/v1/jobs/level1)
func (s *ServiceHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var form api.JobCreate
	if err := render.DecodeJSON(r.Body, &form); err != nil {
		renderBadRequest(w, r, "invalid json body")
		return
	}
	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)
	if err := v.Struct(form); err != nil {
		renderBadRequest(w, r, err.Error())
		return
	}

	job, err := s.jobSrv.Create(r.Context(), form.DatasetID, form.RawParams)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mappers.JobToApi(*job, nil))
}

// (GET /api/v1/jobs)
func (s *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobList, err := s.jobSrv.List(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.JobListToApi(jobList))
}

// (GET /api/v1/jobs/{id})
func (s *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid job id")
		return
	}
	job, stats, err := s.jobSrv.Get(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.JobToApi(*job, stats))
}

// (POST /api/v1/jobs/{id}/cancel)
func (s *ServiceHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid job id")
		return
	}
	job, err := s.jobSrv.Cancel(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, api.CancelResponse{JobID: id, Status: job.Status})
}

// (POST /api/v1/jobs/{id}/resume)
func (s *ServiceHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid job id")
		return
	}
	job, err := s.jobSrv.Resume(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.JobToApi(*job, nil))
}

// (GET /api/v1/jobs/{id}/samples)
func (s *ServiceHandler) GetSamples(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid job id")
		return
	}
	query := service.SampleQuery{
		Bucket: r.URL.Query().Get("bucket"),
		Limit:  queryInt(r, "limit", 10),
	}
	if raw := queryInt(r, "concept_id", 0); raw > 0 {
		conceptID := uint(raw)
		query.ConceptID = &conceptID
	}
	if raw := queryInt(r, "image_id", 0); raw > 0 {
		imageID := uint(raw)
		query.ImageID = &imageID
	}
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 10
	}

	samples, err := s.jobSrv.Samples(r.Context(), id, query)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.SampleImagesToApi(id, samples))
}

// (GET /api/v1/jobs/{id}/images)
func (s *ServiceHandler) GetJobImages(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid job id")
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	images, err := s.jobSrv.Images(r.Context(), id, limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.ImageListToApi(images))
}

// (GET /api/v1/masks/{jobID}/{imageID}/{regionID}.png)
func (s *ServiceHandler) GetMask(w http.ResponseWriter, r *http.Request) {
	jobID, ok1 := uintParam(r, "jobID")
	imageID, ok2 := uintParam(r, "imageID")
	regionID, ok3 := uintParam(r, "regionID")
	if !ok1 || !ok2 || !ok3 {
		renderBadRequest(w, r, "invalid mask reference")
		return
	}
	path, err := s.jobSrv.MaskPath(r.Context(), jobID, imageID, regionID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, api.Error{Message: "mask not found"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}
