// Package v1alpha1 exposes the REST API over chi.
package v1alpha1

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/conceptscan/conceptscan/api/v1alpha1"
	"github.com/conceptscan/conceptscan/internal/jobs"
	"github.com/conceptscan/conceptscan/internal/service"
)

type ServiceHandler struct {
	datasetSrv  *service.DatasetService
	conceptSrv  *service.ConceptService
	jobSrv      *service.JobService
	weightsPath string
}

func NewServiceHandler(datasetSrv *service.DatasetService, conceptSrv *service.ConceptService, jobSrv *service.JobService, weightsPath string) *ServiceHandler {
	return &ServiceHandler{
		datasetSrv:  datasetSrv,
		conceptSrv:  conceptSrv,
		jobSrv:      jobSrv,
		weightsPath: weightsPath,
	}
}

// Routes mounts every endpoint under the given router, which the server
// mounts at /api/v1.
func (s *ServiceHandler) Routes(r chi.Router) {
	r.Get("/health", s.Health)

	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", s.CreateDataset)
		r.Get("/", s.ListDatasets)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetDataset)
			r.Delete("/", s.DeleteDataset)
			r.Post("/index", s.IndexDataset)
			r.Get("/images", s.ListDatasetImages)
		})
	})

	r.Route("/concepts", func(r chi.Router) {
		r.Post("/", s.CreateConcept)
		r.Get("/", s.ListConcepts)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/level1", s.CreateJob)
		r.Get("/", s.ListJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetJob)
			r.Post("/cancel", s.CancelJob)
			r.Post("/resume", s.ResumeJob)
			r.Get("/samples", s.GetSamples)
			r.Get("/images", s.GetJobImages)
		})
	})

	r.Get("/masks/{jobID}/{imageID}/{regionID}.png", s.GetMask)
}

// Health reports liveness plus whether the configured model weights file is
// present on disk, so deploy tooling can gate job submission on it.
func (s *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	ready := false
	if s.weightsPath != "" {
		if _, err := os.Stat(s.weightsPath); err == nil {
			ready = true
		}
	}
	render.JSON(w, r, api.Health{Status: "ok", WeightsReady: ready})
}

// uintParam parses a numeric chi URL parameter.
func uintParam(r *http.Request, name string) (uint, bool) {
	value, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(value), true
}

// renderError maps service errors onto HTTP statuses.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var (
		notFound   *service.ErrResourceNotFound
		badRequest *service.ErrInvalidRequest
		transition *service.ErrInvalidJobTransition
		duplicate  *service.ErrDuplicateResource
		active     *jobs.ErrJobActive
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &badRequest), errors.As(err, &transition):
		status = http.StatusBadRequest
	case errors.As(err, &duplicate), errors.As(err, &active):
		status = http.StatusConflict
	}
	render.Status(r, status)
	render.JSON(w, r, api.Error{Message: err.Error()})
}

func renderBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, api.Error{Message: message})
}
