package v1alpha1

import (
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	api "github.com/conceptscan/conceptscan/api/v1alpha1"
	"github.com/conceptscan/conceptscan/internal/handlers/v1alpha1/mappers"
	"github.com/conceptscan/conceptscan/internal/handlers/validator"
)

// (POST /api/v1/datasets)
func (s *ServiceHandler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var form api.DatasetCreate
	if err := render.DecodeJSON(r.Body, &form); err != nil {
		renderBadRequest(w, r, "invalid json body")
		return
	}
	v := validator.NewValidator()
	if err := v.Struct(form); err != nil {
		renderBadRequest(w, r, err.Error())
		return
	}

	dataset, err := s.datasetSrv.Create(r.Context(), form.Name, form.RootPath)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mappers.DatasetToApi(*dataset))
}

// (GET /api/v1/datasets)
func (s *ServiceHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.datasetSrv.List(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.DatasetListToApi(datasets))
}

// (GET /api/v1/datasets/{id})
func (s *ServiceHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid dataset id")
		return
	}
	dataset, err := s.datasetSrv.Get(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.DatasetToApi(*dataset))
}

// (DELETE /api/v1/datasets/{id})
func (s *ServiceHandler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid dataset id")
		return
	}
	if err := s.datasetSrv.Delete(r.Context(), id); err != nil {
		renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// (POST /api/v1/datasets/{id}/index)
func (s *ServiceHandler) IndexDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid dataset id")
		return
	}
	result, err := s.datasetSrv.Index(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, api.IndexResult{Total: result.Total, Ready: result.Ready, Failed: result.Failed})
}

// (GET /api/v1/datasets/{id}/images)
func (s *ServiceHandler) ListDatasetImages(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		renderBadRequest(w, r, "invalid dataset id")
		return
	}
	limit := queryInt(r, "limit", 0)
	images, err := s.datasetSrv.Images(r.Context(), id, limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.ImageListToApi(images))
}

// queryInt reads an integer query parameter, falling back to def when absent
// or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
