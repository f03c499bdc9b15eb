package v1alpha1

import (
	"net/http"

	"github.com/go-chi/render"

	api "github.com/conceptscan/conceptscan/api/v1alpha1"
	"github.com/conceptscan/conceptscan/internal/handlers/v1alpha1/mappers"
	"github.com/conceptscan/conceptscan/internal/handlers/validator"
)

// (POST /api/v1/concepts)
func (s *ServiceHandler) CreateConcept(w http.ResponseWriter, r *http.Request) {
	var form api.ConceptCreate
	if err := render.DecodeJSON(r.Body, &form); err != nil {
		renderBadRequest(w, r, "invalid json body")
		return
	}
	v := validator.NewValidator()
	v.Register(validator.NewConceptValidationRules()...)
	if err := v.Struct(form); err != nil {
		renderBadRequest(w, r, err.Error())
		return
	}

	level := form.Level
	if level == 0 {
		level = 1
	}
	concept, err := s.conceptSrv.Create(r.Context(), form.Name, form.Family, form.ColorHex, level)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mappers.ConceptToApi(*concept))
}

// (GET /api/v1/concepts)
func (s *ServiceHandler) ListConcepts(w http.ResponseWriter, r *http.Request) {
	concepts, err := s.conceptSrv.List(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.ConceptListToApi(concepts))
}
