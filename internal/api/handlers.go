package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListEntities handles GET /api/entities.
//
//	@Summary		Describe the model with record counts
//	@Tags			entities
//	@Produce		json
//	@Success		200	{object}	EntityListResponse
//	@Security		BearerAuth
//	@Router			/entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.svc.Entities(r.Context())
	if err != nil {
		writeError(w, "list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, EntityListResponse{Entities: entities})
}

// ListRecords handles GET /api/entities/{entity}/records.
//
//	@Summary		Fetch the records of an entity
//	@Tags			records
//	@Produce		json
//	@Param			entity	path		string	true	"Entity name"
//	@Param			result	query		string	false	"Result type"	Enums(objects, ids)
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	RecordListResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{entity}/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer", 0))
			return
		}
		limit = n
	}
	resultType := store.ResultType(q.Get("result"))
	if resultType == "" {
		resultType = store.ResultObjects
	}

	res, err := h.svc.ListRecords(r.Context(), chi.URLParam(r, "entity"), resultType, limit)
	if err != nil {
		writeError(w, "list records", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetRecord handles GET /api/entities/{entity}/records/{ref}.
//
//	@Summary		Get a single record
//	@Tags			records
//	@Produce		json
//	@Param			entity	path		string	true	"Entity name"
//	@Param			ref		path		string	true	"Record ref"
//	@Success		200		{object}	models.Record
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{entity}/records/{ref} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := models.ObjectID{Entity: chi.URLParam(r, "entity"), Ref: chi.URLParam(r, "ref")}
	rec, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Save handles POST /api/save. All operations are attempted; the status
// is 200 when all succeed, 207 when some fail and 422 when all fail.
//
//	@Summary		Insert, update and delete records
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveRecordsRequest	true	"Changes"
//	@Success		200		{object}	SaveRecordsResponse
//	@Success		207		{object}	SaveRecordsResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	SaveRecordsResponse
//	@Security		BearerAuth
//	@Router			/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req SaveRecordsRequest
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body", 0))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), 0))
		return
	}

	res, err := h.svc.Save(r.Context(), req)
	if err != nil {
		writeError(w, "save", err)
		return
	}
	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
		if len(res.Inserted)+len(res.Updated)+len(res.Deleted) == 0 {
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, res)
}
