package api

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/schema"
	"github.com/starford/raido/internal/storage"
)

// EntityInfo describes one entity of the model.
type EntityInfo struct {
	Name       string             `json:"name" example:"Note" validate:"required"`
	Attributes []schema.Attribute `json:"attributes" validate:"required"`
	Count      int                `json:"count" example:"42"`
}

// EntityListResponse wraps the model description.
type EntityListResponse struct {
	Entities []EntityInfo `json:"entities" validate:"required"`
}

// RecordListResponse wraps a fetch. IDs is set instead of Records when
// the request asked for ?result=ids.
type RecordListResponse struct {
	Records []models.Record   `json:"records,omitempty"`
	IDs     []models.ObjectID `json:"ids,omitempty"`
	// Errors lists records that could not be read.
	Errors []RecordErrorDTO `json:"errors,omitempty"`
}

// RecordErrorDTO is one unreadable record in a fetch.
type RecordErrorDTO struct {
	ID    models.ObjectID `json:"id"`
	Path  string          `json:"path,omitempty"`
	Error string          `json:"error" validate:"required"`
	Code  int             `json:"code,omitempty" example:"1"`
}

// RecordInput is one inserted or updated record. Values are JSON encoded:
// dates as RFC 3339 strings, binary as base64.
type RecordInput struct {
	Entity string         `json:"entity" example:"Note" validate:"required"`
	Ref    string         `json:"ref,omitempty" example:"0190f0a4-3c2b-7c1e-8f00-000000000000"`
	Values map[string]any `json:"values"`
}

// SaveRecordsRequest is the request body of POST /save.
type SaveRecordsRequest struct {
	Inserted []RecordInput     `json:"inserted"`
	Updated  []RecordInput     `json:"updated"`
	Deleted  []models.ObjectID `json:"deleted"`
}

var errEmptySave = errors.New("nothing to save")

func validRef(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return storage.ValidateRef(s)
}

func validEntity(value any) error {
	s, _ := value.(string)
	if !schema.ValidEntityName(s) {
		return errors.New("must be an entity name")
	}
	return nil
}

func (r RecordInput) validate(refRequired bool) error {
	var refRules []validation.Rule
	if refRequired {
		refRules = append(refRules, validation.Required)
	}
	refRules = append(refRules, validation.By(validRef))
	return validation.ValidateStruct(&r,
		validation.Field(&r.Entity, validation.Required, validation.By(validEntity)),
		validation.Field(&r.Ref, refRules...),
	)
}

// Validate checks the shape of the request; values are checked against
// the model when they are converted.
func (r SaveRecordsRequest) Validate() error {
	if len(r.Inserted)+len(r.Updated)+len(r.Deleted) == 0 {
		return errEmptySave
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Inserted, validation.Each(validation.By(func(v any) error {
			return v.(RecordInput).validate(false)
		}))),
		validation.Field(&r.Updated, validation.Each(validation.By(func(v any) error {
			return v.(RecordInput).validate(true)
		}))),
		validation.Field(&r.Deleted, validation.Each(validation.By(func(v any) error {
			id := v.(models.ObjectID)
			return validation.ValidateStruct(&id,
				validation.Field(&id.Entity, validation.Required, validation.By(validEntity)),
				validation.Field(&id.Ref, validation.Required, validation.By(validRef)),
			)
		}))),
	)
}

// FailedOperationDTO is one save operation that was not applied.
type FailedOperationDTO struct {
	Op    string          `json:"op" example:"update" validate:"required"`
	ID    models.ObjectID `json:"id"`
	Error string          `json:"error" validate:"required"`
	Code  int             `json:"code,omitempty" example:"9"`
}

// SaveRecordsResponse lists the applied and failed operations of a save.
type SaveRecordsResponse struct {
	Inserted []models.ObjectID    `json:"inserted"`
	Updated  []models.ObjectID    `json:"updated"`
	Deleted  []models.ObjectID    `json:"deleted"`
	Failed   []FailedOperationDTO `json:"failed,omitempty"`
}
