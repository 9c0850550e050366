package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/starford/raido/internal/models"
)

// RequestKind names a request type of the persistence contract.
type RequestKind string

// Request kinds. Only fetch and save are executed by the engine.
const (
	RequestFetch       RequestKind = "fetch"
	RequestSave        RequestKind = "save"
	RequestBatchUpdate RequestKind = "batch-update"
	RequestBatchDelete RequestKind = "batch-delete"
)

// Request is anything handed to Engine.Execute.
type Request interface {
	Kind() RequestKind
}

// ResultType selects what a fetch returns.
type ResultType string

// Result types. Only objects and ids are supported by the engine.
const (
	ResultObjects      ResultType = "objects"
	ResultIDs          ResultType = "ids"
	ResultDictionaries ResultType = "dictionaries"
	ResultCount        ResultType = "count"
)

// FetchRequest asks for the records of one entity.
type FetchRequest struct {
	Entity string
	// ResultType defaults to ResultObjects.
	ResultType ResultType
	// Filter, when set, is applied to each decoded record.
	Filter func(models.Attributes) bool
	// Limit caps the number of results; zero means no limit.
	Limit int
}

// Kind implements Request.
func (*FetchRequest) Kind() RequestKind { return RequestFetch }

// SaveRequest carries the changes of one save. Inserted records with an
// empty ref are assigned one; refs handed out by ObtainRefs are kept.
type SaveRequest struct {
	Inserted []models.Record
	Updated  []models.Record
	Deleted  []models.ObjectID
}

// Kind implements Request.
func (*SaveRequest) Kind() RequestKind { return RequestSave }

// Result is returned by Engine.Execute: *FetchResult or *SaveResult.
type Result interface {
	isResult()
}

// FetchResult holds the records (or ids) of a fetch. Records that could not
// be read or decoded are listed in Errors; the rest are still returned.
type FetchResult struct {
	Records []models.Record
	IDs     []models.ObjectID
	Errors  []RecordError
}

func (*FetchResult) isResult() {}

// Err joins the per-record errors, or returns nil when there are none.
func (r *FetchResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i := range r.Errors {
		errs[i] = &r.Errors[i]
	}
	return errors.Join(errs...)
}

// RecordError is a failure confined to one file.
type RecordError struct {
	ID   models.ObjectID
	Path string
	Err  error
}

func (e *RecordError) Error() string {
	switch {
	case e.ID.Ref != "":
		return fmt.Sprintf("%s: %v", e.ID, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *RecordError) Unwrap() error { return e.Err }

// SaveResult lists the ids written or removed by a save, in request order.
type SaveResult struct {
	Inserted []models.ObjectID
	Updated  []models.ObjectID
	Deleted  []models.ObjectID
}

func (*SaveResult) isResult() {}

// OpKind is the kind of one save sub-operation.
type OpKind string

// Save sub-operation kinds.
const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation identifies one sub-operation of a save.
type Operation struct {
	Kind OpKind
	ID   models.ObjectID
}

// FailedOperation is an operation and the reason it failed.
type FailedOperation struct {
	Operation
	Err error
}

// SaveError reports a save that partly failed. Operations in Succeeded
// were applied to disk and are not rolled back.
type SaveError struct {
	Succeeded []Operation
	Failed    []FailedOperation
}

func (e *SaveError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store: save: %d of %d operations failed",
		len(e.Failed), len(e.Failed)+len(e.Succeeded))
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "; %s %s: %v", f.Kind, f.ID, f.Err)
	}
	return b.String()
}

// Unwrap exposes every failure cause to errors.Is and errors.As.
func (e *SaveError) Unwrap() []error {
	out := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f.Err
	}
	return out
}
