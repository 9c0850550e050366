package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/store"
)

// Counter reports the number of indexed records per entity.
type Counter interface {
	Counts() (map[string]int, error)
}

// Publisher receives the records written or removed through the API.
type Publisher interface {
	PublishRecordEvent(kind string, id models.ObjectID, values models.Attributes)
}

// Service adapts a store to the API's JSON shapes.
type Service struct {
	store  store.Store
	counts Counter
	events Publisher
}

// NewService creates a new API service. counts and events may be nil.
func NewService(st store.Store, counts Counter, events Publisher) *Service {
	return &Service{store: st, counts: counts, events: events}
}

// Entities describes the model with a record count per entity. Without a
// Counter, entities are counted by an id fetch.
func (s *Service) Entities(ctx context.Context) ([]EntityInfo, error) {
	var counts map[string]int
	if s.counts != nil {
		c, err := s.counts.Counts()
		if err != nil {
			return nil, fmt.Errorf("api: counts: %w", err)
		}
		counts = c
	}
	model := s.store.Model()
	out := make([]EntityInfo, 0, len(model.Entities))
	for _, e := range model.Entities {
		info := EntityInfo{Name: e.Name, Attributes: e.Attributes}
		if counts != nil {
			info.Count = counts[e.Name]
		} else {
			res, err := s.fetch(ctx, &store.FetchRequest{Entity: e.Name, ResultType: store.ResultIDs})
			if err != nil {
				return nil, err
			}
			info.Count = len(res.IDs)
		}
		out = append(out, info)
	}
	return out, nil
}

// ListRecords fetches the records (or ids) of one entity.
func (s *Service) ListRecords(ctx context.Context, entity string, resultType store.ResultType, limit int) (*RecordListResponse, error) {
	res, err := s.fetch(ctx, &store.FetchRequest{Entity: entity, ResultType: resultType, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := &RecordListResponse{Records: res.Records, IDs: res.IDs}
	for _, re := range res.Errors {
		out.Errors = append(out.Errors, RecordErrorDTO{
			ID:    re.ID,
			Path:  re.Path,
			Error: re.Err.Error(),
			Code:  apperr.Code(re.Err),
		})
	}
	return out, nil
}

func (s *Service) fetch(ctx context.Context, req *store.FetchRequest) (*store.FetchResult, error) {
	r, err := s.store.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.(*store.FetchResult), nil
}

// GetRecord loads one record.
func (s *Service) GetRecord(ctx context.Context, id models.ObjectID) (*models.Record, error) {
	if _, err := s.store.Model().Entity(id.Entity); err != nil {
		return nil, err
	}
	values, err := s.store.ValuesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.Record{ID: id, Values: values}, nil
}

// Save converts req to a store save and executes it. Inserted records
// without a ref are assigned one up front so every written record can be
// published with its values. A request whose values do not fit the model
// fails as a whole before anything is written.
func (s *Service) Save(ctx context.Context, req SaveRecordsRequest) (*SaveRecordsResponse, error) {
	sr := &store.SaveRequest{Deleted: req.Deleted}
	written := make(map[models.ObjectID]models.Attributes)

	convert := func(in RecordInput) (models.Record, error) {
		ent, err := s.store.Model().Entity(in.Entity)
		if err != nil {
			return models.Record{}, err
		}
		values, err := ent.ValuesFromJSON(in.Values)
		if err != nil {
			return models.Record{}, err
		}
		return models.Record{ID: models.ObjectID{Entity: in.Entity, Ref: in.Ref}, Values: values}, nil
	}

	for _, in := range req.Inserted {
		rec, err := convert(in)
		if err != nil {
			return nil, err
		}
		sr.Inserted = append(sr.Inserted, rec)
	}
	for _, in := range req.Updated {
		rec, err := convert(in)
		if err != nil {
			return nil, err
		}
		written[rec.ID] = rec.Values
		sr.Updated = append(sr.Updated, rec)
	}
	var obtained []models.ObjectID
	for i := range sr.Inserted {
		rec := &sr.Inserted[i]
		if rec.ID.IsTemporary() {
			ids, err := s.store.ObtainRefs(rec.ID.Entity, 1)
			if err != nil {
				s.store.ReleaseRefs(obtained)
				return nil, err
			}
			rec.ID = ids[0]
			obtained = append(obtained, rec.ID)
		}
		written[rec.ID] = rec.Values
	}

	r, err := s.store.Execute(ctx, sr)
	var se *store.SaveError
	if err != nil && !errors.As(err, &se) {
		s.store.ReleaseRefs(obtained)
		return nil, err
	}
	res := r.(*store.SaveResult)

	out := &SaveRecordsResponse{
		Inserted: nonNil(res.Inserted),
		Updated:  nonNil(res.Updated),
		Deleted:  nonNil(res.Deleted),
	}
	if se != nil {
		for _, f := range se.Failed {
			out.Failed = append(out.Failed, FailedOperationDTO{
				Op:    string(f.Kind),
				ID:    f.ID,
				Error: f.Err.Error(),
				Code:  apperr.Code(f.Err),
			})
		}
	}

	if s.events != nil {
		for _, ids := range [][]models.ObjectID{res.Inserted, res.Updated} {
			for _, id := range ids {
				s.events.PublishRecordEvent(sse.KindSaved, id, written[id])
			}
		}
		for _, id := range res.Deleted {
			s.events.PublishRecordEvent(sse.KindDeleted, id, nil)
		}
	}
	return out, nil
}

func nonNil(ids []models.ObjectID) []models.ObjectID {
	if ids == nil {
		return []models.ObjectID{}
	}
	return ids
}
