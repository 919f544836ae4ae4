package patientform

import (
	"context"

	"github.com/avc/patientforms/internal/screen"
)

// ScreenStore exposes the service to one screen session as a
// screen.RecordStore scoped to the session's owner.
type ScreenStore struct {
	svc   *Service
	owner screen.Owner
}

func NewScreenStore(svc *Service, owner screen.Owner) *ScreenStore {
	return &ScreenStore{svc: svc, owner: owner}
}

func (s *ScreenStore) Fetch(ctx context.Context, req screen.FetchRequest) (screen.FetchResult, error) {
	items, total, err := s.svc.ListPatientForms(ctx, s.owner, req.Limit, req.Limit*req.Page)
	if err != nil {
		return screen.FetchResult{}, err
	}
	out := screen.FetchResult{Records: make([]screen.Record, len(items)), Total: total}
	for i, f := range items {
		out.Records[i] = screen.Record{ID: f.ID.String(), Fields: f.ToRecord()}
	}
	return out, nil
}

func (s *ScreenStore) Delete(ctx context.Context, ids []string) error {
	_, err := s.svc.DeletePatientForms(ctx, s.owner, ids)
	return err
}

func (s *ScreenStore) Columns() []screen.Column {
	return Columns()
}
