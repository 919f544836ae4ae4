package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/platform/metrics"
	"github.com/avc/patientforms/internal/platform/sessionstore"
	"github.com/avc/patientforms/pkg/pagination"
)

var (
	ErrRecordNotLoaded = errors.New("record is not on the loaded page")
	ErrUnknownRecord   = errors.New("record was never fetched by this screen")
	ErrEmptySelection  = errors.New("selection is empty")
)

// Owner identifies who a screen belongs to. Non-superusers only see the
// records they created.
type Owner struct {
	UserID    string `json:"user_id"`
	Superuser bool   `json:"superuser"`
}

// NavTarget is where the edit or create action navigates.
type NavTarget struct {
	ID       string `json:"id"`
	Creation bool   `json:"creation"`
}

// Deps are the collaborators shared by every screen.
type Deps struct {
	Exporter     *Exporter
	Materializer *Materializer
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// Screen composes selection, pagination, export and deletion around one
// record store. All state is owned by the instance.
type Screen struct {
	ID    string
	Owner Owner

	Selection  *Selection
	Pagination *Pagination
	Deletion   *Deletion

	store        RecordStore
	exporter     *Exporter
	materializer *Materializer
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func New(id string, owner Owner, store RecordStore, deps Deps) *Screen {
	logger := deps.Logger.With().Str("screen_id", id).Logger()
	sel := NewSelection()
	s := &Screen{
		ID:           id,
		Owner:        owner,
		Selection:    sel,
		Pagination:   NewPagination(store, logger, deps.Metrics),
		Deletion:     NewDeletion(store, sel, logger, deps.Metrics),
		store:        store,
		exporter:     deps.Exporter,
		materializer: deps.Materializer,
		metrics:      deps.Metrics,
		logger:       logger,
		seen:         make(map[string]struct{}),
	}
	s.Pagination.OnApply(s.markSeen)
	return s
}

func (s *Screen) markSeen(records []Record) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	for _, r := range records {
		s.seen[r.ID] = struct{}{}
	}
}

func (s *Screen) forget(ids []string) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	for _, id := range ids {
		delete(s.seen, id)
	}
}

// Mount issues the first fetch.
func (s *Screen) Mount(ctx context.Context) <-chan struct{} {
	return s.Pagination.Start(ctx)
}

// Columns is the layout used for display and export.
func (s *Screen) Columns() []Column {
	return s.store.Columns()
}

// Toggle stores the table's full checked set. Every id must belong to a
// record this screen has fetched at some point.
func (s *Screen) Toggle(ids []string) error {
	s.seenMu.Lock()
	for _, id := range ids {
		if _, ok := s.seen[id]; !ok {
			s.seenMu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
		}
	}
	s.seenMu.Unlock()

	s.Selection.Toggle(ids)
	return nil
}

// RequestDeletion opens the confirmation dialog for req.
func (s *Screen) RequestDeletion(req DeletionRequest) error {
	if req.mode == SingleMode {
		s.seenMu.Lock()
		_, ok := s.seen[req.id]
		s.seenMu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRecord, req.id)
		}
	}
	return s.Deletion.Request(req)
}

// AgreeDeletion confirms the pending deletion. When the store succeeds the
// current page is refreshed before the result is delivered.
func (s *Screen) AgreeDeletion(ctx context.Context) (<-chan DeletionResult, error) {
	in, err := s.Deletion.Agree(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan DeletionResult, 1)
	go func() {
		defer close(out)
		res := <-in
		if res.Err == nil {
			s.forget(res.IDs)
			<-s.Pagination.Refresh(ctx)
		}
		out <- res
	}()
	return out, nil
}

// Export runs the pipeline over the selection and the loaded page. Selected
// ids that are not loaded are left out and reported in Artifact.Missing.
func (s *Screen) Export(ctx context.Context, req ExportRequest) (*Artifact, error) {
	if s.Selection.Len() == 0 {
		return nil, ErrEmptySelection
	}
	payload, err := s.exporter.Export(req.Profile, s.Selection.IDs(), s.Pagination.Records())
	if err != nil {
		s.metrics.Export(req.Profile.String(), string(req.Format), 0, 0, err)
		s.logger.Error().Err(err).Str("profile", req.Profile.String()).Msg("export failed")
		return nil, err
	}
	if len(payload.Missing) > 0 {
		s.logger.Warn().
			Int("missing", len(payload.Missing)).
			Str("profile", req.Profile.String()).
			Msg("selected records not loaded; omitted from export")
	}

	art, err := s.materializer.Materialize(ctx, payload, req)
	s.metrics.Export(req.Profile.String(), string(req.Format), len(payload.Rows), len(payload.Missing), err)
	if err != nil {
		return nil, err
	}
	return art, nil
}

// NewRecord is the create navigation target.
func (s *Screen) NewRecord() NavTarget {
	return NavTarget{ID: uuid.New().String(), Creation: true}
}

// EditTarget is the edit navigation target for a loaded record.
func (s *Screen) EditTarget(id string) (NavTarget, error) {
	if _, ok := s.Pagination.Record(id); !ok {
		return NavTarget{}, fmt.Errorf("%w: %s", ErrRecordNotLoaded, id)
	}
	return NavTarget{ID: id}, nil
}

func (s *Screen) ExportEnabled() bool { return s.Selection.Len() > 0 }

func (s *Screen) DeleteEnabled() bool { return s.Selection.Len() > 0 }

// ExportOption is one entry of the export menu.
type ExportOption struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// View is everything the table and dialog collaborators need.
type View struct {
	ID            string         `json:"id"`
	Page          PageState      `json:"page"`
	PageSizes     []int          `json:"page_sizes"`
	Columns       []Column       `json:"columns"`
	Records       []Record       `json:"records"`
	Selection     []string       `json:"selection"`
	Dialog        Dialog         `json:"dialog"`
	ExportEnabled bool           `json:"export_enabled"`
	DeleteEnabled bool           `json:"delete_enabled"`
	ExportOptions []ExportOption `json:"export_options"`
}

func (s *Screen) View() View {
	opts := make([]ExportOption, 0, 3)
	for p := Identified; p <= PseudonymizedExtended; p++ {
		opts = append(opts, ExportOption{Index: int(p), Name: p.String(), Label: p.OptionName()})
	}
	return View{
		ID:            s.ID,
		Page:          s.Pagination.State(),
		PageSizes:     pagination.PageSizes,
		Columns:       s.Columns(),
		Records:       s.Pagination.Records(),
		Selection:     s.Selection.IDs(),
		Dialog:        s.Deletion.Dialog(),
		ExportEnabled: s.ExportEnabled(),
		DeleteEnabled: s.DeleteEnabled(),
		ExportOptions: opts,
	}
}

// Snapshot captures the durable session state.
func (s *Screen) Snapshot() sessionstore.Snapshot {
	st := s.Pagination.State()
	return sessionstore.Snapshot{
		SessionID: s.ID,
		Owner:     s.Owner.UserID,
		Superuser: s.Owner.Superuser,
		Selection: s.Selection.IDs(),
		Page:      st.Page,
		PageSize:  st.PageSize,
	}
}

// Restore applies a snapshot before the screen is mounted. The restored
// selection was validated when it was first made.
func (s *Screen) Restore(snap sessionstore.Snapshot) {
	s.Pagination.Restore(snap.Page, snap.PageSize)
	s.seenMu.Lock()
	for _, id := range snap.Selection {
		s.seen[id] = struct{}{}
	}
	s.seenMu.Unlock()
	s.Selection.Toggle(snap.Selection)
}
