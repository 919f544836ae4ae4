package screen

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/platform/metrics"
)

var (
	ErrDeletionPending  = errors.New("a deletion is already awaiting confirmation")
	ErrNothingToDelete  = errors.New("nothing to delete")
	ErrNoPendingRequest = errors.New("no deletion is awaiting confirmation")
)

// DeletionMode tells whether a request came from a row or the toolbar.
type DeletionMode int

const (
	SingleMode DeletionMode = iota + 1
	BulkMode
)

func (m DeletionMode) String() string {
	switch m {
	case SingleMode:
		return "single"
	case BulkMode:
		return "bulk"
	}
	return "none"
}

// DeletionRequest is either a single row or the whole current selection.
type DeletionRequest struct {
	mode DeletionMode
	id   string
}

// SingleDeletion targets one row.
func SingleDeletion(id string) DeletionRequest {
	return DeletionRequest{mode: SingleMode, id: id}
}

// BulkDeletion targets the selection as it stands when the request is made.
func BulkDeletion() DeletionRequest {
	return DeletionRequest{mode: BulkMode}
}

func (r DeletionRequest) Mode() DeletionMode { return r.mode }

// DeletionState is the confirmation state.
type DeletionState int

const (
	Closed DeletionState = iota
	ConfirmPending
)

// Prompt keys shown by the confirmation dialog.
const (
	PromptTitle   = "deleteDialogTitle"
	PromptSingle  = "deleteDialogSingle"
	PromptBulk    = "deleteDialogBulk"
	PromptConfirm = "agree"
	PromptCancel  = "refuse"
)

// Dialog is what the confirmation dialog collaborator renders.
type Dialog struct {
	Open    bool     `json:"open"`
	Mode    string   `json:"mode,omitempty"`
	Prompts []string `json:"prompts"`
	Pending []string `json:"pending"`
}

// DeletionResult is delivered once the store has settled a confirmed delete.
type DeletionResult struct {
	IDs []string
	Err error
}

// Deletion gates destructive deletes behind explicit confirmation. The
// pending set is staged separately from the selection so nothing changes
// until the user agrees.
type Deletion struct {
	store     RecordStore
	selection *Selection
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	state   DeletionState
	mode    DeletionMode
	pending []string
}

func NewDeletion(store RecordStore, selection *Selection, logger zerolog.Logger, m *metrics.Metrics) *Deletion {
	return &Deletion{
		store:     store,
		selection: selection,
		logger:    logger.With().Str("component", "deletion").Logger(),
		metrics:   m,
	}
}

// Request stages the targets and opens the confirmation dialog.
func (d *Deletion) Request(req DeletionRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == ConfirmPending {
		return ErrDeletionPending
	}

	var ids []string
	switch req.mode {
	case SingleMode:
		if req.id == "" {
			return ErrNothingToDelete
		}
		ids = []string{req.id}
	case BulkMode:
		ids = d.selection.IDs()
	default:
		return ErrNothingToDelete
	}
	if len(ids) == 0 {
		return ErrNothingToDelete
	}

	d.pending = ids
	d.mode = req.mode
	d.state = ConfirmPending
	return nil
}

// Agree dispatches the delete for exactly the pending set, removes those
// ids from the selection, clears the pending set and closes the dialog
// before returning. The store's outcome arrives on the returned channel.
func (d *Deletion) Agree(ctx context.Context) (<-chan DeletionResult, error) {
	d.mu.Lock()
	if d.state != ConfirmPending {
		d.mu.Unlock()
		return nil, ErrNoPendingRequest
	}
	ids := d.pending
	mode := d.mode
	d.selection.Remove(ids)
	d.pending = nil
	d.mode = 0
	d.state = Closed
	d.mu.Unlock()

	out := make(chan DeletionResult, 1)
	deleteCtx := context.WithoutCancel(ctx)
	go func() {
		err := d.store.Delete(deleteCtx, ids)
		d.metrics.Deletion(mode.String(), err)
		if err != nil {
			d.logger.Error().Err(err).
				Str("mode", mode.String()).
				Int("count", len(ids)).
				Msg("delete failed")
		} else {
			d.logger.Info().
				Str("mode", mode.String()).
				Int("count", len(ids)).
				Msg("records deleted")
		}
		out <- DeletionResult{IDs: ids, Err: err}
		close(out)
	}()
	return out, nil
}

// Refuse clears the pending set without contacting the store.
func (d *Deletion) Refuse() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	d.mode = 0
	d.state = Closed
}

// Close dismisses the dialog. It behaves like Refuse.
func (d *Deletion) Close() { d.Refuse() }

func (d *Deletion) State() DeletionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns a sorted copy of the pending set.
func (d *Deletion) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]string(nil), d.pending...)
	sort.Strings(out)
	return out
}

func (d *Deletion) Dialog() Dialog {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != ConfirmPending {
		return Dialog{Prompts: []string{}, Pending: []string{}}
	}
	body := PromptBulk
	if d.mode == SingleMode {
		body = PromptSingle
	}
	pending := append([]string(nil), d.pending...)
	sort.Strings(pending)
	return Dialog{
		Open:    true,
		Mode:    d.mode.String(),
		Prompts: []string{PromptTitle, body, PromptConfirm, PromptCancel},
		Pending: pending,
	}
}
