package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/platform/metrics"
	"github.com/avc/patientforms/pkg/pagination"
)

var (
	ErrInvalidPageSize = errors.New("page size is not one of the supported sizes")
	ErrInvalidPage     = errors.New("page index must not be negative")
)

// FetchState is the synchroniser's state.
type FetchState int

const (
	Idle FetchState = iota
	Fetching
)

func (s FetchState) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// PageState is a read-only view of the pagination state.
type PageState struct {
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
	State    FetchState `json:"-"`
	Fetching bool       `json:"fetching"`
}

// Pagination maps paging actions onto store fetches. Every fetch carries a
// sequence number; only the response to the latest issued fetch is applied.
// A failed fetch leaves the previous page and total in place.
type Pagination struct {
	store   RecordStore
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	page     int
	pageSize int
	total    int
	records  []Record
	state    FetchState
	seq      uint64
	lastErr  error
	onApply  func([]Record)
	inflight sync.WaitGroup
}

func NewPagination(store RecordStore, logger zerolog.Logger, m *metrics.Metrics) *Pagination {
	return &Pagination{
		store:    store,
		logger:   logger.With().Str("component", "pagination").Logger(),
		metrics:  m,
		pageSize: pagination.DefaultLimit,
	}
}

// Restore sets page and page size without fetching. Used when a session is
// rebuilt from a snapshot, before Start.
func (p *Pagination) Restore(page, pageSize int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if page >= 0 {
		p.page = page
	}
	if pagination.IsPageSize(pageSize) {
		p.pageSize = pageSize
	}
}

// OnApply registers a hook called, under the pagination lock, with every
// page that is applied.
func (p *Pagination) OnApply(fn func([]Record)) {
	p.mu.Lock()
	p.onApply = fn
	p.mu.Unlock()
}

// Start issues the mount fetch for the current page.
func (p *Pagination) Start(ctx context.Context) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueLocked(ctx)
}

// Refresh re-fetches the current page.
func (p *Pagination) Refresh(ctx context.Context) <-chan struct{} {
	return p.Start(ctx)
}

// SetPage moves to page n and fetches it.
func (p *Pagination) SetPage(ctx context.Context, n int) (<-chan struct{}, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.page = n
	return p.issueLocked(ctx), nil
}

// SetPageSize changes the page size, resets to page 0 and fetches.
func (p *Pagination) SetPageSize(ctx context.Context, size int) (<-chan struct{}, error) {
	if !pagination.IsPageSize(size) {
		return nil, fmt.Errorf("%w: %d (supported: %v)", ErrInvalidPageSize, size, pagination.PageSizes)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageSize = size
	p.page = 0
	return p.issueLocked(ctx), nil
}

func (p *Pagination) issueLocked(ctx context.Context) <-chan struct{} {
	p.seq++
	seq := p.seq
	req := FetchRequest{Limit: p.pageSize, Page: p.page}
	p.state = Fetching
	done := make(chan struct{})

	// fetches outlive the request that triggered them
	fetchCtx := context.WithoutCancel(ctx)

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer close(done)
		res, err := p.store.Fetch(fetchCtx, req)
		p.settle(seq, req, res, err)
	}()
	return done
}

func (p *Pagination) settle(seq uint64, req FetchRequest, res FetchResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	latest := seq == p.seq
	switch {
	case !latest:
		p.metrics.Fetch(metrics.FetchStale)
		p.logger.Debug().
			Uint64("seq", seq).
			Uint64("latest", p.seq).
			Int("limit", req.Limit).
			Int("page", req.Page).
			Msg("discarding stale page")
		return
	case err != nil:
		p.metrics.Fetch(metrics.FetchFailed)
		p.lastErr = err
		p.logger.Error().Err(err).
			Uint64("seq", seq).
			Int("limit", req.Limit).
			Int("page", req.Page).
			Msg("page fetch failed")
	default:
		p.metrics.Fetch(metrics.FetchApplied)
		p.lastErr = nil
		p.records = res.Records
		p.total = res.Total
		if p.onApply != nil {
			p.onApply(res.Records)
		}
	}
	p.state = Idle
}

// State returns the current page index, size, total and fetch state.
func (p *Pagination) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PageState{
		Page:     p.page,
		PageSize: p.pageSize,
		Total:    p.total,
		State:    p.state,
		Fetching: p.state == Fetching,
	}
}

// Records returns the records of the last applied page.
func (p *Pagination) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, len(p.records))
	copy(out, p.records)
	return out
}

// Record looks up a loaded record by id.
func (p *Pagination) Record(id string) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// LastError is the error of the latest settled fetch, if it failed.
func (p *Pagination) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Wait blocks until every issued fetch has settled.
func (p *Pagination) Wait() {
	p.inflight.Wait()
}
