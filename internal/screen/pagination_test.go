package screen

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/platform/metrics"
)

func TestPagination_StartFetchesDefaultPage(t *testing.T) {
	store := newFakeStore(60)
	p := NewPagination(store, zerolog.Nop(), nil)

	waitFor(t, p.Start(context.Background()))

	if got := store.fetchLog(); !reflect.DeepEqual(got, []FetchRequest{{Limit: 25, Page: 0}}) {
		t.Fatalf("expected one fetch {25 0}, got %v", got)
	}
	st := p.State()
	if st.Total != 60 || st.Page != 0 || st.PageSize != 25 || st.Fetching {
		t.Errorf("unexpected state %+v", st)
	}
	if len(p.Records()) != 25 {
		t.Errorf("expected 25 records, got %d", len(p.Records()))
	}
}

func TestPagination_PageSizeChangeResetsPage(t *testing.T) {
	store := newFakeStore(200)
	p := NewPagination(store, zerolog.Nop(), nil)
	ctx := context.Background()

	waitFor(t, p.Start(ctx))
	done, err := p.SetPage(ctx, 3)
	if err != nil {
		t.Fatalf("SetPage: %v", err)
	}
	waitFor(t, done)
	before := len(store.fetchLog())

	done, err = p.SetPageSize(ctx, 50)
	if err != nil {
		t.Fatalf("SetPageSize: %v", err)
	}
	waitFor(t, done)

	log := store.fetchLog()
	if len(log) != before+1 {
		t.Fatalf("expected exactly one new fetch, got %d", len(log)-before)
	}
	if last := log[len(log)-1]; last != (FetchRequest{Limit: 50, Page: 0}) {
		t.Errorf("expected {50 0}, got %+v", last)
	}
	if st := p.State(); st.Page != 0 || st.PageSize != 50 {
		t.Errorf("expected page 0 size 50, got %+v", st)
	}
}

func TestPagination_EveryPageSizeResetsPage(t *testing.T) {
	for _, size := range []int{25, 50, 100} {
		store := newFakeStore(10)
		p := NewPagination(store, zerolog.Nop(), nil)
		ctx := context.Background()

		done, _ := p.SetPage(ctx, 2)
		waitFor(t, done)
		done, err := p.SetPageSize(ctx, size)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		waitFor(t, done)

		log := store.fetchLog()
		if last := log[len(log)-1]; last != (FetchRequest{Limit: size, Page: 0}) {
			t.Errorf("size %d: expected {%d 0}, got %+v", size, size, last)
		}
	}
}

func TestPagination_RejectsInvalidInput(t *testing.T) {
	store := newFakeStore(10)
	p := NewPagination(store, zerolog.Nop(), nil)
	ctx := context.Background()

	if _, err := p.SetPageSize(ctx, 30); !errors.Is(err, ErrInvalidPageSize) {
		t.Errorf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := p.SetPage(ctx, -1); !errors.Is(err, ErrInvalidPage) {
		t.Errorf("expected ErrInvalidPage, got %v", err)
	}
	if n := len(store.fetchLog()); n != 0 {
		t.Errorf("expected no fetch for rejected input, got %d", n)
	}
}

func TestPagination_DiscardsStaleResponse(t *testing.T) {
	store := newFakeStore(200)
	release := map[int]chan struct{}{
		25: make(chan struct{}),
		50: make(chan struct{}),
	}
	store.gate = func(req FetchRequest) <-chan struct{} { return release[req.Limit] }

	m := metrics.NewIsolated()
	p := NewPagination(store, zerolog.Nop(), m)
	ctx := context.Background()

	first := p.Start(ctx) // {25, 0}
	second, err := p.SetPageSize(ctx, 50)
	if err != nil {
		t.Fatalf("SetPageSize: %v", err)
	}

	// the newer response lands first
	close(release[50])
	waitFor(t, second)
	if st := p.State(); st.Fetching {
		t.Error("expected Idle once the latest fetch settled")
	}

	close(release[25])
	waitFor(t, first)

	if got := len(p.Records()); got != 50 {
		t.Errorf("expected the 50-record page to stay applied, got %d records", got)
	}
	if st := p.State(); st.PageSize != 50 {
		t.Errorf("expected page size 50, got %d", st.PageSize)
	}
	if got := testutil.ToFloat64(m.FetchCounter(metrics.FetchStale)); got != 1 {
		t.Errorf("expected 1 stale fetch counted, got %v", got)
	}
}

func TestPagination_FailureKeepsPreviousPage(t *testing.T) {
	store := newFakeStore(40)
	p := NewPagination(store, zerolog.Nop(), nil)
	ctx := context.Background()

	waitFor(t, p.Start(ctx))
	prev := p.Records()

	store.mu.Lock()
	store.fetchErr = errStore
	store.mu.Unlock()

	done, _ := p.SetPage(ctx, 1)
	waitFor(t, done)

	if got := p.Records(); !reflect.DeepEqual(got, prev) {
		t.Error("expected the previous page to remain after a failed fetch")
	}
	st := p.State()
	if st.Fetching {
		t.Error("expected Idle after failure")
	}
	if st.Total != 40 {
		t.Errorf("expected previous total 40, got %d", st.Total)
	}
	if !errors.Is(p.LastError(), errStore) {
		t.Errorf("expected LastError to be errStore, got %v", p.LastError())
	}

	// the next pagination change retries
	store.mu.Lock()
	store.fetchErr = nil
	store.mu.Unlock()
	done, _ = p.SetPage(ctx, 1)
	waitFor(t, done)
	if p.LastError() != nil {
		t.Errorf("expected retry to succeed, got %v", p.LastError())
	}
	if got := p.Records(); len(got) != 15 || got[0].ID != "p26" {
		t.Errorf("expected second page starting at p26, got %d records", len(got))
	}
}

func TestPagination_TotalIsAuthoritative(t *testing.T) {
	store := newFakeStore(30)
	p := NewPagination(store, zerolog.Nop(), nil)
	ctx := context.Background()
	waitFor(t, p.Start(ctx))

	_ = store.Delete(ctx, []string{"p1", "p2", "p3"})
	waitFor(t, p.Refresh(ctx))

	if st := p.State(); st.Total != 27 {
		t.Errorf("expected total 27 after refresh, got %d", st.Total)
	}
}

func TestPagination_Restore(t *testing.T) {
	store := newFakeStore(300)
	p := NewPagination(store, zerolog.Nop(), nil)
	p.Restore(2, 100)
	waitFor(t, p.Start(context.Background()))

	if got := store.fetchLog(); !reflect.DeepEqual(got, []FetchRequest{{Limit: 100, Page: 2}}) {
		t.Errorf("expected {100 2}, got %v", got)
	}

	p.Restore(-1, 33)
	if st := p.State(); st.Page != 2 || st.PageSize != 100 {
		t.Errorf("expected invalid restore values to be ignored, got %+v", st)
	}
}
