package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/platform/blobstore"
	"github.com/avc/patientforms/internal/platform/hipaa"
	"github.com/avc/patientforms/internal/platform/metrics"
)

// ---------------------------------------------------------------------------
// Fake record store
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu        sync.Mutex
	records   []Record
	fetches   []FetchRequest
	deletes   [][]string
	fetchErr  error
	deleteErr error
	// gate, when set, blocks a fetch until the returned channel is closed.
	gate func(req FetchRequest) <-chan struct{}
}

func newFakeStore(n int) *fakeStore {
	s := &fakeStore{}
	for i := 1; i <= n; i++ {
		s.records = append(s.records, testRecord(fmt.Sprintf("p%d", i)))
	}
	return s
}

func (s *fakeStore) Fetch(_ context.Context, req FetchRequest) (FetchResult, error) {
	s.mu.Lock()
	s.fetches = append(s.fetches, req)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		if ch := gate(req); ch != nil {
			<-ch
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return FetchResult{}, s.fetchErr
	}
	start := req.Page * req.Limit
	if start > len(s.records) {
		start = len(s.records)
	}
	end := start + req.Limit
	if end > len(s.records) {
		end = len(s.records)
	}
	page := make([]Record, end-start)
	copy(page, s.records[start:end])
	return FetchResult{Records: page, Total: len(s.records)}, nil
}

func (s *fakeStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, append([]string(nil), ids...))
	if s.deleteErr != nil {
		return s.deleteErr
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.records[:0]
	for _, r := range s.records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

func (s *fakeStore) Columns() []Column { return testColumns() }

func (s *fakeStore) fetchLog() []FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FetchRequest(nil), s.fetches...)
}

func (s *fakeStore) deleteLog() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.deletes...)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testColumns() []Column {
	col := func(key string, required bool) Column {
		return Column{Key: key, Label: key, Required: required, PHI: hipaa.PolicyFor(key)}
	}
	return []Column{
		col("id", true),
		col("code", true),
		col("last_name", true),
		col("first_name", true),
		col("birth_date", true),
		col("postal_code", false),
		col("admission_date", false),
		col("nihss_score", false),
		col("stroke_type", false),
		col("thrombolysis", false),
		col("comments", false),
	}
}

func testRecord(id string) Record {
	return Record{
		ID: id,
		Fields: map[string]interface{}{
			"id":             id,
			"code":           "AVC-" + id,
			"last_name":      "Martin",
			"first_name":     "Claire",
			"birth_date":     time.Date(1951, 4, 17, 0, 0, 0, 0, time.UTC),
			"postal_code":    "69003",
			"admission_date": "2024-02-11",
			"nihss_score":    12,
			"stroke_type":    map[string]interface{}{"code": "ischemic", "display": "Ischemic"},
			"thrombolysis":   true,
			"comments":       "lives alone, \"daughter\" nearby",
		},
	}
}

func testPseudonymizer(t *testing.T) *hipaa.Pseudonymizer {
	t.Helper()
	p, err := hipaa.NewPseudonymizer([]byte("test-master-key"))
	if err != nil {
		t.Fatalf("NewPseudonymizer: %v", err)
	}
	return p
}

type fixedIssuer struct{}

func (fixedIssuer) Issue(artifactID, _, _ string) (string, time.Time, error) {
	return "tok-" + artifactID, time.Now().Add(time.Minute), nil
}

type env struct {
	store       *fakeStore
	blobs       *blobstore.InMemoryBlobStore
	disclosures *hipaa.DisclosureStore
	metrics     *metrics.Metrics
	deps        Deps
}

func newEnv(t *testing.T, n int) *env {
	t.Helper()
	e := &env{
		store:       newFakeStore(n),
		blobs:       blobstore.NewInMemoryBlobStore(),
		disclosures: hipaa.NewDisclosureStore(),
		metrics:     metrics.NewIsolated(),
	}
	e.deps = Deps{
		Exporter:     NewExporter(testColumns(), testPseudonymizer(t)),
		Materializer: NewMaterializer(e.blobs, fixedIssuer{}, e.disclosures, zerolog.Nop()),
		Metrics:      e.metrics,
		Logger:       zerolog.Nop(),
	}
	return e
}

func (e *env) mountedScreen(t *testing.T) *Screen {
	t.Helper()
	s := New("screen-1", Owner{UserID: "u1"}, e.store, e.deps)
	waitFor(t, s.Mount(context.Background()))
	return s
}

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch to settle")
	}
}

var errStore = errors.New("store unavailable")
