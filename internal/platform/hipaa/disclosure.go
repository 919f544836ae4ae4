package hipaa

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Disclosure records that patient form data left the system in an export
// artifact. HIPAA Section 164.528 requires an accounting of disclosures.
type Disclosure struct {
	ID            uuid.UUID `json:"id"`
	RecordIDs     []string  `json:"record_ids"`
	Profile       string    `json:"profile"`
	Purpose       string    `json:"purpose"`
	Method        string    `json:"method"` // export, api
	ArtifactID    string    `json:"artifact_id,omitempty"`
	DisclosedBy   string    `json:"disclosed_by,omitempty"`
	DateDisclosed time.Time `json:"date_disclosed"`
}

const (
	PurposeResearch        = "research"
	PurposeHealthOversight = "health-oversight"
	PurposePublicHealth    = "public-health"
	PurposeOther           = "other"
)

// ValidDisclosurePurposes returns the set of valid disclosure purpose values.
func ValidDisclosurePurposes() []string {
	return []string{
		PurposeResearch,
		PurposeHealthOversight,
		PurposePublicHealth,
		PurposeOther,
	}
}

// IsValidDisclosurePurpose checks whether a purpose string is a recognized value.
func IsValidDisclosurePurpose(purpose string) bool {
	for _, p := range ValidDisclosurePurposes() {
		if p == purpose {
			return true
		}
	}
	return false
}

// DisclosureStore keeps disclosure records in memory.
type DisclosureStore struct {
	mu          sync.RWMutex
	disclosures []*Disclosure
}

func NewDisclosureStore() *DisclosureStore {
	return &DisclosureStore{
		disclosures: make([]*Disclosure, 0),
	}
}

// Record adds a new disclosure entry. It assigns an ID and date if not set.
func (s *DisclosureStore) Record(d *Disclosure) error {
	if len(d.RecordIDs) == 0 {
		return fmt.Errorf("disclosure: record_ids is required")
	}
	if d.Purpose == "" {
		d.Purpose = PurposeOther
	}
	if !IsValidDisclosurePurpose(d.Purpose) {
		return fmt.Errorf("disclosure: invalid purpose %q", d.Purpose)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DateDisclosed.IsZero() {
		d.DateDisclosed = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.disclosures = append(s.disclosures, d)
	return nil
}

// ListByRecord returns the disclosures that included a record, most recent first.
func (s *DisclosureStore) ListByRecord(recordID string) []*Disclosure {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Disclosure
	for _, d := range s.disclosures {
		for _, id := range d.RecordIDs {
			if id == recordID {
				result = append(result, d)
				break
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DateDisclosed.After(result[j].DateDisclosed)
	})
	return result
}

// ListAll returns a page of disclosures, most recent first, and the total count.
func (s *DisclosureStore) ListAll(limit, offset int) ([]*Disclosure, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.disclosures)
	sorted := make([]*Disclosure, total)
	copy(sorted, s.disclosures)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].DateDisclosed.After(sorted[j].DateDisclosed)
	})

	if offset >= total {
		return []*Disclosure{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return sorted[offset:end], total
}
