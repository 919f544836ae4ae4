// Package screen implements the patient-form screen's selection and export
// engine: the cross-page selection set, the page fetch synchroniser, the
// de-identifying export pipeline and the confirmed batch deletion workflow.
// A Screen composes the four around an injected RecordStore; the Registry
// keeps one Screen per mounted session.
package screen

import (
	"context"

	"github.com/avc/patientforms/internal/platform/hipaa"
)

// Record is a single patient entry as held by the record store. Field values
// are heterogeneous: strings, numbers, booleans, dates and coded values.
type Record struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// Column describes one column of the shared layout used for display and for
// every export profile.
type Column struct {
	Key      string            `json:"key"`
	Label    string            `json:"label"`
	Required bool              `json:"required"`
	PHI      hipaa.FieldPolicy `json:"-"`
}

// FetchRequest asks the store for one page.
type FetchRequest struct {
	Limit int `json:"limit"`
	Page  int `json:"page"`
}

// FetchResult is a page of records and the authoritative total count.
type FetchResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
}

// RecordStore is the data-access capability a Screen is built around.
// Deleting ids that no longer exist is not an error.
type RecordStore interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
	Delete(ctx context.Context, ids []string) error
	Columns() []Column
}

func recordIDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
