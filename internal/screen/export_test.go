package screen

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/avc/patientforms/internal/platform/blobstore"
	"github.com/avc/patientforms/internal/platform/hipaa"
)

func loadedRecords(ids ...string) []Record {
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = testRecord(id)
	}
	return out
}

func column(p *Payload, key string) int {
	for i, h := range p.Header {
		if h == key {
			return i
		}
	}
	return -1
}

func TestExport_IdentifiedKeepsEverything(t *testing.T) {
	ex := NewExporter(testColumns(), testPseudonymizer(t))
	loaded := loadedRecords("p1", "p2", "p3")

	p, err := ex.Export(Identified, []string{"p1", "p3"}, loaded)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(p.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(p.Rows))
	}
	if !reflect.DeepEqual(p.RecordIDs, []string{"p1", "p3"}) {
		t.Errorf("expected record ids [p1 p3], got %v", p.RecordIDs)
	}

	want := map[string]string{
		"id":             "p1",
		"code":           "AVC-p1",
		"last_name":      "Martin",
		"first_name":     "Claire",
		"birth_date":     "1951-04-17",
		"postal_code":    "69003",
		"admission_date": "2024-02-11",
		"nihss_score":    "12",
		"stroke_type":    "ischemic",
		"thrombolysis":   "true",
		"comments":       `lives alone, "daughter" nearby`,
	}
	for key, v := range want {
		if got := p.Rows[0][column(p, key)]; got != v {
			t.Errorf("column %s: expected %q, got %q", key, v, got)
		}
	}
}

func TestExport_SameLayoutAcrossProfiles(t *testing.T) {
	ex := NewExporter(testColumns(), testPseudonymizer(t))
	loaded := loadedRecords("p1", "p2")
	sel := []string{"p1", "p2"}

	var headers [][]string
	for _, prof := range []Profile{Identified, Pseudonymized, PseudonymizedExtended} {
		p, err := ex.Export(prof, sel, loaded)
		if err != nil {
			t.Fatalf("%s: %v", prof, err)
		}
		if len(p.Rows) != 2 {
			t.Errorf("%s: expected 2 rows, got %d", prof, len(p.Rows))
		}
		for _, row := range p.Rows {
			if len(row) != len(p.Header) {
				t.Errorf("%s: row width %d != header width %d", prof, len(row), len(p.Header))
			}
		}
		headers = append(headers, p.Header)
	}
	if !reflect.DeepEqual(headers[0], headers[1]) || !reflect.DeepEqual(headers[1], headers[2]) {
		t.Errorf("expected identical headers, got %v", headers)
	}
}

func TestExport_Pseudonymized(t *testing.T) {
	pseudo := testPseudonymizer(t)
	ex := NewExporter(testColumns(), pseudo)

	p, err := ex.Export(Pseudonymized, []string{"p1"}, loadedRecords("p1"))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	row := p.Rows[0]

	if got := row[column(p, "id")]; got != pseudo.Pseudonym("p1") {
		t.Errorf("expected pseudonymised id, got %q", got)
	}
	for _, key := range []string{"code", "last_name", "first_name"} {
		if got := row[column(p, key)]; got != "" {
			t.Errorf("expected %s redacted, got %q", key, got)
		}
	}
	if got := row[column(p, "birth_date")]; got != "1951-04-17" {
		t.Errorf("expected birth date kept, got %q", got)
	}
	if got := row[column(p, "nihss_score")]; got != "12" {
		t.Errorf("expected clinical fields kept, got %q", got)
	}
}

func TestExport_ExtendedIsAtLeastAsStrict(t *testing.T) {
	ex := NewExporter(testColumns(), testPseudonymizer(t))
	loaded := loadedRecords("p1", "p2", "p3")
	sel := []string{"p1", "p2", "p3"}

	basic, err := ex.Export(Pseudonymized, sel, loaded)
	if err != nil {
		t.Fatalf("pseudonymized: %v", err)
	}
	ext, err := ex.Export(PseudonymizedExtended, sel, loaded)
	if err != nil {
		t.Fatalf("extended: %v", err)
	}
	if len(basic.Rows) != len(ext.Rows) {
		t.Fatalf("row counts differ: %d vs %d", len(basic.Rows), len(ext.Rows))
	}

	for r := range basic.Rows {
		for c, col := range testColumns() {
			b, e := basic.Rows[r][c], ext.Rows[r][c]
			if b == "" && e != "" {
				t.Errorf("row %d column %s: extended reveals %q where pseudonymized redacts", r, col.Key, e)
			}
			if col.PHI.Class == hipaa.QuasiIdentifier && len(e) > len(b) {
				t.Errorf("row %d column %s: extended %q is finer than %q", r, col.Key, e, b)
			}
		}
	}

	row := ext.Rows[0]
	checks := map[string]string{
		"birth_date":     "1951",
		"postal_code":    "69",
		"admission_date": "2024-02",
		"comments":       "",
		"nihss_score":    "12",
	}
	for key, want := range checks {
		if got := row[column(ext, key)]; got != want {
			t.Errorf("column %s: expected %q, got %q", key, want, got)
		}
	}
	if row[column(ext, "id")] != basic.Rows[0][column(basic, "id")] {
		t.Error("expected the same pseudonym under both profiles")
	}
}

func TestExport_UnloadedSelectionIsReported(t *testing.T) {
	ex := NewExporter(testColumns(), testPseudonymizer(t))

	p, err := ex.Export(Identified, []string{"p1", "p9", "p7"}, loadedRecords("p1", "p2"))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(p.Rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(p.Rows))
	}
	if !reflect.DeepEqual(p.Missing, []string{"p7", "p9"}) {
		t.Errorf("expected missing [p7 p9], got %v", p.Missing)
	}
}

func TestExport_Failures(t *testing.T) {
	ex := NewExporter(testColumns(), testPseudonymizer(t))

	withField := func(key string, v interface{}) []Record {
		r := testRecord("p1")
		r.Fields[key] = v
		return []Record{r, testRecord("p2")}
	}
	withoutField := func(key string) []Record {
		r := testRecord("p1")
		delete(r.Fields, key)
		return []Record{r}
	}

	tests := []struct {
		name    string
		profile Profile
		loaded  []Record
		want    error
	}{
		{"nil value", Identified, withField("nihss_score", nil), ErrNilValue},
		{"unsupported type", Identified, withField("nihss_score", struct{}{}), ErrUnsupportedValue},
		{"coded value without code", Identified, withField("stroke_type", map[string]interface{}{"display": "x"}), ErrUnsupportedValue},
		{"missing required column", Identified, withoutField("last_name"), ErrMissingColumn},
		{"ungeneralisable date", PseudonymizedExtended, withField("birth_date", "spring 1951"), hipaa.ErrNotADate},
		{"unknown profile", Profile(3), loadedRecords("p1"), ErrUnknownProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ex.Export(tt.profile, []string{"p1", "p2"}, tt.loaded)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if p != nil {
				t.Error("expected no payload on failure")
			}
		})
	}
}

func TestExport_MissingOptionalColumnIsEmpty(t *testing.T) {
	ex := NewExporter(testColumns(), testPseudonymizer(t))
	r := testRecord("p1")
	delete(r.Fields, "comments")

	p, err := ex.Export(Identified, []string{"p1"}, []Record{r})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if got := p.Rows[0][column(p, "comments")]; got != "" {
		t.Errorf("expected empty comments cell, got %q", got)
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in   string
		want Profile
		err  bool
	}{
		{"0", Identified, false},
		{"2", PseudonymizedExtended, false},
		{"pseudonymized", Pseudonymized, false},
		{"nominativeExport", Identified, false},
		{"pseudonymizedExportMore", PseudonymizedExtended, false},
		{"-1", 0, true},
		{"3", 0, true},
		{"anonymous", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnknownProfile) {
				t.Errorf("%q: expected ErrUnknownProfile, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: expected %v, got %v (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestEncodeCSV_Quoting(t *testing.T) {
	p := &Payload{
		Header: []string{"id", "comments"},
		Rows: [][]string{
			{"p1", "a, b"},
			{"p2", "line1\nline2"},
			{"p3", `say "hi"`},
		},
	}
	data, err := EncodeCSV(p)
	if err != nil {
		t.Fatalf("EncodeCSV: %v", err)
	}
	if !strings.HasPrefix(string(data), "id,comments\r\n") {
		t.Errorf("expected header row first, got %q", data)
	}
	if !strings.Contains(string(data), `"say ""hi"""`) {
		t.Errorf("expected doubled quotes, got %q", data)
	}

	back, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !reflect.DeepEqual(back[1:], p.Rows) {
		t.Errorf("round trip mismatch: %v", back)
	}
}

func TestEncodeXLSX(t *testing.T) {
	p := &Payload{
		Header: []string{"id", "postal_code"},
		Rows:   [][]string{{"p1", "01"}},
	}
	data, err := EncodeXLSX(p)
	if err != nil {
		t.Fatalf("EncodeXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(ExportFileBase)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	want := [][]string{{"id", "postal_code"}, {"p1", "01"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("expected %v, got %v", want, rows)
	}
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		t.Error("expected default sheet to be removed")
	}
}

func TestMaterialize(t *testing.T) {
	blobs := blobstore.NewInMemoryBlobStore()
	disclosures := hipaa.NewDisclosureStore()
	m := NewMaterializer(blobs, fixedIssuer{}, disclosures, zerolog.Nop())
	ex := NewExporter(testColumns(), testPseudonymizer(t))

	p, err := ex.Export(Pseudonymized, []string{"p1", "p2"}, loadedRecords("p1", "p2"))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	art, err := m.Materialize(context.Background(), p, ExportRequest{
		Profile: Pseudonymized, Format: FormatCSV, Actor: "u1", Purpose: hipaa.PurposeResearch,
	})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	if art.FileName != "patientForms.csv" {
		t.Errorf("expected patientForms.csv, got %s", art.FileName)
	}
	if art.Token != "tok-"+art.ID {
		t.Errorf("expected token for artifact, got %q", art.Token)
	}
	if art.Rows != 2 {
		t.Errorf("expected 2 rows, got %d", art.Rows)
	}

	rc, meta, err := blobs.Download(context.Background(), art.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	if meta.Profile != "pseudonymized" || meta.RecordCount != 2 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	rows, err := csv.NewReader(rc).ReadAll()
	if err != nil {
		t.Fatalf("parse artifact: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected header + 2 rows, got %d", len(rows))
	}

	got := disclosures.ListByRecord("p1")
	if len(got) != 1 || got[0].ArtifactID != art.ID || got[0].Purpose != hipaa.PurposeResearch {
		t.Errorf("expected one disclosure for p1, got %+v", got)
	}
}

func TestMaterialize_RejectsBadPurpose(t *testing.T) {
	blobs := blobstore.NewInMemoryBlobStore()
	m := NewMaterializer(blobs, nil, hipaa.NewDisclosureStore(), zerolog.Nop())
	p := &Payload{Header: []string{"id"}, Rows: [][]string{{"x"}}, RecordIDs: []string{"x"}}

	_, err := m.Materialize(context.Background(), p, ExportRequest{Format: FormatCSV, Purpose: "marketing"})
	if !errors.Is(err, ErrInvalidPurpose) {
		t.Fatalf("expected ErrInvalidPurpose, got %v", err)
	}
}

type failingIssuer struct{}

func (failingIssuer) Issue(string, string, string) (string, time.Time, error) {
	return "", time.Time{}, errors.New("signer down")
}

// uploadLog remembers which artifacts were stored.
type uploadLog struct {
	*blobstore.InMemoryBlobStore
	ids []string
}

func (u *uploadLog) Upload(ctx context.Context, meta blobstore.BlobMetadata, content io.Reader) (*blobstore.BlobMetadata, error) {
	out, err := u.InMemoryBlobStore.Upload(ctx, meta, content)
	if err == nil {
		u.ids = append(u.ids, out.ID)
	}
	return out, err
}

func TestMaterialize_TokenFailureLeavesNothingBehind(t *testing.T) {
	blobs := &uploadLog{InMemoryBlobStore: blobstore.NewInMemoryBlobStore()}
	disclosures := hipaa.NewDisclosureStore()
	m := NewMaterializer(blobs, failingIssuer{}, disclosures, zerolog.Nop())
	ex := NewExporter(testColumns(), testPseudonymizer(t))

	p, err := ex.Export(Identified, []string{"p1"}, loadedRecords("p1"))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := m.Materialize(context.Background(), p, ExportRequest{Profile: Identified, Format: FormatCSV, Actor: "u1"}); err == nil {
		t.Fatal("expected error when the token cannot be issued")
	}

	if got := disclosures.ListByRecord("p1"); len(got) != 0 {
		t.Errorf("expected no disclosure, got %d", len(got))
	}
	if len(blobs.ids) != 1 {
		t.Fatalf("expected one upload attempt, got %d", len(blobs.ids))
	}
	if _, _, err := blobs.Download(context.Background(), blobs.ids[0]); !errors.Is(err, blobstore.ErrBlobNotFound) {
		t.Errorf("expected artifact to be removed, got %v", err)
	}
}
