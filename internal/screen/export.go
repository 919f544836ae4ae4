package screen

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/avc/patientforms/internal/platform/blobstore"
	"github.com/avc/patientforms/internal/platform/hipaa"
)

// ExportFileBase is the fixed artifact name, without extension.
const ExportFileBase = "patientForms"

var (
	ErrUnknownFormat  = errors.New("unknown export format")
	ErrInvalidPurpose = errors.New("invalid disclosure purpose")
)

// Format is the serialisation of an export payload.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat defaults to CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) FileName() string { return ExportFileBase + "." + string(f) }

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return blobstore.ContentTypeXLSX
	}
	return blobstore.ContentTypeCSV
}

// Payload is the flattened, de-identified result of an export. Rows follow
// Header, which is the same for every profile.
type Payload struct {
	Profile   Profile    `json:"-"`
	Header    []string   `json:"header"`
	Rows      [][]string `json:"rows"`
	RecordIDs []string   `json:"-"`
	// Missing lists selected ids that were not in the loaded records and so
	// were left out.
	Missing []string `json:"missing"`
}

// Exporter turns selected records into a Payload.
type Exporter struct {
	columns []Column
	pseudo  *hipaa.Pseudonymizer
}

func NewExporter(columns []Column, pseudo *hipaa.Pseudonymizer) *Exporter {
	return &Exporter{columns: columns, pseudo: pseudo}
}

// Export filters loaded to the records whose id is in selection, applies
// the profile to every column and flattens each record into one row. Any
// failing cell fails the whole export.
func (e *Exporter) Export(profile Profile, selection []string, loaded []Record) (*Payload, error) {
	if !profile.Valid() {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownProfile, int(profile))
	}

	wanted := make(map[string]bool, len(selection))
	for _, id := range selection {
		wanted[id] = false
	}

	p := &Payload{Profile: profile, Header: make([]string, len(e.columns))}
	for i, col := range e.columns {
		p.Header[i] = col.Key
	}

	for _, rec := range loaded {
		found, ok := wanted[rec.ID]
		if !ok || found {
			continue
		}
		wanted[rec.ID] = true

		row, err := e.row(profile, rec)
		if err != nil {
			return nil, err
		}
		p.Rows = append(p.Rows, row)
		p.RecordIDs = append(p.RecordIDs, rec.ID)
	}

	for id, found := range wanted {
		if !found {
			p.Missing = append(p.Missing, id)
		}
	}
	sort.Strings(p.Missing)
	return p, nil
}

func (e *Exporter) row(profile Profile, rec Record) ([]string, error) {
	row := make([]string, len(e.columns))
	for i, col := range e.columns {
		var v interface{}
		if col.PHI.Class == hipaa.RecordKey {
			v = rec.ID
		} else {
			var ok bool
			v, ok = rec.Fields[col.Key]
			if !ok {
				if col.Required {
					return nil, fmt.Errorf("record %s: %w: %s", rec.ID, ErrMissingColumn, col.Key)
				}
				continue
			}
		}
		if v == nil {
			return nil, fmt.Errorf("record %s column %s: %w", rec.ID, col.Key, ErrNilValue)
		}

		out, err := profile.apply(col, v, e.pseudo)
		if err != nil {
			return nil, fmt.Errorf("record %s column %s: %w", rec.ID, col.Key, err)
		}
		cell, err := flattenValue(out)
		if err != nil {
			return nil, fmt.Errorf("record %s column %s: %w", rec.ID, col.Key, err)
		}
		row[i] = cell
	}
	return row, nil
}

// Encode serialises the payload in the given format.
func Encode(p *Payload, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return EncodeCSV(p)
	case FormatXLSX:
		return EncodeXLSX(p)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// EncodeCSV writes a header row and one row per record, comma separated,
// with RFC 4180 quoting and CRLF line endings.
func EncodeCSV(p *Payload) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	if err := w.Write(p.Header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(p.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeXLSX writes the payload to a single-sheet workbook with a frozen,
// bold header row.
func EncodeXLSX(p *Payload) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := ExportFileBase
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, h := range p.Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("set header style: %w", err)
		}
	}
	for r, row := range p.Rows {
		for col, v := range row {
			if v == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return nil, err
			}
			// cells stay strings so codes such as postal prefixes keep leading zeros
			if err := f.SetCellStr(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// TokenIssuer signs download links. downloadtoken.Signer satisfies it.
type TokenIssuer interface {
	Issue(artifactID, fileName, subject string) (string, time.Time, error)
}

// Artifact describes a materialised export.
type Artifact struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Profile     string    `json:"profile"`
	Rows        int       `json:"rows"`
	Missing     []string  `json:"missing"`
	Token       string    `json:"token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// ExportRequest carries who is exporting and why.
type ExportRequest struct {
	Profile Profile
	Format  Format
	Actor   string
	Purpose string
}

// Materializer writes encoded payloads to the artifact store, accounts for
// the disclosure and issues a download token.
type Materializer struct {
	store       blobstore.BlobStore
	tokens      TokenIssuer
	disclosures *hipaa.DisclosureStore
	logger      zerolog.Logger
}

func NewMaterializer(store blobstore.BlobStore, tokens TokenIssuer, disclosures *hipaa.DisclosureStore, logger zerolog.Logger) *Materializer {
	return &Materializer{
		store:       store,
		tokens:      tokens,
		disclosures: disclosures,
		logger:      logger.With().Str("component", "export").Logger(),
	}
}

// Materialize encodes p and stores it under the fixed file name.
func (m *Materializer) Materialize(ctx context.Context, p *Payload, req ExportRequest) (*Artifact, error) {
	if req.Purpose != "" && !hipaa.IsValidDisclosurePurpose(req.Purpose) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPurpose, req.Purpose)
	}

	data, err := Encode(p, req.Format)
	if err != nil {
		return nil, err
	}

	meta, err := m.store.Upload(ctx, blobstore.BlobMetadata{
		FileName:    req.Format.FileName(),
		ContentType: req.Format.ContentType(),
		Profile:     p.Profile.String(),
		RecordCount: len(p.Rows),
		CreatedBy:   req.Actor,
	}, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	art := &Artifact{
		ID:          meta.ID,
		FileName:    meta.FileName,
		ContentType: meta.ContentType,
		Size:        int64(len(data)),
		Profile:     p.Profile.String(),
		Rows:        len(p.Rows),
		Missing:     p.Missing,
	}
	if art.Missing == nil {
		art.Missing = []string{}
	}

	if m.tokens != nil {
		tok, exp, err := m.tokens.Issue(meta.ID, meta.FileName, req.Actor)
		if err != nil {
			m.discard(ctx, meta.ID)
			return nil, fmt.Errorf("issue download token: %w", err)
		}
		art.Token = tok
		art.ExpiresAt = exp
	}

	if len(p.RecordIDs) > 0 && m.disclosures != nil {
		err := m.disclosures.Record(&hipaa.Disclosure{
			RecordIDs:   append([]string(nil), p.RecordIDs...),
			Profile:     p.Profile.String(),
			Purpose:     req.Purpose,
			Method:      "export",
			ArtifactID:  meta.ID,
			DisclosedBy: req.Actor,
		})
		if err != nil {
			m.discard(ctx, meta.ID)
			return nil, fmt.Errorf("record disclosure: %w", err)
		}
	}

	m.logger.Info().
		Str("artifact_id", meta.ID).
		Str("profile", art.Profile).
		Str("format", string(req.Format)).
		Int("rows", art.Rows).
		Int("missing", len(art.Missing)).
		Str("actor", req.Actor).
		Msg("export materialized")
	return art, nil
}

// discard removes an artifact that will not be handed out.
func (m *Materializer) discard(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Error().Err(err).Str("artifact_id", id).Msg("failed to remove unfinished artifact")
	}
}
