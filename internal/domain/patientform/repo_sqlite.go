package patientform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	sqliteDateFormat = "2006-01-02"
	// fixed width so timestamps sort lexically
	sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS patient_form (
	id              TEXT PRIMARY KEY,
	code            TEXT NOT NULL,
	last_name       TEXT NOT NULL,
	first_name      TEXT NOT NULL,
	birth_date      TEXT NOT NULL,
	sex             TEXT,
	postal_code     TEXT,
	phone           TEXT,
	email           TEXT,
	admission_date  TEXT,
	onset_date      TEXT,
	nihss_score     INTEGER,
	stroke_type     TEXT,
	thrombolysis    INTEGER,
	thrombectomy    INTEGER,
	mrs_discharge   INTEGER,
	comments        TEXT,
	created_by      TEXT NOT NULL DEFAULT '',
	last_updated_by TEXT NOT NULL DEFAULT '',
	version_id      INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patient_form_created_by ON patient_form (created_by);
`

type patientFormRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepoSQLite opens (or creates) the database at path and ensures the
// patient_form table exists. ":memory:" gives a private in-process store.
func NewRepoSQLite(ctx context.Context, path string) (PatientFormRepository, func() error, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &patientFormRepoSQLite{db: conn, now: time.Now}, conn.Close, nil
}

const sqlitePatientFormCols = `id, code, last_name, first_name, birth_date, sex, postal_code, phone, email,
	admission_date, onset_date, nihss_score, stroke_type, thrombolysis, thrombectomy,
	mrs_discharge, comments, created_by, last_updated_by, version_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *patientFormRepoSQLite) scanRow(row rowScanner) (*PatientForm, error) {
	var (
		f                              PatientForm
		id, birth, created, updated    string
		sex, postal, phone, email      sql.NullString
		admission, onset, stroke, note sql.NullString
		nihss, mrs                     sql.NullInt64
		lysis, ectomy                  sql.NullBool
	)
	err := row.Scan(&id, &f.Code, &f.LastName, &f.FirstName, &birth, &sex, &postal, &phone, &email,
		&admission, &onset, &nihss, &stroke, &lysis, &ectomy,
		&mrs, &note, &f.CreatedBy, &f.LastUpdatedBy, &f.VersionID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	if f.BirthDate, err = time.Parse(sqliteDateFormat, birth); err != nil {
		return nil, fmt.Errorf("parse birth_date: %w", err)
	}
	if f.CreatedAt, err = time.Parse(sqliteTimeFormat, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if f.UpdatedAt, err = time.Parse(sqliteTimeFormat, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if f.AdmissionDate, err = parseNullDate(admission); err != nil {
		return nil, fmt.Errorf("parse admission_date: %w", err)
	}
	if f.OnsetDate, err = parseNullDate(onset); err != nil {
		return nil, fmt.Errorf("parse onset_date: %w", err)
	}

	f.Sex = nullString(sex)
	f.PostalCode = nullString(postal)
	f.Phone = nullString(phone)
	f.Email = nullString(email)
	f.StrokeType = nullString(stroke)
	f.Comments = nullString(note)
	f.NIHSSScore = nullInt(nihss)
	f.MRSDischarge = nullInt(mrs)
	f.Thrombolysis = nullBool(lysis)
	f.Thrombectomy = nullBool(ectomy)
	return &f, nil
}

func (r *patientFormRepoSQLite) args(f *PatientForm) []interface{} {
	return []interface{}{
		f.Code, f.LastName, f.FirstName, f.BirthDate.Format(sqliteDateFormat), f.Sex, f.PostalCode, f.Phone, f.Email,
		formatNullDate(f.AdmissionDate), formatNullDate(f.OnsetDate), f.NIHSSScore, f.StrokeType, f.Thrombolysis, f.Thrombectomy,
		f.MRSDischarge, f.Comments,
	}
}

func (r *patientFormRepoSQLite) Create(ctx context.Context, f *PatientForm) error {
	f.ID = uuid.New()
	now := r.now().UTC()
	args := append([]interface{}{f.ID.String()}, r.args(f)...)
	args = append(args, f.CreatedBy, f.LastUpdatedBy, now.Format(sqliteTimeFormat), now.Format(sqliteTimeFormat))
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patient_form (id, code, last_name, first_name, birth_date, sex, postal_code, phone, email,
			admission_date, onset_date, nihss_score, stroke_type, thrombolysis, thrombectomy,
			mrs_discharge, comments, created_by, last_updated_by, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return err
	}
	f.VersionID = 1
	f.CreatedAt = now
	f.UpdatedAt = now
	return nil
}

func (r *patientFormRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*PatientForm, error) {
	return r.scanRow(r.db.QueryRowContext(ctx, `SELECT `+sqlitePatientFormCols+` FROM patient_form WHERE id = ?`, id.String()))
}

func (r *patientFormRepoSQLite) Update(ctx context.Context, f *PatientForm) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version_id FROM patient_form WHERE id = ?`, f.ID.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if f.VersionID != 0 && f.VersionID != current {
		return ErrVersionConflict
	}

	now := r.now().UTC()
	args := append(r.args(f), f.LastUpdatedBy, now.Format(sqliteTimeFormat), f.ID.String())
	_, err = tx.ExecContext(ctx, `
		UPDATE patient_form SET code=?, last_name=?, first_name=?, birth_date=?, sex=?,
			postal_code=?, phone=?, email=?, admission_date=?, onset_date=?,
			nihss_score=?, stroke_type=?, thrombolysis=?, thrombectomy=?,
			mrs_discharge=?, comments=?, last_updated_by=?,
			version_id = version_id + 1, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	f.VersionID = current + 1
	f.UpdatedAt = now
	return nil
}

func (r *patientFormRepoSQLite) DeleteMany(ctx context.Context, scope Scope, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id.String())
	}
	query := `DELETE FROM patient_form WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	if !scope.All {
		query += ` AND created_by = ?`
		args = append(args, scope.Owner)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *patientFormRepoSQLite) List(ctx context.Context, scope Scope, limit, offset int) ([]*PatientForm, int, error) {
	where := ""
	var args []interface{}
	if !scope.All {
		where = ` WHERE created_by = ?`
		args = append(args, scope.Owner)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patient_form`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+sqlitePatientFormCols+` FROM patient_form`+where+
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PatientForm
	for rows.Next() {
		f, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func parseNullDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(sqliteTimeFormat, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeFormat)
}
