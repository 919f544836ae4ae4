package patientform

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avc/patientforms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type patientFormRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) PatientFormRepository {
	return &patientFormRepoPG{pool: pool}
}

func (r *patientFormRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientFormCols = `id, code, last_name, first_name, birth_date, sex, postal_code, phone, email,
	admission_date, onset_date, nihss_score, stroke_type, thrombolysis, thrombectomy,
	mrs_discharge, comments, created_by, last_updated_by, version_id, created_at, updated_at`

func (r *patientFormRepoPG) scanRow(row pgx.Row) (*PatientForm, error) {
	var f PatientForm
	err := row.Scan(&f.ID, &f.Code, &f.LastName, &f.FirstName, &f.BirthDate, &f.Sex, &f.PostalCode, &f.Phone, &f.Email,
		&f.AdmissionDate, &f.OnsetDate, &f.NIHSSScore, &f.StrokeType, &f.Thrombolysis, &f.Thrombectomy,
		&f.MRSDischarge, &f.Comments, &f.CreatedBy, &f.LastUpdatedBy, &f.VersionID, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *patientFormRepoPG) Create(ctx context.Context, f *PatientForm) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_form (id, code, last_name, first_name, birth_date, sex, postal_code, phone, email,
			admission_date, onset_date, nihss_score, stroke_type, thrombolysis, thrombectomy,
			mrs_discharge, comments, created_by, last_updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING version_id, created_at, updated_at`,
		f.ID, f.Code, f.LastName, f.FirstName, f.BirthDate, f.Sex, f.PostalCode, f.Phone, f.Email,
		f.AdmissionDate, f.OnsetDate, f.NIHSSScore, f.StrokeType, f.Thrombolysis, f.Thrombectomy,
		f.MRSDischarge, f.Comments, f.CreatedBy, f.LastUpdatedBy,
	).Scan(&f.VersionID, &f.CreatedAt, &f.UpdatedAt)
}

func (r *patientFormRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientForm, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+patientFormCols+` FROM patient_form WHERE id = $1`, id))
}

// Update locks the row, rejects a stale VersionID and bumps the version.
// A zero VersionID skips the check.
func (r *patientFormRepoPG) Update(ctx context.Context, f *PatientForm) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		var current int
		err := r.conn(ctx).QueryRow(ctx, `SELECT version_id FROM patient_form WHERE id = $1 FOR UPDATE`, f.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if f.VersionID != 0 && f.VersionID != current {
			return ErrVersionConflict
		}

		return r.conn(ctx).QueryRow(ctx, `
			UPDATE patient_form SET code=$2, last_name=$3, first_name=$4, birth_date=$5, sex=$6,
				postal_code=$7, phone=$8, email=$9, admission_date=$10, onset_date=$11,
				nihss_score=$12, stroke_type=$13, thrombolysis=$14, thrombectomy=$15,
				mrs_discharge=$16, comments=$17, last_updated_by=$18,
				version_id = version_id + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING version_id, updated_at`,
			f.ID, f.Code, f.LastName, f.FirstName, f.BirthDate, f.Sex,
			f.PostalCode, f.Phone, f.Email, f.AdmissionDate, f.OnsetDate,
			f.NIHSSScore, f.StrokeType, f.Thrombolysis, f.Thrombectomy,
			f.MRSDischarge, f.Comments, f.LastUpdatedBy,
		).Scan(&f.VersionID, &f.UpdatedAt)
	})
}

func (r *patientFormRepoPG) DeleteMany(ctx context.Context, scope Scope, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query := `DELETE FROM patient_form WHERE id = ANY($1::uuid[])`
	args := []interface{}{keys}
	if !scope.All {
		query += ` AND created_by = $2`
		args = append(args, scope.Owner)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *patientFormRepoPG) List(ctx context.Context, scope Scope, limit, offset int) ([]*PatientForm, int, error) {
	where := ""
	var args []interface{}
	if !scope.All {
		where = ` WHERE created_by = $1`
		args = append(args, scope.Owner)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_form`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT ` + patientFormCols + ` FROM patient_form` + where +
		` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
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
