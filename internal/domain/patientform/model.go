package patientform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("patient form not found")
	ErrVersionConflict = errors.New("patient form was modified concurrently")
	ErrForbidden       = errors.New("patient form belongs to another user")
)

// PatientForm maps to the patient_form table: one stroke registry entry.
type PatientForm struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Code          string     `db:"code" json:"code"`
	LastName      string     `db:"last_name" json:"last_name"`
	FirstName     string     `db:"first_name" json:"first_name"`
	BirthDate     time.Time  `db:"birth_date" json:"birth_date"`
	Sex           *string    `db:"sex" json:"sex,omitempty"`
	PostalCode    *string    `db:"postal_code" json:"postal_code,omitempty"`
	Phone         *string    `db:"phone" json:"phone,omitempty"`
	Email         *string    `db:"email" json:"email,omitempty"`
	AdmissionDate *time.Time `db:"admission_date" json:"admission_date,omitempty"`
	OnsetDate     *time.Time `db:"onset_date" json:"onset_date,omitempty"`
	NIHSSScore    *int       `db:"nihss_score" json:"nihss_score,omitempty"`
	StrokeType    *string    `db:"stroke_type" json:"stroke_type,omitempty"`
	Thrombolysis  *bool      `db:"thrombolysis" json:"thrombolysis,omitempty"`
	Thrombectomy  *bool      `db:"thrombectomy" json:"thrombectomy,omitempty"`
	MRSDischarge  *int       `db:"mrs_discharge" json:"mrs_discharge,omitempty"`
	Comments      *string    `db:"comments" json:"comments,omitempty"`
	CreatedBy     string     `db:"created_by" json:"created_by"`
	LastUpdatedBy string     `db:"last_updated_by" json:"last_updated_by"`
	VersionID     int        `db:"version_id" json:"version_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

var validSexes = map[string]bool{
	"male": true, "female": true, "other": true, "unknown": true,
}

// StrokeTypes lists the coded stroke classifications and their display text.
var StrokeTypes = map[string]string{
	"ischemic":     "Ischemic stroke",
	"hemorrhagic":  "Hemorrhagic stroke",
	"tia":          "Transient ischemic attack",
	"undetermined": "Undetermined",
}

// Validate checks the mandatory identity fields and the clinical score ranges.
func (f *PatientForm) Validate() error {
	if strings.TrimSpace(f.Code) == "" {
		return fmt.Errorf("code is required")
	}
	if strings.TrimSpace(f.LastName) == "" {
		return fmt.Errorf("last_name is required")
	}
	if strings.TrimSpace(f.FirstName) == "" {
		return fmt.Errorf("first_name is required")
	}
	if f.BirthDate.IsZero() {
		return fmt.Errorf("birth_date is required")
	}
	if f.Sex != nil && !validSexes[*f.Sex] {
		return fmt.Errorf("invalid sex: %s", *f.Sex)
	}
	if f.NIHSSScore != nil && (*f.NIHSSScore < 0 || *f.NIHSSScore > 42) {
		return fmt.Errorf("nihss_score must be between 0 and 42, got %d", *f.NIHSSScore)
	}
	if f.MRSDischarge != nil && (*f.MRSDischarge < 0 || *f.MRSDischarge > 6) {
		return fmt.Errorf("mrs_discharge must be between 0 and 6, got %d", *f.MRSDischarge)
	}
	if f.StrokeType != nil {
		if _, ok := StrokeTypes[*f.StrokeType]; !ok {
			return fmt.Errorf("invalid stroke_type: %s", *f.StrokeType)
		}
	}
	return nil
}

// ToRecord flattens the form into the heterogeneous field map the screen
// consumes. Unset optional fields are left out of the map.
func (f *PatientForm) ToRecord() map[string]interface{} {
	out := map[string]interface{}{
		"code":       f.Code,
		"last_name":  f.LastName,
		"first_name": f.FirstName,
		"birth_date": dateOnly(f.BirthDate),
	}
	if f.Sex != nil {
		out["sex"] = *f.Sex
	}
	if f.PostalCode != nil {
		out["postal_code"] = *f.PostalCode
	}
	if f.Phone != nil {
		out["phone"] = *f.Phone
	}
	if f.Email != nil {
		out["email"] = *f.Email
	}
	if f.AdmissionDate != nil {
		out["admission_date"] = *f.AdmissionDate
	}
	if f.OnsetDate != nil {
		out["onset_date"] = *f.OnsetDate
	}
	if f.NIHSSScore != nil {
		out["nihss_score"] = *f.NIHSSScore
	}
	if f.StrokeType != nil {
		out["stroke_type"] = map[string]interface{}{
			"code":    *f.StrokeType,
			"display": StrokeTypes[*f.StrokeType],
		}
	}
	if f.Thrombolysis != nil {
		out["thrombolysis"] = *f.Thrombolysis
	}
	if f.Thrombectomy != nil {
		out["thrombectomy"] = *f.Thrombectomy
	}
	if f.MRSDischarge != nil {
		out["mrs_discharge"] = *f.MRSDischarge
	}
	if f.Comments != nil {
		out["comments"] = *f.Comments
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
