package patientform

import (
	"github.com/avc/patientforms/internal/platform/hipaa"
	"github.com/avc/patientforms/internal/screen"
)

var columnDefs = []struct {
	key      string
	label    string
	required bool
}{
	{"id", "Identifier", true},
	{"code", "Patient code", true},
	{"last_name", "Last name", true},
	{"first_name", "First name", true},
	{"birth_date", "Birth date", true},
	{"sex", "Sex", false},
	{"postal_code", "Postal code", false},
	{"phone", "Phone", false},
	{"email", "Email", false},
	{"admission_date", "Admission date", false},
	{"onset_date", "Symptom onset", false},
	{"nihss_score", "NIHSS", false},
	{"stroke_type", "Stroke type", false},
	{"thrombolysis", "Thrombolysis", false},
	{"thrombectomy", "Thrombectomy", false},
	{"mrs_discharge", "mRS at discharge", false},
	{"comments", "Comments", false},
}

// Columns returns the patient form layout shared by the table and every
// export profile.
func Columns() []screen.Column {
	cols := make([]screen.Column, len(columnDefs))
	for i, d := range columnDefs {
		cols[i] = screen.Column{
			Key:      d.key,
			Label:    d.label,
			Required: d.required,
			PHI:      hipaa.PolicyFor(d.key),
		}
	}
	return cols
}
