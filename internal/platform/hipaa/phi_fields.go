package hipaa

// PHIClass classifies a record field by how much it identifies the patient,
// following the HIPAA Safe Harbor identifier categories (45 CFR 164.514(b)(2)).
type PHIClass int

const (
	// NotPHI fields carry clinical content only (scores, codes, flags).
	NotPHI PHIClass = iota
	// RecordKey is the stable record identifier. It is replaced by a keyed
	// pseudonym rather than dropped so de-identified exports stay joinable.
	RecordKey
	// DirectIdentifier fields name or contact the patient directly.
	DirectIdentifier
	// QuasiIdentifier fields identify only in combination (dates, geography).
	QuasiIdentifier
	// FreeText fields may contain anything the clinician typed.
	FreeText
)

func (c PHIClass) String() string {
	switch c {
	case NotPHI:
		return "not-phi"
	case RecordKey:
		return "record-key"
	case DirectIdentifier:
		return "direct-identifier"
	case QuasiIdentifier:
		return "quasi-identifier"
	case FreeText:
		return "free-text"
	default:
		return "unknown"
	}
}

// Generalization is the coarsening applied to a quasi-identifier under the
// strictest export profile.
type Generalization int

const (
	KeepAsIs Generalization = iota
	ToYear
	ToMonth
	ToPrefix
)

// FieldPolicy describes the de-identification treatment of one field.
type FieldPolicy struct {
	Class      PHIClass
	Generalize Generalization
	// PrefixLen is the number of leading characters kept by ToPrefix.
	PrefixLen int
}

// Identifying reports whether the field must not survive pseudonymisation
// verbatim.
func (p FieldPolicy) Identifying() bool {
	return p.Class == RecordKey || p.Class == DirectIdentifier
}

// PatientFormPHIFields maps patient form field names to their PHI policy.
// Fields not listed are treated as NotPHI.
//
//   - names, phone and email are direct identifiers (Safe Harbor 1, 4, 6)
//   - the internal patient code is a "unique identifying code" (Safe Harbor 18)
//   - birth date and event dates are generalised to year/month
//   - postal codes are truncated to the département prefix
func PatientFormPHIFields() map[string]FieldPolicy {
	return map[string]FieldPolicy{
		"id":             {Class: RecordKey},
		"code":           {Class: DirectIdentifier},
		"last_name":      {Class: DirectIdentifier},
		"first_name":     {Class: DirectIdentifier},
		"phone":          {Class: DirectIdentifier},
		"email":          {Class: DirectIdentifier},
		"birth_date":     {Class: QuasiIdentifier, Generalize: ToYear},
		"postal_code":    {Class: QuasiIdentifier, Generalize: ToPrefix, PrefixLen: 2},
		"admission_date": {Class: QuasiIdentifier, Generalize: ToMonth},
		"onset_date":     {Class: QuasiIdentifier, Generalize: ToMonth},
		"comments":       {Class: FreeText},
	}
}

// PolicyFor returns the policy for a field, defaulting to NotPHI.
func PolicyFor(field string) FieldPolicy {
	if p, ok := PatientFormPHIFields()[field]; ok {
		return p
	}
	return FieldPolicy{Class: NotPHI}
}
