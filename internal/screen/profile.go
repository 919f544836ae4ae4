package screen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/avc/patientforms/internal/platform/hipaa"
)

var ErrUnknownProfile = errors.New("unknown export profile")

// Profile is an export de-identification level. The integer values are the
// indexes offered by the screen's export menu.
type Profile int

const (
	Identified Profile = iota
	Pseudonymized
	PseudonymizedExtended
)

var profileNames = [...]string{"identified", "pseudonymized", "pseudonymized-extended"}

// optionNames are the export menu entries the screen shows for each profile.
var optionNames = [...]string{"nominativeExport", "pseudonymizedExport", "pseudonymizedExportMore"}

func (p Profile) Valid() bool { return p >= Identified && p <= PseudonymizedExtended }

func (p Profile) String() string {
	if !p.Valid() {
		return "profile(" + strconv.Itoa(int(p)) + ")"
	}
	return profileNames[p]
}

// OptionName is the export menu label key for the profile.
func (p Profile) OptionName() string {
	if !p.Valid() {
		return ""
	}
	return optionNames[p]
}

// ProfileFromIndex validates a menu index.
func ProfileFromIndex(i int) (Profile, error) {
	p := Profile(i)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: index %d", ErrUnknownProfile, i)
	}
	return p, nil
}

// ParseProfile accepts a menu index, a profile name or a menu option name.
func ParseProfile(s string) (Profile, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return ProfileFromIndex(i)
	}
	for i := range profileNames {
		if strings.EqualFold(s, profileNames[i]) || strings.EqualFold(s, optionNames[i]) {
			return Profile(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProfile, s)
}

// redacted marks a cell whose value the profile suppresses.
type redacted struct{}

// apply returns the value of one column under the profile. A redacted{}
// result becomes an empty cell.
func (p Profile) apply(col Column, v interface{}, pseudo *hipaa.Pseudonymizer) (interface{}, error) {
	if p == Identified {
		return v, nil
	}
	switch col.PHI.Class {
	case hipaa.RecordKey:
		id, err := flattenValue(v)
		if err != nil {
			return nil, err
		}
		return pseudo.Pseudonym(id), nil
	case hipaa.DirectIdentifier:
		return redacted{}, nil
	case hipaa.QuasiIdentifier:
		if p == PseudonymizedExtended {
			return hipaa.Generalize(v, col.PHI)
		}
		return v, nil
	case hipaa.FreeText:
		if p == PseudonymizedExtended {
			return redacted{}, nil
		}
		return v, nil
	}
	return v, nil
}
