package patientform

import (
	"context"

	"github.com/google/uuid"
)

// Scope restricts reads and deletes to the forms an owner created. A scope
// with All set sees every form.
type Scope struct {
	Owner string
	All   bool
}

type PatientFormRepository interface {
	Create(ctx context.Context, f *PatientForm) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientForm, error)
	Update(ctx context.Context, f *PatientForm) error
	// DeleteMany removes the forms in scope among ids and reports how many
	// rows went away. Unknown ids are ignored.
	DeleteMany(ctx context.Context, scope Scope, ids []uuid.UUID) (int, error)
	List(ctx context.Context, scope Scope, limit, offset int) ([]*PatientForm, int, error)
}
