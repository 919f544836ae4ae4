package patientform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newSQLiteRepo(t *testing.T) *patientFormRepoSQLite {
	t.Helper()
	repo, closeFn, err := NewRepoSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewRepoSQLite() error: %v", err)
	}
	t.Cleanup(func() { closeFn() })

	r := repo.(*patientFormRepoSQLite)
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return r
}

func TestSQLiteRepo_RoundTrip(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()

	admitted := time.Date(2024, 2, 11, 14, 30, 0, 0, time.UTC)
	f := validForm("AVC-001")
	f.Sex = strPtr("female")
	f.PostalCode = strPtr("06100")
	f.AdmissionDate = &admitted
	f.NIHSSScore = intPtr(0)
	f.Thrombolysis = boolPtr(true)
	f.Thrombectomy = boolPtr(false)
	f.CreatedBy = "alice"

	if err := r.Create(ctx, f); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := r.GetByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Code != "AVC-001" || got.CreatedBy != "alice" || got.VersionID != 1 {
		t.Errorf("unexpected form: %+v", got)
	}
	if !got.BirthDate.Equal(f.BirthDate) {
		t.Errorf("expected birth date %v, got %v", f.BirthDate, got.BirthDate)
	}
	if got.PostalCode == nil || *got.PostalCode != "06100" {
		t.Errorf("expected postal code 06100 with leading zero, got %v", got.PostalCode)
	}
	if got.AdmissionDate == nil || !got.AdmissionDate.Equal(admitted) {
		t.Errorf("expected admission %v, got %v", admitted, got.AdmissionDate)
	}
	if got.NIHSSScore == nil || *got.NIHSSScore != 0 {
		t.Errorf("expected NIHSS 0, got %v", got.NIHSSScore)
	}
	if got.Thrombolysis == nil || !*got.Thrombolysis {
		t.Errorf("expected thrombolysis true, got %v", got.Thrombolysis)
	}
	if got.Thrombectomy == nil || *got.Thrombectomy {
		t.Errorf("expected thrombectomy false, got %v", got.Thrombectomy)
	}
	if got.Email != nil || got.OnsetDate != nil || got.MRSDischarge != nil {
		t.Error("expected unset optional fields to stay nil")
	}
}

func TestSQLiteRepo_GetByID_NotFound(t *testing.T) {
	r := newSQLiteRepo(t)
	if _, err := r.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepo_Update_Versioning(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	f := validForm("AVC-001")
	r.Create(ctx, f)

	f.Comments = strPtr("door-to-needle 42 min")
	if err := r.Update(ctx, f); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if f.VersionID != 2 {
		t.Errorf("expected version 2, got %d", f.VersionID)
	}

	stale := *f
	stale.VersionID = 1
	if err := r.Update(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	missing := validForm("AVC-404")
	missing.ID = uuid.New()
	if err := r.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteRepo_ListAndDeleteMany_Scoped(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()

	var aliceIDs []uuid.UUID
	for _, code := range []string{"A1", "A2", "A3"} {
		f := validForm(code)
		f.CreatedBy = "alice"
		r.Create(ctx, f)
		aliceIDs = append(aliceIDs, f.ID)
	}
	bobs := validForm("B1")
	bobs.CreatedBy = "bob"
	r.Create(ctx, bobs)

	items, total, err := r.List(ctx, Scope{Owner: "alice"}, 2, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(items), total)
	}
	// newest first
	if items[0].Code != "A3" {
		t.Errorf("expected A3 first, got %s", items[0].Code)
	}

	_, total, _ = r.List(ctx, Scope{All: true}, 25, 0)
	if total != 4 {
		t.Errorf("expected 4 forms in total, got %d", total)
	}

	n, err := r.DeleteMany(ctx, Scope{Owner: "alice"}, []uuid.UUID{aliceIDs[0], bobs.ID, uuid.New()})
	if err != nil {
		t.Fatalf("DeleteMany() error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row deleted, got %d", n)
	}
	if _, err := r.GetByID(ctx, bobs.ID); err != nil {
		t.Error("bob's form must survive alice's delete")
	}

	n, _ = r.DeleteMany(ctx, Scope{All: true}, []uuid.UUID{bobs.ID})
	if n != 1 {
		t.Errorf("expected superuser delete to remove bob's form, got %d", n)
	}
}
