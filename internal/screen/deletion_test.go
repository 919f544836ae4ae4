package screen

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func awaitResult(t *testing.T, ch <-chan DeletionResult) DeletionResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deletion result")
	}
	return DeletionResult{}
}

func newDeletion(store *fakeStore, sel ...string) (*Deletion, *Selection) {
	s := NewSelection()
	s.Toggle(sel)
	return NewDeletion(store, s, zerolog.Nop(), nil), s
}

func TestDeletion_BulkAgree(t *testing.T) {
	store := newFakeStore(3)
	d, sel := newDeletion(store, "p1", "p2")

	if err := d.Request(BulkDeletion()); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if d.State() != ConfirmPending {
		t.Fatal("expected ConfirmPending")
	}
	if !reflect.DeepEqual(d.Pending(), []string{"p1", "p2"}) {
		t.Errorf("expected pending [p1 p2], got %v", d.Pending())
	}

	ch, err := d.Agree(context.Background())
	if err != nil {
		t.Fatalf("Agree: %v", err)
	}
	// reconciliation happens before the store answers
	if sel.Len() != 0 {
		t.Errorf("expected empty selection, got %v", sel.IDs())
	}
	if len(d.Pending()) != 0 || d.State() != Closed {
		t.Error("expected pending cleared and dialog closed")
	}

	res := awaitResult(t, ch)
	if res.Err != nil {
		t.Fatalf("unexpected delete error: %v", res.Err)
	}
	if got := store.deleteLog(); !reflect.DeepEqual(got, [][]string{{"p1", "p2"}}) {
		t.Errorf("expected one delete of exactly [p1 p2], got %v", got)
	}
}

func TestDeletion_SingleLeavesOtherSelections(t *testing.T) {
	store := newFakeStore(3)
	d, sel := newDeletion(store, "p1", "p3")

	if err := d.Request(SingleDeletion("p3")); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !reflect.DeepEqual(d.Pending(), []string{"p3"}) {
		t.Errorf("expected singleton pending, got %v", d.Pending())
	}
	ch, _ := d.Agree(context.Background())
	awaitResult(t, ch)

	if !reflect.DeepEqual(sel.IDs(), []string{"p1"}) {
		t.Errorf("expected [p1] left selected, got %v", sel.IDs())
	}
}

func TestDeletion_SingleOfUnselectedRow(t *testing.T) {
	store := newFakeStore(3)
	d, sel := newDeletion(store, "p1")

	_ = d.Request(SingleDeletion("p2"))
	ch, _ := d.Agree(context.Background())
	awaitResult(t, ch)

	if !reflect.DeepEqual(sel.IDs(), []string{"p1"}) {
		t.Errorf("expected selection unchanged, got %v", sel.IDs())
	}
}

func TestDeletion_Refuse(t *testing.T) {
	store := newFakeStore(3)
	d, sel := newDeletion(store, "p1", "p2")

	_ = d.Request(BulkDeletion())
	d.Refuse()

	if !reflect.DeepEqual(sel.IDs(), []string{"p1", "p2"}) {
		t.Errorf("expected selection unchanged, got %v", sel.IDs())
	}
	if len(d.Pending()) != 0 || d.State() != Closed {
		t.Error("expected pending cleared and dialog closed")
	}
	if len(store.deleteLog()) != 0 {
		t.Error("expected the store not to be contacted")
	}

	_ = d.Request(SingleDeletion("p1"))
	d.Close()
	if len(d.Pending()) != 0 || d.State() != Closed {
		t.Error("expected Close to behave like Refuse")
	}
}

func TestDeletion_ModesDoNotInterleave(t *testing.T) {
	store := newFakeStore(3)
	d, _ := newDeletion(store, "p1", "p2")

	_ = d.Request(SingleDeletion("p3"))
	if err := d.Request(BulkDeletion()); !errors.Is(err, ErrDeletionPending) {
		t.Fatalf("expected ErrDeletionPending, got %v", err)
	}
	if !reflect.DeepEqual(d.Pending(), []string{"p3"}) {
		t.Errorf("expected the first request to stay staged, got %v", d.Pending())
	}
}

func TestDeletion_Rejections(t *testing.T) {
	store := newFakeStore(3)
	d, _ := newDeletion(store)

	if err := d.Request(BulkDeletion()); !errors.Is(err, ErrNothingToDelete) {
		t.Errorf("expected ErrNothingToDelete for empty bulk, got %v", err)
	}
	if err := d.Request(SingleDeletion("")); !errors.Is(err, ErrNothingToDelete) {
		t.Errorf("expected ErrNothingToDelete for empty id, got %v", err)
	}
	if err := d.Request(DeletionRequest{}); !errors.Is(err, ErrNothingToDelete) {
		t.Errorf("expected ErrNothingToDelete for zero request, got %v", err)
	}
	if _, err := d.Agree(context.Background()); !errors.Is(err, ErrNoPendingRequest) {
		t.Errorf("expected ErrNoPendingRequest, got %v", err)
	}
}

func TestDeletion_StoreFailureStillReconciles(t *testing.T) {
	store := newFakeStore(3)
	store.deleteErr = errStore
	d, sel := newDeletion(store, "p1", "p2")

	_ = d.Request(BulkDeletion())
	ch, _ := d.Agree(context.Background())
	res := awaitResult(t, ch)

	if !errors.Is(res.Err, errStore) {
		t.Errorf("expected store error, got %v", res.Err)
	}
	if sel.Len() != 0 {
		t.Errorf("expected selection reconciled regardless, got %v", sel.IDs())
	}
}

func TestDeletion_Dialog(t *testing.T) {
	store := newFakeStore(3)
	d, _ := newDeletion(store, "p2", "p1")

	if dlg := d.Dialog(); dlg.Open || len(dlg.Pending) != 0 {
		t.Errorf("expected closed dialog, got %+v", dlg)
	}

	_ = d.Request(BulkDeletion())
	dlg := d.Dialog()
	if !dlg.Open || dlg.Mode != "bulk" {
		t.Errorf("expected open bulk dialog, got %+v", dlg)
	}
	if !reflect.DeepEqual(dlg.Pending, []string{"p1", "p2"}) {
		t.Errorf("unexpected pending %v", dlg.Pending)
	}
	if !reflect.DeepEqual(dlg.Prompts, []string{PromptTitle, PromptBulk, PromptConfirm, PromptCancel}) {
		t.Errorf("unexpected prompts %v", dlg.Prompts)
	}

	d.Refuse()
	_ = d.Request(SingleDeletion("p3"))
	if dlg := d.Dialog(); dlg.Mode != "single" || dlg.Prompts[1] != PromptSingle {
		t.Errorf("expected single-row dialog, got %+v", dlg)
	}
}
