package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

// joinedTx only needs to be non-nil; RunInTx must not touch the pool or
// commit when a transaction is already present.
type joinedTx struct{ pgx.Tx }

func TestRunInTx_JoinsExisting(t *testing.T) {
	outer := &joinedTx{}
	ctx := WithTx(context.Background(), outer)

	var seen pgx.Tx
	err := RunInTx(ctx, nil, func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != outer {
		t.Error("expected fn to run on the outer transaction")
	}
}

func TestRunInTx_PropagatesError(t *testing.T) {
	ctx := WithTx(context.Background(), &joinedTx{})
	want := errors.New("boom")
	if err := RunInTx(ctx, nil, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
